package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/illmade-knight/go-tunesync/pkg/records"
	"github.com/illmade-knight/go-tunesync/pkg/session"
)

var getCmd = &cobra.Command{
	Use:   "get [key...]",
	Short: "Show settings records",
	Long: `Show one or more settings records, initializing any missing record with its default.
With no arguments every record is shown. Keys: tuningConfig, fuelInjectionSettings, scooterTuningConfig, throttleSetting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close(ctx) }()

		keys, err := parseKeys(args)
		if err != nil {
			return err
		}
		views := make([]session.View, 0, len(keys))
		var errs []error
		for _, key := range keys {
			v, err := a.session.Get(ctx, key)
			errs = append(errs, err)
			views = append(views, v)
		}
		if err := printJSON(cmd.OutOrStdout(), views); err != nil {
			return err
		}
		return errors.Join(errs...)
	},
}

func parseKeys(args []string) ([]records.Key, error) {
	if len(args) == 0 {
		return records.Keys, nil
	}
	keys := make([]records.Key, 0, len(args))
	for _, arg := range args {
		key, err := parseKey(arg)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func parseKey(arg string) (records.Key, error) {
	if k := records.Key(arg); k.Valid() {
		return k, nil
	}
	return "", fmt.Errorf("unknown record key %q", arg)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
