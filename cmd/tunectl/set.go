package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var setCmd = &cobra.Command{
	Use:   "set <key> field=value [field=value...]",
	Short: "Commit new field values for one record",
	Example: `  tunectl set scooterTuningConfig weight=120 maxSpeed=70
  tunectl set throttleSetting throttle=6`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		key, err := parseKey(args[0])
		if err != nil {
			return err
		}
		values, err := parseAssignments(args[1:])
		if err != nil {
			return err
		}

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close(ctx) }()

		id, err := a.session.SetFields(ctx, key, values)
		if err != nil {
			return err
		}
		logger.Info().Str("key", string(key)).Str("mutation_id", id.String()).Msg("Settings committed.")

		view, err := a.session.Get(ctx, key)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), view)
	},
}

func parseAssignments(args []string) (map[string]float64, error) {
	values := make(map[string]float64, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("expected field=value, got %q", arg)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		if _, dup := values[name]; dup {
			return nil, fmt.Errorf("field %s given more than once", name)
		}
		values[name] = v
	}
	return values, nil
}
