package main

import (
	"github.com/spf13/cobra"

	"github.com/illmade-knight/go-tunesync/pkg/records"
)

var modeCmd = &cobra.Command{
	Use:       "mode <city|classic|sports>",
	Short:     "Change the drive mode",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(records.DriveModeCity), string(records.DriveModeClassic), string(records.DriveModeSports)},
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := records.ParseDriveMode(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close(ctx) }()

		if _, err := a.session.Tuning.Cache.Get(ctx); err != nil {
			return err
		}
		m, err := a.session.SetDriveMode(ctx, mode)
		if err != nil {
			return err
		}
		logger.Info().Str("drive_mode", string(mode)).Str("previous", string(m.Prior.DriveMode)).Msg("Drive mode committed.")
		return printJSON(cmd.OutOrStdout(), m.Value)
	},
}
