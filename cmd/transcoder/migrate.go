package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-transcoder/internal/config"
	"github.com/aliskhannn/image-transcoder/internal/migrations"
)

func newMigrateCommand(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the job store schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}

			dsn := cfg.Database.Master.DSN()
			switch direction {
			case "down":
				err = migrations.Down(cmd.Context(), dsn)
			default:
				err = migrations.Up(cmd.Context(), dsn)
			}
			if err != nil {
				return fmt.Errorf("migrate %s: %w", direction, err)
			}

			zlog.Logger.Info().Str("direction", direction).Msg("migrations applied")
			return nil
		},
	}
}
