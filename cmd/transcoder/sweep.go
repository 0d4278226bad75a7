package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aliskhannn/image-transcoder/internal/config"
	"github.com/aliskhannn/image-transcoder/internal/sweeper"
)

func newSweepCommand(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete jobs and artifacts older than the retention window once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Jobs.Store != "postgres" {
				return fmt.Errorf("sweep needs a persistent job store, jobs.store is %q", cfg.Jobs.Store)
			}

			d, err := newDeps(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer d.close()

			sw := sweeper.New(d.jobs, d.storage, nil, cfg.Retention.Window)
			if d.replicas != nil {
				sw.WithReplicas(d.replicas)
			}
			res, err := sw.Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired jobs\n", res.Jobs)
			return nil
		},
	}
}
