package main

import (
	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-transcoder/internal/config"
)

const defaultConfigPath = "./config/config.yml"

func newRootCommand() *cobra.Command {
	var configPath string
	var cfg *config.Config

	load := func() (*config.Config, error) {
		if cfg != nil {
			return cfg, nil
		}
		c, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = c
		return cfg, nil
	}

	rootCmd := &cobra.Command{
		Use:           "transcoder",
		Short:         "Image transcoding job pipeline and delivery service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			zlog.Init()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Configuration file path")

	rootCmd.AddCommand(newServeCommand(load))
	rootCmd.AddCommand(newMigrateCommand(load))
	rootCmd.AddCommand(newSweepCommand(load))

	return rootCmd
}
