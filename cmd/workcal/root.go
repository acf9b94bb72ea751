package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"workcal/internal/config"
	appLog "workcal/internal/log"
)

const defaultConfigPath = "/etc/workcal/config.yaml"

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "workcal",
		Short:        "Fit calendar events into business hours",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logLevel == "" {
				return nil
			}
			lvl, err := appLog.ParseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			appLog.SetLevel(lvl)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info or error (overrides log_level)")

	cmd.AddCommand(
		newRescheduleCmd(opts),
		newServeCmd(opts),
		newSnapshotCmd(opts),
	)
	return cmd
}

// applyLogLevel uses the config's log_level unless --log-level was given.
func (o *rootOptions) applyLogLevel(cfg *config.Config) error {
	if o.logLevel != "" {
		return nil
	}
	lvl, err := appLog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	appLog.SetLevel(lvl)
	return nil
}
