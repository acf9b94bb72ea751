package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"workcal/internal/config"
	"workcal/internal/ics"
	appLog "workcal/internal/log"
	"workcal/internal/metrics"
	"workcal/internal/pipeline"
	"workcal/internal/web"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the rescheduled ICS subscriptions over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(root.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if err := root.applyLogLevel(cfg); err != nil {
				return err
			}
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides listen)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"refresh", cfg.RefreshCron,
		"horizon_days", cfg.HorizonDays,
		"tie_break", cfg.TieBreak,
		"priority", cfg.Priority,
		"ics_count", len(cfg.ICS),
	)

	recorder, err := metrics.NewRecorder(nil)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	runner := pipeline.NewRunner(cfg, ics.NewFetcher(cfg.CacheDir, nil), recorder)
	srv := web.NewServer(cfg, runner, recorder)

	if err := srv.Refresh(ctx, "startup"); err != nil {
		appLog.Error("initial refresh failed", err)
	}

	c := cron.New(cron.WithLocation(cfg.Location()))
	if _, err := c.AddFunc(cfg.RefreshCron, func() {
		if err := srv.Refresh(ctx, "refresh"); err != nil {
			appLog.Error("scheduled refresh failed", err)
		}
	}); err != nil {
		return fmt.Errorf("refresh %q: %w", cfg.RefreshCron, err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	err = srv.ListenAndServe(ctx)
	appLog.Info("workcal exiting")
	return err
}
