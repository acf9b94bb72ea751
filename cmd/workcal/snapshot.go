package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"workcal/internal/capture"
	"workcal/internal/config"
	"workcal/internal/ics"
	appLog "workcal/internal/log"
	"workcal/internal/pipeline"
	"workcal/internal/web"
)

type snapshotOptions struct {
	out    string
	url    string
	days   int
	width  int
	height int
}

func newSnapshotCmd(root *rootOptions) *cobra.Command {
	opts := &snapshotOptions{}

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Render the schedule page to a PNG with headless Chromium",
		Long: `Builds the schedule from the configured ICS subscriptions, serves it on a
loopback port and captures /schedule. With --url an already running
server is captured instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(root.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := root.applyLogLevel(cfg); err != nil {
				return err
			}

			target := opts.url
			if target == "" {
				ln, err := net.Listen("tcp", "127.0.0.1:0")
				if err != nil {
					return err
				}
				runner := pipeline.NewRunner(cfg, ics.NewFetcher(cfg.CacheDir, nil), nil)
				hs := &http.Server{Handler: web.NewServer(cfg, runner, nil).Handler()}
				go func() {
					if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
						appLog.Error("snapshot server failed", err)
					}
				}()
				defer hs.Close()
				target = "http://" + ln.Addr().String() + "/schedule"
			}
			target, err = withDays(target, opts.days)
			if err != nil {
				return err
			}

			capOpts := capture.Options{
				URL:        target,
				OutputPath: opts.out,
				Width:      opts.width,
				Height:     opts.height,
			}
			if cfg.BasicAuth != nil {
				capOpts.Username = cfg.BasicAuth.Username
				capOpts.Password = cfg.BasicAuth.Password
			}
			if err := capture.SchedulePNG(ctx, capOpts); err != nil {
				return err
			}
			appLog.Info("snapshot written", "path", opts.out, "url", target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.out, "out", "o", "schedule.png", "PNG output path")
	cmd.Flags().StringVar(&opts.url, "url", "", "capture this schedule page instead of a built-in server")
	cmd.Flags().IntVar(&opts.days, "days", 0, "days ahead to render (default horizon_days)")
	cmd.Flags().IntVar(&opts.width, "width", capture.DefaultWidth, "viewport width in pixels")
	cmd.Flags().IntVar(&opts.height, "height", capture.DefaultHeight, "viewport height in pixels")
	return cmd
}

func withDays(raw string, days int) (string, error) {
	if days <= 0 {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("url %q: %w", raw, err)
	}
	q := u.Query()
	q.Set("days", strconv.Itoa(days))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
