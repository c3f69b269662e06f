package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-dev/sessionbridge/internal/app"
	"github.com/vango-dev/sessionbridge/internal/config"
	"github.com/vango-dev/sessionbridge/internal/errors"
	"github.com/vango-dev/sessionbridge/internal/logging"
)

func serveCmd(dir *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
		Long: `Start the server with the configuration in sessionbridge.json and
the environment.

Examples:
  sessionbridge serve
  sessionbridge serve --addr=:3000
  DIRECTUS_URL=https://cms.example.com sessionbridge serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*dir)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from sessionbridge.json)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	a, err := app.New(cfg, app.WithLogger(logger))
	if err != nil {
		return errors.New("E201").Wrap(err).WithDetail(err.Error())
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return errors.New("E202").Wrap(err).WithDetail(err.Error())
		}
		return errors.New("E200").WithField(cfg.Server.Addr).Wrap(err).WithDetail(err.Error())
	}
	return nil
}

// loadConfig loads and validates the configuration in dir.
func loadConfig(dir string) (*config.Config, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
