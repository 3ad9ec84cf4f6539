package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wayfare-ai/wayfare/pkg/server"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the search API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(cfg, a.service,
				server.WithGatherer(a.registry),
				server.WithLogger(logger.Named("server")),
			)

			logger.Info("starting wayfare",
				zap.String("config", *configPath),
				zap.Int("providers", len(cfg.Providers)),
				zap.Bool("cache", cfg.Cache.Enabled),
				zap.String("store", cfg.Cache.Store.Driver),
			)
			return srv.ListenAndServe(ctx)
		},
	}
}
