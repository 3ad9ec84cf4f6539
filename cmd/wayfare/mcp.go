package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wayfare-ai/wayfare/pkg/mcp"
)

func newMCPCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve wayfare tools to an MCP client over stdio",
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

			opts := []mcp.Option{
				mcp.WithVersion(version),
				mcp.WithLogger(logger.Named("mcp")),
			}
			if a.tracker != nil {
				opts = append(opts, mcp.WithTracker(a.tracker))
			}
			if a.enforcer != nil {
				opts = append(opts, mcp.WithEnforcer(a.enforcer))
			}
			return mcp.New(a.service, opts...).Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
