package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "wayfare",
		Short:         "Wayfare: cached, weighted travel search across upstream providers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "wayfare.yaml", "path to config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newSearchCmd(&configPath),
		newCacheCmd(&configPath),
		newStatsCmd(&configPath),
		newCostCmd(&configPath),
		newQuotaCmd(&configPath),
		newProvidersCmd(&configPath),
		newMCPCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
