package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/wayfare-ai/wayfare/pkg/cache"
	"github.com/wayfare-ai/wayfare/pkg/config"
)

func newCacheCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the persistent search cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show persistent cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			store, driver, err := openConfiguredStore(ctx, *configPath)
			if err != nil || store == nil {
				return err
			}
			defer func() { _ = store.Close() }()

			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Driver:  %s\nEntries: %d\nExpired: %d\nSize:    %s\n",
				driver, stats.Entries, stats.Expired, humanize.IBytes(uint64(stats.Bytes)))
			return nil
		},
	}

	var (
		expiredOnly bool
		tag         string
		provider    string
	)
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear persistent cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			store, _, err := openConfiguredStore(ctx, *configPath)
			if err != nil || store == nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if tag != "" || provider != "" {
				n, err := clearMatching(ctx, store, tag, provider)
				if err != nil {
					return err
				}
				fmt.Printf("%d cache entries cleared.\n", n)
				return nil
			}
			if err := store.Clear(ctx, expiredOnly); err != nil {
				return err
			}
			if expiredOnly {
				fmt.Println("Expired cache entries cleared.")
			} else {
				fmt.Println("All cache entries cleared.")
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")
	clearCmd.Flags().StringVar(&tag, "tag", "", "only clear entries carrying this tag (e.g. dest:paris)")
	clearCmd.Flags().StringVar(&provider, "provider", "", "only clear entries served by this provider")

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

// clearMatching removes entries by tag and by provider and returns how many
// distinct keys went.
func clearMatching(ctx context.Context, store cache.Store, tag, provider string) (int, error) {
	removed := make(map[string]struct{})
	if tag != "" {
		keys, err := store.DeleteByTag(ctx, tag)
		if err != nil {
			return 0, err
		}
		for _, k := range keys {
			removed[k] = struct{}{}
		}
	}
	if provider != "" {
		keys, err := store.DeleteByProvider(ctx, provider)
		if err != nil {
			return 0, err
		}
		for _, k := range keys {
			removed[k] = struct{}{}
		}
	}
	return len(removed), nil
}

// openConfiguredStore opens the store named by the config. It prints a notice
// and returns a nil store when persistence is disabled.
func openConfiguredStore(ctx context.Context, path string) (cache.Store, string, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, "", err
	}
	if store == nil {
		fmt.Println("Persistent cache store is disabled.")
	}
	return store, cfg.Cache.Store.Driver, nil
}
