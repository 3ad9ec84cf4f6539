package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wayfare-ai/wayfare/pkg/config"
	"github.com/wayfare-ai/wayfare/pkg/quota"
	"github.com/wayfare-ai/wayfare/pkg/tracker"
)

func newQuotaCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect provider request quotas",
	}

	var (
		providerName string
		check        bool
	)
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show quota usage vs limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if !cfg.Quota.Enabled {
				fmt.Println("Quota enforcement is disabled.")
				return nil
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			enforcer := quota.New(cfg.Quota.Policies, tr)

			names := []string{providerName}
			if providerName == "" {
				names = names[:0]
				for _, p := range cfg.Providers {
					names = append(names, p.Name)
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tPOLICY\tPERIOD\tMAX REQUESTS\tUSED\tREMAINING\tUSED %")
			rows := 0
			for _, name := range names {
				statuses, err := enforcer.Status(context.Background(), name)
				if err != nil {
					return err
				}
				for _, s := range statuses {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%.1f\n",
						name, s.Policy.Provider, s.Policy.Period, s.Policy.MaxRequests, s.Used, s.Remaining, s.UsedPercent)
					rows++
				}
			}
			if rows == 0 {
				fmt.Println("No quota policies apply.")
				return nil
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if check {
				return checkQuotas(context.Background(), enforcer, names)
			}
			return nil
		},
	}
	statusCmd.Flags().StringVar(&providerName, "provider", "", "show a single provider")
	statusCmd.Flags().BoolVar(&check, "check", false, "exit non-zero if any provider has exhausted a quota")

	cmd.AddCommand(statusCmd)
	return cmd
}

// checkQuotas joins the quota errors of every exhausted provider.
func checkQuotas(ctx context.Context, enforcer *quota.Enforcer, names []string) error {
	var errs []error
	for _, name := range names {
		if err := enforcer.Check(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
