package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wayfare-ai/wayfare/pkg/config"
	"github.com/wayfare-ai/wayfare/pkg/tracker"
)

// costRow is the estimated spend on one provider.
type costRow struct {
	Provider       string
	Requests       int64
	CostPerRequest float64
	EstimatedCost  float64
}

func newCostCmd(configPath *string) *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Show estimated provider spend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			sinceTime := beginningOfMonth()
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				sinceTime = t
			}

			rows, err := costRows(context.Background(), cfg, tr, sinceTime)
			if err != nil {
				return err
			}
			fmt.Print(formatCostTable(rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD, default: start of month)")
	return cmd
}

func beginningOfMonth() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// costRows counts attempts per configured provider since the given time and
// prices them at the provider's cost_per_request.
func costRows(ctx context.Context, cfg *config.Config, tr tracker.Tracker, since time.Time) ([]costRow, error) {
	rows := make([]costRow, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		n, err := tr.CountSince(ctx, p.Name, since)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		rows = append(rows, costRow{
			Provider:       p.Name,
			Requests:       n,
			CostPerRequest: p.CostPerRequest,
			EstimatedCost:  float64(n) * p.CostPerRequest,
		})
	}
	return rows, nil
}

func formatCostTable(rows []costRow) string {
	if len(rows) == 0 {
		return "No cost data found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %10s %12s %12s\n", "PROVIDER", "REQUESTS", "PER REQUEST", "EST. COST")
	b.WriteString(strings.Repeat("-", 57) + "\n")

	var total float64
	for _, r := range rows {
		fmt.Fprintf(&b, "%-20s %10d $%11.4f $%11.4f\n", r.Provider, r.Requests, r.CostPerRequest, r.EstimatedCost)
		total += r.EstimatedCost
	}
	b.WriteString(strings.Repeat("-", 57) + "\n")
	fmt.Fprintf(&b, "%44s $%11.4f\n", "TOTAL:", total)
	return b.String()
}

func defaultStr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
