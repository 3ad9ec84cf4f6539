package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wayfare-ai/wayfare/pkg/config"
	"github.com/wayfare-ai/wayfare/pkg/tracker"
)

func newStatsCmd(configPath *string) *cobra.Command {
	var (
		providerName string
		recent       int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show provider attempt statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer tr.Close()

			ctx := context.Background()

			if recent > 0 {
				attempts, err := tr.Recent(ctx, recent)
				if err != nil {
					return err
				}
				if len(attempts) == 0 {
					fmt.Println("No attempts found.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tREQUEST\tPROVIDER\tKIND\tLATENCY\tOFFERS\tERROR")
				for _, a := range attempts {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\t%d\t%s\n",
						a.CreatedAt.Format("2006-01-02T15:04:05"), a.RequestID, a.Provider, a.Kind, a.LatencyMs, a.OfferCount, defaultStr(a.Error, "-"))
				}
				return w.Flush()
			}

			summaries, err := tr.Summary(ctx, providerName)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No attempt data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tKIND\tREQUESTS\tSUCCESS\tAVG LATENCY\tOFFERS")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%.1f%%\t%.0fms\t%d\n",
					s.Provider, s.Kind, s.Requests, s.SuccessRate(), s.AvgLatencyMs, s.Offers)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&providerName, "provider", "", "filter by provider")
	cmd.Flags().IntVar(&recent, "recent", 0, "list the N most recent attempts instead of the summary")
	return cmd
}
