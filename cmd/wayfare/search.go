package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/wayfare-ai/wayfare/pkg/models"
)

func newSearchCmd(configPath *string) *cobra.Command {
	var (
		params     models.SearchParams
		kind       string
		maxLatency time.Duration
		minSuccess float64
		maxCost    float64
		prefer     string
		showLimit  int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a single search and print the offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := context.Background()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			params.Kind = models.SearchKind(kind)
			criteria, err := buildCriteria(cmd, maxLatency, minSuccess, maxCost, prefer)
			if err != nil {
				return err
			}

			resp, err := a.service.Search(ctx, params, criteria)
			if err != nil {
				return err
			}

			source := "provider " + resp.Provider
			if resp.CacheHit {
				source = "cache"
			}
			fmt.Printf("%d offers from %s in %s (request %s)\n\n",
				len(resp.Result.Offers), source, resp.Elapsed.Round(time.Millisecond), resp.RequestID)
			fmt.Print(formatOffers(resp.Result.Offers, showLimit))
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "flight", "search kind: flight, hotel or activity")
	cmd.Flags().StringVar(&params.Origin, "origin", "", "origin (flights)")
	cmd.Flags().StringVar(&params.Destination, "dest", "", "destination")
	cmd.Flags().StringVar(&params.StartDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&params.EndDate, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&params.Adults, "adults", 1, "number of adults")
	cmd.Flags().IntVar(&params.Children, "children", 0, "number of children")
	cmd.Flags().IntVar(&params.Rooms, "rooms", 0, "number of rooms (hotels)")
	cmd.Flags().DurationVar(&maxLatency, "max-latency", 0, "skip providers slower than this")
	cmd.Flags().Float64Var(&minSuccess, "min-success", 0, "skip providers below this success rate (percent)")
	cmd.Flags().Float64Var(&maxCost, "max-cost", 0, "skip providers costing more per request")
	cmd.Flags().StringVar(&prefer, "prefer", "", "bias selection: speed, cost or reliability (comma separated)")
	cmd.Flags().IntVar(&showLimit, "limit", 20, "maximum offers to print")
	return cmd
}

// buildCriteria turns flags into selection criteria. Thresholds are only set
// when their flag was given.
func buildCriteria(cmd *cobra.Command, maxLatency time.Duration, minSuccess, maxCost float64, prefer string) (models.SelectionCriteria, error) {
	var c models.SelectionCriteria
	if cmd.Flags().Changed("max-latency") {
		c.MaxResponseTime = models.Duration(maxLatency)
	}
	if cmd.Flags().Changed("min-success") {
		c.MinSuccessRate = models.Float(minSuccess)
	}
	if cmd.Flags().Changed("max-cost") {
		c.MaxCostPerRequest = models.Float(maxCost)
	}
	for _, p := range strings.Split(prefer, ",") {
		switch strings.TrimSpace(p) {
		case "":
		case "speed":
			c.PrioritizeSpeed = true
		case "cost":
			c.PrioritizeCost = true
		case "reliability":
			c.PrioritizeReliability = true
		default:
			return c, fmt.Errorf("invalid --prefer value %q", p)
		}
	}
	return c, nil
}

func formatOffers(offers []models.Offer, limit int) string {
	if len(offers) == 0 {
		return "No offers found.\n"
	}
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROVIDER\tTITLE\tPRICE")
	for i, o := range offers {
		if limit > 0 && i >= limit {
			fmt.Fprintf(w, "...\t\t%d more\t\n", len(offers)-limit)
			break
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s %s\n", o.ID, o.Provider, o.Title, humanize.CommafWithDigits(o.Price, 2), o.Currency)
	}
	w.Flush()
	return b.String()
}
