package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wayfare-ai/wayfare/pkg/config"
	"github.com/wayfare-ai/wayfare/pkg/models"
	"github.com/wayfare-ai/wayfare/pkg/router"
)

func newProvidersCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List configured providers and the candidates for each search kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if len(cfg.Providers) == 0 {
				fmt.Println("No providers configured.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tURL\tKINDS\tCOST\tTIMEOUT")
			for _, p := range cfg.Providers {
				fmt.Fprintf(w, "%s\t%s\t%s\t$%.4f\t%s\n",
					p.Name, p.URL, kindList(p), p.CostPerRequest, timeoutLabel(p))
			}
			fmt.Fprintln(w)

			r := router.New(cfg)
			fmt.Fprintln(w, "KIND\tCANDIDATES")
			for _, k := range models.Kinds {
				names, err := r.Resolve(k)
				if err != nil {
					fmt.Fprintf(w, "%s\t(none)\n", k)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\n", k, strings.Join(names, ", "))
			}
			return w.Flush()
		},
	}
}

func kindList(p config.ProviderConfig) string {
	if len(p.Kinds) == 0 {
		return "all"
	}
	kinds := make([]string, len(p.Kinds))
	for i, k := range p.Kinds {
		kinds[i] = string(k)
	}
	return strings.Join(kinds, ",")
}

func timeoutLabel(p config.ProviderConfig) string {
	if p.Timeout <= 0 {
		return "default"
	}
	return p.Timeout.String()
}
