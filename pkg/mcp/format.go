package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/wayfare-ai/wayfare/pkg/models"
)

func formatSearch(resp *models.SearchResponse) string {
	var b strings.Builder
	source := "provider " + resp.Provider
	if resp.CacheHit {
		source = "cache"
	}
	fmt.Fprintf(&b, "%d offers from %s in %s (request %s)\n",
		len(resp.Result.Offers), source, resp.Elapsed.Round(time.Millisecond), resp.RequestID)
	if len(resp.Result.Offers) == 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "%-16s %-12s %-40s %14s\n", "ID", "Provider", "Title", "Price")
	b.WriteString(strings.Repeat("-", 85) + "\n")
	for _, o := range resp.Result.Offers {
		fmt.Fprintf(&b, "%-16s %-12s %-40s %10s %s\n",
			truncate(o.ID, 16), truncate(o.Provider, 12), truncate(o.Title, 40),
			humanize.CommafWithDigits(o.Price, 2), o.Currency)
	}
	return b.String()
}

func formatCacheMetrics(m models.CacheMetrics) string {
	return fmt.Sprintf("Cache Metrics\n"+
		"  Entries:      %d\n"+
		"  Memory:       %s\n"+
		"  Hits:         %d\n"+
		"  Misses:       %d\n"+
		"  Hit Rate:     %.1f%%\n"+
		"  Evictions:    %d\n"+
		"  Expirations:  %d\n"+
		"  Avg Lookup:   %.3fms\n",
		m.Entries, humanize.IBytes(uint64(m.MemoryUsageBytes)), m.Hits, m.Misses,
		m.HitRatePercent, m.Evictions, m.Expirations, m.AvgResponseTimeMillis)
}

func formatInvalidated(target string, n int) string {
	return fmt.Sprintf("Invalidated %d cache entries for %s.", n, target)
}

func formatProviders(scores []models.ProviderScore, states []models.BreakerState) string {
	if len(scores) == 0 {
		return "No providers configured."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %7s %7s %9s %10s %7s %-9s %-9s\n",
		"Provider", "Weight", "Health", "Success%", "Latency", "Quota%", "State", "Circuit")
	b.WriteString(strings.Repeat("-", 84) + "\n")
	for i, s := range scores {
		fmt.Fprintf(&b, "%-16s %7.1f %7.1f %9.1f %8.0fms %7.1f %-9s %-9s\n",
			truncate(s.ProviderID, 16), s.Weight, s.HealthScore, s.EMASuccessRatePercent,
			s.EMALatencyMillis, s.QuotaUsedPercent, s.State, states[i])
	}
	return b.String()
}

func formatSummary(rows []models.ProviderSummary) string {
	if len(rows) == 0 {
		return "No attempt data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %-10s %9s %9s %12s %8s\n",
		"Provider", "Kind", "Requests", "Success%", "Avg Latency", "Offers")
	b.WriteString(strings.Repeat("-", 69) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-16s %-10s %9d %9.1f %10.0fms %8d\n",
			truncate(r.Provider, 16), r.Kind, r.Requests, r.SuccessRate(), r.AvgLatencyMs, r.Offers)
	}
	return b.String()
}

type quotaRow struct {
	provider string
	status   models.QuotaStatus
}

func formatQuota(rows []quotaRow) string {
	if len(rows) == 0 {
		return "No quota policies apply."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %-8s %12s %10s %10s %7s\n",
		"Provider", "Period", "Max", "Used", "Remaining", "Usage%")
	b.WriteString(strings.Repeat("-", 68) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-16s %-8s %12d %10d %10d %6.1f%%\n",
			truncate(r.provider, 16), r.status.Policy.Period, r.status.Policy.MaxRequests,
			r.status.Used, r.status.Remaining, r.status.UsedPercent)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
