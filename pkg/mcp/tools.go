package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wayfare-ai/wayfare/pkg/models"
)

// tool pairs a definition with its handler.
type tool struct {
	def    ToolDefinition
	handle func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult
}

var tools = []tool{
	{
		def: ToolDefinition{
			Name:        "wayfare_search",
			Description: "Search flights, hotels or activities. Answers from cache when possible, otherwise from the best available provider.",
			InputSchema: object(map[string]any{
				"kind":                 enum("Search kind", "flight", "hotel", "activity"),
				"origin":               str("Origin, required for flights"),
				"destination":          str("Destination city or airport"),
				"start_date":           str("Start date in YYYY-MM-DD format"),
				"end_date":             str("End date in YYYY-MM-DD format (optional)"),
				"adults":               integer("Number of adults"),
				"children":             integer("Number of children (optional)"),
				"rooms":                integer("Number of rooms (optional)"),
				"min_success_rate":     number("Skip providers below this success rate in percent (optional)"),
				"max_cost_per_request": number("Skip providers costing more per request (optional)"),
				"max_response_ms":      integer("Skip providers slower than this many milliseconds (optional)"),
				"prefer":               map[string]any{"type": "array", "items": enum("", "speed", "cost", "reliability"), "description": "Selection biases (optional)"},
			}, "kind", "destination", "start_date", "adults"),
		},
		handle: handleSearch,
	},
	{
		def: ToolDefinition{
			Name:        "wayfare_cache_metrics",
			Description: "Show in-memory cache metrics (entries, memory, hits, misses, evictions).",
			InputSchema: object(map[string]any{}),
		},
		handle: handleCacheMetrics,
	},
	{
		def: ToolDefinition{
			Name:        "wayfare_invalidate",
			Description: "Drop cached searches by tag (for example dest:paris or kind:hotel) or by provider.",
			InputSchema: object(map[string]any{
				"tag":      str("Cache tag to invalidate (optional)"),
				"provider": str("Provider whose results to invalidate (optional)"),
			}),
		},
		handle: handleInvalidate,
	},
	{
		def: ToolDefinition{
			Name:        "wayfare_providers",
			Description: "Show provider weights, health scores and circuit states.",
			InputSchema: object(map[string]any{}),
		},
		handle: handleProviders,
	},
	{
		def: ToolDefinition{
			Name:        "wayfare_stats",
			Description: "Show logged provider attempts aggregated by provider and kind.",
			InputSchema: object(map[string]any{
				"provider": str("Filter by provider (optional)"),
			}),
		},
		handle: handleStats,
	},
	{
		def: ToolDefinition{
			Name:        "wayfare_quota",
			Description: "Show provider quota usage against the configured policies.",
			InputSchema: object(map[string]any{
				"provider": str("Filter by provider (optional)"),
			}),
		},
		handle: handleQuota,
	},
}

func toolDefinitions() []ToolDefinition {
	defs := make([]ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = t.def
	}
	return defs
}

func toolByName(name string) (tool, bool) {
	for _, t := range tools {
		if t.def.Name == name {
			return t, true
		}
	}
	return tool{}, false
}

func object(props map[string]any, required ...string) map[string]any {
	o := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		o["required"] = required
	}
	return o
}

func str(desc string) map[string]any    { return map[string]any{"type": "string", "description": desc} }
func number(desc string) map[string]any { return map[string]any{"type": "number", "description": desc} }
func integer(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func enum(desc string, values ...string) map[string]any {
	e := map[string]any{"type": "string", "enum": values}
	if desc != "" {
		e["description"] = desc
	}
	return e
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

type searchArgs struct {
	models.SearchParams
	MinSuccessRate    *float64 `json:"min_success_rate"`
	MaxCostPerRequest *float64 `json:"max_cost_per_request"`
	MaxResponseMs     *int64   `json:"max_response_ms"`
	Prefer            []string `json:"prefer"`
}

func (a searchArgs) criteria() models.SelectionCriteria {
	c := models.SelectionCriteria{
		MinSuccessRate:    a.MinSuccessRate,
		MaxCostPerRequest: a.MaxCostPerRequest,
	}
	if a.MaxResponseMs != nil {
		c.MaxResponseTime = models.Duration(time.Duration(*a.MaxResponseMs) * time.Millisecond)
	}
	for _, p := range a.Prefer {
		switch p {
		case "speed":
			c.PrioritizeSpeed = true
		case "cost":
			c.PrioritizeCost = true
		case "reliability":
			c.PrioritizeReliability = true
		}
	}
	return c
}

func handleSearch(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args searchArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	resp, err := s.search.Search(ctx, args.SearchParams, args.criteria())
	if err != nil {
		return errorResult("Search failed: " + err.Error())
	}
	return textResult(formatSearch(resp))
}

func handleCacheMetrics(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	c := s.search.Cache()
	if c == nil {
		return textResult("Cache is not configured.")
	}
	return textResult(formatCacheMetrics(c.Metrics()))
}

type invalidateArgs struct {
	Tag      string `json:"tag"`
	Provider string `json:"provider"`
}

func handleInvalidate(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	c := s.search.Cache()
	if c == nil {
		return textResult("Cache is not configured.")
	}
	var args invalidateArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	switch {
	case args.Tag != "":
		return textResult(formatInvalidated("tag "+args.Tag, c.InvalidateByTag(ctx, args.Tag)))
	case args.Provider != "":
		return textResult(formatInvalidated("provider "+args.Provider, c.InvalidateByProvider(ctx, args.Provider)))
	default:
		return errorResult("tag or provider is required")
	}
}

func handleProviders(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	names := s.search.Providers()
	scores := make([]models.ProviderScore, len(names))
	states := make([]models.BreakerState, len(names))
	for i, name := range names {
		scores[i] = s.search.Weights().Lookup(name)
		states[i] = models.BreakerClosed
		if b := s.search.Breaker(); b != nil {
			states[i] = b.State(name)
		}
	}
	return textResult(formatProviders(scores, states))
}

type providerArgs struct {
	Provider string `json:"provider"`
}

func handleStats(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.tracker == nil {
		return textResult("Attempt tracking is not configured.")
	}
	var args providerArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	rows, err := s.tracker.Summary(ctx, args.Provider)
	if err != nil {
		return errorResult("Error fetching stats: " + err.Error())
	}
	return textResult(formatSummary(rows))
}

func handleQuota(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.enforcer == nil {
		return textResult("Quota enforcement is not configured.")
	}
	var args providerArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}

	names := s.search.Providers()
	if args.Provider != "" {
		names = []string{args.Provider}
	}
	var rows []quotaRow
	for _, name := range names {
		statuses, err := s.enforcer.Status(ctx, name)
		if err != nil {
			return errorResult("Error fetching quota status: " + err.Error())
		}
		for _, st := range statuses {
			rows = append(rows, quotaRow{provider: name, status: st})
		}
	}
	return textResult(formatQuota(rows))
}
