package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/wayfare-ai/wayfare/pkg/config"
	"github.com/wayfare-ai/wayfare/pkg/models"
)

const maxErrorBody = 512

// HTTPAdapter posts search parameters as JSON to a provider endpoint and
// expects {"offers": [...]} back.
type HTTPAdapter struct {
	cfg    config.ProviderConfig
	client *http.Client
}

// NewHTTP creates an adapter for the provider. A nil client uses http.DefaultClient.
func NewHTTP(cfg config.ProviderConfig, client *http.Client) *HTTPAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAdapter{cfg: cfg, client: client}
}

func (a *HTTPAdapter) Name() string { return a.cfg.Name }

// Search sends params to the kind's endpoint. The path defaults to
// /search/<kind> when the provider config does not override it.
func (a *HTTPAdapter) Search(ctx context.Context, params models.SearchParams) (models.SearchResult, error) {
	target, err := url.Parse(a.cfg.URL)
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("invalid provider URL: %w", err)
	}
	path := a.cfg.Paths[params.Kind]
	if path == "" {
		path = "/search/" + string(params.Kind)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("encode params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(target.String(), "/")+path, bytes.NewReader(body))
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("provider %s: %w: %w", a.cfg.Name, ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return models.SearchResult{}, fmt.Errorf("provider %s: %w: status %d: %s", a.cfg.Name, ErrUpstream, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return models.SearchResult{}, fmt.Errorf("provider %s: status %d: %s", a.cfg.Name, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var payload struct {
		Offers []models.Offer `json:"offers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return models.SearchResult{}, fmt.Errorf("provider %s: %w: decode response: %w", a.cfg.Name, ErrUpstream, err)
	}

	for i := range payload.Offers {
		if payload.Offers[i].Provider == "" {
			payload.Offers[i].Provider = a.cfg.Name
		}
	}
	return models.SearchResult{
		Provider:         a.cfg.Name,
		Offers:           payload.Offers,
		QuotaUsedPercent: quotaFromHeaders(resp.Header),
	}, nil
}

// quotaFromHeaders derives quota consumption from X-RateLimit-Limit and
// X-RateLimit-Remaining. It returns nil when either header is missing.
func quotaFromHeaders(h http.Header) *float64 {
	limit, err := strconv.ParseFloat(h.Get("X-RateLimit-Limit"), 64)
	if err != nil || limit <= 0 {
		return nil
	}
	remaining, err := strconv.ParseFloat(h.Get("X-RateLimit-Remaining"), 64)
	if err != nil {
		return nil
	}
	used := (limit - remaining) / limit * 100
	return models.Float(min(max(used, 0), 100))
}
