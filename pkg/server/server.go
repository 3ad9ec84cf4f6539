// Package server exposes the search service and its cache and provider
// state over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wayfare-ai/wayfare/pkg/config"
	"github.com/wayfare-ai/wayfare/pkg/models"
	"github.com/wayfare-ai/wayfare/pkg/search"
	"github.com/wayfare-ai/wayfare/pkg/telemetry"
)

const maxBodySize = 1 << 20

// Server is the wayfare HTTP API.
type Server struct {
	cfg      *config.Config
	search   *search.Service
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	mux      *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves gatherer's metrics on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a Server.
func New(cfg *config.Config, svc *search.Service, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		search: svc,
		logger: zap.NewNop(),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("/v1/search", s.handleSearch)
	s.mux.HandleFunc("/v1/cache", s.handleInvalidate)
	s.mux.HandleFunc("/v1/cache/metrics", s.handleCacheMetrics)
	s.mux.HandleFunc("/v1/cache/entries", s.handleCacheEntries)
	s.mux.HandleFunc("/v1/providers", s.handleProviders)
	if s.gatherer != nil {
		s.mux.Handle("/metrics", telemetry.Handler(s.gatherer))
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("wayfare listening", zap.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

// searchRequest is the POST /v1/search body.
type searchRequest struct {
	models.SearchParams
	Criteria models.SelectionCriteria `json:"criteria"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	r.Body.Close()

	var req searchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.search.Search(r.Context(), req.SearchParams, req.Criteria)
	if err != nil {
		switch {
		case errors.Is(err, search.ErrInvalidParams):
			writeJSONError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, search.ErrNoEligibleProvider):
			writeJSONError(w, http.StatusServiceUnavailable, "no eligible provider")
		case errors.Is(err, search.ErrAllProvidersFailed):
			s.logger.Warn("search failed", zap.Error(err))
			writeJSONError(w, http.StatusBadGateway, "all upstream providers failed")
		default:
			s.logger.Error("search error", zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "search failed")
		}
		return
	}

	cacheStatus := "miss"
	if resp.CacheHit {
		cacheStatus = "hit"
	}
	w.Header().Set("X-Wayfare-Cache", cacheStatus)
	w.Header().Set("X-Wayfare-Request-ID", resp.RequestID)
	if resp.Provider != "" {
		w.Header().Set("X-Wayfare-Provider", resp.Provider)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	c := s.search.Cache()
	if c == nil {
		writeJSONError(w, http.StatusNotFound, "cache disabled")
		return
	}

	q := r.URL.Query()
	var n int
	switch {
	case q.Get("tag") != "":
		n = c.InvalidateByTag(r.Context(), q.Get("tag"))
	case q.Get("provider") != "":
		n = c.InvalidateByProvider(r.Context(), q.Get("provider"))
	default:
		writeJSONError(w, http.StatusBadRequest, "tag or provider is required")
		return
	}

	s.logger.Info("cache invalidated",
		zap.String("tag", q.Get("tag")),
		zap.String("provider", q.Get("provider")),
		zap.Int("count", n),
	)
	writeJSON(w, http.StatusOK, map[string]int{"invalidated": n})
}

func (s *Server) handleCacheMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	c := s.search.Cache()
	if c == nil {
		writeJSONError(w, http.StatusNotFound, "cache disabled")
		return
	}
	writeJSON(w, http.StatusOK, c.Metrics())
}

func (s *Server) handleCacheEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	c := s.search.Cache()
	if c == nil {
		writeJSONError(w, http.StatusNotFound, "cache disabled")
		return
	}
	writeJSON(w, http.StatusOK, c.Entries())
}

// providerStatus is one row of GET /v1/providers.
type providerStatus struct {
	Name  string               `json:"name"`
	Kinds []models.SearchKind  `json:"kinds,omitempty"`
	Score models.ProviderScore `json:"score"`
	// Observed is false while the score still holds neutral defaults.
	Observed bool                `json:"observed"`
	Breaker  models.BreakerState `json:"breaker,omitempty"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	out := make([]providerStatus, 0, len(s.cfg.Providers))
	for _, p := range s.cfg.Providers {
		score, observed := s.search.Weights().Score(p.Name)
		if !observed {
			score = s.search.Weights().Lookup(p.Name)
		}
		st := providerStatus{
			Name:     p.Name,
			Kinds:    p.Kinds,
			Score:    score,
			Observed: observed,
		}
		if b := s.search.Breaker(); b != nil {
			st.Breaker = b.State(p.Name)
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"wayfare_error","code":%d}}`, message, code)
}
