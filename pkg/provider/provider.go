// Package provider defines the adapter contract for upstream travel-data
// providers and a JSON-over-HTTP implementation of it.
package provider

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"

	"github.com/wayfare-ai/wayfare/pkg/config"
	"github.com/wayfare-ai/wayfare/pkg/models"
)

// ErrUpstream marks failures worth retrying on another provider: transport
// errors, timeouts, 429 and 5xx responses.
var ErrUpstream = errors.New("upstream error")

// Adapter runs a search against one provider. Adapters that learn the
// provider's quota consumption set SearchResult.QuotaUsedPercent; leaving it
// nil defers to the configured quota policies.
type Adapter interface {
	Name() string
	Search(ctx context.Context, params models.SearchParams) (models.SearchResult, error)
}

// Retryable reports whether err warrants trying the next provider.
func Retryable(err error) bool {
	return errors.Is(err, ErrUpstream) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Registry maps provider names to adapters. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// FromConfig builds an HTTP adapter for every configured provider.
func FromConfig(cfg *config.Config, client *http.Client) *Registry {
	r := NewRegistry()
	for _, p := range cfg.Providers {
		r.Register(NewHTTP(p, client))
	}
	return r
}

// Register adds or replaces an adapter under its name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}
