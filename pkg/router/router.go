package router

import (
	"errors"
	"fmt"

	"github.com/wayfare-ai/wayfare/pkg/config"
	"github.com/wayfare-ai/wayfare/pkg/models"
)

// ErrNoProviders is returned when no configured provider serves a search kind.
var ErrNoProviders = errors.New("no providers")

// Router resolves a search kind to an ordered list of candidate providers.
type Router struct {
	cfg *config.Config
}

// New creates a Router from the given configuration.
func New(cfg *config.Config) *Router {
	return &Router{cfg: cfg}
}

// Resolve returns the candidate provider names for kind.
// If the kind has a configured route, its providers are returned in route
// order, skipping unknown providers and providers that do not serve the kind.
// Otherwise every provider serving the kind is returned in config order.
func (r *Router) Resolve(kind models.SearchKind) ([]string, error) {
	if len(r.cfg.Providers) == 0 {
		return nil, fmt.Errorf("%w configured", ErrNoProviders)
	}

	for _, route := range r.cfg.Router.Routes {
		if route.Kind != kind {
			continue
		}
		var names []string
		for _, name := range route.Providers {
			p, ok := r.cfg.Provider(name)
			if !ok || !p.Supports(kind) {
				continue
			}
			names = append(names, name)
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("route %q: %w", kind, ErrNoProviders)
		}
		return names, nil
	}

	var names []string
	for _, p := range r.cfg.Providers {
		if p.Supports(kind) {
			names = append(names, p.Name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w for kind %q", ErrNoProviders, kind)
	}
	return names, nil
}
