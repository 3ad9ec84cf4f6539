package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/wayfare-ai/wayfare/pkg/models"
)

const dateLayout = "2006-01-02"

// Validate rejects search parameters no provider could serve.
func Validate(p models.SearchParams) error {
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidParams, p.Kind)
	}
	if strings.TrimSpace(p.Destination) == "" {
		return fmt.Errorf("%w: destination is required", ErrInvalidParams)
	}
	if p.Kind == models.KindFlight && strings.TrimSpace(p.Origin) == "" {
		return fmt.Errorf("%w: origin is required for flights", ErrInvalidParams)
	}

	start, err := time.Parse(dateLayout, p.StartDate)
	if err != nil {
		return fmt.Errorf("%w: start_date must be YYYY-MM-DD", ErrInvalidParams)
	}
	if p.EndDate != "" {
		end, err := time.Parse(dateLayout, p.EndDate)
		if err != nil {
			return fmt.Errorf("%w: end_date must be YYYY-MM-DD", ErrInvalidParams)
		}
		if end.Before(start) {
			return fmt.Errorf("%w: end_date before start_date", ErrInvalidParams)
		}
	}

	if p.Adults < 1 {
		return fmt.Errorf("%w: at least one adult is required", ErrInvalidParams)
	}
	if p.Children < 0 || p.Rooms < 0 {
		return fmt.Errorf("%w: children and rooms must not be negative", ErrInvalidParams)
	}
	return nil
}
