package models

import (
	"encoding/json"
	"time"
)

// SearchKind identifies the kind of inventory being searched.
type SearchKind string

const (
	KindFlight   SearchKind = "flight"
	KindHotel    SearchKind = "hotel"
	KindActivity SearchKind = "activity"
)

// Kinds lists every supported search kind.
var Kinds = []SearchKind{KindFlight, KindHotel, KindActivity}

// Valid reports whether k is a supported search kind.
func (k SearchKind) Valid() bool {
	switch k {
	case KindFlight, KindHotel, KindActivity:
		return true
	}
	return false
}

// SearchParams describes a flight, hotel or activity search.
// Dates use the YYYY-MM-DD layout.
type SearchParams struct {
	Kind        SearchKind `json:"kind"`
	Origin      string     `json:"origin,omitempty"`
	Destination string     `json:"destination"`
	StartDate   string     `json:"start_date"`
	EndDate     string     `json:"end_date,omitempty"`
	Adults      int        `json:"adults"`
	Children    int        `json:"children,omitempty"`
	Rooms       int        `json:"rooms,omitempty"`
}

// Offer is a single bookable result returned by a provider.
type Offer struct {
	ID       string          `json:"id"`
	Provider string          `json:"provider"`
	Title    string          `json:"title"`
	Price    float64         `json:"price"`
	Currency string          `json:"currency"`
	Details  json.RawMessage `json:"details,omitempty"`
}

// SearchResult is the payload a provider returns for one search.
type SearchResult struct {
	Provider string  `json:"provider"`
	Offers   []Offer `json:"offers"`

	// QuotaUsedPercent is the provider-reported quota consumption. Nil means
	// the provider did not report it and quota policies are used instead.
	QuotaUsedPercent *float64 `json:"-"`
}

// Count returns the number of offers, used by cache strategies to rank entries.
func (r SearchResult) Count() int {
	return len(r.Offers)
}

// SearchResponse is returned to callers of the search service.
type SearchResponse struct {
	RequestID string        `json:"request_id"`
	CacheKey  string        `json:"cache_key"`
	CacheHit  bool          `json:"cache_hit"`
	Provider  string        `json:"provider,omitempty"`
	Attempts  int           `json:"attempts"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Result    SearchResult  `json:"result"`
}
