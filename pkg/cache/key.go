package cache

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/wayfare-ai/wayfare/pkg/models"
)

var keyStrip = regexp.MustCompile(`[^a-z0-9-]`)

// NormalizeKey joins parts with "-", lowercases the result and strips every
// character outside [a-z0-9-]. Accented letters are folded to their base
// letter first, so "Zürich" and "Zurich" produce the same key.
func NormalizeKey(parts ...string) string {
	joined := strings.Join(parts, "-")
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	if folded, _, err := transform.String(t, joined); err == nil {
		joined = folded
	}
	return keyStrip.ReplaceAllString(strings.ToLower(joined), "")
}

// Key fingerprints a search so that identical searches share a cache entry.
func Key(p models.SearchParams) string {
	return NormalizeKey(
		string(p.Kind),
		p.Origin,
		p.Destination,
		p.StartDate,
		p.EndDate,
		strconv.Itoa(p.Adults),
		strconv.Itoa(p.Children),
		strconv.Itoa(p.Rooms),
	)
}
