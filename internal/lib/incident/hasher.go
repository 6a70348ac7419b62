package incident

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"

	"github.com/dpup/saferoute/server/internal/lib/geo"
)

var (
	spaceRegex      = regexp.MustCompile(`\s+`)
	trailPunctRegex = regexp.MustCompile(`[.!?:;,]+$`)
	extraPunctRegex = regexp.MustCompile(`[.!?:;,]{2,}`)
)

// NormalizeText cleans incident text so minor wording variations hash identically
func NormalizeText(text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = spaceRegex.ReplaceAllString(normalized, " ")
	normalized = trailPunctRegex.ReplaceAllString(normalized, "")
	normalized = extraPunctRegex.ReplaceAllString(normalized, "")
	return normalized
}

// LocationKey rounds a point to 3 decimal places (~100m) for duplicate detection
func LocationKey(p geo.Point) string {
	return fmt.Sprintf("%.3f_%.3f", p.Latitude, p.Longitude)
}

// ContentHash returns a deterministic SHA-256 over normalized title and location.
// Feeds that omit identifiers use it as the incident ID so repeated deliveries
// of the same story collapse onto one entry.
func ContentHash(title string, location geo.Point) string {
	content := fmt.Sprintf("%s|%s", NormalizeText(title), LocationKey(location))
	return fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
}
