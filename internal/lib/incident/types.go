// Package incident defines the point sources that feed route risk scoring:
// user-submitted reports and news-derived incidents, plus the immutable
// snapshot passed into every scoring call.
package incident

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/dpup/saferoute/server/internal/lib/geo"
)

// Severity is the seriousness of a news incident, always within [MinSeverity, MaxSeverity]
type Severity int

const (
	MinSeverity Severity = 1
	MaxSeverity Severity = 4
)

// ClampSeverity maps any integer rating into [MinSeverity, MaxSeverity]
func ClampSeverity(v int) Severity {
	switch {
	case v < int(MinSeverity):
		return MinSeverity
	case v > int(MaxSeverity):
		return MaxSeverity
	default:
		return Severity(v)
	}
}

// Report is a user-submitted incident report. Reports are never mutated once read.
type Report struct {
	ID          string     `json:"id"`
	Location    geo.Point  `json:"location"`
	Description string     `json:"description"`
	OccurredAt  *time.Time `json:"occurred_at,omitempty"` // nil reports never decay
}

// News is an incident point derived from an external news feed
type News struct {
	ID          string     `json:"id"`
	Location    geo.Point  `json:"location"`
	Severity    Severity   `json:"severity"`
	Title       string     `json:"title"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Context is the read-only snapshot of point sources a scoring call works against.
// Now is the reference instant for recency decay and is captured once per request
// so that every route in a ranking is scored against the same clock.
type Context struct {
	Reports []Report
	News    []News
	Now     time.Time
}

// NewContext copies reports and news so later changes by the caller cannot leak
// into an in-flight computation.
func NewContext(reports []Report, news []News, now time.Time) Context {
	ctx := Context{Now: now}
	if len(reports) > 0 {
		ctx.Reports = append([]Report(nil), reports...)
	}
	if len(news) > 0 {
		ctx.News = append([]News(nil), news...)
	}
	return ctx
}

// Empty reports whether the snapshot has no point sources at all
func (c Context) Empty() bool {
	return len(c.Reports) == 0 && len(c.News) == 0
}

// ReportPoints returns the locations of every report, in order
func (c Context) ReportPoints() []geo.Point {
	points := make([]geo.Point, len(c.Reports))
	for i, r := range c.Reports {
		points[i] = r.Location
	}
	return points
}

// Validate rejects snapshots containing malformed coordinates or out-of-range severities
func (c Context) Validate() error {
	for _, r := range c.Reports {
		if err := geo.ValidatePoints([]geo.Point{r.Location}); err != nil {
			return eris.Wrapf(err, "report %q", r.ID)
		}
	}
	for _, n := range c.News {
		if err := geo.ValidatePoints([]geo.Point{n.Location}); err != nil {
			return eris.Wrapf(err, "news incident %q", n.ID)
		}
		if n.Severity < MinSeverity || n.Severity > MaxSeverity {
			return eris.Errorf("news incident %q: severity %d outside [%d, %d]", n.ID, n.Severity, MinSeverity, MaxSeverity)
		}
	}
	return nil
}
