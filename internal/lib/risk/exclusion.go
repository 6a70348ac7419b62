package risk

import (
	"fmt"

	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/incident"
)

// ViolationReason tags why a route was excluded
type ViolationReason string

const (
	NearReport ViolationReason = "near_report"
	SevereNews ViolationReason = "severe_news"
)

// Violation describes the first no-go incursion found on a route
type Violation struct {
	Reason         ViolationReason `json:"reason"`
	SourceID       string          `json:"source_id"`
	Sample         geo.Point       `json:"sample"`
	DistanceMeters float64         `json:"distance_meters"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s at %.0fm", v.Reason, v.SourceID, v.DistanceMeters)
}

// Check is the hard pass/fail safety test. The route is resampled at the
// (denser) exclusion spacing so a short incursion between risk samples is not
// missed. It returns nil when the route clears every report and severe news
// incident, otherwise the first violation encountered along the route.
func Check(route []geo.Point, snapshot incident.Context, cfg Config) *Violation {
	if snapshot.Empty() {
		return nil
	}

	severe := make([]incident.News, 0, len(snapshot.News))
	for _, n := range snapshot.News {
		if int(n.Severity) >= cfg.SevereSeverityThreshold {
			severe = append(severe, n)
		}
	}

	for _, s := range geo.Resample(route, cfg.ExclusionSampleSpacingMeters) {
		for _, r := range snapshot.Reports {
			if d := geo.Distance(s, r.Location); d <= cfg.HardReportRadiusMeters {
				return &Violation{Reason: NearReport, SourceID: r.ID, Sample: s, DistanceMeters: d}
			}
		}
		for _, n := range severe {
			if d := geo.Distance(s, n.Location); d <= cfg.HardNewsRadiusMeters {
				return &Violation{Reason: SevereNews, SourceID: n.ID, Sample: s, DistanceMeters: d}
			}
		}
	}
	return nil
}
