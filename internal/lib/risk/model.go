package risk

import (
	"math"
	"time"

	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/incident"
)

// MaxIndex is the upper bound of the risk index
const MaxIndex = 100.0

// Assessment is the outcome of scoring one route
type Assessment struct {
	Index   float64 `json:"risk"`    // bounded risk index in [0, MaxIndex]
	Samples int     `json:"samples"` // number of resampled points scored

	// Raw, un-normalized contribution sums by source
	ReportExposure float64 `json:"report_exposure"`
	NewsExposure   float64 `json:"news_exposure"`
}

// Score returns the bounded risk index of a route against the snapshot
func Score(route []geo.Point, snapshot incident.Context, cfg Config) float64 {
	return Assess(route, snapshot, cfg).Index
}

// Assess resamples the route and accumulates a proximity-weighted, recency-decayed
// contribution from every report and news incident near each sample. The sum is
// divided by the sample count so long routes are not penalized for length alone.
func Assess(route []geo.Point, snapshot incident.Context, cfg Config) Assessment {
	if len(route) < 2 || snapshot.Empty() {
		return Assessment{}
	}

	samples := geo.Resample(route, cfg.SampleSpacingMeters)
	a := Assessment{Samples: len(samples)}

	reportRecency := make([]float64, len(snapshot.Reports))
	for i, r := range snapshot.Reports {
		reportRecency[i] = Recency(r.OccurredAt, snapshot.Now, cfg.ReportHalfLifeHours)
	}
	newsRecency := make([]float64, len(snapshot.News))
	for i, n := range snapshot.News {
		newsRecency[i] = Recency(n.PublishedAt, snapshot.Now, cfg.NewsHalfLifeHours)
	}

	for _, s := range samples {
		for i, r := range snapshot.Reports {
			d := geo.Distance(s, r.Location)
			if d > cfg.ReportRadiusMeters {
				continue
			}
			a.ReportExposure += cfg.ReportWeight * reportRecency[i] * Falloff(d, cfg.ReportRadiusMeters)
		}
		for i, n := range snapshot.News {
			d := geo.Distance(s, n.Location)
			if d > cfg.NewsRadiusMeters {
				continue
			}
			a.NewsExposure += cfg.NewsWeight * float64(n.Severity) * newsRecency[i] * Falloff(d, cfg.NewsRadiusMeters)
		}
	}

	index := (a.ReportExposure + a.NewsExposure) / float64(a.Samples) * 100
	a.Index = math.Min(MaxIndex, math.Max(0, index))
	return a
}

// Falloff is the quadratic proximity weight: 1 at the source, 0 at and beyond radius
func Falloff(distance, radius float64) float64 {
	if radius <= 0 || distance > radius {
		return 0
	}
	f := 1 - distance/radius
	return f * f
}

// Recency halves a source's weight every halfLifeHours of age. Sources without a
// timestamp never decay. Timestamps in the future count as brand new.
func Recency(ts *time.Time, now time.Time, halfLifeHours float64) float64 {
	if ts == nil || halfLifeHours <= 0 {
		return 1
	}
	age := now.Sub(*ts).Hours()
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, age/halfLifeHours)
}
