package risk

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/incident"
)

var (
	// Downtown Ottawa, heading north along a meridian
	origin = geo.Point{Latitude: 45.4000, Longitude: -75.7000}
	now    = time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
)

func north(p geo.Point, meters float64) geo.Point {
	return geo.Point{Latitude: p.Latitude + (meters/geo.EarthRadiusMeters)*180/math.Pi, Longitude: p.Longitude}
}

func east(p geo.Point, meters float64) geo.Point {
	rad := meters / (geo.EarthRadiusMeters * math.Cos(p.Latitude*math.Pi/180))
	return geo.Point{Latitude: p.Latitude, Longitude: p.Longitude + rad*180/math.Pi}
}

func straightRoute(lengthMeters float64) []geo.Point {
	return []geo.Point{origin, north(origin, lengthMeters)}
}

func report(id string, p geo.Point) incident.Report {
	return incident.Report{ID: id, Location: p, Description: "harassment"}
}

func TestFalloff(t *testing.T) {
	assert.Equal(t, 1.0, Falloff(0, 120))
	assert.InDelta(t, 0.25, Falloff(60, 120), 1e-12)
	assert.Equal(t, 0.0, Falloff(120, 120), "continuous at the boundary")
	assert.Equal(t, 0.0, Falloff(121, 120))
	assert.Equal(t, 0.0, Falloff(0, 0))
}

func TestRecency(t *testing.T) {
	assert.Equal(t, 1.0, Recency(nil, now, 72), "timestamp-less sources never decay")

	dayOld := now.Add(-72 * time.Hour)
	assert.InDelta(t, 0.5, Recency(&dayOld, now, 72), 1e-12)

	weekOld := now.Add(-144 * time.Hour)
	assert.InDelta(t, 0.25, Recency(&weekOld, now, 72), 1e-12)

	future := now.Add(time.Hour)
	assert.Equal(t, 1.0, Recency(&future, now, 72))
}

func TestScore_NoSources(t *testing.T) {
	cfg := DefaultConfig()
	snapshot := incident.Context{Now: now}

	assert.Equal(t, 0.0, Score(straightRoute(1000), snapshot, cfg))
	assert.Equal(t, 0.0, Score([]geo.Point{origin, north(origin, 10), north(origin, 5000)}, snapshot, cfg))
}

func TestScore_DegenerateRoute(t *testing.T) {
	snapshot := incident.Context{Reports: []incident.Report{report("r1", origin)}, Now: now}

	assert.Equal(t, 0.0, Score(nil, snapshot, DefaultConfig()))
	assert.Equal(t, 0.0, Score([]geo.Point{origin}, snapshot, DefaultConfig()))
}

func TestScore_ExpectedValue(t *testing.T) {
	// A 10m route yields two samples; a report sits on the first one
	route := []geo.Point{origin, north(origin, 10)}
	snapshot := incident.Context{Reports: []incident.Report{report("r1", origin)}, Now: now}

	a := Assess(route, snapshot, DefaultConfig())
	require.Equal(t, 2, a.Samples)

	near := 1.0
	far := math.Pow(1-10.0/120, 2)
	assert.InDelta(t, (near+far)/2*100, a.Index, 0.01)
	assert.InDelta(t, near+far, a.ReportExposure, 1e-6)
	assert.Equal(t, 0.0, a.NewsExposure)
}

func TestScore_DistantSourcesContributeNothing(t *testing.T) {
	snapshot := incident.Context{
		Reports: []incident.Report{report("r1", east(north(origin, 500), 500))},
		News:    []incident.News{{ID: "n1", Location: east(origin, 800), Severity: 4}},
		Now:     now,
	}
	assert.Equal(t, 0.0, Score(straightRoute(1000), snapshot, DefaultConfig()))
}

func TestScore_Monotonic(t *testing.T) {
	cfg := DefaultConfig()
	route := straightRoute(1000)

	snapshot := incident.Context{
		Reports: []incident.Report{report("r1", east(north(origin, 200), 60))},
		Now:     now,
	}
	before := Score(route, snapshot, cfg)
	require.Greater(t, before, 0.0)

	for i, offset := range []float64{0, 30, 90, 119} {
		snapshot.Reports = append(snapshot.Reports, report("extra", east(north(origin, 600), offset)))
		after := Score(route, snapshot, cfg)
		assert.Greater(t, after, before, "adding report %d must increase risk", i)
		before = after
	}
}

func TestScore_NewsWeightedBySeverity(t *testing.T) {
	cfg := DefaultConfig()
	route := straightRoute(1000)
	at := east(north(origin, 500), 50)

	low := Score(route, incident.Context{News: []incident.News{{ID: "n", Location: at, Severity: 1}}, Now: now}, cfg)
	high := Score(route, incident.Context{News: []incident.News{{ID: "n", Location: at, Severity: 3}}, Now: now}, cfg)

	require.Greater(t, low, 0.0)
	assert.InDelta(t, 3*low, high, 1e-9)
}

func TestScore_OldReportsDecay(t *testing.T) {
	cfg := DefaultConfig()
	route := straightRoute(1000)
	at := east(north(origin, 500), 20)

	fresh := report("r", at)
	stale := report("r", at)
	ts := now.Add(-72 * time.Hour)
	stale.OccurredAt = &ts

	freshScore := Score(route, incident.Context{Reports: []incident.Report{fresh}, Now: now}, cfg)
	staleScore := Score(route, incident.Context{Reports: []incident.Report{stale}, Now: now}, cfg)

	assert.InDelta(t, freshScore/2, staleScore, 1e-9)
}

func TestScore_Clamped(t *testing.T) {
	var news []incident.News
	for i := 0; i < 50; i++ {
		news = append(news, incident.News{ID: "n", Location: north(origin, float64(i)*20), Severity: 4})
	}
	score := Score(straightRoute(1000), incident.Context{News: news, Now: now}, DefaultConfig())
	assert.Equal(t, MaxIndex, score)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.SampleSpacingMeters = 0
	assert.ErrorContains(t, cfg.Validate(), "sample_spacing_meters")

	cfg = DefaultConfig()
	cfg.NewsWeight = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.SevereSeverityThreshold = 5
	assert.ErrorContains(t, cfg.Validate(), "severe_severity_threshold")
}
