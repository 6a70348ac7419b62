package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/saferoute/server/internal/lib/incident"
)

func TestCheck_FlagsNearReport(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HardReportRadiusMeters = 120

	snapshot := incident.Context{
		Reports: []incident.Report{report("r-50", east(north(origin, 400), 50))},
		Now:     now,
	}

	v := Check(straightRoute(1000), snapshot, cfg)
	require.NotNil(t, v)
	assert.Equal(t, NearReport, v.Reason)
	assert.Equal(t, "r-50", v.SourceID)
	assert.LessOrEqual(t, v.DistanceMeters, 120.0)
	assert.Greater(t, v.DistanceMeters, 50.0, "the first sample inside the radius is reported, not the closest")
}

func TestCheck_ClearRoute(t *testing.T) {
	snapshot := incident.Context{
		Reports: []incident.Report{report("r", east(north(origin, 500), 500))},
		News:    []incident.News{{ID: "n", Location: east(north(origin, 200), 500), Severity: 4}},
		Now:     now,
	}

	assert.Nil(t, Check(straightRoute(1000), snapshot, DefaultConfig()))
	assert.Nil(t, Check(straightRoute(1000), incident.Context{Now: now}, DefaultConfig()))
}

func TestCheck_SevereNewsOnly(t *testing.T) {
	cfg := DefaultConfig()
	at := east(north(origin, 500), 150)

	moderate := incident.Context{News: []incident.News{{ID: "n3", Location: at, Severity: 3}}, Now: now}
	assert.Nil(t, Check(straightRoute(1000), moderate, cfg), "severity below threshold never excludes")

	severe := incident.Context{News: []incident.News{{ID: "n4", Location: at, Severity: 4}}, Now: now}
	v := Check(straightRoute(1000), severe, cfg)
	require.NotNil(t, v)
	assert.Equal(t, SevereNews, v.Reason)
	assert.Equal(t, "n4", v.SourceID)

	cfg.SevereSeverityThreshold = 3
	assert.NotNil(t, Check(straightRoute(1000), moderate, cfg))
}

func TestCheck_ReportsCheckedBeforeNewsAtSameSample(t *testing.T) {
	at := east(origin, 10)
	snapshot := incident.Context{
		Reports: []incident.Report{report("r", at)},
		News:    []incident.News{{ID: "n", Location: at, Severity: 4}},
		Now:     now,
	}

	v := Check(straightRoute(1000), snapshot, DefaultConfig())
	require.NotNil(t, v)
	assert.Equal(t, NearReport, v.Reason)
}

func TestCheck_DenseSamplingCatchesShortIncursion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HardReportRadiusMeters = 10
	cfg.ExclusionSampleSpacingMeters = 12

	// The report sits 8m off the route halfway between two 25m risk samples
	snapshot := incident.Context{
		Reports: []incident.Report{report("r", east(north(origin, 37.5), 8))},
		Now:     now,
	}
	v := Check(straightRoute(1000), snapshot, cfg)
	require.NotNil(t, v)
	assert.LessOrEqual(t, v.DistanceMeters, 10.0)

	cfg.ExclusionSampleSpacingMeters = 25
	assert.Nil(t, Check(straightRoute(1000), snapshot, cfg), "coarse sampling would have missed it")
}
