package incident

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/saferoute/server/internal/lib/geo"
)

func TestClampSeverity(t *testing.T) {
	tests := []struct {
		in   int
		want Severity
	}{
		{-3, 1}, {0, 1}, {1, 1}, {2, 2}, {3, 3}, {4, 4}, {5, 4}, {99, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampSeverity(tt.in), "ClampSeverity(%d)", tt.in)
	}
}

func TestNewContext_CopiesInputs(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	reports := []Report{{ID: "1", Location: geo.Point{Latitude: 45.4, Longitude: -75.7}}}
	news := []News{{ID: "n1", Location: geo.Point{Latitude: 45.5, Longitude: -75.6}, Severity: 2}}

	ctx := NewContext(reports, news, now)
	reports[0].ID = "changed"
	news[0].Severity = 4

	assert.Equal(t, "1", ctx.Reports[0].ID)
	assert.Equal(t, Severity(2), ctx.News[0].Severity)
	assert.Equal(t, now, ctx.Now)
	assert.False(t, ctx.Empty())
	assert.True(t, NewContext(nil, nil, now).Empty())
}

func TestContext_ReportPoints(t *testing.T) {
	ctx := Context{Reports: []Report{
		{ID: "a", Location: geo.Point{Latitude: 1, Longitude: 2}},
		{ID: "b", Location: geo.Point{Latitude: 3, Longitude: 4}},
	}}
	assert.Equal(t, []geo.Point{{Latitude: 1, Longitude: 2}, {Latitude: 3, Longitude: 4}}, ctx.ReportPoints())
}

func TestContext_Validate(t *testing.T) {
	ok := Context{
		Reports: []Report{{ID: "r", Location: geo.Point{Latitude: 43.65, Longitude: -79.38}}},
		News:    []News{{ID: "n", Location: geo.Point{Latitude: 43.66, Longitude: -79.39}, Severity: 4}},
	}
	require.NoError(t, ok.Validate())

	badReport := Context{Reports: []Report{{ID: "r", Location: geo.Point{Latitude: 120, Longitude: 0}}}}
	assert.ErrorContains(t, badReport.Validate(), `report "r"`)

	badSeverity := Context{News: []News{{ID: "n", Location: geo.Point{Latitude: 1, Longitude: 1}, Severity: 7}}}
	assert.ErrorContains(t, badSeverity.Validate(), "severity 7")
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "assault near king st", NormalizeText("  Assault   near KING St.  "))
	assert.Equal(t, "robbery reported", NormalizeText("Robbery reported!!!"))
}

func TestContentHash(t *testing.T) {
	loc := geo.Point{Latitude: 43.65321, Longitude: -79.38318}
	nearby := geo.Point{Latitude: 43.65329, Longitude: -79.38322}

	h := ContentHash("Assault near King St.", loc)
	assert.Len(t, h, 64)
	assert.Equal(t, h, ContentHash("assault  near king st", nearby), "wording and sub-100m jitter collapse")
	assert.NotEqual(t, h, ContentHash("Assault near Queen St", loc))
	assert.NotEqual(t, h, ContentHash("Assault near King St", geo.Point{Latitude: 43.70, Longitude: -79.38}))
}
