package export

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/hotspot"
	"github.com/dpup/saferoute/server/internal/lib/routing"
)

// FeatureCollection builds a GeoJSON collection holding one LineString per
// ranked route and one Point per hotspot. Excluded candidates are included
// with "excluded": true so clients can show why they were dropped.
func FeatureCollection(result routing.Result, candidates []routing.RouteCandidate, hotspots []hotspot.Hotspot) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{}

	for _, r := range result.Routes {
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry: lineString(r.Candidate.Points),
			Properties: map[string]any{
				"kind":             "route",
				"id":               r.Candidate.ID,
				"rank":             r.Rank,
				"color":            r.Color,
				"risk":             r.Risk,
				"score":            r.Score,
				"duration_seconds": r.DurationSeconds,
				"all_excluded":     result.AllExcluded,
			},
		})
	}

	if !result.AllExcluded {
		for _, ex := range result.Excluded {
			if ex.Index < 0 || ex.Index >= len(candidates) {
				continue
			}
			fc.Features = append(fc.Features, &geojson.Feature{
				Geometry: lineString(candidates[ex.Index].Points),
				Properties: map[string]any{
					"kind":     "route",
					"id":       ex.ID,
					"excluded": true,
					"reason":   string(ex.Violation.Reason),
					"source":   ex.Violation.SourceID,
				},
			})
		}
	}

	for _, h := range hotspots {
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry: geom.NewPointFlat(geom.XY, []float64{h.Centroid.Longitude, h.Centroid.Latitude}),
			Properties: map[string]any{
				"kind":          "hotspot",
				"count":         h.Count,
				"radius_meters": h.RadiusMeters,
			},
		})
	}

	return fc
}

// WriteGeoJSON encodes the collection built by FeatureCollection
func WriteGeoJSON(w io.Writer, result routing.Result, candidates []routing.RouteCandidate, hotspots []hotspot.Hotspot) error {
	data, err := json.Marshal(FeatureCollection(result, candidates, hotspots))
	if err != nil {
		return eris.Wrap(err, "failed to encode GeoJSON")
	}
	if _, err := w.Write(data); err != nil {
		return eris.Wrap(err, "failed to write GeoJSON")
	}
	return nil
}

// lineString converts points to lon/lat order
func lineString(points []geo.Point) *geom.LineString {
	flat := make([]float64, 0, 2*len(points))
	for _, p := range points {
		flat = append(flat, p.Longitude, p.Latitude)
	}
	return geom.NewLineStringFlat(geom.XY, flat)
}
