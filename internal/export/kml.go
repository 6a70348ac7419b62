// Package export renders ranked routes and hotspots as KML and GeoJSON for
// map clients.
package export

import (
	"fmt"
	"image/color"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-kml"

	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/hotspot"
	"github.com/dpup/saferoute/server/internal/lib/routing"
)

// fallbackColor is used when a palette entry is not a #RRGGBB string
var fallbackColor = color.RGBA{R: 0x75, G: 0x75, B: 0x75, A: 0xff}

// WriteKML writes the ranked routes, each styled with its palette color, and
// the hotspots as a separate folder.
func WriteKML(w io.Writer, result routing.Result, hotspots []hotspot.Hotspot) error {
	routes := []kml.Element{kml.Name("Routes")}
	for _, r := range result.Routes {
		routes = append(routes, routePlacemark(r))
	}

	spots := []kml.Element{kml.Name("Hotspots")}
	for i, h := range hotspots {
		spots = append(spots, kml.Placemark(
			kml.Name(fmt.Sprintf("Hotspot %d (%d reports)", i+1, h.Count)),
			kml.Description(fmt.Sprintf("radius %.0f m", h.RadiusMeters)),
			kml.Point(kml.Coordinates(coordinate(h.Centroid))),
		))
	}

	doc := kml.KML(kml.Document(
		kml.Name("Safe routes"),
		kml.Folder(routes...),
		kml.Folder(spots...),
	))
	if err := doc.WriteIndent(w, "", "  "); err != nil {
		return eris.Wrap(err, "failed to write KML")
	}
	return nil
}

func routePlacemark(r routing.ScoredRoute) kml.Element {
	coords := make([]kml.Coordinate, len(r.Candidate.Points))
	for i, p := range r.Candidate.Points {
		coords[i] = coordinate(p)
	}

	width := 4.0
	if r.Rank == 0 {
		width = 6
	}

	return kml.Placemark(
		kml.Name(fmt.Sprintf("#%d %s", r.Rank+1, r.Candidate.ID)),
		kml.Description(fmt.Sprintf("%.0f min, risk %.1f, score %.1f", r.DurationSeconds/60, r.Risk, r.Score)),
		kml.Style(kml.LineStyle(
			kml.Color(parseHexColor(r.Color)),
			kml.Width(width),
		)),
		kml.LineString(
			kml.Tessellate(true),
			kml.Coordinates(coords...),
		),
	)
}

func coordinate(p geo.Point) kml.Coordinate {
	return kml.Coordinate{Lon: p.Longitude, Lat: p.Latitude}
}

// parseHexColor reads "#RRGGBB" or "#RRGGBBAA"
func parseHexColor(s string) color.Color {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 && len(s) != 8 {
		return fallbackColor
	}
	if len(s) == 6 {
		s += "ff"
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return fallbackColor
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
}
