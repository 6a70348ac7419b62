package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dpup/saferoute/server/internal/clients/newsfeed"
	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/incident"
	"github.com/dpup/saferoute/server/internal/lib/routing"
)

// candidateFile is one route in a --routes file. Geometry comes either from
// points or from an encoded polyline.
type candidateFile struct {
	ID              string            `json:"id"`
	Points          []geo.Point       `json:"points"`
	Polyline        string            `json:"polyline"`
	DurationSeconds float64           `json:"duration_seconds"`
	DistanceMeters  float64           `json:"distance_meters"`
	Steps           []json.RawMessage `json:"steps"`
}

// reportFile is one row of a --reports file, in the reports table shape
type reportFile struct {
	ID          json.Number `json:"id"`
	Lat         float64     `json:"lat"`
	Lon         float64     `json:"lon"`
	Description string      `json:"description"`
	OccurredAt  *time.Time  `json:"occurred_at"`
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return eris.Wrapf(err, "parse %s", path)
	}
	return nil
}

func loadCandidates(path string) ([]routing.RouteCandidate, error) {
	var files []candidateFile
	if err := readJSON(path, &files); err != nil {
		return nil, err
	}

	candidates := make([]routing.RouteCandidate, len(files))
	for i, f := range files {
		points := f.Points
		if len(points) == 0 && f.Polyline != "" {
			decoded, err := geo.DecodePolyline(f.Polyline)
			if err != nil {
				return nil, eris.Wrapf(err, "route %d", i)
			}
			points = decoded
		}
		candidates[i] = routing.RouteCandidate{
			ID:              f.ID,
			Points:          points,
			DurationSeconds: f.DurationSeconds,
			DistanceMeters:  f.DistanceMeters,
			Steps:           f.Steps,
		}
		if candidates[i].ID == "" {
			candidates[i].ID = routeID(i)
		}
		if candidates[i].DistanceMeters == 0 {
			candidates[i].DistanceMeters = geo.PolylineLength(points)
		}
	}
	return candidates, nil
}

func routeID(i int) string {
	return fmt.Sprintf("route-%d", i)
}

func loadReports(path string) ([]incident.Report, error) {
	if path == "" {
		return nil, nil
	}
	var files []reportFile
	if err := readJSON(path, &files); err != nil {
		return nil, err
	}

	reports := make([]incident.Report, len(files))
	for i, f := range files {
		location, err := geo.NewPoint(f.Lat, f.Lon)
		if err != nil {
			return nil, eris.Wrapf(err, "report %d", i)
		}
		reports[i] = incident.Report{
			ID:          f.ID.String(),
			Location:    location,
			Description: f.Description,
			OccurredAt:  f.OccurredAt,
		}
	}
	return reports, nil
}

// loadNews reads a feed document; malformed items are skipped with a count
func loadNews(path string) ([]incident.News, int, error) {
	if path == "" {
		return nil, 0, nil
	}
	var feed newsfeed.Feed
	if err := readJSON(path, &feed); err != nil {
		return nil, 0, err
	}

	var news []incident.News
	rejected := 0
	for _, item := range feed.Items {
		n, err := item.ToNews()
		if err != nil {
			rejected++
			continue
		}
		news = append(news, n)
	}
	return news, rejected, nil
}

func parseNow(value string) (time.Time, error) {
	if value == "" {
		return time.Now().UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, eris.Wrap(err, "--now must be RFC3339")
	}
	return ts, nil
}
