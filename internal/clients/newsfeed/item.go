// Package newsfeed ingests news-derived incidents from an HTTP JSON feed or a
// Kafka topic and keeps the latest set available as a read-only snapshot.
package newsfeed

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/incident"
)

// Item is the wire format of one news incident
type Item struct {
	ID          string  `json:"id"`
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lng"`
	Severity    int     `json:"severity"`
	Title       string  `json:"title"`
	PublishedAt string  `json:"published_at,omitempty"`
}

// Feed is the document served by the HTTP feed
type Feed struct {
	Items []Item `json:"items"`
}

// ToNews validates the item and converts it. Severity is clamped into range
// and items without an ID get a content hash so re-deliveries dedupe.
func (i Item) ToNews() (incident.News, error) {
	location, err := geo.NewPoint(i.Latitude, i.Longitude)
	if err != nil {
		return incident.News{}, eris.Wrapf(err, "news item %q", i.ID)
	}

	n := incident.News{
		ID:       i.ID,
		Location: location,
		Severity: incident.ClampSeverity(i.Severity),
		Title:    i.Title,
	}
	if n.ID == "" {
		n.ID = incident.ContentHash(i.Title, location)
	}
	if i.PublishedAt != "" {
		ts, err := time.Parse(time.RFC3339, i.PublishedAt)
		if err != nil {
			return incident.News{}, eris.Wrapf(err, "news item %q: published_at", n.ID)
		}
		n.PublishedAt = &ts
	}
	return n, nil
}

// convertItems converts every valid item, returning the rejects separately
func convertItems(items []Item) ([]incident.News, []error) {
	news := make([]incident.News, 0, len(items))
	var rejected []error
	for _, item := range items {
		n, err := item.ToNews()
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		news = append(news, n)
	}
	return news, rejected
}
