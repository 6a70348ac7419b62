package cache

import (
	"fmt"
	"time"

	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/hotspot"
	"github.com/dpup/saferoute/server/internal/lib/routing"
)

const (
	sourceRoutes   = "routes"
	sourceHotspots = "hotspots"
	hotspotsKey    = "hotspots:current"
)

// RouteKey identifies a provider query. Coordinates are rounded to ~1m so
// repeated taps on the same spot share an entry.
func RouteKey(profile routing.TravelProfile, origin, destination geo.Point) string {
	return fmt.Sprintf("routes:%s:%.5f,%.5f:%.5f,%.5f", profile,
		origin.Latitude, origin.Longitude, destination.Latitude, destination.Longitude)
}

// SetRoutes caches provider candidates for a query
func (c *Cache) SetRoutes(key string, candidates []routing.RouteCandidate, ttl time.Duration) error {
	return c.Set(key, candidates, ttl, sourceRoutes)
}

// GetRoutes returns cached provider candidates for a query
func (c *Cache) GetRoutes(key string) ([]routing.RouteCandidate, bool, error) {
	var candidates []routing.RouteCandidate
	found, err := c.Get(key, &candidates)
	if err != nil || !found {
		return nil, false, err
	}
	return candidates, true, nil
}

// SetHotspots stores the latest hotspot computation
func (c *Cache) SetHotspots(hotspots []hotspot.Hotspot, ttl time.Duration) error {
	return c.Set(hotspotsKey, hotspots, ttl, sourceHotspots)
}

// GetHotspots returns the latest hotspots even when stale, along with when
// they were computed. Stale hotspots are still better than none.
func (c *Cache) GetHotspots() ([]hotspot.Hotspot, time.Time, bool, error) {
	var hotspots []hotspot.Hotspot
	entry, found, err := c.GetWithMetadata(hotspotsKey, &hotspots)
	if err != nil || !found {
		return nil, time.Time{}, false, err
	}
	return hotspots, entry.CreatedAt, true, nil
}
