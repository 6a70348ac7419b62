package hotspot

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/dpup/saferoute/server/internal/lib/geo"
)

// Config controls clustering and how significant clusters are drawn
type Config struct {
	RadiusMeters          float64 `koanf:"radius_meters" yaml:"radius_meters"`
	MinCount              int     `koanf:"min_count" yaml:"min_count"`
	BaseVisRadiusMeters   float64 `koanf:"base_vis_radius_meters" yaml:"base_vis_radius_meters"`
	PerReportRadiusMeters float64 `koanf:"per_report_radius_meters" yaml:"per_report_radius_meters"`
	MaxVisRadiusMeters    float64 `koanf:"max_vis_radius_meters" yaml:"max_vis_radius_meters"`
}

// DefaultConfig returns the default hotspot parameters
func DefaultConfig() Config {
	return Config{
		RadiusMeters:          180,
		MinCount:              3,
		BaseVisRadiusMeters:   60,
		PerReportRadiusMeters: 12,
		MaxVisRadiusMeters:    220,
	}
}

// Validate rejects configurations that cannot produce hotspots
func (c Config) Validate() error {
	if c.RadiusMeters <= 0 {
		return eris.Errorf("hotspots.radius_meters must be positive, got %v", c.RadiusMeters)
	}
	if c.MinCount < 1 {
		return eris.Errorf("hotspots.min_count must be at least 1, got %d", c.MinCount)
	}
	if c.BaseVisRadiusMeters < 0 || c.PerReportRadiusMeters < 0 || c.MaxVisRadiusMeters < c.BaseVisRadiusMeters {
		return eris.New("hotspots visualization radii must be non-negative with max >= base")
	}
	return nil
}

// Hotspot is a significant cluster with the radius it should be drawn at
type Hotspot struct {
	Cluster
	RadiusMeters float64 `json:"radius_meters"`
}

// VisRadius grows the drawn radius with member count, capped at the configured maximum
func VisRadius(count int, cfg Config) float64 {
	r := cfg.BaseVisRadiusMeters + cfg.PerReportRadiusMeters*float64(count-cfg.MinCount+1)
	return math.Max(0, math.Min(cfg.MaxVisRadiusMeters, r))
}

// Significant keeps clusters with at least MinCount members, largest first
func Significant(clusters []Cluster, cfg Config) []Hotspot {
	var hotspots []Hotspot
	for _, c := range clusters {
		if c.Count < cfg.MinCount {
			continue
		}
		hotspots = append(hotspots, Hotspot{Cluster: c, RadiusMeters: VisRadius(c.Count, cfg)})
	}
	sort.SliceStable(hotspots, func(i, j int) bool {
		return hotspots[i].Count > hotspots[j].Count
	})
	return hotspots
}

// Detect clusters the points and returns only the significant hotspots
func Detect(points []geo.Point, cfg Config) []Hotspot {
	return Significant(FindClusters(points, cfg.RadiusMeters), cfg)
}
