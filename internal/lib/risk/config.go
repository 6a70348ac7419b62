// Package risk scores routes against nearby incident reports and news, and
// decides which routes must be excluded outright.
package risk

import (
	"github.com/rotisserie/eris"

	"github.com/dpup/saferoute/server/internal/lib/incident"
)

// Config holds the soft risk model and hard exclusion parameters
type Config struct {
	// Soft penalty
	SampleSpacingMeters float64 `koanf:"sample_spacing_meters" yaml:"sample_spacing_meters"`
	ReportRadiusMeters  float64 `koanf:"report_radius_meters" yaml:"report_radius_meters"`
	NewsRadiusMeters    float64 `koanf:"news_radius_meters" yaml:"news_radius_meters"`
	ReportWeight        float64 `koanf:"report_weight" yaml:"report_weight"`
	NewsWeight          float64 `koanf:"news_weight" yaml:"news_weight"`
	ReportHalfLifeHours float64 `koanf:"report_half_life_hours" yaml:"report_half_life_hours"`
	NewsHalfLifeHours   float64 `koanf:"news_half_life_hours" yaml:"news_half_life_hours"`

	// Hard exclusion
	ExclusionSampleSpacingMeters float64 `koanf:"exclusion_sample_spacing_meters" yaml:"exclusion_sample_spacing_meters"`
	HardReportRadiusMeters       float64 `koanf:"hard_report_radius_meters" yaml:"hard_report_radius_meters"`
	HardNewsRadiusMeters         float64 `koanf:"hard_news_radius_meters" yaml:"hard_news_radius_meters"`
	SevereSeverityThreshold      int     `koanf:"severe_severity_threshold" yaml:"severe_severity_threshold"`
}

// DefaultConfig returns the default scoring parameters. News carries a higher
// weight than a single report because the feed is editorially vetted.
func DefaultConfig() Config {
	return Config{
		SampleSpacingMeters: 25,
		ReportRadiusMeters:  120,
		NewsRadiusMeters:    220,
		ReportWeight:        1.0,
		NewsWeight:          1.35,
		ReportHalfLifeHours: 72,
		NewsHalfLifeHours:   240,

		ExclusionSampleSpacingMeters: 12,
		HardReportRadiusMeters:       120,
		HardNewsRadiusMeters:         200,
		SevereSeverityThreshold:      4,
	}
}

// Validate rejects configurations the model cannot score with
func (c Config) Validate() error {
	positive := map[string]float64{
		"sample_spacing_meters":           c.SampleSpacingMeters,
		"report_radius_meters":            c.ReportRadiusMeters,
		"news_radius_meters":              c.NewsRadiusMeters,
		"report_half_life_hours":          c.ReportHalfLifeHours,
		"news_half_life_hours":            c.NewsHalfLifeHours,
		"exclusion_sample_spacing_meters": c.ExclusionSampleSpacingMeters,
		"hard_report_radius_meters":       c.HardReportRadiusMeters,
		"hard_news_radius_meters":         c.HardNewsRadiusMeters,
	}
	for name, v := range positive {
		if v <= 0 {
			return eris.Errorf("risk.%s must be positive, got %v", name, v)
		}
	}
	if c.ReportWeight < 0 || c.NewsWeight < 0 {
		return eris.New("risk weights must not be negative")
	}
	if c.SevereSeverityThreshold < int(incident.MinSeverity) || c.SevereSeverityThreshold > int(incident.MaxSeverity) {
		return eris.Errorf("risk.severe_severity_threshold must be within [%d, %d], got %d",
			incident.MinSeverity, incident.MaxSeverity, c.SevereSeverityThreshold)
	}
	return nil
}
