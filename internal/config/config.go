package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rotisserie/eris"

	"github.com/dpup/saferoute/server/internal/clients/newsfeed"
	"github.com/dpup/saferoute/server/internal/lib/hotspot"
	"github.com/dpup/saferoute/server/internal/lib/risk"
	"github.com/dpup/saferoute/server/internal/lib/routing"
)

// EnvPrefix selects environment overrides, e.g. SAFEROUTE_RISK__REPORT_WEIGHT=1.2
const EnvPrefix = "SAFEROUTE_"

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `koanf:"server" yaml:"server"`
	Risk     risk.Config    `koanf:"risk" yaml:"risk"`
	Ranking  routing.Config `koanf:"ranking" yaml:"ranking"`
	Hotspots HotspotConfig  `koanf:"hotspots" yaml:"hotspots"`
	Google   GoogleConfig   `koanf:"google" yaml:"google"`
	News     NewsConfig     `koanf:"news" yaml:"news"`
	Store    StoreConfig    `koanf:"store" yaml:"store"`
}

// ServerConfig holds HTTP surface settings
type ServerConfig struct {
	CorsOrigins []string `koanf:"cors_origins" yaml:"cors_origins"`
}

// HotspotConfig adds the refresh cadence to the clustering parameters
type HotspotConfig struct {
	hotspot.Config  `koanf:",squash" yaml:",inline"`
	RefreshInterval time.Duration `koanf:"refresh_interval" yaml:"refresh_interval"`
}

// GoogleConfig holds Google Routes API settings
type GoogleConfig struct {
	APIKey           string                `koanf:"api_key" yaml:"api_key"`
	BaseURL          string                `koanf:"base_url" yaml:"base_url"`
	TravelMode       routing.TravelProfile `koanf:"travel_mode" yaml:"travel_mode"`
	Timeout          time.Duration         `koanf:"timeout" yaml:"timeout"`
	QueriesPerMinute int                   `koanf:"qpm" yaml:"qpm"`
	CacheTTL         time.Duration         `koanf:"cache_ttl" yaml:"cache_ttl"`
}

// NewsConfig selects how news incidents are ingested. Either or both of the
// HTTP feed and the Kafka topic may be configured.
type NewsConfig struct {
	URL             string               `koanf:"url" yaml:"url"`
	RefreshInterval time.Duration        `koanf:"refresh_interval" yaml:"refresh_interval"`
	MaxAge          time.Duration        `koanf:"max_age" yaml:"max_age"`
	Kafka           newsfeed.KafkaConfig `koanf:"kafka" yaml:"kafka"`
}

// StoreConfig holds report persistence settings
type StoreConfig struct {
	Path string `koanf:"path" yaml:"path"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			CorsOrigins: []string{"*"},
		},
		Risk:    risk.DefaultConfig(),
		Ranking: routing.DefaultConfig(),
		Hotspots: HotspotConfig{
			Config:          hotspot.DefaultConfig(),
			RefreshInterval: 5 * time.Minute,
		},
		Google: GoogleConfig{
			BaseURL:          "https://routes.googleapis.com",
			TravelMode:       routing.Walk,
			Timeout:          30 * time.Second,
			QueriesPerMinute: 3000,
			CacheTTL:         5 * time.Minute,
		},
		News: NewsConfig{
			RefreshInterval: 10 * time.Minute,
			MaxAge:          30 * 24 * time.Hour,
			Kafka: newsfeed.KafkaConfig{
				GroupID: "saferoute",
			},
		},
		Store: StoreConfig{
			Path: "saferoute.db",
		},
	}
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if err := c.Ranking.Validate(); err != nil {
		return err
	}
	if err := c.Hotspots.Validate(); err != nil {
		return err
	}
	if c.Hotspots.RefreshInterval <= 0 {
		return eris.New("hotspots.refresh_interval must be positive")
	}
	switch c.Google.TravelMode {
	case routing.Walk, routing.Bicycle, routing.Drive:
	default:
		return eris.Errorf("google.travel_mode %q is not one of WALK, BICYCLE, DRIVE", c.Google.TravelMode)
	}
	if c.News.URL != "" && c.News.RefreshInterval <= 0 {
		return eris.New("news.refresh_interval must be positive when news.url is set")
	}
	if c.Store.Path == "" {
		return eris.New("store.path is required")
	}
	return nil
}

// Load builds a Config from defaults, an optional YAML file, SAFEROUTE_
// environment variables and finally explicit overrides, later sources winning.
// Nested keys in the environment use a double underscore.
func Load(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, eris.Wrapf(err, "failed to load config file %s", path)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil)
	if err != nil {
		return nil, eris.Wrap(err, "failed to load environment overrides")
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, eris.Wrap(err, "failed to apply overrides")
		}
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, eris.Wrap(err, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
