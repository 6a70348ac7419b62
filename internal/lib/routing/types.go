package routing

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/incident"
	"github.com/dpup/saferoute/server/internal/lib/risk"
)

var (
	// ErrNoCandidates means there was nothing to rank; callers must stop routing
	ErrNoCandidates = eris.New("no route candidates to rank")

	// ErrInputError marks degenerate geometry or malformed coordinates
	ErrInputError = eris.New("invalid routing input")

	// ErrProviderUnavailable wraps any failure of the external routing provider
	ErrProviderUnavailable = eris.New("routing provider unavailable")
)

// DefaultPalette is the cyclic display palette assigned by rank
var DefaultPalette = []string{"#2E7D32", "#1565C0", "#F9A825", "#EF6C00", "#6A1B9A"}

// TravelProfile selects the routing provider's travel mode
type TravelProfile string

const (
	Walk    TravelProfile = "WALK"
	Bicycle TravelProfile = "BICYCLE"
	Drive   TravelProfile = "DRIVE"
)

// RouteCandidate is one pre-computed route geometry from the routing provider
type RouteCandidate struct {
	ID              string            `json:"id"`
	Points          []geo.Point       `json:"points"`
	DurationSeconds float64           `json:"duration_seconds"`
	DistanceMeters  float64           `json:"distance_meters,omitempty"`
	Steps           []json.RawMessage `json:"steps,omitempty"` // passed through untouched
}

// ScoredRoute is a ranked candidate. A ranking call always builds a fresh set.
type ScoredRoute struct {
	Candidate       RouteCandidate  `json:"candidate"`
	Index           int             `json:"index"` // position in the original candidate list
	Risk            float64         `json:"risk"`
	Assessment      risk.Assessment `json:"assessment"`
	DurationSeconds float64         `json:"duration_seconds"`
	Score           float64         `json:"score"`
	Rank            int             `json:"rank"`
	Color           string          `json:"color"`
}

// Exclusion records a candidate removed by the hard safety check
type Exclusion struct {
	Index     int            `json:"index"`
	ID        string         `json:"id"`
	Violation risk.Violation `json:"violation"`
}

// Result is the output of a ranking call. AllExcluded is a recoverable warning:
// every candidate failed the hard check, so Routes holds the unfiltered set.
type Result struct {
	Routes      []ScoredRoute `json:"routes"`
	Excluded    []Exclusion   `json:"excluded,omitempty"`
	AllExcluded bool          `json:"all_excluded"`
}

// Best returns the rank 0 route
func (r Result) Best() (ScoredRoute, bool) {
	if len(r.Routes) == 0 {
		return ScoredRoute{}, false
	}
	return r.Routes[0], true
}

// Config holds the composite score weights: score = Alpha*duration + Beta*risk.
// Beta is large so a 0-100 risk outweighs modest time savings.
type Config struct {
	Alpha   float64  `koanf:"alpha" yaml:"alpha"`
	Beta    float64  `koanf:"beta" yaml:"beta"`
	Palette []string `koanf:"palette" yaml:"palette"`
}

// DefaultConfig returns alpha=1, beta=350 and the default palette
func DefaultConfig() Config {
	return Config{
		Alpha:   1,
		Beta:    350,
		Palette: append([]string(nil), DefaultPalette...),
	}
}

// Validate rejects negative weights
func (c Config) Validate() error {
	if c.Alpha < 0 || c.Beta < 0 {
		return eris.Errorf("ranking weights must not be negative (alpha=%v, beta=%v)", c.Alpha, c.Beta)
	}
	return nil
}

// Provider computes candidate routes between two points. Implementations may
// return an empty slice; failures are wrapped in ErrProviderUnavailable.
type Provider interface {
	ComputeRoutes(ctx context.Context, origin, destination geo.Point) ([]RouteCandidate, error)
}

// RouteRanker filters, scores and orders route candidates
type RouteRanker interface {
	// Rank returns candidates sorted best-first. It fails with ErrNoCandidates on
	// empty input and ErrInputError on malformed geometry.
	Rank(candidates []RouteCandidate, snapshot incident.Context) (Result, error)
}
