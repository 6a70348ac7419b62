package routing

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/incident"
	"github.com/dpup/saferoute/server/internal/lib/risk"
)

// routeRanker implements the RouteRanker interface
type routeRanker struct {
	riskConfig risk.Config
	config     Config
}

// NewRouteRanker creates a new RouteRanker implementation
func NewRouteRanker(riskConfig risk.Config, config Config) RouteRanker {
	if len(config.Palette) == 0 {
		config.Palette = DefaultPalette
	}
	return &routeRanker{
		riskConfig: riskConfig,
		config:     config,
	}
}

// Rank applies the exclusion filter, scores the survivors and stable-sorts them
// ascending by composite score. If every candidate is excluded the full set is
// ranked instead and AllExcluded is set, so a travel route always comes back.
func (r *routeRanker) Rank(candidates []RouteCandidate, snapshot incident.Context) (Result, error) {
	if len(candidates) == 0 {
		return Result{}, ErrNoCandidates
	}
	if err := validateCandidates(candidates); err != nil {
		return Result{}, err
	}
	if err := snapshot.Validate(); err != nil {
		return Result{}, eris.Wrap(ErrInputError, err.Error())
	}

	var result Result
	survivors := make([]int, 0, len(candidates))
	for i, c := range candidates {
		if v := risk.Check(c.Points, snapshot, r.riskConfig); v != nil {
			result.Excluded = append(result.Excluded, Exclusion{Index: i, ID: c.ID, Violation: *v})
			continue
		}
		survivors = append(survivors, i)
	}

	if len(survivors) == 0 {
		result.AllExcluded = true
		for i := range candidates {
			survivors = append(survivors, i)
		}
	}

	scored := make([]ScoredRoute, len(survivors))
	for j, i := range survivors {
		c := candidates[i]
		assessment := risk.Assess(c.Points, snapshot, r.riskConfig)
		scored[j] = ScoredRoute{
			Candidate:       c,
			Index:           i,
			Risk:            assessment.Index,
			Assessment:      assessment,
			DurationSeconds: c.DurationSeconds,
			Score:           r.config.Alpha*c.DurationSeconds + r.config.Beta*assessment.Index,
		}
	}

	// Stable so equal scores keep provider order
	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].Score < scored[b].Score
	})

	for rank := range scored {
		scored[rank].Rank = rank
		scored[rank].Color = r.config.Palette[rank%len(r.config.Palette)]
	}

	result.Routes = scored
	return result, nil
}

func validateCandidates(candidates []RouteCandidate) error {
	for i, c := range candidates {
		if len(c.Points) < 2 {
			return eris.Wrapf(ErrInputError, "candidate %d has %d points, need at least 2", i, len(c.Points))
		}
		if err := geo.ValidatePoints(c.Points); err != nil {
			return eris.Wrapf(ErrInputError, "candidate %d: %v", i, err)
		}
		if c.DurationSeconds < 0 {
			return eris.Wrapf(ErrInputError, "candidate %d has negative duration", i)
		}
	}
	return nil
}
