package services

import (
	"context"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/dpup/saferoute/server/internal/cache"
	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/hotspot"
	"github.com/dpup/saferoute/server/internal/lib/incident"
	"github.com/dpup/saferoute/server/internal/lib/routing"
	"github.com/dpup/saferoute/server/internal/metrics"
	"github.com/dpup/saferoute/server/internal/store"
)

// NewsSource provides the current news incident snapshot
type NewsSource interface {
	Snapshot() []incident.News
}

// Options configures a SafeRouteService
type Options struct {
	TravelMode      routing.TravelProfile
	RouteCacheTTL   time.Duration
	Hotspots        hotspot.Config
	HotspotCacheTTL time.Duration
}

// SafeRouteService plans routes against the current incident snapshot and
// serves reports and hotspots
type SafeRouteService struct {
	provider  routing.Provider
	reports   store.ReportStore
	news      NewsSource
	ranker    routing.RouteRanker
	cache     *cache.Cache
	metrics   *metrics.Metrics
	clock     clockwork.Clock
	sequencer *Sequencer
	opts      Options
}

// NewSafeRouteService creates a new SafeRouteService
func NewSafeRouteService(
	provider routing.Provider,
	reports store.ReportStore,
	news NewsSource,
	ranker routing.RouteRanker,
	cache *cache.Cache,
	m *metrics.Metrics,
	clock clockwork.Clock,
	opts Options,
) *SafeRouteService {
	return &SafeRouteService{
		provider:  provider,
		reports:   reports,
		news:      news,
		ranker:    ranker,
		cache:     cache,
		metrics:   m,
		clock:     clock,
		sequencer: NewSequencer(),
		opts:      opts,
	}
}

// PlanRequest asks for ranked routes between two points. ClientKey groups
// requests from one client for sequencing; empty means no sequencing.
type PlanRequest struct {
	Origin      geo.Point
	Destination geo.Point
	ClientKey   string
}

// PlanResponse is a ranked set of routes. When Superseded is set a newer
// request from the same client has started and the caller should drop this one.
type PlanResponse struct {
	RequestID  string                   `json:"request_id"`
	Sequence   uint64                   `json:"sequence"`
	Superseded bool                     `json:"superseded"`
	ComputedAt time.Time                `json:"computed_at"`
	Result     routing.Result           `json:"result"`
	Candidates []routing.RouteCandidate `json:"-"`
}

// PlanRoutes fetches candidates and the report set concurrently, then ranks
// the candidates against one snapshot taken at a single instant.
func (s *SafeRouteService) PlanRoutes(ctx context.Context, req PlanRequest) (*PlanResponse, error) {
	if err := geo.ValidatePoints([]geo.Point{req.Origin, req.Destination}); err != nil {
		s.metrics.RouteRequests.WithLabelValues("input_error").Inc()
		return nil, eris.Wrap(routing.ErrInputError, err.Error())
	}

	var seq uint64
	if req.ClientKey != "" {
		seq = s.sequencer.Begin(req.ClientKey)
	}

	var (
		candidates []routing.RouteCandidate
		reports    []incident.Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		candidates, err = s.candidates(gctx, req.Origin, req.Destination)
		return err
	})
	g.Go(func() error {
		var err error
		reports, err = s.reports.List(gctx)
		return eris.Wrap(err, "failed to load reports")
	})
	if err := g.Wait(); err != nil {
		s.metrics.RouteRequests.WithLabelValues(outcomeFor(err)).Inc()
		return nil, err
	}

	snapshot := incident.NewContext(reports, s.news.Snapshot(), s.clock.Now())

	start := time.Now()
	result, err := s.ranker.Rank(candidates, snapshot)
	s.metrics.RankingDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.RouteRequests.WithLabelValues(outcomeFor(err)).Inc()
		return nil, err
	}

	resp := &PlanResponse{
		RequestID:  uuid.NewString(),
		Sequence:   seq,
		ComputedAt: snapshot.Now,
		Result:     result,
		Candidates: candidates,
	}
	if req.ClientKey != "" && !s.sequencer.Commit(req.ClientKey, seq) {
		resp.Superseded = true
		s.metrics.RouteRequests.WithLabelValues("superseded").Inc()
		return resp, nil
	}

	s.metrics.CandidatesExcluded.Add(float64(len(result.Excluded)))
	if best, ok := result.Best(); ok {
		s.metrics.BestRouteRisk.Observe(best.Risk)
	}
	if result.AllExcluded {
		logging.Warnw(ctx, "Every route candidate failed the safety check, returning unfiltered ranking",
			"request_id", resp.RequestID, "candidates", len(candidates))
		s.metrics.RouteRequests.WithLabelValues("all_excluded").Inc()
	} else {
		s.metrics.RouteRequests.WithLabelValues("ok").Inc()
	}
	return resp, nil
}

// candidates returns provider routes, served from cache when fresh. Only the
// geometry is cached; risk is recomputed on every request.
func (s *SafeRouteService) candidates(ctx context.Context, origin, destination geo.Point) ([]routing.RouteCandidate, error) {
	key := cache.RouteKey(s.opts.TravelMode, origin, destination)

	cached, found, err := s.cache.GetRoutes(key)
	if err != nil {
		logging.Errorw(ctx, "Route cache read failed", "error", err, "key", key)
	}
	if found {
		s.metrics.RouteCache.WithLabelValues("hit").Inc()
		return cached, nil
	}
	s.metrics.RouteCache.WithLabelValues("miss").Inc()

	start := time.Now()
	candidates, err := s.provider.ComputeRoutes(ctx, origin, destination)
	s.metrics.ProviderDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, eris.Wrap(routing.ErrNoCandidates, "routing provider returned no routes")
	}

	if s.opts.RouteCacheTTL > 0 {
		if err := s.cache.SetRoutes(key, candidates, s.opts.RouteCacheTTL); err != nil {
			logging.Errorw(ctx, "Failed to cache routes", "error", err, "key", key)
		}
	}
	return candidates, nil
}

// HotspotsResponse is the latest hotspot computation
type HotspotsResponse struct {
	Hotspots   []hotspot.Hotspot `json:"hotspots"`
	ComputedAt time.Time         `json:"computed_at"`
}

// Hotspots serves the cached hotspots, computing them on first use
func (s *SafeRouteService) Hotspots(ctx context.Context) (*HotspotsResponse, error) {
	hotspots, computedAt, found, err := s.cache.GetHotspots()
	if err != nil {
		logging.Errorw(ctx, "Hotspot cache read failed", "error", err)
	}
	if found {
		return &HotspotsResponse{Hotspots: nonNil(hotspots), ComputedAt: computedAt}, nil
	}

	hotspots, err = s.RefreshHotspots(ctx)
	if err != nil {
		return nil, err
	}
	return &HotspotsResponse{Hotspots: nonNil(hotspots), ComputedAt: s.clock.Now()}, nil
}

// RefreshHotspots re-clusters the full report set and caches the result
func (s *SafeRouteService) RefreshHotspots(ctx context.Context) ([]hotspot.Hotspot, error) {
	reports, err := s.reports.List(ctx)
	if err != nil {
		s.metrics.HotspotRefreshes.WithLabelValues("error").Inc()
		return nil, eris.Wrap(err, "failed to load reports")
	}

	snapshot := incident.NewContext(reports, nil, s.clock.Now())
	hotspots := hotspot.Detect(snapshot.ReportPoints(), s.opts.Hotspots)

	if err := s.cache.SetHotspots(hotspots, s.opts.HotspotCacheTTL); err != nil {
		logging.Errorw(ctx, "Failed to cache hotspots", "error", err)
	}
	s.metrics.HotspotRefreshes.WithLabelValues("success").Inc()
	s.metrics.Hotspots.Set(float64(len(hotspots)))
	return hotspots, nil
}

// ListReports returns every stored report
func (s *SafeRouteService) ListReports(ctx context.Context) ([]incident.Report, error) {
	reports, err := s.reports.List(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "failed to load reports")
	}
	return reports, nil
}

// AddReportRequest is a new user report. A nil OccurredAt means now.
type AddReportRequest struct {
	Location    geo.Point
	Description string
	OccurredAt  *time.Time
}

// AddReport stores a report. New reports show up in hotspots at the next refresh.
func (s *SafeRouteService) AddReport(ctx context.Context, req AddReportRequest) (incident.Report, error) {
	if err := geo.ValidatePoints([]geo.Point{req.Location}); err != nil {
		return incident.Report{}, eris.Wrap(routing.ErrInputError, err.Error())
	}

	occurredAt := req.OccurredAt
	if occurredAt == nil {
		now := s.clock.Now().UTC()
		occurredAt = &now
	}

	report, err := s.reports.Add(ctx, req.Location, req.Description, occurredAt)
	if err != nil {
		return incident.Report{}, err
	}
	s.metrics.ReportsAdded.Inc()
	return report, nil
}

func outcomeFor(err error) string {
	switch {
	case eris.Is(err, routing.ErrInputError), eris.Is(err, geo.ErrInvalidCoordinate):
		return "input_error"
	case eris.Is(err, routing.ErrNoCandidates):
		return "no_candidates"
	case eris.Is(err, routing.ErrProviderUnavailable):
		return "provider_error"
	default:
		return "error"
	}
}

func nonNil(hotspots []hotspot.Hotspot) []hotspot.Hotspot {
	if hotspots == nil {
		return []hotspot.Hotspot{}
	}
	return hotspots
}
