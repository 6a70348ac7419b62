package services

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dpup/saferoute/server/internal/cache"
	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/hotspot"
	"github.com/dpup/saferoute/server/internal/lib/incident"
	"github.com/dpup/saferoute/server/internal/lib/risk"
	"github.com/dpup/saferoute/server/internal/lib/routing"
	"github.com/dpup/saferoute/server/internal/metrics"
	"github.com/dpup/saferoute/server/internal/store"
)

var (
	// Toronto, near Queen & Spadina
	start = geo.Point{Latitude: 43.6487, Longitude: -79.3960}
	t0    = time.Date(2025, 6, 1, 22, 30, 0, 0, time.UTC)
)

// testContext carries a logger the way prefab's request contexts do
func testContext() context.Context {
	return logging.EnsureLogger(context.Background())
}

func offset(p geo.Point, northMeters, eastMeters float64) geo.Point {
	dLat := northMeters / geo.EarthRadiusMeters * 180 / math.Pi
	dLon := eastMeters / (geo.EarthRadiusMeters * math.Cos(p.Latitude*math.Pi/180)) * 180 / math.Pi
	return geo.Point{Latitude: p.Latitude + dLat, Longitude: p.Longitude + dLon}
}

// laneRoute runs 1km north along a line eastMeters east of start
func laneRoute(id string, eastMeters, duration float64) routing.RouteCandidate {
	return routing.RouteCandidate{
		ID:              id,
		Points:          []geo.Point{offset(start, 0, eastMeters), offset(start, 500, eastMeters), offset(start, 1000, eastMeters)},
		DurationSeconds: duration,
	}
}

var destination = offset(start, 1000, 0)

// MockProvider is a mock implementation of routing.Provider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) ComputeRoutes(ctx context.Context, origin, destination geo.Point) ([]routing.RouteCandidate, error) {
	args := m.Called(ctx, origin, destination)
	candidates, _ := args.Get(0).([]routing.RouteCandidate)
	return candidates, args.Error(1)
}

// memoryReportStore is an in-memory store.ReportStore
type memoryReportStore struct {
	mu      sync.Mutex
	reports []incident.Report
	err     error
}

func (s *memoryReportStore) List(ctx context.Context) ([]incident.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]incident.Report(nil), s.reports...), nil
}

func (s *memoryReportStore) Add(ctx context.Context, location geo.Point, description string, occurredAt *time.Time) (incident.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return incident.Report{}, s.err
	}
	if description == "" {
		description = store.DefaultDescription
	}
	r := incident.Report{
		ID:          strconv.Itoa(len(s.reports) + 1),
		Location:    location,
		Description: description,
		OccurredAt:  occurredAt,
	}
	s.reports = append(s.reports, r)
	return r, nil
}

func (s *memoryReportStore) Close() error { return nil }

type staticNews []incident.News

func (n staticNews) Snapshot() []incident.News { return append([]incident.News(nil), n...) }

type testService struct {
	*SafeRouteService
	provider *MockProvider
	reports  *memoryReportStore
	clock    *clockwork.FakeClock
	metrics  *metrics.Metrics
}

func newTestService(t *testing.T, news ...incident.News) *testService {
	t.Helper()
	provider := &MockProvider{}
	reports := &memoryReportStore{}
	clock := clockwork.NewFakeClockAt(t0)
	m := metrics.NewMetricsForTesting()

	svc := NewSafeRouteService(
		provider,
		reports,
		staticNews(news),
		routing.NewRouteRanker(risk.DefaultConfig(), routing.DefaultConfig()),
		cache.NewCacheWithClock(clock),
		m,
		clock,
		Options{
			TravelMode:      routing.Walk,
			RouteCacheTTL:   5 * time.Minute,
			Hotspots:        hotspot.DefaultConfig(),
			HotspotCacheTTL: 10 * time.Minute,
		},
	)
	return &testService{SafeRouteService: svc, provider: provider, reports: reports, clock: clock, metrics: m}
}

func TestPlanRoutes_ExcludesRouteNearReport(t *testing.T) {
	ts := newTestService(t)
	ts.reports.reports = []incident.Report{{ID: "R", Location: offset(start, 600, 50), Description: "followed home"}}
	ts.provider.On("ComputeRoutes", mock.Anything, start, destination).Return(
		[]routing.RouteCandidate{laneRoute("X", 0, 500), laneRoute("Y", 400, 800)}, nil)

	resp, err := ts.PlanRoutes(testContext(), PlanRequest{Origin: start, Destination: destination})
	require.NoError(t, err)

	best, ok := resp.Result.Best()
	require.True(t, ok)
	assert.Equal(t, "Y", best.Candidate.ID)
	require.Len(t, resp.Result.Excluded, 1)
	assert.Equal(t, "X", resp.Result.Excluded[0].ID)
	assert.False(t, resp.Superseded)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, t0, resp.ComputedAt)
	assert.Len(t, resp.Candidates, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.RouteRequests.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.CandidatesExcluded))
}

func TestPlanRoutes_AllExcludedIsNotAnError(t *testing.T) {
	ts := newTestService(t)
	ts.reports.reports = []incident.Report{{ID: "R", Location: offset(start, 500, 0)}}
	ts.provider.On("ComputeRoutes", mock.Anything, start, destination).Return(
		[]routing.RouteCandidate{laneRoute("only", 0, 600)}, nil)

	resp, err := ts.PlanRoutes(testContext(), PlanRequest{Origin: start, Destination: destination})
	require.NoError(t, err)
	assert.True(t, resp.Result.AllExcluded)
	assert.Len(t, resp.Result.Routes, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.RouteRequests.WithLabelValues("all_excluded")))
}

func TestPlanRoutes_CachesGeometryButRescoresRisk(t *testing.T) {
	ts := newTestService(t)
	ts.provider.On("ComputeRoutes", mock.Anything, start, destination).Return(
		[]routing.RouteCandidate{laneRoute("A", 0, 600)}, nil).Once()

	first, err := ts.PlanRoutes(testContext(), PlanRequest{Origin: start, Destination: destination})
	require.NoError(t, err)
	assert.Equal(t, 0.0, first.Result.Routes[0].Risk)

	// A news item near the route appears between requests
	ts.SafeRouteService.news = staticNews{{ID: "n", Location: offset(start, 500, 150), Severity: 2}}

	second, err := ts.PlanRoutes(testContext(), PlanRequest{Origin: start, Destination: destination})
	require.NoError(t, err)
	assert.Greater(t, second.Result.Routes[0].Risk, 0.0)

	ts.provider.AssertNumberOfCalls(t, "ComputeRoutes", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.RouteCache.WithLabelValues("hit")))

	// Expired entries go back to the provider
	ts.provider.On("ComputeRoutes", mock.Anything, start, destination).Return(
		[]routing.RouteCandidate{laneRoute("A", 0, 600)}, nil).Once()
	ts.clock.Advance(6 * time.Minute)
	_, err = ts.PlanRoutes(testContext(), PlanRequest{Origin: start, Destination: destination})
	require.NoError(t, err)
	ts.provider.AssertNumberOfCalls(t, "ComputeRoutes", 2)
}

func TestPlanRoutes_Errors(t *testing.T) {
	t.Run("invalid coordinates", func(t *testing.T) {
		ts := newTestService(t)
		_, err := ts.PlanRoutes(testContext(), PlanRequest{Origin: geo.Point{Latitude: 91}, Destination: destination})
		assert.True(t, eris.Is(err, routing.ErrInputError))
		ts.provider.AssertNotCalled(t, "ComputeRoutes", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("provider unavailable", func(t *testing.T) {
		ts := newTestService(t)
		ts.provider.On("ComputeRoutes", mock.Anything, start, destination).Return(
			nil, eris.Wrap(routing.ErrProviderUnavailable, "API error 500"))

		_, err := ts.PlanRoutes(testContext(), PlanRequest{Origin: start, Destination: destination})
		assert.True(t, eris.Is(err, routing.ErrProviderUnavailable))
		assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.RouteRequests.WithLabelValues("provider_error")))
	})

	t.Run("no routes", func(t *testing.T) {
		ts := newTestService(t)
		ts.provider.On("ComputeRoutes", mock.Anything, start, destination).Return([]routing.RouteCandidate{}, nil)

		_, err := ts.PlanRoutes(testContext(), PlanRequest{Origin: start, Destination: destination})
		assert.True(t, eris.Is(err, routing.ErrNoCandidates))
	})

	t.Run("report store failure", func(t *testing.T) {
		ts := newTestService(t)
		ts.reports.err = errors.New("database is locked")
		ts.provider.On("ComputeRoutes", mock.Anything, start, destination).Return(
			[]routing.RouteCandidate{laneRoute("A", 0, 600)}, nil).Maybe()

		_, err := ts.PlanRoutes(testContext(), PlanRequest{Origin: start, Destination: destination})
		assert.ErrorContains(t, err, "database is locked")
	})
}

// gatedProvider blocks the first call until released
type gatedProvider struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *gatedProvider) ComputeRoutes(ctx context.Context, origin, destination geo.Point) ([]routing.RouteCandidate, error) {
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.entered)
		<-p.release
	}
	return []routing.RouteCandidate{laneRoute("A", 0, 600)}, nil
}

func TestPlanRoutes_SupersededByNewerRequest(t *testing.T) {
	ts := newTestService(t)
	provider := &gatedProvider{entered: make(chan struct{}), release: make(chan struct{})}
	ts.SafeRouteService.provider = provider

	type outcome struct {
		resp *PlanResponse
		err  error
	}
	older := make(chan outcome, 1)
	go func() {
		resp, err := ts.PlanRoutes(testContext(), PlanRequest{Origin: start, Destination: destination, ClientKey: "phone-1"})
		older <- outcome{resp, err}
	}()
	<-provider.entered

	// The user moved; a newer request completes first
	moved := offset(start, 100, 0)
	newer, err := ts.PlanRoutes(testContext(), PlanRequest{Origin: moved, Destination: destination, ClientKey: "phone-1"})
	require.NoError(t, err)
	assert.False(t, newer.Superseded)

	close(provider.release)
	got := <-older
	require.NoError(t, got.err)
	assert.True(t, got.resp.Superseded)
	assert.Less(t, got.resp.Sequence, newer.Sequence)
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.RouteRequests.WithLabelValues("superseded")))
}

func TestSequencer(t *testing.T) {
	s := NewSequencer()

	a1 := s.Begin("a")
	b1 := s.Begin("b")
	assert.True(t, s.Commit("a", a1))
	assert.True(t, s.Commit("b", b1))

	a2 := s.Begin("a")
	assert.Greater(t, a2, a1)
	assert.False(t, s.Commit("a", a1), "older result is superseded")
	assert.True(t, s.Commit("a", a2))
	assert.True(t, s.Commit("b", b1), "other clients are unaffected")

	s.Forget("a")
	assert.False(t, s.Commit("a", a2))
}

func TestHotspots_ComputedOnceThenRefreshed(t *testing.T) {
	ts := newTestService(t)
	ts.reports.reports = []incident.Report{
		{ID: "1", Location: geo.Point{Latitude: 45.4000, Longitude: -75.7000}},
		{ID: "2", Location: geo.Point{Latitude: 45.4001, Longitude: -75.7001}},
		{ID: "3", Location: geo.Point{Latitude: 45.3999, Longitude: -75.6999}},
		{ID: "4", Location: geo.Point{Latitude: 45.4450, Longitude: -75.7000}},
	}

	resp, err := ts.Hotspots(testContext())
	require.NoError(t, err)
	require.Len(t, resp.Hotspots, 1)
	assert.Equal(t, 3, resp.Hotspots[0].Count)
	assert.Equal(t, 72.0, resp.Hotspots[0].RadiusMeters)
	assert.Equal(t, t0, resp.ComputedAt)

	_, err = ts.AddReport(testContext(), AddReportRequest{Location: geo.Point{Latitude: 45.40005, Longitude: -75.70005}})
	require.NoError(t, err)
	ts.clock.Advance(time.Minute)

	resp, err = ts.Hotspots(testContext())
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Hotspots[0].Count, "served from cache until the next refresh")

	_, err = ts.RefreshHotspots(testContext())
	require.NoError(t, err)
	resp, err = ts.Hotspots(testContext())
	require.NoError(t, err)
	assert.Equal(t, 4, resp.Hotspots[0].Count)
	assert.Equal(t, t0.Add(time.Minute), resp.ComputedAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.Hotspots))
}

func TestHotspots_EmptyIsNotNil(t *testing.T) {
	ts := newTestService(t)
	resp, err := ts.Hotspots(testContext())
	require.NoError(t, err)
	assert.NotNil(t, resp.Hotspots)
	assert.Empty(t, resp.Hotspots)
}

func TestAddReport(t *testing.T) {
	ts := newTestService(t)

	report, err := ts.AddReport(testContext(), AddReportRequest{Location: start, Description: "catcalling"})
	require.NoError(t, err)
	require.NotNil(t, report.OccurredAt)
	assert.Equal(t, t0, *report.OccurredAt, "defaults to the service clock")
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.ReportsAdded))

	earlier := t0.Add(-3 * time.Hour)
	report, err = ts.AddReport(testContext(), AddReportRequest{Location: start, OccurredAt: &earlier})
	require.NoError(t, err)
	assert.Equal(t, earlier, *report.OccurredAt)
	assert.Equal(t, store.DefaultDescription, report.Description)

	_, err = ts.AddReport(testContext(), AddReportRequest{Location: geo.Point{Latitude: 0, Longitude: 200}})
	assert.True(t, eris.Is(err, routing.ErrInputError))

	reports, err := ts.ListReports(testContext())
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}
