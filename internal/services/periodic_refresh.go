package services

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
	"github.com/jonboulle/clockwork"

	"github.com/dpup/saferoute/server/internal/clients/newsfeed"
	"github.com/dpup/saferoute/server/internal/metrics"
)

// PeriodicRefreshService runs a refresh task immediately and then on every
// tick until stopped. It backs hotspot re-clustering and news feed polling.
type PeriodicRefreshService struct {
	name     string
	interval time.Duration
	refresh  func(ctx context.Context) error
	clock    clockwork.Clock

	mu       sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
	running  bool
}

// NewPeriodicRefreshService creates a refresher that calls refresh every interval
func NewPeriodicRefreshService(name string, interval time.Duration, clock clockwork.Clock, refresh func(ctx context.Context) error) *PeriodicRefreshService {
	return &PeriodicRefreshService{
		name:     name,
		interval: interval,
		refresh:  refresh,
		clock:    clock,
	}
}

// NewHotspotRefresher re-clusters reports on the hotspot refresh interval
func NewHotspotRefresher(svc *SafeRouteService, interval time.Duration, clock clockwork.Clock) *PeriodicRefreshService {
	return NewPeriodicRefreshService("hotspots", interval, clock, func(ctx context.Context) error {
		_, err := svc.RefreshHotspots(ctx)
		return err
	})
}

// NewNewsPoller downloads the news feed into store on every tick. Items older
// than maxAge are pruned after each download.
func NewNewsPoller(client *newsfeed.FeedClient, store *newsfeed.Store, m *metrics.Metrics, interval, maxAge time.Duration, clock clockwork.Clock) *PeriodicRefreshService {
	return NewPeriodicRefreshService("news", interval, clock, func(ctx context.Context) error {
		result, err := client.Fetch(ctx)
		if err != nil {
			return err
		}
		for _, rejected := range result.Rejected {
			logging.Warnw(ctx, "Dropping malformed news item", "error", rejected)
		}

		now := clock.Now()
		store.Replace(result.News, now)
		if maxAge > 0 {
			store.Prune(now.Add(-maxAge))
		}

		m.NewsIngested.WithLabelValues("http").Add(float64(len(result.News)))
		m.NewsRejected.Add(float64(len(result.Rejected)))
		m.NewsIncidents.Set(float64(store.Len()))
		return nil
	})
}

// StartPeriodicRefresh begins refreshing in the background. A development
// logger is attached when ctx does not carry one.
func (p *PeriodicRefreshService) StartPeriodicRefresh(ctx context.Context) error {
	ctx = logging.EnsureLogger(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})

	logging.Infow(ctx, "Starting periodic refresh", "task", p.name, "interval", p.interval.String())
	go p.refreshLoop(ctx, p.stopChan, p.done)
	return nil
}

// Stop gracefully stops the periodic refresh and waits for the loop to exit
func (p *PeriodicRefreshService) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	done := p.done
	p.mu.Unlock()

	<-done
}

// IsRunning returns whether periodic refresh is active
func (p *PeriodicRefreshService) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *PeriodicRefreshService) refreshLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			err, _ := errors.ParseStack(debug.Stack())
			skipFrames := 3
			numFrames := 5
			logging.Errorw(ctx, "Periodic refresh: recovered from panic",
				"task", p.name, "error", r, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
		}
	}()

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.Chan():
			p.runOnce(ctx)
		}
	}
}

func (p *PeriodicRefreshService) runOnce(ctx context.Context) {
	refreshCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if err := p.refresh(refreshCtx); err != nil {
		logging.Errorw(ctx, "Periodic refresh failed", "task", p.name, "error", err)
	}
}
