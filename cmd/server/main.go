package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/dpup/prefab"
	"github.com/dpup/prefab/logging"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dpup/saferoute/server/internal/cache"
	"github.com/dpup/saferoute/server/internal/clients/google"
	"github.com/dpup/saferoute/server/internal/clients/newsfeed"
	"github.com/dpup/saferoute/server/internal/config"
	"github.com/dpup/saferoute/server/internal/lib/routing"
	"github.com/dpup/saferoute/server/internal/metrics"
	"github.com/dpup/saferoute/server/internal/services"
	"github.com/dpup/saferoute/server/internal/store"
)

func main() {
	ctx, cancel := context.WithCancel(logging.With(context.Background(), logging.NewProdLogger()))
	defer cancel()

	appConfig := loadConfig()
	clock := clockwork.NewRealClock()
	m := metrics.NewMetrics()

	reports, err := store.OpenSQLite(ctx, appConfig.Store.Path)
	if err != nil {
		log.Fatalf("Failed to open report store: %v", err)
	}
	defer reports.Close()

	if appConfig.Google.APIKey == "" {
		log.Printf("WARNING: google.api_key is not set, route requests will fail with 502")
	}
	googleClient := google.NewClient(appConfig.Google.APIKey,
		google.WithBaseURL(appConfig.Google.BaseURL),
		google.WithTravelMode(appConfig.Google.TravelMode),
		google.WithQueryLimit(appConfig.Google.QueriesPerMinute),
		google.WithHTTPDoer(&http.Client{Timeout: appConfig.Google.Timeout}),
	)

	cacheInstance := cache.NewCacheWithClock(clock)
	cacheInstance.StartPeriodicCleanup(ctx, time.Minute)

	newsStore := newsfeed.NewStore()

	svc := services.NewSafeRouteService(
		googleClient,
		reports,
		newsStore,
		routing.NewRouteRanker(appConfig.Risk, appConfig.Ranking),
		cacheInstance,
		m,
		clock,
		services.Options{
			TravelMode:      appConfig.Google.TravelMode,
			RouteCacheTTL:   appConfig.Google.CacheTTL,
			Hotspots:        appConfig.Hotspots.Config,
			HotspotCacheTTL: 2 * appConfig.Hotspots.RefreshInterval,
		},
	)

	log.Printf("Safe route server starting")
	log.Printf("Travel mode: %s, report store: %s", appConfig.Google.TravelMode, appConfig.Store.Path)

	hotspotRefresh := services.NewHotspotRefresher(svc, appConfig.Hotspots.RefreshInterval, clock)
	if err := hotspotRefresh.StartPeriodicRefresh(ctx); err != nil {
		log.Printf("Failed to start hotspot refresh: %v", err)
	}
	defer hotspotRefresh.Stop()

	if appConfig.News.URL != "" {
		poller := services.NewNewsPoller(newsfeed.NewFeedClient(appConfig.News.URL), newsStore, m,
			appConfig.News.RefreshInterval, appConfig.News.MaxAge, clock)
		if err := poller.StartPeriodicRefresh(ctx); err != nil {
			log.Printf("Failed to start news polling: %v", err)
		}
		defer poller.Stop()
		log.Printf("Polling news feed %s every %v", appConfig.News.URL, appConfig.News.RefreshInterval)
	}

	if appConfig.News.Kafka.Enabled() {
		consumer := newsfeed.NewConsumer(appConfig.News.Kafka, newsStore, clock).WithMetrics(m)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.Printf("News consumer stopped: %v", err)
			}
		}()
		log.Printf("Consuming news from kafka topic %s", appConfig.News.Kafka.Topic)
	}

	router := services.NewRouter(svc, appConfig.Server.CorsOrigins)

	// Server configuration (port, etc.) is loaded from prefab.yaml/env vars
	server := prefab.New(
		prefab.WithHTTPHandlerFunc("/", homepageHandler),
		prefab.WithHTTPHandlerFunc("/healthz", router.ServeHTTP),
		prefab.WithHTTPHandlerFunc("/metrics", promhttp.Handler().ServeHTTP),
		prefab.WithHTTPHandlerFunc("/api/reports", router.ServeHTTP),
		prefab.WithHTTPHandlerFunc("/api/v1/routes", router.ServeHTTP),
		prefab.WithHTTPHandlerFunc("/api/v1/routes.kml", router.ServeHTTP),
		prefab.WithHTTPHandlerFunc("/api/v1/routes.geojson", router.ServeHTTP),
		prefab.WithHTTPHandlerFunc("/api/v1/hotspots", router.ServeHTTP),
	)

	// Start the server (blocks until shutdown)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// loadConfig loads configuration using Prefab's config system.
// Configuration is read from the saferoute section of prefab.yaml and
// environment variables with the PF__ prefix, on top of the defaults.
func loadConfig() *config.Config {
	appConfig := config.DefaultConfig()

	if err := prefab.Config.Unmarshal("saferoute", appConfig); err != nil {
		log.Fatalf("Failed to unmarshal saferoute section: %v", err)
	}
	if err := appConfig.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return appConfig
}

// homepageHandler serves a short API index at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	index := `saferoute

Safety-aware pedestrian routing. Routes are ranked by travel time plus
proximity to recent incident reports and news.

GET  /api/v1/routes?origin=lat,lng&destination=lat,lng   ranked routes (JSON)
GET  /api/v1/routes.kml?origin=...&destination=...        ranked routes and hotspots (KML)
GET  /api/v1/routes.geojson?origin=...&destination=...    ranked routes and hotspots (GeoJSON)
GET  /api/v1/hotspots                                     report clusters
GET  /api/reports                                         all incident reports
POST /api/reports  {"lat":..,"lon":..,"description":".."} submit a report
GET  /metrics                                             Prometheus metrics
`

	if _, err := fmt.Fprint(w, index); err != nil {
		slog.Error("Failed to write index", "error", err)
	}
}
