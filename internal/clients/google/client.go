package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/routing"
)

const (
	defaultBaseURL = "https://routes.googleapis.com"

	// Field mask is REQUIRED or the API rejects the request
	fieldMask = "routes.duration,routes.distanceMeters,routes.polyline.encodedPolyline," +
		"routes.legs.steps.distanceMeters,routes.legs.steps.staticDuration,routes.legs.steps.navigationInstruction"
)

// HTTPDoer is the subset of *http.Client the client needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides access to Google Routes API v2 as a routing.Provider
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   HTTPDoer
	travelMode   routing.TravelProfile
	alternatives bool
	limiter      *rate.Limiter
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points the client at a different endpoint (tests, proxies)
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithHTTPDoer replaces the underlying HTTP client
func WithHTTPDoer(doer HTTPDoer) Option {
	return func(c *Client) { c.httpClient = doer }
}

// WithTravelMode sets the travel profile, WALK by default
func WithTravelMode(mode routing.TravelProfile) Option {
	return func(c *Client) { c.travelMode = mode }
}

// WithAlternatives toggles computeAlternativeRoutes
func WithAlternatives(enabled bool) Option {
	return func(c *Client) { c.alternatives = enabled }
}

// WithQueryLimit caps requests per minute. Zero disables client-side limiting.
func WithQueryLimit(perMinute int) Option {
	return func(c *Client) {
		if perMinute <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60), max(1, perMinute/60))
	}
}

// NewClient creates a new Google Routes API client for pedestrian routing
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		travelMode:   routing.Walk,
		alternatives: true,
	}
	// Published quota is 3K QPM
	WithQueryLimit(3000)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientWithHTTPDoer creates a client with an injected HTTP implementation
func NewClientWithHTTPDoer(apiKey, baseURL string, doer HTTPDoer) *Client {
	return NewClient(apiKey, WithBaseURL(baseURL), WithHTTPDoer(doer), WithQueryLimit(0))
}

// ComputeRoutes requests the primary route plus alternatives between two points.
// An empty result is not an error; every failure wraps routing.ErrProviderUnavailable.
func (c *Client) ComputeRoutes(ctx context.Context, origin, destination geo.Point) ([]routing.RouteCandidate, error) {
	if c.apiKey == "" {
		return nil, eris.Wrap(routing.ErrProviderUnavailable, "google routes api key not configured")
	}
	if !origin.Valid() || !destination.Valid() {
		return nil, eris.Wrap(routing.ErrInputError, "origin and destination must be valid coordinates")
	}

	requestBody := computeRoutesRequest{
		Origin:                   waypoint(origin),
		Destination:              waypoint(destination),
		TravelMode:               string(c.travelMode),
		ComputeAlternativeRoutes: c.alternatives,
	}
	// Routing preference is only accepted for motorized modes
	if c.travelMode == routing.Drive {
		requestBody.RoutingPreference = "TRAFFIC_AWARE"
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, eris.Wrap(err, "failed to marshal request")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(routing.ErrProviderUnavailable, "rate limiter: "+err.Error())
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/directions/v2:computeRoutes", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, eris.Wrap(err, "failed to create request")
	}
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrapf(routing.ErrProviderUnavailable, "failed to execute request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, eris.Wrap(routing.ErrProviderUnavailable, "rate limit exceeded (3K QPM)")
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, eris.Wrapf(routing.ErrProviderUnavailable, "API error %d: %s", resp.StatusCode, string(body))
	}

	var response computeRoutesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, eris.Wrapf(routing.ErrProviderUnavailable, "failed to decode response: %v", err)
	}

	candidates := make([]routing.RouteCandidate, 0, len(response.Routes))
	for i, route := range response.Routes {
		candidate, err := toCandidate(i, route)
		if err != nil {
			return nil, eris.Wrapf(routing.ErrProviderUnavailable, "route %d: %v", i, err)
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

// toCandidate converts one Google route to our RouteCandidate format
func toCandidate(index int, route googleRoute) (routing.RouteCandidate, error) {
	duration, err := parseDuration(route.Duration)
	if err != nil {
		return routing.RouteCandidate{}, eris.Wrap(err, "failed to parse duration")
	}

	points, err := geo.DecodePolyline(route.Polyline.EncodedPolyline)
	if err != nil {
		return routing.RouteCandidate{}, err
	}

	var steps []json.RawMessage
	for _, leg := range route.Legs {
		steps = append(steps, leg.Steps...)
	}

	return routing.RouteCandidate{
		ID:              fmt.Sprintf("route-%d", index),
		Points:          points,
		DurationSeconds: duration,
		DistanceMeters:  float64(route.DistanceMeters),
		Steps:           steps,
	}, nil
}

// parseDuration parses Google's duration format like "450s" to seconds
func parseDuration(durationStr string) (float64, error) {
	if durationStr == "" {
		return 0, eris.New("empty duration string")
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return 0, err
	}
	return d.Seconds(), nil
}

func waypoint(p geo.Point) googleWaypoint {
	var w googleWaypoint
	w.Location.LatLng = googleLatLng{Latitude: p.Latitude, Longitude: p.Longitude}
	return w
}

type computeRoutesRequest struct {
	Origin                   googleWaypoint `json:"origin"`
	Destination              googleWaypoint `json:"destination"`
	TravelMode               string         `json:"travelMode"`
	RoutingPreference        string         `json:"routingPreference,omitempty"`
	ComputeAlternativeRoutes bool           `json:"computeAlternativeRoutes"`
}

type googleWaypoint struct {
	Location struct {
		LatLng googleLatLng `json:"latLng"`
	} `json:"location"`
}

type googleLatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// computeRoutesResponse represents the API response structure
type computeRoutesResponse struct {
	Routes []googleRoute `json:"routes"`
}

type googleRoute struct {
	Duration       string         `json:"duration"`
	DistanceMeters int32          `json:"distanceMeters"`
	Polyline       googlePolyline `json:"polyline"`
	Legs           []googleLeg    `json:"legs"`
}

type googlePolyline struct {
	EncodedPolyline string `json:"encodedPolyline"`
}

type googleLeg struct {
	Steps []json.RawMessage `json:"steps"`
}
