package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"

	"github.com/dpup/saferoute/server/internal/export"
	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/routing"
)

// ClientKeyHeader identifies a client for request sequencing
const ClientKeyHeader = "X-Client-Key"

type handler struct {
	svc *SafeRouteService
}

// NewRouter exposes the service over HTTP
func NewRouter(svc *SafeRouteService, corsOrigins []string) http.Handler {
	h := &handler{svc: svc}

	r := chi.NewRouter()
	r.Use(withLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", ClientKeyHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/reports", h.listReports)
		r.Post("/reports", h.addReport)
		r.Route("/v1", func(r chi.Router) {
			r.Get("/routes", h.planRoutes)
			r.Get("/routes.kml", h.planRoutesKML)
			r.Get("/routes.geojson", h.planRoutesGeoJSON)
			r.Get("/hotspots", h.hotspots)
		})
	})
	return r
}

// withLogger keeps handlers logging when the router is served outside prefab,
// whose base context already carries a logger
func withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(logging.EnsureLogger(r.Context())))
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// reportJSON matches the row shape of the reports table
type reportJSON struct {
	ID          string     `json:"id,omitempty"`
	Lat         *float64   `json:"lat"`
	Lon         *float64   `json:"lon"`
	Description string     `json:"description"`
	OccurredAt  *time.Time `json:"occurred_at,omitempty"`
}

func (h *handler) listReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.svc.ListReports(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]reportJSON, len(reports))
	for i, rep := range reports {
		lat, lon := rep.Location.Latitude, rep.Location.Longitude
		out[i] = reportJSON{ID: rep.ID, Lat: &lat, Lon: &lon, Description: rep.Description, OccurredAt: rep.OccurredAt}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) addReport(w http.ResponseWriter, r *http.Request) {
	var body reportJSON
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body); err != nil {
		writeError(w, r, eris.Wrap(routing.ErrInputError, "invalid JSON body"))
		return
	}
	if body.Lat == nil || body.Lon == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing coordinates"})
		return
	}

	report, err := h.svc.AddReport(r.Context(), AddReportRequest{
		Location:    geo.Point{Latitude: *body.Lat, Longitude: *body.Lon},
		Description: body.Description,
		OccurredAt:  body.OccurredAt,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	lat, lon := report.Location.Latitude, report.Location.Longitude
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"report":  reportJSON{ID: report.ID, Lat: &lat, Lon: &lon, Description: report.Description, OccurredAt: report.OccurredAt},
	})
}

func (h *handler) plan(w http.ResponseWriter, r *http.Request) (*PlanResponse, bool) {
	origin, err := parseLatLng(r.URL.Query().Get("origin"))
	if err != nil {
		writeError(w, r, eris.Wrapf(routing.ErrInputError, "origin: %v", err))
		return nil, false
	}
	destination, err := parseLatLng(r.URL.Query().Get("destination"))
	if err != nil {
		writeError(w, r, eris.Wrapf(routing.ErrInputError, "destination: %v", err))
		return nil, false
	}

	resp, err := h.svc.PlanRoutes(r.Context(), PlanRequest{
		Origin:      origin,
		Destination: destination,
		ClientKey:   r.Header.Get(ClientKeyHeader),
	})
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return resp, true
}

func (h *handler) planRoutes(w http.ResponseWriter, r *http.Request) {
	resp, ok := h.plan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) planRoutesKML(w http.ResponseWriter, r *http.Request) {
	resp, ok := h.plan(w, r)
	if !ok {
		return
	}
	spots, err := h.svc.Hotspots(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteKML(&buf, resp.Result, spots.Hotspots); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	w.Header().Set("X-Request-Id", resp.RequestID)
	_, _ = w.Write(buf.Bytes())
}

func (h *handler) planRoutesGeoJSON(w http.ResponseWriter, r *http.Request) {
	resp, ok := h.plan(w, r)
	if !ok {
		return
	}
	spots, err := h.svc.Hotspots(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteGeoJSON(&buf, resp.Result, resp.Candidates, spots.Hotspots); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("X-Request-Id", resp.RequestID)
	_, _ = w.Write(buf.Bytes())
}

func (h *handler) hotspots(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Hotspots(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseLatLng reads "lat,lng"
func parseLatLng(value string) (geo.Point, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return geo.Point{}, eris.Errorf("expected lat,lng but got %q", value)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geo.Point{}, eris.Wrap(err, "latitude")
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geo.Point{}, eris.Wrap(err, "longitude")
	}
	return geo.NewPoint(lat, lng)
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case eris.Is(err, routing.ErrInputError), eris.Is(err, geo.ErrInvalidCoordinate):
		return http.StatusBadRequest
	case eris.Is(err, routing.ErrNoCandidates):
		return http.StatusNotFound
	case eris.Is(err, routing.ErrProviderUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logging.Errorw(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
		message = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
