// Package api exposes the dispatch pipeline over HTTP: incident ingress,
// planning, stored routes, live tracking, green-wave control and the
// Prometheus metrics endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sirenlab/dispatchd/internal/config"
	"github.com/sirenlab/dispatchd/internal/dispatch"
	dispatcherrors "github.com/sirenlab/dispatchd/internal/errors"
	"github.com/sirenlab/dispatchd/internal/geo"
	"github.com/sirenlab/dispatchd/internal/greenwave"
	"github.com/sirenlab/dispatchd/internal/store"
	"github.com/sirenlab/dispatchd/internal/tracking"
)

// Version is stamped by the build; the default marks ad-hoc builds.
var Version = "dev"

// Geocoder resolves a street address to coordinates when the caller
// submits an incident without them.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geo.Point, error)
}

// Router handles HTTP routing.
type Router struct {
	mux       *http.ServeMux
	config    *config.Config
	store     *store.Store
	planner   *dispatch.Planner
	tracker   *tracking.Engine
	greenWave *greenwave.Coordinator
	geocoder  Geocoder // nil means address-only ingress fails
	logger    zerolog.Logger
}

// NewRouter creates a new router instance. geocoder may be nil.
func NewRouter(cfg *config.Config, st *store.Store, planner *dispatch.Planner,
	tracker *tracking.Engine, gw *greenwave.Coordinator, geocoder Geocoder,
	logger zerolog.Logger) http.Handler {
	r := &Router{
		mux:       http.NewServeMux(),
		config:    cfg,
		store:     st,
		planner:   planner,
		tracker:   tracker,
		greenWave: gw,
		geocoder:  geocoder,
		logger:    logger,
	}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.mux.HandleFunc("/api/health", r.handleHealth)
	r.mux.HandleFunc("/api/version", r.handleVersion)

	r.mux.HandleFunc("/api/incidents", r.handleIncidents)
	r.mux.HandleFunc("/api/incidents/", r.handleIncidentSubroutes)

	r.mux.HandleFunc("/api/tracking/live", r.handleTrackingLive)
	r.mux.HandleFunc("/ws/tracking", r.handleTrackingSocket)

	r.mux.HandleFunc("/api/greenwave/status", r.handleGreenWaveStatus)
	r.mux.HandleFunc("/api/greenwave/intersections", r.handleIntersections)
	r.mux.HandleFunc("/api/greenwave/intersections/", r.handleIntersectionStatus)

	r.mux.Handle("/metrics", promhttp.Handler())
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *Router) handleVersion(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses. Storage and
// provider failures surface as 503 so load balancers retry elsewhere.
func (r *Router) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var de *dispatcherrors.DispatchError
	if errors.As(err, &de) {
		switch de.Kind {
		case dispatcherrors.KindValidation:
			status = http.StatusBadRequest
		case dispatcherrors.KindNotFound:
			status = http.StatusNotFound
		case dispatcherrors.KindConflict:
			status = http.StatusConflict
		case dispatcherrors.KindRateLimit:
			status = http.StatusTooManyRequests
		case dispatcherrors.KindProvider, dispatcherrors.KindInternal,
			dispatcherrors.KindTimeout:
			status = http.StatusServiceUnavailable
		}
	} else if errors.Is(err, dispatcherrors.ErrGeocoding) {
		status = http.StatusBadRequest
	}

	if status >= 500 {
		r.logger.Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}
