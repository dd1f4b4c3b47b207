// Package tracking synthesizes live telemetry for dispatched resources.
// Snapshots are pull-based: no background loop runs, every query derives
// progress from the route's calculation time and a deterministic traffic
// factor, so two observers polling at the same instant see the same state.
package tracking

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sirenlab/dispatchd/internal/geo"
	"github.com/sirenlab/dispatchd/internal/models"
	"github.com/sirenlab/dispatchd/internal/store"
)

// Traffic band labels reported alongside each snapshot.
const (
	BandLibre         = "libre"
	BandModerate      = "moderate"
	BandCongestionado = "congestionado"
)

// Snapshot is the live state of one resource on one route.
type Snapshot struct {
	IncidentID      int64              `json:"incident_id"`
	RouteID         int64              `json:"route_id"`
	ResourceID      string             `json:"resource_id"`
	ResourceType    string             `json:"resource_type"`
	Progress        float64            `json:"progress"`
	CurrentPoint    geo.Point          `json:"current_point"`
	RemainingKm     float64            `json:"remaining_km"`
	SpeedKmh        float64            `json:"speed_kmh"`
	EtaRemainingMin float64            `json:"eta_remaining_min"`
	TrafficFactor   float64            `json:"traffic_factor"`
	TrafficBand     string             `json:"traffic_band"`
	RouteStatus     models.RouteStatus `json:"route_status"`
	ObservedAt      time.Time          `json:"observed_at"`
}

// Engine derives snapshots from stored routes and incidents.
type Engine struct {
	store  *store.Store
	loc    *time.Location
	logger zerolog.Logger
	now    func() time.Time
}

// NewEngine creates a tracking engine. loc sets the local timezone used for
// the rush-hour check; nil means UTC.
func NewEngine(st *store.Store, loc *time.Location, logger zerolog.Logger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{store: st, loc: loc, logger: logger, now: time.Now}
}

// Live returns snapshots for every resource currently underway across all
// incidents. Active routes kept as candidates for the operator UI belong
// to resources that were never dispatched; those produce no snapshot.
func (e *Engine) Live(ctx context.Context) ([]Snapshot, error) {
	routes, err := e.store.AllActiveRoutes(ctx)
	if err != nil {
		return nil, err
	}

	incidents := map[int64]*models.Incident{}
	underway := map[string]bool{}
	now := e.now()
	out := make([]Snapshot, 0, len(routes))
	for _, route := range routes {
		moving, ok := underway[route.ResourceID]
		if !ok {
			moving = e.resourceUnderway(ctx, route.ResourceID)
			underway[route.ResourceID] = moving
		}
		if !moving {
			continue
		}

		inc, ok := incidents[route.IncidentID]
		if !ok {
			inc, err = e.store.GetIncident(ctx, route.IncidentID)
			if err != nil {
				e.logger.Warn().Err(err).Int64("incident", route.IncidentID).
					Msg("Skipping route of unreadable incident")
				continue
			}
			incidents[route.IncidentID] = inc
		}
		out = append(out, e.snapshot(ctx, route, inc, now))
	}
	return out, nil
}

// resourceUnderway reports whether the resource is en route or working a
// scene. Available resources only hold candidate routes.
func (e *Engine) resourceUnderway(ctx context.Context, resourceID string) bool {
	kind, rawID, ok := strings.Cut(resourceID, "_")
	if !ok {
		return false
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return false
	}

	switch kind {
	case "vehicle":
		v, err := e.store.GetVehicle(ctx, id)
		return err == nil && (v.Status == models.VehicleEnRoute || v.Status == models.VehicleBusy)
	case "agent":
		a, err := e.store.GetAgent(ctx, id)
		return err == nil && (a.Status == models.AgentEnRoute || a.Status == models.AgentOnScene)
	}
	return false
}

// ForIncident returns snapshots for one incident. Resolved incidents yield
// frozen snapshots over their completed routes: progress 1, zero ETA.
func (e *Engine) ForIncident(ctx context.Context, incidentID int64) ([]Snapshot, error) {
	inc, err := e.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	var routes []models.CalculatedRoute
	if inc.Status == models.IncidentResolved {
		routes, err = e.store.RoutesForIncident(ctx, incidentID)
	} else {
		routes, err = e.store.ActiveRoutes(ctx, incidentID)
	}
	if err != nil {
		return nil, err
	}

	now := e.now()
	out := make([]Snapshot, 0, len(routes))
	for _, route := range routes {
		out = append(out, e.snapshot(ctx, route, inc, now))
	}
	return out, nil
}

// ResourceSpeeds maps every resource with a route on the incident to its
// current simulated speed in km/h, for green-wave arrival estimates.
func (e *Engine) ResourceSpeeds(ctx context.Context, incidentID int64) map[string]float64 {
	snaps, err := e.ForIncident(ctx, incidentID)
	if err != nil {
		return nil
	}
	out := make(map[string]float64, len(snaps))
	for _, s := range snaps {
		out[s.ResourceID] = s.SpeedKmh
	}
	return out
}

// snapshot never fails: missing geometry degrades to progress zero at the
// resource's own position.
func (e *Engine) snapshot(ctx context.Context, route models.CalculatedRoute, inc *models.Incident, now time.Time) Snapshot {
	factor := TrafficFactor(route.ResourceID, inc.ID, inc.Code, inc.GreenWave, now.In(e.loc).Hour())

	s := Snapshot{
		IncidentID:    inc.ID,
		RouteID:       route.ID,
		ResourceID:    route.ResourceID,
		ResourceType:  route.ResourceType,
		TrafficFactor: factor,
		TrafficBand:   band(factor),
		RouteStatus:   route.Status,
		ObservedAt:    now,
	}

	frozen := inc.Status == models.IncidentResolved || route.Status != models.RouteActive

	estimatedS := route.EstimatedMin * 60
	if estimatedS < 60 {
		estimatedS = 60
	}
	adjustedTotalS := estimatedS * factor

	var progress float64
	switch {
	case frozen:
		progress = 1
	case len(route.Geometry) == 0:
		progress = 0
	default:
		elapsedS := now.Sub(route.CalculatedAt).Seconds()
		progress = elapsedS / adjustedTotalS
		if progress < 0 {
			progress = 0
		} else if progress > 1 {
			progress = 1
		}
	}
	s.Progress = progress

	if len(route.Geometry) == 0 {
		s.CurrentPoint = e.resourceLocation(ctx, route.ResourceID)
	} else {
		s.CurrentPoint = route.Geometry.Interpolate(progress)
	}

	s.RemainingKm = route.DistanceKm * (1 - progress)

	estimatedH := route.EstimatedMin / 60
	if estimatedH < 0.1 {
		estimatedH = 0.1
	}
	divisor := factor
	if divisor < 0.1 {
		divisor = 0.1
	}
	s.SpeedKmh = (route.DistanceKm / estimatedH) / divisor

	if !frozen {
		elapsedS := now.Sub(route.CalculatedAt).Seconds()
		if remaining := adjustedTotalS - elapsedS; remaining > 0 {
			s.EtaRemainingMin = remaining / 60
		}
	}
	return s
}

// band maps a traffic factor to its label.
func band(factor float64) string {
	switch {
	case factor <= 0.7:
		return BandLibre
	case factor <= 1.0:
		return BandModerate
	default:
		return BandCongestionado
	}
}

// resourceLocation resolves the current position of a resource identifier
// like "vehicle_12" or "agent_7". Unknown resources map to the origin.
func (e *Engine) resourceLocation(ctx context.Context, resourceID string) geo.Point {
	kind, rawID, ok := strings.Cut(resourceID, "_")
	if !ok {
		return geo.Point{}
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return geo.Point{}
	}

	switch kind {
	case "vehicle":
		if v, err := e.store.GetVehicle(ctx, id); err == nil && v.CurrentLocation != nil {
			return *v.CurrentLocation
		}
	case "agent":
		if a, err := e.store.GetAgent(ctx, id); err == nil && a.CurrentLocation != nil {
			return *a.CurrentLocation
		}
	}
	return geo.Point{}
}
