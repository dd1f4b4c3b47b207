// Package dispatch plans the multi-force response to a classified incident:
// force derivation, resource selection, route persistence and the incident
// status transitions. Planning for one incident is serialized so concurrent
// re-plans cannot interleave their route rewrites.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	dispatcherrors "github.com/sirenlab/dispatchd/internal/errors"
	"github.com/sirenlab/dispatchd/internal/geo"
	"github.com/sirenlab/dispatchd/internal/models"
	"github.com/sirenlab/dispatchd/internal/store"
	"github.com/sirenlab/dispatchd/internal/traffic"
	"github.com/sirenlab/dispatchd/internal/triage"
)

// GreenWaveActivator opens traffic-light windows for dispatched resources.
// Activation never fails; it reports the number of windows opened.
type GreenWaveActivator interface {
	ActivateForIncident(ctx context.Context, incident *models.Incident, resources map[string]geo.Point) int
}

// Planner runs the dispatch pipeline for incidents.
type Planner struct {
	store     *store.Store
	triage    *triage.Engine
	selector  *Selector
	adjuster  *traffic.Adjuster
	greenWave GreenWaveActivator // nil disables green-wave activation
	maxRoutes int
	logger    zerolog.Logger
	now       func() time.Time
}

// NewPlanner wires the pipeline together. greenWave may be nil.
func NewPlanner(st *store.Store, engine *triage.Engine, selector *Selector,
	adjuster *traffic.Adjuster, greenWave GreenWaveActivator, maxRoutes int,
	logger zerolog.Logger) *Planner {
	if maxRoutes < 0 {
		maxRoutes = 0
	}
	return &Planner{
		store:     st,
		triage:    engine,
		selector:  selector,
		adjuster:  adjuster,
		greenWave: greenWave,
		maxRoutes: maxRoutes,
		logger:    logger,
		now:       time.Now,
	}
}

// PlanResult summarizes one completed plan.
type PlanResult struct {
	Incident         *models.Incident         `json:"incident"`
	Triage           triage.Result            `json:"triage"`
	Forces           []models.Force           `json:"forces"`
	Dispatches       []models.Dispatch        `json:"dispatches"`
	Routes           []models.CalculatedRoute `json:"routes"`
	GreenWaveWindows int                      `json:"green_wave_windows"`
	Notes            []string                 `json:"notes,omitempty"`
}

// Plan runs the full pipeline for one incident: triage, force derivation,
// resource selection, route persistence and status transitions. All writes
// commit in a single transaction. Re-planning a resolved incident is
// rejected and the frozen routes returned.
func (p *Planner) Plan(ctx context.Context, incidentID int64) (*PlanResult, error) {
	unlock := p.store.LockIncident(incidentID)
	defer unlock()

	inc, err := p.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if inc.Status == models.IncidentResolved {
		frozen, err := p.store.RoutesForIncident(ctx, incidentID)
		if err != nil {
			return nil, err
		}
		return &PlanResult{Incident: inc, Routes: frozen},
			dispatcherrors.Conflict("plan_incident",
				fmt.Errorf("incident %d is resolved; routes are frozen", incidentID))
	}

	now := p.now()
	var notes []string

	cls := p.triage.Classify(ctx, inc.Description)
	inc.ApplyCode(cls.Code)
	inc.AIResponse = cls.Narrative
	if cls.Source == triage.SourceFallback {
		triageFallbacks.Inc()
		notes = append(notes, "triage fell back to rules")
	}

	forces := requiredForces(cls.Type, inc.Description)

	closures, err := p.store.ActiveClosures(ctx, now)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Closure data unavailable, planning without it")
		closures = nil
	}
	counts, err := p.store.RecentTrafficCounts(ctx, now.Add(-countMaxAge))
	if err != nil {
		p.logger.Warn().Err(err).Msg("Traffic counts unavailable, planning without them")
		counts = nil
	}

	result := &PlanResult{Incident: inc, Triage: cls, Forces: forces}
	write := &store.PlanWrite{Incident: inc}
	usedFallback := false
	resourcePositions := map[string]geo.Point{}

	for _, force := range forces {
		d := &models.Dispatch{
			IncidentID: inc.ID,
			Force:      force,
			Status:     models.DispatchDispatched,
		}

		sel, err := p.selector.Select(ctx, inc, force, force == cls.Type)
		if err != nil {
			return nil, err
		}

		if len(sel.Vehicles) > 0 {
			top := sel.Vehicles[0]
			d.VehicleID = &top.Vehicle.ID
			top.Vehicle.Status = models.VehicleEnRoute
			top.Vehicle.TargetLocation = inc.Location
			write.Vehicles = append(write.Vehicles, top.Vehicle)
			if top.Vehicle.CurrentLocation != nil {
				resourcePositions[top.ResourceID] = *top.Vehicle.CurrentLocation
			}
		}
		if len(sel.Agents) > 0 {
			top := sel.Agents[0]
			d.AgentID = &top.Agent.ID
			top.Agent.Status = models.AgentEnRoute
			top.Agent.TargetLocation = inc.Location
			write.Agents = append(write.Agents, top.Agent)
			if top.Agent.CurrentLocation != nil {
				resourcePositions[top.ResourceID] = *top.Agent.CurrentLocation
			}
		}
		if d.VehicleID == nil && d.AgentID == nil {
			p.logger.Warn().Str("force", string(force)).Int64("incident", inc.ID).
				Msg("No available resources for required force")
			notes = append(notes, fmt.Sprintf("no resources available for force %s", force))
		}
		write.Dispatches = append(write.Dispatches, d)

		forceRoutes, fellBack := p.buildRoutes(ctx, inc, sel, closures, counts, now)
		usedFallback = usedFallback || fellBack
		write.Routes = append(write.Routes, forceRoutes...)
	}

	if usedFallback {
		notes = append(notes, "routing used fallback geometry")
	}

	// Primary summary: first dispatch with a vehicle wins, in precedence
	// order fire > medical > police > traffic.
	p.applyPrimarySummary(inc, write.Dispatches)

	for _, d := range write.Dispatches {
		if d.VehicleID != nil || d.AgentID != nil {
			inc.Status = models.IncidentAssigned
			break
		}
	}

	inc.ResolutionNotes = p.buildReport(inc, cls, write.Routes, notes, now)

	// Everything the plan touched lands in one transaction, so a failure
	// here leaves fleet, dispatches, routes and the incident untouched.
	if err := p.store.ApplyPlan(ctx, write); err != nil {
		return nil, err
	}
	for _, d := range write.Dispatches {
		result.Dispatches = append(result.Dispatches, *d)
	}
	result.Routes = write.Routes
	result.Notes = notes

	if inc.Code == models.CodeRed && p.greenWave != nil && len(resourcePositions) > 0 {
		result.GreenWaveWindows = p.greenWave.ActivateForIncident(ctx, inc, resourcePositions)
	}

	plansTotal.WithLabelValues(string(inc.Code)).Inc()
	p.logger.Info().
		Int64("incident", inc.ID).
		Str("code", string(inc.Code)).
		Int("forces", len(forces)).
		Int("routes", len(write.Routes)).
		Msg("Incident planned")
	return result, nil
}

// countMaxAge mirrors the adjuster's traffic-count freshness window.
const countMaxAge = 2 * time.Hour

// buildRoutes turns a force's selection into persisted route rows: one per
// dispatched resource plus up to maxRoutes extra vehicle candidates for the
// operator UI. Reports whether any geometry came from the offline fallback.
func (p *Planner) buildRoutes(ctx context.Context, inc *models.Incident, sel Selection,
	closures []models.StreetClosure, counts []models.TrafficCount, now time.Time) ([]models.CalculatedRoute, bool) {

	var out []models.CalculatedRoute
	fellBack := false

	addRoute := func(c Candidate) {
		if c.Route == nil || inc.Location == nil {
			return
		}
		from := geo.Point{}
		if c.Vehicle != nil && c.Vehicle.CurrentLocation != nil {
			from = *c.Vehicle.CurrentLocation
		} else if c.Agent != nil && c.Agent.CurrentLocation != nil {
			from = *c.Agent.CurrentLocation
		}

		adjusted := p.adjuster.Apply(ctx, from, *inc.Location, c.Route, closures, counts, now)
		route := adjusted.Route
		if route.Provider == "fallback" {
			fellBack = true
		}
		routesPersisted.WithLabelValues(route.Provider).Inc()

		out = append(out, models.CalculatedRoute{
			IncidentID:    inc.ID,
			ResourceID:    c.ResourceID,
			ResourceType:  c.ResourceType,
			DistanceKm:    route.DistanceKm(),
			EstimatedMin:  route.DurationMinutes(),
			PriorityScore: c.Score,
			Geometry:      route.Geometry,
			Status:        models.RouteActive,
			CalculatedAt:  now,
		})
	}

	extra := p.maxRoutes
	for i, c := range sel.Vehicles {
		if i == 0 {
			addRoute(c)
			continue
		}
		if extra > 0 {
			addRoute(c)
			extra--
		}
	}
	if len(sel.Agents) > 0 {
		addRoute(sel.Agents[0])
	}
	return out, fellBack
}

func (p *Planner) applyPrimarySummary(inc *models.Incident, dispatches []*models.Dispatch) {
	for _, force := range forcePrecedence {
		for _, d := range dispatches {
			if d.Force != force {
				continue
			}
			if d.VehicleID == nil && d.AgentID == nil {
				continue
			}
			f := d.Force
			inc.AssignedForce = &f
			inc.AssignedVehicleID = d.VehicleID
			return
		}
	}
}

// buildReport renders the sectioned process report stored in the incident's
// resolution notes on every plan. Degradation notes land in their own
// section so operators see what the pipeline worked around.
func (p *Planner) buildReport(inc *models.Incident, cls triage.Result,
	routes []models.CalculatedRoute, notes []string, now time.Time) string {

	var b strings.Builder
	fmt.Fprintf(&b, "[ %s ] Informe de proceso\n\n", now.Format("02/01/2006 15:04:05"))

	b.WriteString("Clasificación\n")
	fmt.Fprintf(&b, "- Tipo: %s\n", cls.Type)
	fmt.Fprintf(&b, "- Código: %s\n", inc.Code)
	fmt.Fprintf(&b, "- Puntaje: %d\n", cls.Score)
	if len(cls.Reasons) > 0 {
		b.WriteString("- Razones:\n")
		for _, reason := range cls.Reasons {
			fmt.Fprintf(&b, "  - %s\n", reason)
		}
	}

	b.WriteString("\nIntervención\n")
	if inc.AssignedForce != nil {
		fmt.Fprintf(&b, "- Fuerza: %s\n", *inc.AssignedForce)
	} else {
		b.WriteString("- Fuerza: N/D\n")
	}
	if inc.AssignedVehicleID != nil {
		fmt.Fprintf(&b, "- Vehículo: %s\n", models.VehicleResourceID(*inc.AssignedVehicleID))
	} else {
		b.WriteString("- Vehículo: N/D\n")
	}

	b.WriteString("\nMovilidad\n")
	distTxt, etaTxt := "N/D", "N/D"
	if r := primaryRoute(inc, routes); r != nil {
		distTxt = fmt.Sprintf("%.2f km", r.DistanceKm)
		etaTxt = fmt.Sprintf("%.0f min", r.EstimatedMin)
	}
	fmt.Fprintf(&b, "- Distancia estimada: %s\n", distTxt)
	fmt.Fprintf(&b, "- ETA: %s\n", etaTxt)
	if inc.GreenWave {
		b.WriteString("- Onda verde: ACTIVADA\n")
	} else {
		b.WriteString("- Onda verde: NO\n")
	}

	b.WriteString("\nEstado\n")
	fmt.Fprintf(&b, "- Estado actual: %s\n", inc.Status)
	fmt.Fprintf(&b, "- Reportado: %s\n", inc.ReportedAt.Format("02/01/2006 15:04"))

	if len(notes) > 0 {
		b.WriteString("\nObservaciones\n")
		for _, n := range notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// primaryRoute finds the route of the assigned vehicle, falling back to the
// best-scored route.
func primaryRoute(inc *models.Incident, routes []models.CalculatedRoute) *models.CalculatedRoute {
	if inc.AssignedVehicleID != nil {
		want := models.VehicleResourceID(*inc.AssignedVehicleID)
		for i := range routes {
			if routes[i].ResourceID == want {
				return &routes[i]
			}
		}
	}
	if len(routes) > 0 {
		return &routes[0]
	}
	return nil
}

// Resolve closes an incident and releases its resources.
func (p *Planner) Resolve(ctx context.Context, incidentID int64, notes string) error {
	unlock := p.store.LockIncident(incidentID)
	defer unlock()

	if err := p.store.ResolveIncident(ctx, incidentID, notes, p.now()); err != nil {
		return err
	}
	resolutionsTotal.Inc()
	p.logger.Info().Int64("incident", incidentID).Msg("Incident resolved")
	return nil
}
