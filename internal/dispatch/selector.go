package dispatch

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirenlab/dispatchd/internal/geo"
	"github.com/sirenlab/dispatchd/internal/models"
	"github.com/sirenlab/dispatchd/internal/routing"
)

// Default candidate caps.
const (
	defaultVehicleCandidates = 6
	defaultAgentCandidates   = 4
)

// Scoring constants. Faster vehicle types score lower (better) for the same
// travel time, and anything beyond 20 km is penalized.
const (
	longHaulKm      = 20.0
	longHaulPenalty = 1.5
)

var typeWeights = map[string]float64{
	"ambulance":   0.8,
	"fire_engine": 0.9,
	"patrol":      1.0,
}

// Candidate is one ranked vehicle or agent with its resolved route.
type Candidate struct {
	ResourceID   string
	ResourceType string
	Vehicle      *models.Vehicle
	Agent        *models.Agent
	Route        *routing.Route
	DistanceKm   float64
	DurationS    float64
	Score        float64
	Primary      bool
}

// fleetSource is the store surface the selector needs.
type fleetSource interface {
	AvailableVehicles(ctx context.Context, force models.Force) ([]models.Vehicle, error)
	AvailableAgents(ctx context.Context, force models.Force) ([]models.Agent, error)
}

// routeSource resolves candidate routes.
type routeSource interface {
	Resolve(ctx context.Context, from, to geo.Point) *routing.Route
}

// Selector ranks the available resources of a force for an incident.
type Selector struct {
	fleet             fleetSource
	routes            routeSource
	vehicleCandidates int
	agentCandidates   int
}

// NewSelector creates a Selector. Zero caps fall back to the defaults.
func NewSelector(fleet fleetSource, routes routeSource, vehicleCandidates, agentCandidates int) *Selector {
	if vehicleCandidates <= 0 {
		vehicleCandidates = defaultVehicleCandidates
	}
	if agentCandidates <= 0 {
		agentCandidates = defaultAgentCandidates
	}
	return &Selector{
		fleet:             fleet,
		routes:            routes,
		vehicleCandidates: vehicleCandidates,
		agentCandidates:   agentCandidates,
	}
}

// Selection is the ranked candidate lists for one force.
type Selection struct {
	Vehicles []Candidate
	Agents   []Candidate
}

// Select ranks the force's available vehicles and agents against the
// incident location. primary marks the incident's assigned force, which
// switches scoring to closest-first.
func (s *Selector) Select(ctx context.Context, incident *models.Incident, force models.Force, primary bool) (Selection, error) {
	var sel Selection
	if incident.Location == nil {
		return sel, nil
	}
	target := *incident.Location

	vehicles, err := s.fleet.AvailableVehicles(ctx, force)
	if err != nil {
		return sel, err
	}
	for i := range vehicles {
		v := &vehicles[i]
		if v.CurrentLocation == nil {
			continue
		}
		route := s.routes.Resolve(ctx, *v.CurrentLocation, target)
		c := Candidate{
			ResourceID:   models.VehicleResourceID(v.ID),
			ResourceType: fmt.Sprintf("%s - %s", v.Type, v.Force),
			Vehicle:      v,
			Route:        route,
			DistanceKm:   route.DistanceKm(),
			DurationS:    route.DurationS,
			Primary:      primary,
		}
		c.Score = score(c, incident, primary, v.Type)
		sel.Vehicles = append(sel.Vehicles, c)
	}

	agents, err := s.fleet.AvailableAgents(ctx, force)
	if err != nil {
		return sel, err
	}
	for i := range agents {
		a := &agents[i]
		if a.CurrentLocation == nil {
			continue
		}
		route := s.routes.Resolve(ctx, *a.CurrentLocation, target)
		c := Candidate{
			ResourceID:   models.AgentResourceID(a.ID),
			ResourceType: fmt.Sprintf("agent - %s", a.Force),
			Agent:        a,
			Route:        route,
			DistanceKm:   route.DistanceKm(),
			DurationS:    route.DurationS,
			Primary:      primary,
		}
		c.Score = score(c, incident, primary, "")
		sel.Agents = append(sel.Agents, c)
	}

	sortCandidates(sel.Vehicles)
	sortCandidates(sel.Agents)
	if len(sel.Vehicles) > s.vehicleCandidates {
		sel.Vehicles = sel.Vehicles[:s.vehicleCandidates]
	}
	if len(sel.Agents) > s.agentCandidates {
		sel.Agents = sel.Agents[:s.agentCandidates]
	}
	return sel, nil
}

// score computes the ranking value. Lower is better. Primary-force
// candidates race on plain distance so the closest unit always wins there;
// everyone else races on weighted travel time boosted by incident priority.
func score(c Candidate, incident *models.Incident, primary bool, vehicleType string) float64 {
	if primary {
		return c.DistanceKm
	}
	weight, ok := typeWeights[vehicleType]
	if !ok {
		weight = 1.0
	}
	penalty := 1.0
	if c.DistanceKm > longHaulKm {
		penalty = longHaulPenalty
	}
	s := c.DurationS * weight * penalty
	mult := priorityMultiplier(incident)
	if mult < 0.1 {
		mult = 0.1
	}
	return s / mult
}

// priorityMultiplier scales non-primary scores by incident urgency: red
// incidents divide harder so their candidates rank earlier.
func priorityMultiplier(incident *models.Incident) float64 {
	return float64(incident.Priority) / 10.0
}

func sortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Primary != cs[j].Primary {
			return cs[i].Primary
		}
		return cs[i].Score < cs[j].Score
	})
}
