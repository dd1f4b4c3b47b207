// Package models defines the entities of the dispatch domain: incidents,
// forces, fleet resources, dispatches, calculated routes and the transport
// feed records used for congestion adjustment.
package models

import (
	"strconv"
	"time"

	"github.com/sirenlab/dispatchd/internal/geo"
)

// Force identifies a responding force.
type Force string

const (
	ForcePolice  Force = "police"
	ForceMedical Force = "medical"
	ForceFire    Force = "fire"
	ForceTraffic Force = "traffic"
)

// Forces lists the static force catalog.
var Forces = []Force{ForcePolice, ForceMedical, ForceFire, ForceTraffic}

// Valid reports whether f is part of the catalog.
func (f Force) Valid() bool {
	switch f {
	case ForcePolice, ForceMedical, ForceFire, ForceTraffic:
		return true
	}
	return false
}

// Code is the triage severity band.
type Code string

const (
	CodeRed    Code = "red"
	CodeYellow Code = "yellow"
	CodeGreen  Code = "green"
)

// Priority returns the numeric priority bound to a code.
func (c Code) Priority() int {
	switch c {
	case CodeRed:
		return 10
	case CodeYellow:
		return 5
	default:
		return 1
	}
}

// IncidentStatus is the incident lifecycle state.
type IncidentStatus string

const (
	IncidentPending  IncidentStatus = "pending"
	IncidentAssigned IncidentStatus = "assigned"
	IncidentResolved IncidentStatus = "resolved"
)

// VehicleStatus is the vehicle availability state.
type VehicleStatus string

const (
	VehicleAvailable VehicleStatus = "available"
	VehicleEnRoute   VehicleStatus = "en_route"
	VehicleBusy      VehicleStatus = "busy"
)

// AgentStatus is the agent availability state.
type AgentStatus string

const (
	AgentAvailable AgentStatus = "available"
	AgentEnRoute   AgentStatus = "en_route"
	AgentOnScene   AgentStatus = "on_scene"
	AgentBusy      AgentStatus = "busy"
	AgentOffDuty   AgentStatus = "off_duty"
)

// DispatchStatus is the per-force dispatch state.
type DispatchStatus string

const (
	DispatchDispatched DispatchStatus = "dispatched"
	DispatchEnRoute    DispatchStatus = "en_route"
	DispatchOnScene    DispatchStatus = "on_scene"
	DispatchFinished   DispatchStatus = "finished"
)

// RouteStatus is the calculated-route state.
type RouteStatus string

const (
	RouteActive    RouteStatus = "active"
	RouteCompleted RouteStatus = "completed"
	RouteCancelled RouteStatus = "cancelled"
)

// FacilityKind distinguishes base stations.
type FacilityKind string

const (
	FacilityPoliceStation FacilityKind = "police_station"
	FacilityFireStation   FacilityKind = "fire_station"
	FacilityTrafficBase   FacilityKind = "traffic_base"
)

// Facility is a base station owning zero or more vehicles.
type Facility struct {
	ID       int64        `json:"id"`
	Name     string       `json:"name"`
	Kind     FacilityKind `json:"kind"`
	Force    Force        `json:"force"`
	Location *geo.Point   `json:"location,omitempty"`
}

// Hospital holds receiving-hospital bed availability.
type Hospital struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Location     *geo.Point `json:"location,omitempty"`
	TotalBeds    int        `json:"total_beds"`
	OccupiedBeds int        `json:"occupied_beds"`
}

// AvailableBeds returns total minus occupied, clamped to zero.
func (h Hospital) AvailableBeds() int {
	if h.OccupiedBeds >= h.TotalBeds {
		return 0
	}
	return h.TotalBeds - h.OccupiedBeds
}

// Vehicle is a fleet unit.
type Vehicle struct {
	ID              int64         `json:"id"`
	Force           Force         `json:"force"`
	Type            string        `json:"type"` // e.g. "ambulance", "fire_engine", "patrol"
	Status          VehicleStatus `json:"status"`
	CurrentLocation *geo.Point    `json:"current_location,omitempty"`
	TargetLocation  *geo.Point    `json:"target_location,omitempty"`
	HomeFacilityID  *int64        `json:"home_facility_id,omitempty"`
}

// Agent is a person on the fleet roster.
type Agent struct {
	ID                int64       `json:"id"`
	Force             Force       `json:"force"`
	Name              string      `json:"name"`
	Role              string      `json:"role"`
	Status            AgentStatus `json:"status"`
	CurrentLocation   *geo.Point  `json:"current_location,omitempty"`
	TargetLocation    *geo.Point  `json:"target_location,omitempty"`
	AssignedVehicleID *int64      `json:"assigned_vehicle_id,omitempty"`
	HomeFacilityID    *int64      `json:"home_facility_id,omitempty"`
}

// Incident is a reported emergency.
type Incident struct {
	ID                int64          `json:"id"`
	PublicID          string         `json:"public_id"`
	Description       string         `json:"description"`
	Address           string         `json:"address,omitempty"`
	Location          *geo.Point     `json:"location,omitempty"`
	Code              Code           `json:"code"`
	Priority          int            `json:"priority"`
	Status            IncidentStatus `json:"status"`
	GreenWave         bool           `json:"onda_verde"`
	AssignedForce     *Force         `json:"assigned_force,omitempty"`
	AssignedVehicleID *int64         `json:"assigned_vehicle_id,omitempty"`
	ReportedAt        time.Time      `json:"reported_at"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
	ResolutionNotes   string         `json:"resolution_notes,omitempty"`
	AIResponse        string         `json:"ai_response,omitempty"`
}

// ApplyCode sets code, priority and green-wave flag together so the
// red => priority 10 and green-wave invariant cannot be violated.
func (i *Incident) ApplyCode(code Code) {
	i.Code = code
	i.Priority = code.Priority()
	i.GreenWave = code == CodeRed
}

// Dispatch ties an incident to one force, with at most one vehicle and one
// agent. (incident, force) is unique.
type Dispatch struct {
	ID         int64          `json:"id"`
	IncidentID int64          `json:"incident_id"`
	Force      Force          `json:"force"`
	VehicleID  *int64         `json:"vehicle_id,omitempty"`
	AgentID    *int64         `json:"agent_id,omitempty"`
	Status     DispatchStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}

// CalculatedRoute is a persisted per-resource route for an incident.
// Active rows are rewritten as a set on every full re-plan.
type CalculatedRoute struct {
	ID            int64          `json:"id"`
	IncidentID    int64          `json:"incident_id"`
	ResourceID    string         `json:"resource_id"`   // "vehicle_12" or "agent_7"
	ResourceType  string         `json:"resource_type"` // label, e.g. "ambulance - medical"
	DistanceKm    float64        `json:"distance_km"`
	EstimatedMin  float64        `json:"estimated_time_minutes"`
	PriorityScore float64        `json:"priority_score"`
	Geometry      geo.LineString `json:"geometry"`
	Status        RouteStatus    `json:"status"`
	CalculatedAt  time.Time      `json:"calculated_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// StreetClosure is an active or scheduled street cut from the transport feed.
type StreetClosure struct {
	ID          int64          `json:"id"`
	ExternalID  string         `json:"external_id"`
	Name        string         `json:"name"`
	ClosureType string         `json:"closure_type"` // total, partial, alternating, restricted
	Location    *geo.Point     `json:"location,omitempty"`
	Geometry    geo.LineString `json:"geometry,omitempty"`
	StartAt     time.Time      `json:"start_at"`
	EndAt       *time.Time     `json:"end_at,omitempty"`
	IsActive    bool           `json:"is_active"`
}

// CurrentlyActive reports whether the closure is in force at the given instant.
func (c StreetClosure) CurrentlyActive(now time.Time) bool {
	if !c.IsActive || c.StartAt.After(now) {
		return false
	}
	return c.EndAt == nil || !c.EndAt.Before(now)
}

// CountType labels a traffic measurement.
type CountType string

const (
	CountVehicle   CountType = "vehicle"
	CountSpeed     CountType = "speed"
	CountOccupancy CountType = "occupancy"
)

// TrafficCount is a read-only congestion sample from the transport feed.
type TrafficCount struct {
	ID            int64     `json:"id"`
	ExternalID    string    `json:"external_id"`
	LocationName  string    `json:"location_name"`
	Location      geo.Point `json:"location"`
	CountType     CountType `json:"count_type"`
	CountValue    float64   `json:"count_value"`
	Unit          string    `json:"unit"`
	Timestamp     time.Time `json:"timestamp"`
	PeriodMinutes int       `json:"period_minutes"`
}

// ParkingSpot is a parking facility from the transport feed.
type ParkingSpot struct {
	ID               int64     `json:"id"`
	ExternalID       string    `json:"external_id"`
	Name             string    `json:"name"`
	Location         geo.Point `json:"location"`
	SpotType         string    `json:"spot_type"`
	TotalSpaces      int       `json:"total_spaces"`
	AvailableSpaces  int       `json:"available_spaces"`
	IsPaid           bool      `json:"is_paid"`
	MaxDurationHours *int      `json:"max_duration_hours,omitempty"`
	IsActive         bool      `json:"is_active"`
}

// OccupancyRate returns the fraction of occupied spaces in [0, 1].
func (p ParkingSpot) OccupancyRate() float64 {
	if p.TotalSpaces == 0 {
		return 0
	}
	return float64(p.TotalSpaces-p.AvailableSpaces) / float64(p.TotalSpaces)
}

// VehicleResourceID formats the route resource identifier for a vehicle.
func VehicleResourceID(id int64) string {
	return resourceID("vehicle", id)
}

// AgentResourceID formats the route resource identifier for an agent.
func AgentResourceID(id int64) string {
	return resourceID("agent", id)
}

func resourceID(kind string, id int64) string {
	// Matches the wire format used by tracking and stored routes.
	return kind + "_" + strconv.FormatInt(id, 10)
}
