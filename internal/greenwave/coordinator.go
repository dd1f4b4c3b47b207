// Package greenwave opens timed green-light windows along the straight
// path from a responding resource to a red-code incident. Waves live only
// in process memory and expire after a fixed TTL; queries purge expired
// entries on access.
package greenwave

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sirenlab/dispatchd/internal/geo"
	"github.com/sirenlab/dispatchd/internal/models"
)

// Timing constants.
const (
	corridorWidthM     = 500.0 // perpendicular distance to the resource-incident line
	defaultSpeedKmh    = 50.0
	minResourceSpeed   = 5.0 // below this the default speed applies
	greenLeadSeconds   = 5
	majorGreenSeconds  = 45
	secondGreenSeconds = 30
	waveTTL            = 30 * time.Minute
)

// Window is one timed green interval at one intersection.
type Window struct {
	Intersection Intersection `json:"intersection"`
	ResourceID   string       `json:"resource_id"`
	DistanceM    float64      `json:"distance_m"` // from the resource position
	Arrival      time.Time    `json:"arrival"`
	GreenStart   time.Time    `json:"green_start"`
	GreenEnd     time.Time    `json:"green_end"`
}

// Wave is the active green wave of one incident.
type Wave struct {
	ID         string    `json:"id"`
	IncidentID int64     `json:"incident_id"`
	CreatedAt  time.Time `json:"created_at"`
	Windows    []Window  `json:"windows"`
}

// IntersectionStatus answers a per-intersection status query.
type IntersectionStatus struct {
	IntersectionID  string     `json:"intersection_id"`
	IsGreen         bool       `json:"is_green"`
	HasEmergency    bool       `json:"has_emergency"`
	NextGreen       *time.Time `json:"next_green,omitempty"`
	ActiveIncidents []int64    `json:"active_incidents"`
}

// SpeedSource reports the current simulated speed in km/h of every
// resource responding to an incident, keyed by resource identifier.
type SpeedSource interface {
	ResourceSpeeds(ctx context.Context, incidentID int64) map[string]float64
}

// Coordinator owns the wave registry.
type Coordinator struct {
	catalog []Intersection
	speeds  SpeedSource // nil means every resource moves at the default speed
	logger  zerolog.Logger

	mu    sync.Mutex
	waves map[int64]*Wave // incident ID -> active wave
	now   func() time.Time
}

// NewCoordinator creates a Coordinator over the given catalog.
func NewCoordinator(catalog []Intersection, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		catalog: catalog,
		logger:  logger,
		waves:   make(map[int64]*Wave),
		now:     time.Now,
	}
}

// UseSpeedSource wires the per-resource speed lookup used for arrival
// estimates.
func (c *Coordinator) UseSpeedSource(src SpeedSource) {
	c.speeds = src
}

// ActivateForIncident opens windows for every dispatched resource of a
// red-code incident. Activation never fails; with no matching
// intersections the wave simply has no windows. A second activation for
// the same incident replaces the previous wave. Returns the window count.
func (c *Coordinator) ActivateForIncident(ctx context.Context, incident *models.Incident, resources map[string]geo.Point) int {
	wave := c.ActivateWave(ctx, incident, resources)
	if wave == nil {
		return 0
	}
	return len(wave.Windows)
}

// ActivateWave opens a wave using the current speed of each resource from
// the configured speed source.
func (c *Coordinator) ActivateWave(ctx context.Context, incident *models.Incident, resources map[string]geo.Point) *Wave {
	var speeds map[string]float64
	if c.speeds != nil {
		speeds = c.speeds.ResourceSpeeds(ctx, incident.ID)
	}
	return c.Activate(incident, resources, speeds)
}

// Activate builds and registers a wave. Each resource advances at its own
// speed; missing entries and speeds below the minimum fall back to the
// default corridor speed. Returns nil when the incident is not red-code or
// has no location.
func (c *Coordinator) Activate(incident *models.Incident, resources map[string]geo.Point, speeds map[string]float64) *Wave {
	if incident.Code != models.CodeRed || incident.Location == nil {
		return nil
	}
	now := c.now()
	target := *incident.Location

	wave := &Wave{
		ID:         uuid.NewString(),
		IncidentID: incident.ID,
		CreatedAt:  now,
	}

	// Stable resource order keeps window lists reproducible.
	resourceIDs := make([]string, 0, len(resources))
	for id := range resources {
		resourceIDs = append(resourceIDs, id)
	}
	sort.Strings(resourceIDs)

	for _, resourceID := range resourceIDs {
		from := resources[resourceID]
		speedKmh := speeds[resourceID]
		if speedKmh < minResourceSpeed {
			speedKmh = defaultSpeedKmh
		}
		for _, hit := range c.corridorIntersections(from, target) {
			travel := time.Duration(hit.distance / (speedKmh / 3.6) * float64(time.Second))
			arrival := now.Add(travel)
			greenSeconds := majorGreenSeconds
			if hit.intersection.Kind == KindSecondary {
				greenSeconds = secondGreenSeconds
			}
			wave.Windows = append(wave.Windows, Window{
				Intersection: hit.intersection,
				ResourceID:   resourceID,
				DistanceM:    hit.distance,
				Arrival:      arrival,
				GreenStart:   arrival.Add(-greenLeadSeconds * time.Second),
				GreenEnd:     arrival.Add(time.Duration(greenSeconds) * time.Second),
			})
		}
	}

	c.mu.Lock()
	c.waves[incident.ID] = wave
	c.mu.Unlock()

	c.logger.Info().
		Int64("incident", incident.ID).
		Str("wave", wave.ID).
		Int("windows", len(wave.Windows)).
		Msg("Green wave activated")
	return wave
}

type corridorHit struct {
	intersection Intersection
	distance     float64 // from the resource position, in meters
}

// corridorIntersections selects catalog entries whose perpendicular
// distance to the from-target segment is inside the corridor, ordered by
// distance from the resource.
func (c *Coordinator) corridorIntersections(from, target geo.Point) []corridorHit {
	var hits []corridorHit
	for _, in := range c.catalog {
		if geo.PointToSegmentMeters(in.Location(), from, target) > corridorWidthM {
			continue
		}
		hits = append(hits, corridorHit{
			intersection: in,
			distance:     geo.HaversineMeters(from, in.Location()),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })
	return hits
}

// WaveForIncident returns the active wave of an incident, or nil.
func (c *Coordinator) WaveForIncident(incidentID int64) *Wave {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked()
	return c.waves[incidentID]
}

// ActiveWaves lists every unexpired wave.
func (c *Coordinator) ActiveWaves() []Wave {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked()

	out := make([]Wave, 0, len(c.waves))
	for _, w := range c.waves {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IncidentID < out[j].IncidentID })
	return out
}

// Deactivate drops the wave of an incident. Reports whether one existed.
func (c *Coordinator) Deactivate(incidentID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.waves[incidentID]
	delete(c.waves, incidentID)
	return ok
}

// Status answers the per-intersection query used by the traffic API.
func (c *Coordinator) Status(intersectionID string) IntersectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked()

	now := c.now()
	status := IntersectionStatus{
		IntersectionID:  intersectionID,
		ActiveIncidents: []int64{},
	}
	for _, wave := range c.waves {
		for _, w := range wave.Windows {
			if w.Intersection.ID != intersectionID {
				continue
			}
			status.HasEmergency = true
			status.ActiveIncidents = appendUnique(status.ActiveIncidents, wave.IncidentID)
			if !now.Before(w.GreenStart) && !now.After(w.GreenEnd) {
				status.IsGreen = true
			} else if now.Before(w.GreenStart) {
				if status.NextGreen == nil || w.GreenStart.Before(*status.NextGreen) {
					start := w.GreenStart
					status.NextGreen = &start
				}
			}
		}
	}
	sort.Slice(status.ActiveIncidents, func(i, j int) bool {
		return status.ActiveIncidents[i] < status.ActiveIncidents[j]
	})
	return status
}

// Catalog exposes the configured intersections.
func (c *Coordinator) Catalog() []Intersection {
	return c.catalog
}

func (c *Coordinator) purgeLocked() {
	now := c.now()
	for id, wave := range c.waves {
		if now.Sub(wave.CreatedAt) >= waveTTL {
			delete(c.waves, id)
		}
	}
}

func appendUnique(ids []int64, id int64) []int64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
