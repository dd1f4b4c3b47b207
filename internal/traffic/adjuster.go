// Package traffic adjusts resolved routes for street closures and live
// congestion. Closure hits trigger a detour search; congestion scales the
// route duration by a factor derived from recent traffic counts. Both
// adjustments degrade to a no-op when feed data is missing.
package traffic

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sirenlab/dispatchd/internal/geo"
	"github.com/sirenlab/dispatchd/internal/models"
	"github.com/sirenlab/dispatchd/internal/routing"
)

// Closure detection and congestion sampling distances, in meters.
const (
	closureHitRadius  = 50.0
	sampleStepMeters  = 500.0
	countSearchRadius = 200.0
	countMaxAge       = 2 * time.Hour
)

// Adjusted is a route after closure and congestion processing.
type Adjusted struct {
	Route              *routing.Route
	IntersectsClosures bool
	ClosuresWarning    []string
	TrafficFactor      float64
	OriginalDurationS  float64
}

// AlternativeSource produces candidate detour routes.
type AlternativeSource interface {
	Alternatives(ctx context.Context, from, to geo.Point) []*routing.Route
}

// Adjuster applies closure and congestion adjustments to routes.
type Adjuster struct {
	alternatives AlternativeSource
	logger       zerolog.Logger
}

// NewAdjuster creates an Adjuster. The alternative source may be nil, in
// which case closure hits keep the original route with a warning.
func NewAdjuster(alternatives AlternativeSource, logger zerolog.Logger) *Adjuster {
	return &Adjuster{alternatives: alternatives, logger: logger}
}

// Apply runs closure detection, detour search and congestion scaling. The
// returned route is never nil when the input route is not nil.
func (a *Adjuster) Apply(ctx context.Context, from, to geo.Point, route *routing.Route,
	closures []models.StreetClosure, counts []models.TrafficCount, now time.Time) Adjusted {

	out := Adjusted{Route: route, TrafficFactor: 1.0}
	if route == nil {
		return out
	}
	out.OriginalDurationS = route.DurationS

	blocking := blockingClosures(route.Geometry, closures, now)
	if len(blocking) > 0 {
		if detour := a.findDetour(ctx, from, to, closures, now); detour != nil {
			a.logger.Info().Str("provider", detour.Provider).Int("closures", len(blocking)).
				Msg("Route crossed active closures, detour found")
			out.Route = detour
			out.OriginalDurationS = detour.DurationS
		} else {
			out.IntersectsClosures = true
			for _, c := range blocking {
				out.ClosuresWarning = append(out.ClosuresWarning, c.Name)
			}
			a.logger.Warn().Int("closures", len(blocking)).
				Msg("Route crosses active closures and no clear detour exists")
		}
	}

	factor := congestionFactor(out.Route.Geometry, counts, now)
	out.TrafficFactor = factor
	if factor > 1.0 {
		out.Route.DurationS = out.OriginalDurationS * factor
	}
	return out
}

func (a *Adjuster) findDetour(ctx context.Context, from, to geo.Point,
	closures []models.StreetClosure, now time.Time) *routing.Route {
	if a.alternatives == nil {
		return nil
	}
	for _, candidate := range a.alternatives.Alternatives(ctx, from, to) {
		if len(blockingClosures(candidate.Geometry, closures, now)) == 0 {
			return candidate
		}
	}
	return nil
}

// blockingClosures returns the currently active closures the geometry
// passes through. A hit is any route vertex within the hit radius of the
// closure's point, or of any vertex of the closure's own geometry.
func blockingClosures(route geo.LineString, closures []models.StreetClosure, now time.Time) []models.StreetClosure {
	var hits []models.StreetClosure
	for _, c := range closures {
		if !c.CurrentlyActive(now) {
			continue
		}
		if closureHit(route, c) {
			hits = append(hits, c)
		}
	}
	return hits
}

func closureHit(route geo.LineString, c models.StreetClosure) bool {
	for i := range route {
		vertex := route.Point(i)
		if c.Location != nil && geo.HaversineMeters(vertex, *c.Location) <= closureHitRadius {
			return true
		}
		for j := range c.Geometry {
			if geo.HaversineMeters(vertex, c.Geometry.Point(j)) <= closureHitRadius {
				return true
			}
		}
	}
	return false
}

// congestionFactor samples the route at a fixed step and keeps the worst
// multiplier seen. Counts are weighted by inverse distance when several
// fall inside the search radius of one sample.
func congestionFactor(route geo.LineString, counts []models.TrafficCount, now time.Time) float64 {
	if len(route) < 2 || len(counts) == 0 {
		return 1.0
	}

	fresh := counts[:0:0]
	for _, c := range counts {
		if now.Sub(c.Timestamp) <= countMaxAge && !c.Timestamp.After(now) {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		return 1.0
	}

	length := route.Length()
	steps := int(length/sampleStepMeters) + 1

	final := 1.0
	for s := 0; s <= steps; s++ {
		progress := float64(s) / float64(steps)
		sample := route.Interpolate(progress)

		var weightSum, weighted float64
		for _, c := range fresh {
			d := geo.HaversineMeters(sample, c.Location)
			if d > countSearchRadius {
				continue
			}
			w := 1.0 / (1.0 + d)
			weightSum += w
			weighted += w * countMultiplier(c)
		}
		if weightSum > 0 {
			if f := weighted / weightSum; f > final {
				final = f
			}
		}
	}
	return final
}

// countMultiplier maps one measurement to a congestion multiplier.
func countMultiplier(c models.TrafficCount) float64 {
	switch c.CountType {
	case models.CountVehicle:
		switch {
		case c.CountValue > 2000:
			return 1.8
		case c.CountValue > 1500:
			return 1.5
		case c.CountValue > 1000:
			return 1.2
		}
	case models.CountSpeed:
		switch {
		case c.CountValue < 10:
			return 2.0
		case c.CountValue < 20:
			return 1.6
		case c.CountValue < 30:
			return 1.3
		case c.CountValue < 40:
			return 1.1
		}
	case models.CountOccupancy:
		switch {
		case c.CountValue > 90:
			return 2.0
		case c.CountValue > 70:
			return 1.5
		case c.CountValue > 50:
			return 1.2
		}
	}
	return 1.0
}
