// Package routing resolves street routes between two points through a chain
// of external providers with caching, rate-limit backoff and an offline
// fallback that always answers.
//
// Provider order is fixed: Mapbox, OpenRouteService, OSRM (multiple hosts),
// GraphHopper, then a synthetic grid path. Providers without credentials are
// skipped. A provider answering HTTP 429 is benched for a cool-off window
// before the chain consults it again.
package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sirenlab/dispatchd/internal/config"
	dispatcherrors "github.com/sirenlab/dispatchd/internal/errors"
	"github.com/sirenlab/dispatchd/internal/geo"
)

// Step is one turn instruction along a route.
type Step struct {
	Instruction string  `json:"instruction"`
	Name        string  `json:"name,omitempty"`
	DistanceM   float64 `json:"distance_m"`
	DurationS   float64 `json:"duration_s"`
}

// Route is a normalized routing result, independent of which provider
// produced it.
type Route struct {
	Provider  string         `json:"provider"`
	Geometry  geo.LineString `json:"geometry"`
	DistanceM float64        `json:"distance_m"`
	DurationS float64        `json:"duration_s"`
	Steps     []Step         `json:"steps"`
}

// DistanceKm returns the route distance in kilometers.
func (r *Route) DistanceKm() float64 {
	return r.DistanceM / 1000.0
}

// DurationMinutes returns the route duration in minutes.
func (r *Route) DurationMinutes() float64 {
	return r.DurationS / 60.0
}

// Clone returns a deep copy so cached geometry cannot be mutated by callers.
func (r *Route) Clone() *Route {
	if r == nil {
		return nil
	}
	out := *r
	out.Geometry = r.Geometry.Clone()
	if r.Steps != nil {
		out.Steps = append([]Step(nil), r.Steps...)
	}
	return &out
}

// Provider resolves a single route between two points.
type Provider interface {
	Route(ctx context.Context, from, to geo.Point) (*Route, error)
	Name() string
}

// Resolver runs the provider chain with caching and backoff.
type Resolver struct {
	providers []Provider
	cache     *routeCache
	backoff   *backoffRegistry
	offline   bool
	logger    zerolog.Logger
}

// NewResolver builds the chain from configuration. Only providers with the
// necessary credentials are included; OSRM needs none and is always present.
func NewResolver(cfg *config.Config, logger zerolog.Logger) *Resolver {
	var providers []Provider
	if cfg.MapboxToken != "" {
		providers = append(providers, NewMapbox(cfg.MapboxToken, cfg.RoutingTimeout))
	}
	if cfg.OpenRouteKey != "" {
		providers = append(providers, NewOpenRoute(cfg.OpenRouteKey, cfg.RoutingTimeout))
	}
	for _, host := range cfg.OSRMHosts {
		providers = append(providers, NewOSRM(host, cfg.OSRMTimeout))
	}
	if cfg.GraphHopperKey != "" {
		providers = append(providers, NewGraphHopper(cfg.GraphHopperKey, cfg.RoutingTimeout))
	}
	return &Resolver{
		providers: providers,
		cache:     newRouteCache(cfg.RoutingCacheSize),
		backoff:   newBackoffRegistry(cfg.OpenRouteBackoff),
		offline:   cfg.RoutingOffline,
		logger:    logger,
	}
}

// Resolve returns a route from origin to destination. It never fails: when
// every external provider is unavailable the synthetic fallback answers.
func (r *Resolver) Resolve(ctx context.Context, from, to geo.Point) *Route {
	key := cacheKey(from, to)
	if cached, ok := r.cache.get(key); ok {
		return cached
	}

	if !r.offline {
		for _, p := range r.providers {
			if r.backoff.benched(p.Name()) {
				continue
			}
			route, err := p.Route(ctx, from, to)
			if err != nil {
				if dispatcherrors.IsRateLimited(err) {
					r.backoff.bench(p.Name())
					r.logger.Warn().Str("provider", p.Name()).
						Msg("Routing provider rate limited, opening backoff window")
				} else {
					r.logger.Debug().Err(err).Str("provider", p.Name()).
						Msg("Routing provider failed, trying next")
				}
				continue
			}
			if route == nil || len(route.Geometry) < 2 {
				continue
			}
			r.cache.put(key, route)
			return route.Clone()
		}
	}

	route := fallbackRoute(from, to)
	r.cache.put(key, route)
	return route.Clone()
}

// cacheKey rounds coordinates to 5 decimals (roughly one meter) so nearby
// lookups share entries.
func cacheKey(from, to geo.Point) string {
	return fmt.Sprintf("%.5f,%.5f|%.5f,%.5f", from.Lat, from.Lon, to.Lat, to.Lon)
}

// Alternatives queries every usable provider for its own answer, bypassing
// the cache, and always appends the synthetic grid path last. Used when the
// primary route crosses a street closure and a detour is needed.
func (r *Resolver) Alternatives(ctx context.Context, from, to geo.Point) []*Route {
	var out []*Route
	if !r.offline {
		for _, p := range r.providers {
			if r.backoff.benched(p.Name()) {
				continue
			}
			route, err := p.Route(ctx, from, to)
			if err != nil {
				if dispatcherrors.IsRateLimited(err) {
					r.backoff.bench(p.Name())
				}
				continue
			}
			if route != nil && len(route.Geometry) >= 2 {
				out = append(out, route)
			}
		}
	}
	return append(out, fallbackRoute(from, to))
}

// Offline reports whether external providers are bypassed.
func (r *Resolver) Offline() bool {
	return r.offline
}

// ProviderNames lists the configured chain in consultation order.
func (r *Resolver) ProviderNames() []string {
	names := make([]string, 0, len(r.providers)+1)
	for _, p := range r.providers {
		names = append(names, p.Name())
	}
	names = append(names, "fallback")
	return names
}

// Urban fallback assumptions when no provider can answer.
const (
	fallbackDetourFactor = 1.3  // street distance over straight line
	fallbackSpeedKmh     = 30.0 // average urban speed
)

// fallbackRoute synthesizes a grid path with estimated distance and
// duration. The synthetic path carries no turn instructions.
func fallbackRoute(from, to geo.Point) *Route {
	distanceM := geo.HaversineMeters(from, to) * fallbackDetourFactor
	durationS := distanceM / 1000.0 / fallbackSpeedKmh * 3600.0
	return &Route{
		Provider:  "fallback",
		Geometry:  geo.GridPath(from, to),
		DistanceM: distanceM,
		DurationS: durationS,
		Steps:     []Step{},
	}
}

// backoffRegistry benches providers after a rate-limit answer.
type backoffRegistry struct {
	mu     sync.Mutex
	window time.Duration
	until  map[string]time.Time
	now    func() time.Time
}

func newBackoffRegistry(window time.Duration) *backoffRegistry {
	if window <= 0 {
		window = 120 * time.Second
	}
	return &backoffRegistry{
		window: window,
		until:  make(map[string]time.Time),
		now:    time.Now,
	}
}

func (b *backoffRegistry) bench(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.until[provider] = b.now().Add(b.window)
}

func (b *backoffRegistry) benched(provider string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.until[provider]
	if !ok {
		return false
	}
	if b.now().After(until) {
		delete(b.until, provider)
		return false
	}
	return true
}
