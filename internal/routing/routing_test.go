package routing

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirenlab/dispatchd/internal/config"
	dispatcherrors "github.com/sirenlab/dispatchd/internal/errors"
	"github.com/sirenlab/dispatchd/internal/geo"
)

var (
	obelisco  = geo.Point{Lat: -34.6037, Lon: -58.3816}
	palermo   = geo.Point{Lat: -34.5880, Lon: -58.4306}
	caballito = geo.Point{Lat: -34.6190, Lon: -58.4400}
)

func offlineResolver(t *testing.T) *Resolver {
	t.Helper()
	t.Setenv("ROUTING_OFFLINE", "true")
	cfg, err := config.Load()
	require.NoError(t, err)
	return NewResolver(cfg, zerolog.Nop())
}

func TestResolveOffline(t *testing.T) {
	r := offlineResolver(t)

	route := r.Resolve(context.Background(), obelisco, palermo)
	require.NotNil(t, route)
	assert.Equal(t, "fallback", route.Provider)
	assert.GreaterOrEqual(t, len(route.Geometry), 6)
	assert.Greater(t, route.DistanceM, 0.0)
	assert.Greater(t, route.DurationS, 0.0)

	// Fallback distance carries the urban detour factor over the straight line.
	straight := geo.HaversineMeters(obelisco, palermo)
	assert.InDelta(t, straight*fallbackDetourFactor, route.DistanceM, 1.0)
}

func TestResolveCacheReturnsIndependentCopies(t *testing.T) {
	r := offlineResolver(t)

	first := r.Resolve(context.Background(), obelisco, palermo)
	first.Geometry[0] = [2]float64{0, 0}

	second := r.Resolve(context.Background(), obelisco, palermo)
	assert.NotEqual(t, [2]float64{0, 0}, second.Geometry[0],
		"mutating a returned route must not corrupt the cache")
}

func TestRouteCacheEviction(t *testing.T) {
	c := newRouteCache(2)
	mk := func(name string) *Route {
		return &Route{Provider: name, Geometry: geo.LineString{{0, 0}, {1, 1}}}
	}
	c.put("a", mk("a"))
	c.put("b", mk("b"))

	// Touch "a" so "b" is the eviction candidate.
	_, ok := c.get("a")
	require.True(t, ok)

	c.put("c", mk("c"))
	assert.Equal(t, 2, c.len())
	_, ok = c.get("b")
	assert.False(t, ok, "least recently used entry must be evicted")
	_, ok = c.get("a")
	assert.True(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
}

func TestCacheKeyRounding(t *testing.T) {
	a := cacheKey(geo.Point{Lat: -34.6037001, Lon: -58.3816004}, palermo)
	b := cacheKey(geo.Point{Lat: -34.6037004, Lon: -58.3815996}, palermo)
	assert.Equal(t, a, b, "sub-meter jitter must share a cache entry")

	c := cacheKey(caballito, palermo)
	assert.NotEqual(t, a, c)
}

// stubProvider counts calls and returns a fixed answer or error.
type stubProvider struct {
	name  string
	calls int
	route *Route
	err   error
}

func (s *stubProvider) Route(ctx context.Context, from, to geo.Point) (*Route, error) {
	s.calls++
	return s.route, s.err
}

func (s *stubProvider) Name() string { return s.name }

func rateLimitErr(provider string) error {
	return dispatcherrors.New(dispatcherrors.KindProvider, "route",
		fmt.Errorf("HTTP 429")).WithProvider(provider).WithStatusCode(429)
}

func TestResolveChainFallsThrough(t *testing.T) {
	failing := &stubProvider{name: "first", err: fmt.Errorf("connection refused")}
	working := &stubProvider{name: "second", route: &Route{
		Provider:  "second",
		Geometry:  geo.LineString{{-58.3816, -34.6037}, {-58.4306, -34.5880}},
		DistanceM: 5000,
		DurationS: 600,
	}}
	r := &Resolver{
		providers: []Provider{failing, working},
		cache:     newRouteCache(8),
		backoff:   newBackoffRegistry(time.Minute),
		logger:    zerolog.Nop(),
	}

	route := r.Resolve(context.Background(), obelisco, palermo)
	assert.Equal(t, "second", route.Provider)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, working.calls)
}

func TestResolveBenchesRateLimitedProvider(t *testing.T) {
	limited := &stubProvider{name: "limited", err: rateLimitErr("limited")}
	backup := &stubProvider{name: "backup", route: &Route{
		Provider: "backup",
		Geometry: geo.LineString{{-58.3816, -34.6037}, {-58.4306, -34.5880}},
	}}
	r := &Resolver{
		providers: []Provider{limited, backup},
		cache:     newRouteCache(8),
		backoff:   newBackoffRegistry(time.Minute),
		logger:    zerolog.Nop(),
	}

	r.Resolve(context.Background(), obelisco, palermo)
	assert.Equal(t, 1, limited.calls)

	// A different origin misses the cache; the benched provider is skipped.
	r.Resolve(context.Background(), caballito, palermo)
	assert.Equal(t, 1, limited.calls, "benched provider must not be consulted")
	assert.Equal(t, 2, backup.calls)
}

func TestBackoffWindowExpires(t *testing.T) {
	now := time.Now()
	b := newBackoffRegistry(2 * time.Minute)
	b.now = func() time.Time { return now }

	b.bench("p")
	assert.True(t, b.benched("p"))

	now = now.Add(time.Minute)
	assert.True(t, b.benched("p"))

	now = now.Add(90 * time.Second)
	assert.False(t, b.benched("p"), "window elapsed, provider is back in the chain")
}

func TestFallbackRouteHasNoTurnInstructions(t *testing.T) {
	route := fallbackRoute(obelisco, palermo)
	require.NotNil(t, route.Steps, "steps serialize as an empty list, not null")
	assert.Empty(t, route.Steps)
}

func TestOSRMParsesTurnInstructions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "true", req.URL.Query().Get("steps"),
			"turn instructions must be requested")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"code": "Ok",
			"routes": [{
				"geometry": {"coordinates": [[-58.3816, -34.6037], [-58.4306, -34.5880]]},
				"distance": 5200.5,
				"duration": 640.2,
				"legs": [{
					"steps": [
						{"distance": 300.0, "duration": 45.0, "name": "Av. 9 de Julio",
						 "maneuver": {"type": "depart", "modifier": ""}},
						{"distance": 4900.5, "duration": 595.2, "name": "Av. Santa Fe",
						 "maneuver": {"type": "turn", "modifier": "left"}}
					]
				}]
			}]
		}`)
	}))
	defer server.Close()

	p := NewOSRM(server.URL, time.Second)
	route, err := p.Route(context.Background(), obelisco, palermo)
	require.NoError(t, err)

	require.Len(t, route.Steps, 2)
	assert.Equal(t, Step{Instruction: "depart", Name: "Av. 9 de Julio",
		DistanceM: 300.0, DurationS: 45.0}, route.Steps[0])
	assert.Equal(t, Step{Instruction: "turn left", Name: "Av. Santa Fe",
		DistanceM: 4900.5, DurationS: 595.2}, route.Steps[1])
}

func TestRouteCloneCopiesSteps(t *testing.T) {
	original := &Route{
		Provider: "second",
		Geometry: geo.LineString{{-58.3816, -34.6037}, {-58.4306, -34.5880}},
		Steps:    []Step{{Instruction: "depart", DistanceM: 100, DurationS: 10}},
	}
	clone := original.Clone()
	clone.Steps[0].Instruction = "changed"
	assert.Equal(t, "depart", original.Steps[0].Instruction,
		"mutating a clone must not touch the cached steps")
}

func TestResolverChainOrder(t *testing.T) {
	t.Setenv("MAPBOX_API_KEY", "mb")
	t.Setenv("OPENROUTE_API_KEY", "ors")
	t.Setenv("GRAPHHOPPER_API_KEY", "gh")
	t.Setenv("OSRM_HOSTS", "https://osrm.example.com")
	cfg, err := config.Load()
	require.NoError(t, err)

	r := NewResolver(cfg, zerolog.Nop())
	assert.Equal(t, []string{
		"mapbox",
		"openrouteservice",
		"osrm:https://osrm.example.com",
		"graphhopper",
		"fallback",
	}, r.ProviderNames())
}
