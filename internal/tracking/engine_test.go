package tracking

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirenlab/dispatchd/internal/geo"
	"github.com/sirenlab/dispatchd/internal/models"
	"github.com/sirenlab/dispatchd/internal/store"
)

// expectedFactor recomputes the factor from first principles so the test
// does not depend on the production helpers.
func expectedFactor(seed string, peak bool, redMultiplier float64) float64 {
	h := fnv.New64a()
	h.Write([]byte(seed))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	f := 0.85 + rng.Float64()*0.5
	if peak {
		f *= 1.05 + rng.Float64()*0.2
	}
	f *= redMultiplier
	return math.Min(math.Max(f, 0.45), 1.75)
}

func TestTrafficFactorGreenWaveAtRushHour(t *testing.T) {
	const incidentID = int64(42)

	got := TrafficFactor("vehicle_test", incidentID, models.CodeRed, true, 8)
	want := expectedFactor("vehicle_test-42", true, 0.6)
	assert.Equal(t, want, got)

	// Same pair, same draw.
	assert.Equal(t, got, TrafficFactor("vehicle_test", incidentID, models.CodeRed, true, 8))

	// Different incident reseeds.
	assert.NotEqual(t, got, TrafficFactor("vehicle_test", incidentID+1, models.CodeRed, true, 8))
}

func TestTrafficFactorOffPeakSkipsPeakDraw(t *testing.T) {
	got := TrafficFactor("vehicle_9", 7, models.CodeYellow, false, 12)
	assert.Equal(t, expectedFactor("vehicle_9-7", false, 1.0), got)
}

func TestTrafficFactorRedWithoutGreenWave(t *testing.T) {
	got := TrafficFactor("agent_3", 11, models.CodeRed, false, 18)
	assert.Equal(t, expectedFactor("agent_3-11", true, 0.85), got)
}

func TestTrafficFactorStaysInBounds(t *testing.T) {
	resources := []string{"vehicle_1", "vehicle_2", "agent_5", "vehicle_test"}
	for _, r := range resources {
		for hour := 0; hour < 24; hour++ {
			f := TrafficFactor(r, 99, models.CodeRed, true, hour)
			assert.GreaterOrEqual(t, f, 0.45)
			assert.LessOrEqual(t, f, 1.75)
		}
	}
}

func TestIsPeakHour(t *testing.T) {
	peaks := map[int]bool{6: false, 7: true, 9: true, 10: false,
		16: false, 17: true, 19: true, 20: false, 23: false}
	for hour, want := range peaks {
		assert.Equal(t, want, isPeakHour(hour), "hour %d", hour)
	}
}

func testEngine(t *testing.T, at time.Time) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "dispatchd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	e := NewEngine(st, time.UTC, zerolog.Nop())
	e.now = func() time.Time { return at }
	return e, st
}

func seedIncident(t *testing.T, st *store.Store, code models.Code) *models.Incident {
	t.Helper()
	at := geo.Point{Lat: -34.6083, Lon: -58.3712}
	inc := &models.Incident{
		Description: "Choque en avenida",
		Location:    &at,
		Status:      models.IncidentAssigned,
	}
	inc.ApplyCode(code)
	require.NoError(t, st.CreateIncident(context.Background(), inc))
	return inc
}

func seedRoute(t *testing.T, st *store.Store, inc *models.Incident,
	resourceID string, geometry geo.LineString, distanceKm, estMin float64,
	calculatedAt time.Time) models.CalculatedRoute {
	t.Helper()
	routes := []models.CalculatedRoute{{
		ResourceID:   resourceID,
		ResourceType: "patrol - police",
		DistanceKm:   distanceKm,
		EstimatedMin: estMin,
		Geometry:     geometry,
		CalculatedAt: calculatedAt,
	}}
	require.NoError(t, st.RewriteRoutes(context.Background(), inc.ID, routes))
	return routes[0]
}

func TestSnapshotMidway(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) // off-peak
	e, st := testEngine(t, now)
	ctx := context.Background()

	inc := seedIncident(t, st, models.CodeYellow)
	start := geo.Point{Lat: -34.6037, Lon: -58.3816}
	end := geo.Point{Lat: -34.6083, Lon: -58.3712}
	geometry := geo.LineStringFromPoints(start, end)

	factor := TrafficFactor("vehicle_1", inc.ID, inc.Code, inc.GreenWave, 12)
	adjustedTotalS := 10 * 60 * factor
	calculatedAt := now.Add(-time.Duration(adjustedTotalS/2) * time.Second)
	seedRoute(t, st, inc, "vehicle_1", geometry, 1.2, 10, calculatedAt)

	snaps, err := e.ForIncident(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	s := snaps[0]

	assert.Equal(t, factor, s.TrafficFactor)
	assert.InDelta(t, 0.5, s.Progress, 0.01)
	assert.InDelta(t, 0.6, s.RemainingKm, 0.02)
	assert.InDelta(t, adjustedTotalS/2/60, s.EtaRemainingMin, 0.05)

	// Halfway point lies inside the bounding box of the endpoints.
	assert.GreaterOrEqual(t, s.CurrentPoint.Lat, math.Min(start.Lat, end.Lat))
	assert.LessOrEqual(t, s.CurrentPoint.Lat, math.Max(start.Lat, end.Lat))
	assert.GreaterOrEqual(t, s.CurrentPoint.Lon, math.Min(start.Lon, end.Lon))
	assert.LessOrEqual(t, s.CurrentPoint.Lon, math.Max(start.Lon, end.Lon))

	// Speed is the planned speed divided by the factor.
	assert.InDelta(t, (1.2/(10.0/60))/factor, s.SpeedKmh, 0.001)
}

func TestSnapshotClampsProgress(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e, st := testEngine(t, now)
	ctx := context.Background()

	inc := seedIncident(t, st, models.CodeGreen)
	geometry := geo.LineStringFromPoints(
		geo.Point{Lat: -34.6037, Lon: -58.3816},
		geo.Point{Lat: -34.6083, Lon: -58.3712})

	// Route calculated hours ago: progress caps at 1, ETA at 0.
	seedRoute(t, st, inc, "vehicle_1", geometry, 1.2, 5, now.Add(-6*time.Hour))
	snaps, err := e.ForIncident(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 1.0, snaps[0].Progress)
	assert.Equal(t, 0.0, snaps[0].EtaRemainingMin)
	assert.Equal(t, 0.0, snaps[0].RemainingKm)

	// Route stamped in the future: progress stays 0 at the start point.
	seedRoute(t, st, inc, "vehicle_1", geometry, 1.2, 5, now.Add(time.Hour))
	snaps, err = e.ForIncident(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 0.0, snaps[0].Progress)
	assert.Equal(t, geometry.Point(0), snaps[0].CurrentPoint)
}

func TestSnapshotSingleVertexGeometry(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e, st := testEngine(t, now)

	inc := seedIncident(t, st, models.CodeGreen)
	only := geo.Point{Lat: -34.6037, Lon: -58.3816}
	seedRoute(t, st, inc, "vehicle_1", geo.LineStringFromPoints(only), 0, 5,
		now.Add(-2*time.Minute))

	snaps, err := e.ForIncident(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, only, snaps[0].CurrentPoint)
}

func TestSnapshotMissingGeometryUsesResourcePosition(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e, st := testEngine(t, now)
	ctx := context.Background()

	at := geo.Point{Lat: -34.6000, Lon: -58.3900}
	v := &models.Vehicle{Force: models.ForcePolice, Type: "patrol",
		Status: models.VehicleEnRoute, CurrentLocation: &at}
	require.NoError(t, st.CreateVehicle(ctx, v))

	inc := seedIncident(t, st, models.CodeGreen)
	seedRoute(t, st, inc, models.VehicleResourceID(v.ID), nil, 1.0, 5,
		now.Add(-2*time.Minute))

	snaps, err := e.ForIncident(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 0.0, snaps[0].Progress)
	assert.Equal(t, at, snaps[0].CurrentPoint)
}

func TestResolvedIncidentFreezesSnapshots(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e, st := testEngine(t, now)
	ctx := context.Background()

	at := geo.Point{Lat: -34.6000, Lon: -58.3900}
	v := &models.Vehicle{Force: models.ForcePolice, Type: "patrol",
		Status: models.VehicleEnRoute, CurrentLocation: &at}
	require.NoError(t, st.CreateVehicle(ctx, v))

	inc := seedIncident(t, st, models.CodeYellow)
	require.NoError(t, st.UpsertDispatch(ctx, &models.Dispatch{
		IncidentID: inc.ID, Force: models.ForcePolice,
		VehicleID: &v.ID, Status: models.DispatchDispatched}))
	seedRoute(t, st, inc, models.VehicleResourceID(v.ID),
		geo.LineStringFromPoints(at, *inc.Location), 1.5, 8,
		now.Add(-time.Minute))

	require.NoError(t, st.ResolveIncident(ctx, inc.ID, "Controlado", now))

	snaps, err := e.ForIncident(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 1.0, snaps[0].Progress)
	assert.Equal(t, 0.0, snaps[0].EtaRemainingMin)
	assert.Equal(t, models.RouteCompleted, snaps[0].RouteStatus)

	released, err := st.GetVehicle(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VehicleAvailable, released.Status)
}

func seedVehicle(t *testing.T, st *store.Store, status models.VehicleStatus) *models.Vehicle {
	t.Helper()
	at := geo.Point{Lat: -34.6037, Lon: -58.3816}
	v := &models.Vehicle{Force: models.ForcePolice, Type: "patrol",
		Status: status, CurrentLocation: &at}
	require.NoError(t, st.CreateVehicle(context.Background(), v))
	return v
}

func TestLiveCoversOnlyActiveRoutes(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e, st := testEngine(t, now)
	ctx := context.Background()

	geometry := geo.LineStringFromPoints(
		geo.Point{Lat: -34.6037, Lon: -58.3816},
		geo.Point{Lat: -34.6083, Lon: -58.3712})

	v1 := seedVehicle(t, st, models.VehicleEnRoute)
	v2 := seedVehicle(t, st, models.VehicleEnRoute)
	first := seedIncident(t, st, models.CodeYellow)
	second := seedIncident(t, st, models.CodeGreen)
	seedRoute(t, st, first, models.VehicleResourceID(v1.ID), geometry, 1.2, 10, now.Add(-time.Minute))
	seedRoute(t, st, second, models.VehicleResourceID(v2.ID), geometry, 1.2, 10, now.Add(-time.Minute))

	snaps, err := e.Live(ctx)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)

	require.NoError(t, st.ResolveIncident(ctx, second.ID, "", now))
	snaps, err = e.Live(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, first.ID, snaps[0].IncidentID)
}

func TestLiveSkipsUndispatchedCandidates(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e, st := testEngine(t, now)
	ctx := context.Background()

	geometry := geo.LineStringFromPoints(
		geo.Point{Lat: -34.6037, Lon: -58.3816},
		geo.Point{Lat: -34.6083, Lon: -58.3712})

	chosen := seedVehicle(t, st, models.VehicleEnRoute)
	standby := seedVehicle(t, st, models.VehicleAvailable)
	inc := seedIncident(t, st, models.CodeYellow)

	// Both routes are persisted, but only the dispatched vehicle moves.
	routes := []models.CalculatedRoute{
		{ResourceID: models.VehicleResourceID(chosen.ID), ResourceType: "patrol - police",
			DistanceKm: 1.2, EstimatedMin: 10, Geometry: geometry,
			CalculatedAt: now.Add(-time.Minute)},
		{ResourceID: models.VehicleResourceID(standby.ID), ResourceType: "patrol - police",
			DistanceKm: 1.4, EstimatedMin: 12, Geometry: geometry, PriorityScore: 1,
			CalculatedAt: now.Add(-time.Minute)},
	}
	require.NoError(t, st.RewriteRoutes(ctx, inc.ID, routes))

	snaps, err := e.Live(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, models.VehicleResourceID(chosen.ID), snaps[0].ResourceID)

	// The per-incident view still exposes the full candidate set.
	all, err := e.ForIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestResourceSpeeds(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e, st := testEngine(t, now)
	ctx := context.Background()

	v := seedVehicle(t, st, models.VehicleEnRoute)
	inc := seedIncident(t, st, models.CodeYellow)
	geometry := geo.LineStringFromPoints(
		geo.Point{Lat: -34.6037, Lon: -58.3816},
		geo.Point{Lat: -34.6083, Lon: -58.3712})
	seedRoute(t, st, inc, models.VehicleResourceID(v.ID), geometry, 1.2, 10,
		now.Add(-time.Minute))

	speeds := e.ResourceSpeeds(ctx, inc.ID)
	require.Len(t, speeds, 1)

	factor := TrafficFactor(models.VehicleResourceID(v.ID), inc.ID, inc.Code, inc.GreenWave, 12)
	assert.InDelta(t, (1.2/(10.0/60))/factor, speeds[models.VehicleResourceID(v.ID)], 0.001)

	assert.Nil(t, e.ResourceSpeeds(ctx, 9999), "unknown incidents yield no speeds")
}
