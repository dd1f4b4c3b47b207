package greenwave

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirenlab/dispatchd/internal/geo"
	"github.com/sirenlab/dispatchd/internal/models"
)

func testCoordinator(t *testing.T, at time.Time) *Coordinator {
	t.Helper()
	c := NewCoordinator(DefaultCatalog(), zerolog.Nop())
	c.now = func() time.Time { return at }
	return c
}

func redIncident(id int64, at geo.Point) *models.Incident {
	inc := &models.Incident{ID: id, Description: "Incendio en edificio", Location: &at}
	inc.ApplyCode(models.CodeRed)
	return inc
}

func TestActivateOpensWindowsAlongCorridor(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	c := testCoordinator(t, now)

	inc := redIncident(1, geo.Point{Lat: -34.6100, Lon: -58.3770})
	resources := map[string]geo.Point{
		"vehicle_7": {Lat: -34.6037, Lon: -58.3816},
	}

	wave := c.Activate(inc, resources, nil)
	require.NotNil(t, wave)
	require.NotEmpty(t, wave.Windows)
	assert.NotEmpty(t, wave.ID)

	for _, w := range wave.Windows {
		assert.Equal(t, "vehicle_7", w.ResourceID)
		assert.Equal(t, -5*time.Second, w.GreenStart.Sub(w.Arrival))
		hold := w.GreenEnd.Sub(w.Arrival)
		assert.Contains(t, []time.Duration{30 * time.Second, 45 * time.Second}, hold)
		if w.Intersection.Kind == KindSecondary {
			assert.Equal(t, 30*time.Second, hold)
		} else {
			assert.Equal(t, 45*time.Second, hold)
		}
	}

	// Windows are ordered by distance from the resource, so arrivals
	// never decrease.
	for i := 1; i < len(wave.Windows); i++ {
		assert.False(t, wave.Windows[i].Arrival.Before(wave.Windows[i-1].Arrival))
	}

	// The resource sits right on 9 de Julio y Corrientes, so that window
	// opens effectively now.
	first := wave.Windows[0]
	assert.Equal(t, "9julio_corrientes", first.Intersection.ID)
	assert.WithinDuration(t, now, first.Arrival, time.Second)
}

func TestActivateSkipsNonRedIncidents(t *testing.T) {
	c := testCoordinator(t, time.Now())

	inc := &models.Incident{ID: 2, Location: &geo.Point{Lat: -34.6037, Lon: -58.3816}}
	inc.ApplyCode(models.CodeYellow)

	assert.Nil(t, c.Activate(inc, map[string]geo.Point{"vehicle_1": *inc.Location}, nil))
	assert.Equal(t, 0, c.ActivateForIncident(context.Background(), inc, nil))
	assert.Empty(t, c.ActiveWaves())
}

func TestActivateReplacesPreviousWave(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	c := testCoordinator(t, now)

	inc := redIncident(3, geo.Point{Lat: -34.6100, Lon: -58.3770})
	resources := map[string]geo.Point{"vehicle_1": {Lat: -34.6037, Lon: -58.3816}}

	first := c.Activate(inc, resources, nil)
	second := c.Activate(inc, resources, nil)
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID, second.ID)

	waves := c.ActiveWaves()
	require.Len(t, waves, 1, "re-activation replaces, never stacks")
	assert.Equal(t, second.ID, waves[0].ID)
}

func TestWavesExpireAfterTTL(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	c := testCoordinator(t, now)

	inc := redIncident(4, geo.Point{Lat: -34.6100, Lon: -58.3770})
	c.Activate(inc, map[string]geo.Point{"vehicle_1": {Lat: -34.6037, Lon: -58.3816}}, nil)
	require.Len(t, c.ActiveWaves(), 1)

	c.now = func() time.Time { return now.Add(29 * time.Minute) }
	assert.Len(t, c.ActiveWaves(), 1)

	c.now = func() time.Time { return now.Add(31 * time.Minute) }
	assert.Empty(t, c.ActiveWaves())
	assert.Nil(t, c.WaveForIncident(inc.ID))
}

func TestSlowResourceUsesDefaultSpeed(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	c := testCoordinator(t, now)

	inc := redIncident(5, geo.Point{Lat: -34.6100, Lon: -58.3770})
	resources := map[string]geo.Point{"agent_2": {Lat: -34.6037, Lon: -58.3816}}

	slow := c.Activate(inc, resources, map[string]float64{"agent_2": 1.0})
	normal := c.Activate(inc, resources, nil)
	require.NotNil(t, slow)
	require.NotNil(t, normal)
	require.Equal(t, len(normal.Windows), len(slow.Windows))
	for i := range slow.Windows {
		assert.Equal(t, normal.Windows[i].Arrival, slow.Windows[i].Arrival)
	}
}

func TestPerResourceSpeedShortensTravel(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	c := testCoordinator(t, now)

	inc := redIncident(9, geo.Point{Lat: -34.6100, Lon: -58.3770})
	resources := map[string]geo.Point{"vehicle_1": {Lat: -34.6037, Lon: -58.3816}}

	fast := c.Activate(inc, resources, map[string]float64{"vehicle_1": 100})
	normal := c.Activate(inc, resources, nil)
	require.NotNil(t, fast)
	require.NotNil(t, normal)
	require.Equal(t, len(normal.Windows), len(fast.Windows))

	found := false
	for i := range fast.Windows {
		if fast.Windows[i].DistanceM == 0 {
			continue
		}
		found = true
		assert.True(t, fast.Windows[i].Arrival.Before(normal.Windows[i].Arrival),
			"a faster resource reaches %s sooner", fast.Windows[i].Intersection.ID)
	}
	assert.True(t, found, "corridor must contain intersections ahead of the resource")
}

type stubSpeedSource struct {
	speeds map[string]float64
}

func (s stubSpeedSource) ResourceSpeeds(ctx context.Context, incidentID int64) map[string]float64 {
	return s.speeds
}

func TestSpeedSourceFeedsActivation(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	c := testCoordinator(t, now)

	inc := redIncident(10, geo.Point{Lat: -34.6100, Lon: -58.3770})
	resources := map[string]geo.Point{"vehicle_1": {Lat: -34.6037, Lon: -58.3816}}

	want := c.Activate(inc, resources, map[string]float64{"vehicle_1": 100})
	require.NotNil(t, want)

	c.UseSpeedSource(stubSpeedSource{speeds: map[string]float64{"vehicle_1": 100}})
	got := c.ActivateWave(context.Background(), inc, resources)
	require.NotNil(t, got)
	require.Equal(t, len(want.Windows), len(got.Windows))
	for i := range got.Windows {
		assert.Equal(t, want.Windows[i].Arrival, got.Windows[i].Arrival)
	}
}

func TestStatusReportsGreenAndNextGreen(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	c := testCoordinator(t, now)

	inc := redIncident(6, geo.Point{Lat: -34.6100, Lon: -58.3770})
	wave := c.Activate(inc, map[string]geo.Point{"vehicle_1": {Lat: -34.6037, Lon: -58.3816}}, nil)
	require.NotNil(t, wave)
	require.NotEmpty(t, wave.Windows)

	// The window at the resource position is green immediately.
	atResource := wave.Windows[0]
	status := c.Status(atResource.Intersection.ID)
	assert.True(t, status.IsGreen)
	assert.True(t, status.HasEmergency)
	assert.Equal(t, []int64{inc.ID}, status.ActiveIncidents)

	// A farther window is still pending and advertises its start.
	var pending *Window
	for i := range wave.Windows {
		if now.Before(wave.Windows[i].GreenStart) {
			pending = &wave.Windows[i]
			break
		}
	}
	if pending != nil {
		status = c.Status(pending.Intersection.ID)
		assert.False(t, status.IsGreen)
		require.NotNil(t, status.NextGreen)
		assert.Equal(t, pending.GreenStart, *status.NextGreen)
	}

	// Unknown intersections report nothing.
	status = c.Status("no_such_crossing")
	assert.False(t, status.HasEmergency)
	assert.False(t, status.IsGreen)
	assert.Empty(t, status.ActiveIncidents)
}

func TestDeactivate(t *testing.T) {
	c := testCoordinator(t, time.Now())

	inc := redIncident(7, geo.Point{Lat: -34.6100, Lon: -58.3770})
	c.Activate(inc, map[string]geo.Point{"vehicle_1": {Lat: -34.6037, Lon: -58.3816}}, nil)

	assert.True(t, c.Deactivate(inc.ID))
	assert.False(t, c.Deactivate(inc.ID))
	assert.Empty(t, c.ActiveWaves())
}

func TestFarCorridorHasNoWindows(t *testing.T) {
	c := testCoordinator(t, time.Now())

	// A corridor far outside the catalog coverage.
	inc := redIncident(8, geo.Point{Lat: -34.9000, Lon: -58.9000})
	wave := c.Activate(inc, map[string]geo.Point{"vehicle_1": {Lat: -34.9100, Lon: -58.9100}}, nil)
	require.NotNil(t, wave)
	assert.Empty(t, wave.Windows)
	assert.Equal(t, 0, len(c.ActiveWaves()[0].Windows))
}

func TestLoadCatalog(t *testing.T) {
	t.Run("empty path returns default", func(t *testing.T) {
		catalog, err := LoadCatalog("")
		require.NoError(t, err)
		assert.Len(t, catalog, 19)
	})

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "intersections.json")
		data, err := json.Marshal([]Intersection{
			{ID: "test_crossing", Name: "Test", Lat: -34.6, Lon: -58.4, Kind: KindMajor},
		})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data, 0o644))

		catalog, err := LoadCatalog(path)
		require.NoError(t, err)
		require.Len(t, catalog, 1)
		assert.Equal(t, "test_crossing", catalog[0].ID)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})

	t.Run("invalid kind", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path,
			[]byte(`[{"id":"x","name":"X","lat":-34.6,"lon":-58.4,"type":"huge"}]`), 0o644))
		_, err := LoadCatalog(path)
		assert.ErrorContains(t, err, "invalid type")
	})

	t.Run("missing id", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "noid.json")
		require.NoError(t, os.WriteFile(path,
			[]byte(`[{"name":"X","lat":-34.6,"lon":-58.4,"type":"major"}]`), 0o644))
		_, err := LoadCatalog(path)
		assert.ErrorContains(t, err, "no id")
	})
}
