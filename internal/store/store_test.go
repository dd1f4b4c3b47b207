package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dispatcherrors "github.com/sirenlab/dispatchd/internal/errors"
	"github.com/sirenlab/dispatchd/internal/geo"
	"github.com/sirenlab/dispatchd/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "dispatchd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newIncident(t *testing.T, s *Store) *models.Incident {
	t.Helper()
	inc := &models.Incident{
		Description: "Incendio en edificio",
		Address:     "Av. Corrientes 1234",
		Location:    &geo.Point{Lat: -34.6037, Lon: -58.3816},
		Status:      models.IncidentPending,
	}
	inc.ApplyCode(models.CodeRed)
	require.NoError(t, s.CreateIncident(context.Background(), inc))
	return inc
}

func TestIncidentRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	inc := newIncident(t, s)
	assert.NotZero(t, inc.ID)
	assert.NotEmpty(t, inc.PublicID)

	loaded, err := s.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, inc.Description, loaded.Description)
	assert.Equal(t, models.CodeRed, loaded.Code)
	assert.Equal(t, 10, loaded.Priority)
	assert.True(t, loaded.GreenWave)
	require.NotNil(t, loaded.Location)
	assert.InDelta(t, -34.6037, loaded.Location.Lat, 1e-9)

	byPublic, err := s.GetIncidentByPublicID(ctx, inc.PublicID)
	require.NoError(t, err)
	assert.Equal(t, inc.ID, byPublic.ID)

	_, err = s.GetIncident(ctx, 9999)
	assert.ErrorIs(t, err, dispatcherrors.ErrNotFound)
}

func TestUpdateIncident(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	inc := newIncident(t, s)
	force := models.ForceFire
	inc.Status = models.IncidentAssigned
	inc.AssignedForce = &force
	inc.AIResponse = "Emergencia de bomberos crítica."
	require.NoError(t, s.UpdateIncident(ctx, inc))

	loaded, err := s.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentAssigned, loaded.Status)
	require.NotNil(t, loaded.AssignedForce)
	assert.Equal(t, models.ForceFire, *loaded.AssignedForce)
}

func TestVehicleAndAgentAvailability(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	v1 := &models.Vehicle{Force: models.ForceFire, Type: "fire_engine",
		Status: models.VehicleAvailable, CurrentLocation: &geo.Point{Lat: -34.60, Lon: -58.38}}
	v2 := &models.Vehicle{Force: models.ForceFire, Type: "fire_engine", Status: models.VehicleBusy}
	v3 := &models.Vehicle{Force: models.ForcePolice, Type: "patrol", Status: models.VehicleAvailable}
	for _, v := range []*models.Vehicle{v1, v2, v3} {
		require.NoError(t, s.CreateVehicle(ctx, v))
	}

	fire, err := s.AvailableVehicles(ctx, models.ForceFire)
	require.NoError(t, err)
	require.Len(t, fire, 1)
	assert.Equal(t, v1.ID, fire[0].ID)

	a := &models.Agent{Force: models.ForceFire, Name: "Bombero Díaz", Status: models.AgentAvailable}
	require.NoError(t, s.CreateAgent(ctx, a))
	agents, err := s.AvailableAgents(ctx, models.ForceFire)
	require.NoError(t, err)
	require.Len(t, agents, 1)

	a.Status = models.AgentEnRoute
	require.NoError(t, s.UpdateAgent(ctx, a))
	agents, err = s.AvailableAgents(ctx, models.ForceFire)
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func TestUpsertDispatchUniquePerForce(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	inc := newIncident(t, s)

	d := &models.Dispatch{IncidentID: inc.ID, Force: models.ForceFire,
		Status: models.DispatchDispatched}
	require.NoError(t, s.UpsertDispatch(ctx, d))
	firstID := d.ID

	vehicleID := int64(7)
	d2 := &models.Dispatch{IncidentID: inc.ID, Force: models.ForceFire,
		VehicleID: &vehicleID, Status: models.DispatchEnRoute}
	require.NoError(t, s.UpsertDispatch(ctx, d2))
	assert.Equal(t, firstID, d2.ID, "same (incident, force) must reuse the row")

	list, err := s.DispatchesForIncident(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.DispatchEnRoute, list[0].Status)
	require.NotNil(t, list[0].VehicleID)
	assert.Equal(t, vehicleID, *list[0].VehicleID)
}

func TestRewriteRoutesReplacesActiveSet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	inc := newIncident(t, s)

	geom := geo.LineStringFromPoints(
		geo.Point{Lat: -34.60, Lon: -58.38}, geo.Point{Lat: -34.61, Lon: -58.39})

	first := []models.CalculatedRoute{
		{ResourceID: "vehicle_1", ResourceType: "fire_engine - fire",
			DistanceKm: 3.2, EstimatedMin: 8, PriorityScore: 3.2, Geometry: geom},
		{ResourceID: "agent_1", ResourceType: "agent - fire",
			DistanceKm: 2.8, EstimatedMin: 7, PriorityScore: 2.8, Geometry: geom},
	}
	require.NoError(t, s.RewriteRoutes(ctx, inc.ID, first))

	second := []models.CalculatedRoute{
		{ResourceID: "vehicle_2", ResourceType: "fire_engine - fire",
			DistanceKm: 1.5, EstimatedMin: 4, PriorityScore: 1.5, Geometry: geom},
	}
	require.NoError(t, s.RewriteRoutes(ctx, inc.ID, second))

	active, err := s.ActiveRoutes(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, active, 1, "re-plan must replace, not accumulate")
	assert.Equal(t, "vehicle_2", active[0].ResourceID)
	assert.Len(t, active[0].Geometry, 2)
}

func TestActiveRoutesOrderedByScore(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	inc := newIncident(t, s)

	routes := []models.CalculatedRoute{
		{ResourceID: "vehicle_9", ResourceType: "patrol - police", PriorityScore: 9.0},
		{ResourceID: "vehicle_2", ResourceType: "patrol - police", PriorityScore: 2.0},
		{ResourceID: "vehicle_5", ResourceType: "patrol - police", PriorityScore: 5.0},
	}
	require.NoError(t, s.RewriteRoutes(ctx, inc.ID, routes))

	active, err := s.ActiveRoutes(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "vehicle_2", active[0].ResourceID)
	assert.Equal(t, "vehicle_9", active[2].ResourceID)
}

func TestResolveIncidentReleasesEverything(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	inc := newIncident(t, s)

	v := &models.Vehicle{Force: models.ForceFire, Type: "fire_engine",
		Status: models.VehicleEnRoute, TargetLocation: inc.Location}
	require.NoError(t, s.CreateVehicle(ctx, v))
	a := &models.Agent{Force: models.ForceFire, Name: "Bombero Gómez",
		Status: models.AgentEnRoute, TargetLocation: inc.Location}
	require.NoError(t, s.CreateAgent(ctx, a))

	d := &models.Dispatch{IncidentID: inc.ID, Force: models.ForceFire,
		VehicleID: &v.ID, AgentID: &a.ID, Status: models.DispatchEnRoute}
	require.NoError(t, s.UpsertDispatch(ctx, d))
	require.NoError(t, s.RewriteRoutes(ctx, inc.ID, []models.CalculatedRoute{
		{ResourceID: models.VehicleResourceID(v.ID), ResourceType: "fire_engine - fire"},
	}))

	now := time.Now()
	require.NoError(t, s.ResolveIncident(ctx, inc.ID, "Controlado sin heridos", now))

	loaded, err := s.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentResolved, loaded.Status)
	assert.Equal(t, "Controlado sin heridos", loaded.ResolutionNotes)
	require.NotNil(t, loaded.ResolvedAt)

	vehicle, err := s.GetVehicle(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VehicleAvailable, vehicle.Status)
	assert.Nil(t, vehicle.TargetLocation)

	agent, err := s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentAvailable, agent.Status)

	active, err := s.ActiveRoutes(ctx, inc.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.RoutesForIncident(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.RouteCompleted, all[0].Status)
	assert.NotNil(t, all[0].CompletedAt)

	dispatches, err := s.DispatchesForIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchFinished, dispatches[0].Status)

	// Resolving twice is a conflict.
	err = s.ResolveIncident(ctx, inc.ID, "otra vez", now)
	assert.ErrorIs(t, err, dispatcherrors.ErrConflict)
}

func TestClosureUpsertAndActiveWindow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	loc := geo.Point{Lat: -34.6, Lon: -58.4}
	active := models.StreetClosure{ExternalID: "c1", Name: "Corte 9 de Julio",
		ClosureType: "total", Location: &loc, StartAt: now.Add(-time.Hour), IsActive: true}
	future := models.StreetClosure{ExternalID: "c2", Name: "Obra futura",
		ClosureType: "partial", Location: &loc, StartAt: now.Add(time.Hour), IsActive: true}
	past := now.Add(-10 * time.Minute)
	ended := models.StreetClosure{ExternalID: "c3", Name: "Evento terminado",
		ClosureType: "total", Location: &loc, StartAt: now.Add(-3 * time.Hour),
		EndAt: &past, IsActive: true}

	for _, c := range []models.StreetClosure{active, future, ended} {
		created, err := s.UpsertClosure(ctx, c)
		require.NoError(t, err)
		assert.True(t, created)
	}

	// Second upsert of the same external ID is an update, not a create.
	created, err := s.UpsertClosure(ctx, active)
	require.NoError(t, err)
	assert.False(t, created)

	current, err := s.ActiveClosures(ctx, now)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, "c1", current[0].ExternalID)

	require.NoError(t, s.DeactivateClosuresExcept(ctx, []string{"c2"}))
	current, err = s.ActiveClosures(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, current)
}

func TestRecentTrafficCounts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := models.TrafficCount{ExternalID: "t1", LocationName: "Av. 9 de Julio",
		Location: geo.Point{Lat: -34.6, Lon: -58.38}, CountType: models.CountSpeed,
		CountValue: 12, Unit: "km/h", Timestamp: now.Add(-30 * time.Minute)}
	stale := models.TrafficCount{ExternalID: "t2", LocationName: "Av. Rivadavia",
		Location: geo.Point{Lat: -34.61, Lon: -58.4}, CountType: models.CountVehicle,
		CountValue: 1800, Unit: "vehicles", Timestamp: now.Add(-5 * time.Hour)}

	for _, c := range []models.TrafficCount{fresh, stale} {
		_, err := s.UpsertTrafficCount(ctx, c)
		require.NoError(t, err)
	}

	recent, err := s.RecentTrafficCounts(ctx, now.Add(-2*time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "t1", recent[0].ExternalID)
}

func TestLockIncidentSerializes(t *testing.T) {
	s := testStore(t)

	unlock := s.LockIncident(1)
	acquired := make(chan struct{})
	go func() {
		u := s.LockIncident(1)
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first still held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired after release")
	}
}

func TestDeleteFacilityDetachesFleet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	loc := geo.Point{Lat: -34.6064, Lon: -58.3744}
	facility := &models.Facility{
		Name: "Comisaría 1", Kind: models.FacilityPoliceStation,
		Force: models.ForcePolice, Location: &loc,
	}
	require.NoError(t, s.CreateFacility(ctx, facility))

	v := &models.Vehicle{
		Force: models.ForcePolice, Type: "patrol",
		Status: models.VehicleAvailable, CurrentLocation: &loc,
		HomeFacilityID: &facility.ID,
	}
	require.NoError(t, s.CreateVehicle(ctx, v))
	a := &models.Agent{
		Force: models.ForcePolice, Name: "Oficial Díaz",
		Status: models.AgentAvailable, CurrentLocation: &loc,
		HomeFacilityID: &facility.ID,
	}
	require.NoError(t, s.CreateAgent(ctx, a))

	require.NoError(t, s.DeleteFacility(ctx, facility.ID))

	facilities, err := s.ListFacilities(ctx)
	require.NoError(t, err)
	assert.Empty(t, facilities)

	detachedVehicle, err := s.GetVehicle(ctx, v.ID)
	require.NoError(t, err)
	assert.Nil(t, detachedVehicle.HomeFacilityID, "vehicles are detached, not deleted")
	detachedAgent, err := s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, detachedAgent.HomeFacilityID)

	assert.ErrorIs(t, s.DeleteFacility(ctx, facility.ID), dispatcherrors.ErrNotFound)
}

func TestApplyPlanPersistsWriteSetAtomically(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	inc := newIncident(t, s)
	v := &models.Vehicle{Force: models.ForceFire, Type: "fire_engine",
		Status: models.VehicleAvailable, CurrentLocation: &geo.Point{Lat: -34.60, Lon: -58.38}}
	require.NoError(t, s.CreateVehicle(ctx, v))

	v.Status = models.VehicleEnRoute
	v.TargetLocation = inc.Location
	inc.Status = models.IncidentAssigned
	d := &models.Dispatch{IncidentID: inc.ID, Force: models.ForceFire,
		VehicleID: &v.ID, Status: models.DispatchDispatched}

	require.NoError(t, s.ApplyPlan(ctx, &PlanWrite{
		Incident:   inc,
		Vehicles:   []*models.Vehicle{v},
		Dispatches: []*models.Dispatch{d},
		Routes: []models.CalculatedRoute{{
			ResourceID:   models.VehicleResourceID(v.ID),
			ResourceType: "fire_engine - fire",
			DistanceKm:   1.5,
			EstimatedMin: 4,
			Geometry:     geo.LineString{{-58.38, -34.60}, {-58.3816, -34.6037}},
		}},
	}))
	assert.NotZero(t, d.ID, "dispatch IDs are assigned inside the transaction")

	loaded, err := s.GetVehicle(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VehicleEnRoute, loaded.Status)

	routes, err := s.ActiveRoutes(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, routes, 1)

	reloaded, err := s.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentAssigned, reloaded.Status)
}

func TestApplyPlanRollsBackOnFailure(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	v := &models.Vehicle{Force: models.ForcePolice, Type: "patrol",
		Status: models.VehicleAvailable, CurrentLocation: &geo.Point{Lat: -34.60, Lon: -58.38}}
	require.NoError(t, s.CreateVehicle(ctx, v))

	// The incident row does not exist, so the final update fails and the
	// earlier fleet and dispatch writes must be rolled back with it.
	ghost := &models.Incident{ID: 9999, Status: models.IncidentAssigned}
	ghost.ApplyCode(models.CodeRed)
	v.Status = models.VehicleEnRoute

	err := s.ApplyPlan(ctx, &PlanWrite{
		Incident: ghost,
		Vehicles: []*models.Vehicle{v},
		Dispatches: []*models.Dispatch{{IncidentID: ghost.ID,
			Force: models.ForcePolice, VehicleID: &v.ID,
			Status: models.DispatchDispatched}},
	})
	assert.ErrorIs(t, err, dispatcherrors.ErrNotFound)

	untouched, err := s.GetVehicle(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VehicleAvailable, untouched.Status,
		"a failed plan must not strand the vehicle en route")

	dispatches, err := s.DispatchesForIncident(ctx, ghost.ID)
	require.NoError(t, err)
	assert.Empty(t, dispatches)
}
