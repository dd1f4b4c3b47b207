// Package mock seeds a database with a deterministic Buenos Aires fleet
// for demos and local development. Seeding is idempotent only in the sense
// that it appends nothing when the fleet tables are already populated.
package mock

import (
	"context"
	"fmt"
	"time"

	"github.com/sirenlab/dispatchd/internal/geo"
	"github.com/sirenlab/dispatchd/internal/models"
	"github.com/sirenlab/dispatchd/internal/store"
)

// Summary reports what one seeding pass created.
type Summary struct {
	Facilities int
	Hospitals  int
	Vehicles   int
	Agents     int
	Closures   int
	Counts     int
}

func (s Summary) String() string {
	return fmt.Sprintf("%d facilities, %d hospitals, %d vehicles, %d agents, %d closures, %d traffic counts",
		s.Facilities, s.Hospitals, s.Vehicles, s.Agents, s.Closures, s.Counts)
}

type facilitySeed struct {
	name     string
	kind     models.FacilityKind
	force    models.Force
	location geo.Point
	vehicles []vehicleSeed
	agents   []agentSeed
}

type vehicleSeed struct {
	vtype  string
	offset geo.Point // small displacement from the facility
}

type agentSeed struct {
	name string
	role string
}

var facilities = []facilitySeed{
	{
		name:     "Comisaría 1 - Microcentro",
		kind:     models.FacilityPoliceStation,
		force:    models.ForcePolice,
		location: geo.Point{Lat: -34.6064, Lon: -58.3744},
		vehicles: []vehicleSeed{
			{vtype: "patrol", offset: geo.Point{Lat: 0.0010, Lon: -0.0015}},
			{vtype: "patrol", offset: geo.Point{Lat: -0.0020, Lon: 0.0012}},
			{vtype: "motorcycle", offset: geo.Point{Lat: 0.0005, Lon: 0.0030}},
		},
		agents: []agentSeed{
			{name: "Oficial Martín Suárez", role: "officer"},
			{name: "Oficial Carla Medina", role: "officer"},
		},
	},
	{
		name:     "Comisaría 5 - Almagro",
		kind:     models.FacilityPoliceStation,
		force:    models.ForcePolice,
		location: geo.Point{Lat: -34.6106, Lon: -58.4200},
		vehicles: []vehicleSeed{
			{vtype: "patrol", offset: geo.Point{Lat: 0.0015, Lon: 0.0010}},
			{vtype: "patrol", offset: geo.Point{Lat: -0.0012, Lon: -0.0025}},
		},
		agents: []agentSeed{
			{name: "Oficial Diego Paredes", role: "officer"},
		},
	},
	{
		name:     "Cuartel de Bomberos Recoleta",
		kind:     models.FacilityFireStation,
		force:    models.ForceFire,
		location: geo.Point{Lat: -34.5880, Lon: -58.3960},
		vehicles: []vehicleSeed{
			{vtype: "fire_engine", offset: geo.Point{Lat: 0.0008, Lon: 0.0008}},
			{vtype: "fire_engine", offset: geo.Point{Lat: -0.0010, Lon: 0.0020}},
			{vtype: "ladder", offset: geo.Point{Lat: 0.0025, Lon: -0.0010}},
		},
		agents: []agentSeed{
			{name: "Bombero Raúl Giménez", role: "firefighter"},
			{name: "Bombera Ana Ríos", role: "firefighter"},
		},
	},
	{
		name:     "Base SAME Centro",
		kind:     models.FacilityTrafficBase,
		force:    models.ForceMedical,
		location: geo.Point{Lat: -34.6090, Lon: -58.3890},
		vehicles: []vehicleSeed{
			{vtype: "ambulance", offset: geo.Point{Lat: 0.0012, Lon: 0.0006}},
			{vtype: "ambulance", offset: geo.Point{Lat: -0.0018, Lon: -0.0014}},
		},
		agents: []agentSeed{
			{name: "Dra. Lucía Ferreyra", role: "paramedic"},
		},
	},
	{
		name:     "Base de Tránsito 9 de Julio",
		kind:     models.FacilityTrafficBase,
		force:    models.ForceTraffic,
		location: geo.Point{Lat: -34.6010, Lon: -58.3818},
		vehicles: []vehicleSeed{
			{vtype: "patrol", offset: geo.Point{Lat: 0.0006, Lon: 0.0010}},
			{vtype: "motorcycle", offset: geo.Point{Lat: -0.0009, Lon: 0.0004}},
		},
		agents: []agentSeed{
			{name: "Agente Nicolás Brito", role: "traffic_agent"},
		},
	},
}

var hospitals = []models.Hospital{
	{Name: "Hospital Argerich", Location: &geo.Point{Lat: -34.6280, Lon: -58.3640}, TotalBeds: 120, OccupiedBeds: 85},
	{Name: "Hospital Ramos Mejía", Location: &geo.Point{Lat: -34.6125, Lon: -58.4045}, TotalBeds: 150, OccupiedBeds: 110},
	{Name: "Hospital Fernández", Location: &geo.Point{Lat: -34.5805, Lon: -58.4080}, TotalBeds: 100, OccupiedBeds: 60},
}

// Seed populates the fleet, facility and feed tables. A database whose
// vehicle table is non-empty is left untouched.
func Seed(ctx context.Context, st *store.Store) (Summary, error) {
	var sum Summary

	existing, err := st.AvailableVehicles(ctx, models.ForcePolice)
	if err != nil {
		return sum, err
	}
	if len(existing) > 0 {
		return sum, nil
	}

	for _, fs := range facilities {
		loc := fs.location
		facility := &models.Facility{Name: fs.name, Kind: fs.kind, Force: fs.force, Location: &loc}
		if err := st.CreateFacility(ctx, facility); err != nil {
			return sum, err
		}
		sum.Facilities++

		for _, vs := range fs.vehicles {
			at := geo.Point{Lat: fs.location.Lat + vs.offset.Lat, Lon: fs.location.Lon + vs.offset.Lon}
			v := &models.Vehicle{
				Force:           fs.force,
				Type:            vs.vtype,
				Status:          models.VehicleAvailable,
				CurrentLocation: &at,
				HomeFacilityID:  &facility.ID,
			}
			if err := st.CreateVehicle(ctx, v); err != nil {
				return sum, err
			}
			sum.Vehicles++
		}
		for _, as := range fs.agents {
			at := fs.location
			a := &models.Agent{
				Force:           fs.force,
				Name:            as.name,
				Role:            as.role,
				Status:          models.AgentAvailable,
				CurrentLocation: &at,
				HomeFacilityID:  &facility.ID,
			}
			if err := st.CreateAgent(ctx, a); err != nil {
				return sum, err
			}
			sum.Agents++
		}
	}

	for i := range hospitals {
		h := hospitals[i]
		if err := st.CreateHospital(ctx, &h); err != nil {
			return sum, err
		}
		sum.Hospitals++
	}

	now := time.Now().UTC()
	closures := []models.StreetClosure{
		{
			ExternalID:  "seed-corte-av-de-mayo",
			Name:        "Corte total Av. de Mayo",
			ClosureType: "total",
			Location:    &geo.Point{Lat: -34.6089, Lon: -58.3800},
			StartAt:     now.Add(-2 * time.Hour),
			IsActive:    true,
		},
		{
			ExternalID:  "seed-obra-corrientes",
			Name:        "Obra sobre Av. Corrientes",
			ClosureType: "partial",
			Location:    &geo.Point{Lat: -34.6037, Lon: -58.3950},
			StartAt:     now.Add(-24 * time.Hour),
			IsActive:    true,
		},
	}
	for _, c := range closures {
		if _, err := st.UpsertClosure(ctx, c); err != nil {
			return sum, err
		}
		sum.Closures++
	}

	counts := []models.TrafficCount{
		{
			ExternalID:   "seed-conteo-9julio",
			LocationName: "Av. 9 de Julio altura Corrientes",
			Location:     geo.Point{Lat: -34.6037, Lon: -58.3816},
			CountType:    models.CountVehicle,
			CountValue:   1650,
			Unit:         "vehicles",
			Timestamp:    now.Add(-20 * time.Minute),
		},
		{
			ExternalID:   "seed-velocidad-libertador",
			LocationName: "Av. del Libertador altura Pueyrredón",
			Location:     geo.Point{Lat: -34.5830, Lon: -58.4000},
			CountType:    models.CountSpeed,
			CountValue:   24,
			Unit:         "km/h",
			Timestamp:    now.Add(-10 * time.Minute),
		},
	}
	for _, c := range counts {
		if _, err := st.UpsertTrafficCount(ctx, c); err != nil {
			return sum, err
		}
		sum.Counts++
	}

	return sum, nil
}
