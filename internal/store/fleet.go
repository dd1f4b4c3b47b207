package store

import (
	"context"
	"database/sql"

	"github.com/sirenlab/dispatchd/internal/models"
)

// --- vehicles ---

const vehicleColumns = `id, force, type, status, lat, lon, target_lat, target_lon, home_facility_id`

// CreateVehicle inserts a vehicle.
func (s *Store) CreateVehicle(ctx context.Context, v *models.Vehicle) error {
	lat, lon := pointCols(v.CurrentLocation)
	tlat, tlon := pointCols(v.TargetLocation)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO vehicle (force, type, status, lat, lon, target_lat, target_lon, home_facility_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(v.Force), v.Type, string(v.Status), lat, lon, tlat, tlon,
		anyOrNil(v.HomeFacilityID))
	if err != nil {
		return err
	}
	v.ID, err = res.LastInsertId()
	return err
}

// GetVehicle loads one vehicle.
func (s *Store) GetVehicle(ctx context.Context, id int64) (*models.Vehicle, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+vehicleColumns+` FROM vehicle WHERE id = ?`, id)
	return scanVehicle(row)
}

// AvailableVehicles lists available vehicles of a force.
func (s *Store) AvailableVehicles(ctx context.Context, force models.Force) ([]models.Vehicle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+vehicleColumns+` FROM vehicle WHERE force = ? AND status = ? ORDER BY id`,
		string(force), string(models.VehicleAvailable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// UpdateVehicle persists status and locations.
func (s *Store) UpdateVehicle(ctx context.Context, v *models.Vehicle) error {
	return updateVehicle(ctx, s.db, v)
}

func updateVehicle(ctx context.Context, q dbtx, v *models.Vehicle) error {
	lat, lon := pointCols(v.CurrentLocation)
	tlat, tlon := pointCols(v.TargetLocation)
	_, err := q.ExecContext(ctx, `
		UPDATE vehicle SET force = ?, type = ?, status = ?, lat = ?, lon = ?,
			target_lat = ?, target_lon = ?, home_facility_id = ?
		WHERE id = ?`,
		string(v.Force), v.Type, string(v.Status), lat, lon, tlat, tlon,
		anyOrNil(v.HomeFacilityID), v.ID)
	return err
}

func scanVehicle(row rowScanner) (*models.Vehicle, error) {
	var v models.Vehicle
	var force, status string
	var lat, lon, tlat, tlon sql.NullFloat64
	var home sql.NullInt64

	err := row.Scan(&v.ID, &force, &v.Type, &status, &lat, &lon, &tlat, &tlon, &home)
	if err != nil {
		return nil, notFound("get_vehicle", err)
	}
	v.Force = models.Force(force)
	v.Status = models.VehicleStatus(status)
	v.CurrentLocation = pointFromCols(lat, lon)
	v.TargetLocation = pointFromCols(tlat, tlon)
	v.HomeFacilityID = int64Ptr(home)
	return &v, nil
}

// --- agents ---

const agentColumns = `id, force, name, role, status, lat, lon, target_lat, target_lon,
	assigned_vehicle_id, home_facility_id`

// CreateAgent inserts an agent.
func (s *Store) CreateAgent(ctx context.Context, a *models.Agent) error {
	lat, lon := pointCols(a.CurrentLocation)
	tlat, tlon := pointCols(a.TargetLocation)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO agent (force, name, role, status, lat, lon, target_lat,
			target_lon, assigned_vehicle_id, home_facility_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(a.Force), a.Name, a.Role, string(a.Status), lat, lon, tlat, tlon,
		anyOrNil(a.AssignedVehicleID), anyOrNil(a.HomeFacilityID))
	if err != nil {
		return err
	}
	a.ID, err = res.LastInsertId()
	return err
}

// GetAgent loads one agent.
func (s *Store) GetAgent(ctx context.Context, id int64) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agent WHERE id = ?`, id)
	return scanAgent(row)
}

// AvailableAgents lists available agents of a force.
func (s *Store) AvailableAgents(ctx context.Context, force models.Force) ([]models.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agent WHERE force = ? AND status = ? ORDER BY id`,
		string(force), string(models.AgentAvailable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// UpdateAgent persists status and locations.
func (s *Store) UpdateAgent(ctx context.Context, a *models.Agent) error {
	return updateAgent(ctx, s.db, a)
}

func updateAgent(ctx context.Context, q dbtx, a *models.Agent) error {
	lat, lon := pointCols(a.CurrentLocation)
	tlat, tlon := pointCols(a.TargetLocation)
	_, err := q.ExecContext(ctx, `
		UPDATE agent SET force = ?, name = ?, role = ?, status = ?, lat = ?,
			lon = ?, target_lat = ?, target_lon = ?, assigned_vehicle_id = ?,
			home_facility_id = ?
		WHERE id = ?`,
		string(a.Force), a.Name, a.Role, string(a.Status), lat, lon, tlat, tlon,
		anyOrNil(a.AssignedVehicleID), anyOrNil(a.HomeFacilityID), a.ID)
	return err
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	var a models.Agent
	var force, status string
	var lat, lon, tlat, tlon sql.NullFloat64
	var vehicle, home sql.NullInt64

	err := row.Scan(&a.ID, &force, &a.Name, &a.Role, &status, &lat, &lon,
		&tlat, &tlon, &vehicle, &home)
	if err != nil {
		return nil, notFound("get_agent", err)
	}
	a.Force = models.Force(force)
	a.Status = models.AgentStatus(status)
	a.CurrentLocation = pointFromCols(lat, lon)
	a.TargetLocation = pointFromCols(tlat, tlon)
	a.AssignedVehicleID = int64Ptr(vehicle)
	a.HomeFacilityID = int64Ptr(home)
	return &a, nil
}

// --- facilities and hospitals ---

// CreateFacility inserts a base station.
func (s *Store) CreateFacility(ctx context.Context, f *models.Facility) error {
	lat, lon := pointCols(f.Location)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO facility (name, kind, force, lat, lon) VALUES (?, ?, ?, ?, ?)`,
		f.Name, string(f.Kind), string(f.Force), lat, lon)
	if err != nil {
		return err
	}
	f.ID, err = res.LastInsertId()
	return err
}

// DeleteFacility removes a base station, detaching its vehicles and agents
// instead of cascading.
func (s *Store) DeleteFacility(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE vehicle SET home_facility_id = NULL WHERE home_facility_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE agent SET home_facility_id = NULL WHERE home_facility_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM facility WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return notFound("delete_facility", sql.ErrNoRows)
		}
		return nil
	})
}

// ListFacilities lists every base station.
func (s *Store) ListFacilities(ctx context.Context) ([]models.Facility, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, kind, force, lat, lon FROM facility ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Facility
	for rows.Next() {
		var f models.Facility
		var kind, force string
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&f.ID, &f.Name, &kind, &force, &lat, &lon); err != nil {
			return nil, err
		}
		f.Kind = models.FacilityKind(kind)
		f.Force = models.Force(force)
		f.Location = pointFromCols(lat, lon)
		out = append(out, f)
	}
	return out, rows.Err()
}

// CreateHospital inserts a hospital.
func (s *Store) CreateHospital(ctx context.Context, h *models.Hospital) error {
	lat, lon := pointCols(h.Location)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO hospital (name, lat, lon, total_beds, occupied_beds) VALUES (?, ?, ?, ?, ?)`,
		h.Name, lat, lon, h.TotalBeds, h.OccupiedBeds)
	if err != nil {
		return err
	}
	h.ID, err = res.LastInsertId()
	return err
}

// ListHospitals lists every hospital.
func (s *Store) ListHospitals(ctx context.Context) ([]models.Hospital, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, lat, lon, total_beds, occupied_beds FROM hospital ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Hospital
	for rows.Next() {
		var h models.Hospital
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&h.ID, &h.Name, &lat, &lon, &h.TotalBeds, &h.OccupiedBeds); err != nil {
			return nil, err
		}
		h.Location = pointFromCols(lat, lon)
		out = append(out, h)
	}
	return out, rows.Err()
}
