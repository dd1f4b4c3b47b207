package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sirenlab/dispatchd/internal/models"
)

const incidentColumns = `id, public_id, description, address, lat, lon, code, priority,
	status, green_wave, assigned_force, assigned_vehicle_id, reported_at,
	resolved_at, resolution_notes, ai_response`

// CreateIncident inserts a new incident. A public ID is minted when the
// caller did not set one.
func (s *Store) CreateIncident(ctx context.Context, inc *models.Incident) error {
	if inc.PublicID == "" {
		inc.PublicID = strings.ToLower(ulid.Make().String())
	}
	if inc.ReportedAt.IsZero() {
		inc.ReportedAt = time.Now().UTC()
	}
	lat, lon := pointCols(inc.Location)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO incident (public_id, description, address, lat, lon, code,
			priority, status, green_wave, assigned_force, assigned_vehicle_id,
			reported_at, resolved_at, resolution_notes, ai_response)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.PublicID, inc.Description, inc.Address, lat, lon, string(inc.Code),
		inc.Priority, string(inc.Status), inc.GreenWave,
		anyOrNil(inc.AssignedForce), anyOrNil(inc.AssignedVehicleID),
		fmtTime(inc.ReportedAt), fmtTimePtr(inc.ResolvedAt),
		inc.ResolutionNotes, inc.AIResponse)
	if err != nil {
		return err
	}
	inc.ID, err = res.LastInsertId()
	return err
}

// GetIncident loads one incident by primary key.
func (s *Store) GetIncident(ctx context.Context, id int64) (*models.Incident, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incident WHERE id = ?`, id)
	return scanIncident(row)
}

// GetIncidentByPublicID loads one incident by its public identifier.
func (s *Store) GetIncidentByPublicID(ctx context.Context, publicID string) (*models.Incident, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incident WHERE public_id = ?`, publicID)
	return scanIncident(row)
}

// ListIncidents returns incidents, optionally filtered by status, newest
// first.
func (s *Store) ListIncidents(ctx context.Context, status models.IncidentStatus) ([]models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incident`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY reported_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inc)
	}
	return out, rows.Err()
}

// UpdateIncident persists every mutable incident field.
func (s *Store) UpdateIncident(ctx context.Context, inc *models.Incident) error {
	return updateIncident(ctx, s.db, inc)
}

func updateIncident(ctx context.Context, q dbtx, inc *models.Incident) error {
	lat, lon := pointCols(inc.Location)
	res, err := q.ExecContext(ctx, `
		UPDATE incident SET description = ?, address = ?, lat = ?, lon = ?,
			code = ?, priority = ?, status = ?, green_wave = ?,
			assigned_force = ?, assigned_vehicle_id = ?, resolved_at = ?,
			resolution_notes = ?, ai_response = ?
		WHERE id = ?`,
		inc.Description, inc.Address, lat, lon, string(inc.Code), inc.Priority,
		string(inc.Status), inc.GreenWave, anyOrNil(inc.AssignedForce),
		anyOrNil(inc.AssignedVehicleID), fmtTimePtr(inc.ResolvedAt),
		inc.ResolutionNotes, inc.AIResponse, inc.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return notFound("update_incident", sql.ErrNoRows)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	var inc models.Incident
	var lat, lon sql.NullFloat64
	var code, status string
	var assignedForce sql.NullString
	var assignedVehicle sql.NullInt64
	var reportedAt string
	var resolvedAt sql.NullString

	err := row.Scan(&inc.ID, &inc.PublicID, &inc.Description, &inc.Address,
		&lat, &lon, &code, &inc.Priority, &status, &inc.GreenWave,
		&assignedForce, &assignedVehicle, &reportedAt, &resolvedAt,
		&inc.ResolutionNotes, &inc.AIResponse)
	if err != nil {
		return nil, notFound("get_incident", err)
	}

	inc.Location = pointFromCols(lat, lon)
	inc.Code = models.Code(code)
	inc.Status = models.IncidentStatus(status)
	if assignedForce.Valid {
		f := models.Force(assignedForce.String)
		inc.AssignedForce = &f
	}
	inc.AssignedVehicleID = int64Ptr(assignedVehicle)
	inc.ReportedAt = parseStoredTime(reportedAt)
	inc.ResolvedAt = parseStoredTimePtr(resolvedAt)
	return &inc, nil
}
