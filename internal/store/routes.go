package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dispatcherrors "github.com/sirenlab/dispatchd/internal/errors"
	"github.com/sirenlab/dispatchd/internal/models"
)

// --- dispatches ---

// UpsertDispatch opens a dispatch for (incident, force) or refreshes the
// vehicle, agent and status of the existing one.
func (s *Store) UpsertDispatch(ctx context.Context, d *models.Dispatch) error {
	return upsertDispatch(ctx, s.db, d)
}

func upsertDispatch(ctx context.Context, q dbtx, d *models.Dispatch) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO dispatch (incident_id, force, vehicle_id, agent_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(incident_id, force) DO UPDATE SET
			vehicle_id = excluded.vehicle_id,
			agent_id = excluded.agent_id,
			status = excluded.status`,
		d.IncidentID, string(d.Force), anyOrNil(d.VehicleID), anyOrNil(d.AgentID),
		string(d.Status), fmtTime(d.CreatedAt))
	if err != nil {
		return err
	}

	row := q.QueryRowContext(ctx,
		`SELECT id, created_at FROM dispatch WHERE incident_id = ? AND force = ?`,
		d.IncidentID, string(d.Force))
	var createdAt string
	if err := row.Scan(&d.ID, &createdAt); err != nil {
		return err
	}
	d.CreatedAt = parseStoredTime(createdAt)
	return nil
}

// DispatchesForIncident lists the per-force dispatches of an incident.
func (s *Store) DispatchesForIncident(ctx context.Context, incidentID int64) ([]models.Dispatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, force, vehicle_id, agent_id, status, created_at
		FROM dispatch WHERE incident_id = ? ORDER BY id`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Dispatch
	for rows.Next() {
		var d models.Dispatch
		var force, status, createdAt string
		var vehicle, agent sql.NullInt64
		if err := rows.Scan(&d.ID, &d.IncidentID, &force, &vehicle, &agent,
			&status, &createdAt); err != nil {
			return nil, err
		}
		d.Force = models.Force(force)
		d.Status = models.DispatchStatus(status)
		d.VehicleID = int64Ptr(vehicle)
		d.AgentID = int64Ptr(agent)
		d.CreatedAt = parseStoredTime(createdAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- calculated routes ---

const routeColumns = `id, incident_id, resource_id, resource_type, distance_km,
	estimated_minutes, priority_score, geometry, status, calculated_at, completed_at`

// RewriteRoutes atomically replaces the active route set of an incident:
// every active row is removed and the new set inserted in one transaction.
func (s *Store) RewriteRoutes(ctx context.Context, incidentID int64, routes []models.CalculatedRoute) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		return rewriteRoutes(ctx, tx, incidentID, routes)
	})
}

func rewriteRoutes(ctx context.Context, tx *sql.Tx, incidentID int64, routes []models.CalculatedRoute) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM calculated_route WHERE incident_id = ? AND status = ?`,
		incidentID, string(models.RouteActive)); err != nil {
		return err
	}
	for i := range routes {
		r := &routes[i]
		r.IncidentID = incidentID
		if r.Status == "" {
			r.Status = models.RouteActive
		}
		if r.CalculatedAt.IsZero() {
			r.CalculatedAt = time.Now().UTC()
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO calculated_route (incident_id, resource_id, resource_type,
				distance_km, estimated_minutes, priority_score, geometry, status,
				calculated_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.IncidentID, r.ResourceID, r.ResourceType, r.DistanceKm,
			r.EstimatedMin, r.PriorityScore, geomJSON(r.Geometry),
			string(r.Status), fmtTime(r.CalculatedAt), fmtTimePtr(r.CompletedAt))
		if err != nil {
			return err
		}
		if r.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return nil
}

// PlanWrite is the complete write set of one planning pass.
type PlanWrite struct {
	Incident   *models.Incident
	Vehicles   []*models.Vehicle
	Agents     []*models.Agent
	Dispatches []*models.Dispatch
	Routes     []models.CalculatedRoute
}

// ApplyPlan persists a planning pass in a single transaction: fleet status
// changes, dispatch upserts, the route rewrite and the incident update
// either all land or none do, so a failed re-plan leaves every row in its
// prior state.
func (s *Store) ApplyPlan(ctx context.Context, w *PlanWrite) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, v := range w.Vehicles {
			if err := updateVehicle(ctx, tx, v); err != nil {
				return err
			}
		}
		for _, a := range w.Agents {
			if err := updateAgent(ctx, tx, a); err != nil {
				return err
			}
		}
		for _, d := range w.Dispatches {
			if err := upsertDispatch(ctx, tx, d); err != nil {
				return err
			}
		}
		if err := rewriteRoutes(ctx, tx, w.Incident.ID, w.Routes); err != nil {
			return err
		}
		return updateIncident(ctx, tx, w.Incident)
	})
}

// ActiveRoutes lists the active routes of an incident ordered by priority
// score ascending (best candidate first).
func (s *Store) ActiveRoutes(ctx context.Context, incidentID int64) ([]models.CalculatedRoute, error) {
	return s.routesWhere(ctx,
		`WHERE incident_id = ? AND status = ? ORDER BY priority_score, distance_km, id`,
		incidentID, string(models.RouteActive))
}

// RoutesForIncident lists every route of an incident regardless of status.
func (s *Store) RoutesForIncident(ctx context.Context, incidentID int64) ([]models.CalculatedRoute, error) {
	return s.routesWhere(ctx, `WHERE incident_id = ? ORDER BY id`, incidentID)
}

// AllActiveRoutes lists active routes across incidents, for live tracking.
func (s *Store) AllActiveRoutes(ctx context.Context) ([]models.CalculatedRoute, error) {
	return s.routesWhere(ctx, `WHERE status = ? ORDER BY incident_id, priority_score, id`,
		string(models.RouteActive))
}

func (s *Store) routesWhere(ctx context.Context, where string, args ...any) ([]models.CalculatedRoute, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+routeColumns+` FROM calculated_route `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CalculatedRoute
	for rows.Next() {
		var r models.CalculatedRoute
		var geometry, status, calculatedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.IncidentID, &r.ResourceID, &r.ResourceType,
			&r.DistanceKm, &r.EstimatedMin, &r.PriorityScore, &geometry,
			&status, &calculatedAt, &completedAt); err != nil {
			return nil, err
		}
		r.Geometry = geomFromJSON(geometry)
		r.Status = models.RouteStatus(status)
		r.CalculatedAt = parseStoredTime(calculatedAt)
		r.CompletedAt = parseStoredTimePtr(completedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResolveIncident closes an incident in one transaction: status resolved,
// active routes completed, dispatches finished and every assigned vehicle
// and agent released back to available.
func (s *Store) ResolveIncident(ctx context.Context, incidentID int64, notes string, now time.Time) error {
	now = now.UTC()
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM incident WHERE id = ?`, incidentID).Scan(&status)
		if err != nil {
			return notFound("resolve_incident", err)
		}
		if status == string(models.IncidentResolved) {
			return dispatcherrors.Conflict("resolve_incident",
				fmt.Errorf("incident %d already resolved", incidentID))
		}

		// Operator notes are appended below the plan report, never over it.
		if _, err := tx.ExecContext(ctx, `
			UPDATE incident SET status = ?, resolved_at = ?,
				resolution_notes = CASE
					WHEN ? = '' THEN resolution_notes
					WHEN resolution_notes = '' THEN ?
					ELSE resolution_notes || char(10) || ?
				END
			WHERE id = ?`,
			string(models.IncidentResolved), fmtTime(now),
			notes, notes, notes, incidentID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE calculated_route SET status = ?, completed_at = ?
			WHERE incident_id = ? AND status = ?`,
			string(models.RouteCompleted), fmtTime(now),
			incidentID, string(models.RouteActive)); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE vehicle SET status = ?, target_lat = NULL, target_lon = NULL
			WHERE id IN (SELECT vehicle_id FROM dispatch
				WHERE incident_id = ? AND vehicle_id IS NOT NULL)`,
			string(models.VehicleAvailable), incidentID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE agent SET status = ?, target_lat = NULL, target_lon = NULL
			WHERE id IN (SELECT agent_id FROM dispatch
				WHERE incident_id = ? AND agent_id IS NOT NULL)`,
			string(models.AgentAvailable), incidentID); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE dispatch SET status = ? WHERE incident_id = ?`,
			string(models.DispatchFinished), incidentID)
		return err
	})
}
