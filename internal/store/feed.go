package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/sirenlab/dispatchd/internal/models"
)

// --- street closures ---

// UpsertClosure inserts or refreshes a closure by external ID. Reports
// whether a new row was created.
func (s *Store) UpsertClosure(ctx context.Context, c models.StreetClosure) (bool, error) {
	var before int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM street_closure WHERE external_id = ?`,
		c.ExternalID).Scan(&before); err != nil {
		return false, err
	}
	lat, lon := pointCols(c.Location)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO street_closure (external_id, name, closure_type, lat, lon,
			geometry, start_at, end_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			name = excluded.name,
			closure_type = excluded.closure_type,
			lat = excluded.lat,
			lon = excluded.lon,
			geometry = excluded.geometry,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			is_active = excluded.is_active`,
		c.ExternalID, c.Name, c.ClosureType, lat, lon, geomJSON(c.Geometry),
		fmtTime(c.StartAt), fmtTimePtr(c.EndAt), c.IsActive)
	return before == 0, err
}

// DeactivateClosuresExcept marks every closure not in externalIDs inactive.
func (s *Store) DeactivateClosuresExcept(ctx context.Context, externalIDs []string) error {
	if len(externalIDs) == 0 {
		_, err := s.db.ExecContext(ctx, `UPDATE street_closure SET is_active = 0`)
		return err
	}
	args := make([]any, len(externalIDs))
	for i, id := range externalIDs {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE street_closure SET is_active = 0 WHERE external_id NOT IN (`+
			placeholders(len(externalIDs))+`)`, args...)
	return err
}

// ActiveClosures lists closures currently in force.
func (s *Store) ActiveClosures(ctx context.Context, now time.Time) ([]models.StreetClosure, error) {
	ts := fmtTime(now)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_id, name, closure_type, lat, lon, geometry,
			start_at, end_at, is_active
		FROM street_closure
		WHERE is_active = 1 AND start_at <= ? AND (end_at IS NULL OR end_at >= ?)
		ORDER BY id`, ts, ts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.StreetClosure
	for rows.Next() {
		var c models.StreetClosure
		var lat, lon sql.NullFloat64
		var geometry, startAt string
		var endAt sql.NullString
		if err := rows.Scan(&c.ID, &c.ExternalID, &c.Name, &c.ClosureType,
			&lat, &lon, &geometry, &startAt, &endAt, &c.IsActive); err != nil {
			return nil, err
		}
		c.Location = pointFromCols(lat, lon)
		c.Geometry = geomFromJSON(geometry)
		c.StartAt = parseStoredTime(startAt)
		c.EndAt = parseStoredTimePtr(endAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- traffic counts ---

// UpsertTrafficCount inserts or refreshes a measurement by external ID.
func (s *Store) UpsertTrafficCount(ctx context.Context, c models.TrafficCount) (bool, error) {
	var before int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM traffic_count WHERE external_id = ?`,
		c.ExternalID).Scan(&before); err != nil {
		return false, err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO traffic_count (external_id, location_name, lat, lon,
			count_type, count_value, unit, timestamp, period_minutes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			location_name = excluded.location_name,
			lat = excluded.lat,
			lon = excluded.lon,
			count_type = excluded.count_type,
			count_value = excluded.count_value,
			unit = excluded.unit,
			timestamp = excluded.timestamp,
			period_minutes = excluded.period_minutes`,
		c.ExternalID, c.LocationName, c.Location.Lat, c.Location.Lon,
		string(c.CountType), c.CountValue, c.Unit, fmtTime(c.Timestamp),
		c.PeriodMinutes)
	return before == 0, err
}

// RecentTrafficCounts lists measurements taken at or after since.
func (s *Store) RecentTrafficCounts(ctx context.Context, since time.Time) ([]models.TrafficCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_id, location_name, lat, lon, count_type,
			count_value, unit, timestamp, period_minutes
		FROM traffic_count WHERE timestamp >= ? ORDER BY timestamp DESC`,
		fmtTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TrafficCount
	for rows.Next() {
		var c models.TrafficCount
		var countType, timestamp string
		if err := rows.Scan(&c.ID, &c.ExternalID, &c.LocationName,
			&c.Location.Lat, &c.Location.Lon, &countType, &c.CountValue,
			&c.Unit, &timestamp, &c.PeriodMinutes); err != nil {
			return nil, err
		}
		c.CountType = models.CountType(countType)
		c.Timestamp = parseStoredTime(timestamp)
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- parking ---

// UpsertParkingSpot inserts or refreshes a parking facility by external ID.
func (s *Store) UpsertParkingSpot(ctx context.Context, p models.ParkingSpot) (bool, error) {
	var before int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM parking_spot WHERE external_id = ?`,
		p.ExternalID).Scan(&before); err != nil {
		return false, err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parking_spot (external_id, name, lat, lon, spot_type,
			total_spaces, available_spaces, is_paid, max_duration_hours, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(external_id) DO UPDATE SET
			name = excluded.name,
			lat = excluded.lat,
			lon = excluded.lon,
			spot_type = excluded.spot_type,
			total_spaces = excluded.total_spaces,
			available_spaces = excluded.available_spaces,
			is_paid = excluded.is_paid,
			max_duration_hours = excluded.max_duration_hours,
			is_active = 1`,
		p.ExternalID, p.Name, p.Location.Lat, p.Location.Lon, p.SpotType,
		p.TotalSpaces, p.AvailableSpaces, p.IsPaid, anyOrNil(p.MaxDurationHours))
	return before == 0, err
}

// ListParkingSpots lists active parking facilities.
func (s *Store) ListParkingSpots(ctx context.Context) ([]models.ParkingSpot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_id, name, lat, lon, spot_type, total_spaces,
			available_spaces, is_paid, max_duration_hours, is_active
		FROM parking_spot WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ParkingSpot
	for rows.Next() {
		var p models.ParkingSpot
		var maxDuration sql.NullInt64
		if err := rows.Scan(&p.ID, &p.ExternalID, &p.Name, &p.Location.Lat,
			&p.Location.Lon, &p.SpotType, &p.TotalSpaces, &p.AvailableSpaces,
			&p.IsPaid, &maxDuration, &p.IsActive); err != nil {
			return nil, err
		}
		if maxDuration.Valid {
			n := int(maxDuration.Int64)
			p.MaxDurationHours = &n
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
