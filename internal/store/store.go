// Package store provides persistent storage for the dispatch domain using
// SQLite for durability across restarts.
//
// SQLite is opened in WAL mode with a single writer connection. Geometry
// and coordinates are serialized as JSON text columns; timestamps are
// stored as RFC 3339 UTC strings.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	dispatcherrors "github.com/sirenlab/dispatchd/internal/errors"
	"github.com/sirenlab/dispatchd/internal/geo"
)

// dbtx is the shared surface of *sql.DB and *sql.Tx, so write helpers can
// run standalone or inside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store provides persistent dispatch-domain storage.
type Store struct {
	db *sql.DB

	// Serializes planning per incident so concurrent re-plans cannot
	// interleave their route rewrites.
	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

// New opens (or creates) the database at path and initializes the schema.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, locks: make(map[int64]*sync.Mutex)}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Dispatch store initialized")
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS incident (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			public_id TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL,
			address TEXT NOT NULL DEFAULT '',
			lat REAL,
			lon REAL,
			code TEXT NOT NULL,
			priority INTEGER NOT NULL,
			status TEXT NOT NULL,
			green_wave INTEGER NOT NULL DEFAULT 0,
			assigned_force TEXT,
			assigned_vehicle_id INTEGER,
			reported_at TEXT NOT NULL,
			resolved_at TEXT,
			resolution_notes TEXT NOT NULL DEFAULT '',
			ai_response TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_incident_status ON incident(status);

		CREATE TABLE IF NOT EXISTS facility (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			force TEXT NOT NULL,
			lat REAL,
			lon REAL
		);

		CREATE TABLE IF NOT EXISTS hospital (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			lat REAL,
			lon REAL,
			total_beds INTEGER NOT NULL DEFAULT 0,
			occupied_beds INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS vehicle (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			force TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			lat REAL,
			lon REAL,
			target_lat REAL,
			target_lon REAL,
			home_facility_id INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_vehicle_force_status ON vehicle(force, status);

		CREATE TABLE IF NOT EXISTS agent (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			force TEXT NOT NULL,
			name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			lat REAL,
			lon REAL,
			target_lat REAL,
			target_lon REAL,
			assigned_vehicle_id INTEGER,
			home_facility_id INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_agent_force_status ON agent(force, status);

		CREATE TABLE IF NOT EXISTS dispatch (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			incident_id INTEGER NOT NULL REFERENCES incident(id),
			force TEXT NOT NULL,
			vehicle_id INTEGER,
			agent_id INTEGER,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(incident_id, force)
		);

		CREATE TABLE IF NOT EXISTS calculated_route (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			incident_id INTEGER NOT NULL REFERENCES incident(id),
			resource_id TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			distance_km REAL NOT NULL,
			estimated_minutes REAL NOT NULL,
			priority_score REAL NOT NULL,
			geometry TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL,
			calculated_at TEXT NOT NULL,
			completed_at TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_route_incident_status
		ON calculated_route(incident_id, status);

		CREATE TABLE IF NOT EXISTS street_closure (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			closure_type TEXT NOT NULL,
			lat REAL,
			lon REAL,
			geometry TEXT NOT NULL DEFAULT '[]',
			start_at TEXT NOT NULL,
			end_at TEXT,
			is_active INTEGER NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS idx_closure_active
		ON street_closure(is_active, start_at, end_at);

		CREATE TABLE IF NOT EXISTS traffic_count (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id TEXT NOT NULL UNIQUE,
			location_name TEXT NOT NULL,
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			count_type TEXT NOT NULL,
			count_value REAL NOT NULL,
			unit TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			period_minutes INTEGER NOT NULL DEFAULT 60
		);
		CREATE INDEX IF NOT EXISTS idx_count_timestamp ON traffic_count(timestamp);

		CREATE TABLE IF NOT EXISTS parking_spot (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			spot_type TEXT NOT NULL,
			total_spaces INTEGER NOT NULL DEFAULT 0,
			available_spaces INTEGER NOT NULL DEFAULT 0,
			is_paid INTEGER NOT NULL DEFAULT 0,
			max_duration_hours INTEGER,
			is_active INTEGER NOT NULL DEFAULT 1
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// LockIncident serializes work on one incident. The returned function
// releases the lock.
func (s *Store) LockIncident(id int64) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// --- serialization helpers ---

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseStoredTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseStoredTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseStoredTime(s.String)
	return &t
}

func pointCols(p *geo.Point) (any, any) {
	if p == nil {
		return nil, nil
	}
	return p.Lat, p.Lon
}

func pointFromCols(lat, lon sql.NullFloat64) *geo.Point {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &geo.Point{Lat: lat.Float64, Lon: lon.Float64}
}

func geomJSON(ls geo.LineString) string {
	if len(ls) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ls)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func geomFromJSON(s string) geo.LineString {
	if s == "" || s == "[]" {
		return nil
	}
	var ls geo.LineString
	if err := json.Unmarshal([]byte(s), &ls); err != nil {
		return nil
	}
	return ls
}

func nullStr(s sql.NullString) string {
	if s.Valid {
		return s.String
	}
	return ""
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func anyOrNil[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// notFound wraps sql.ErrNoRows into the shared taxonomy.
func notFound(op string, err error) error {
	if err == sql.ErrNoRows {
		return dispatcherrors.New(dispatcherrors.KindNotFound, op, err)
	}
	return err
}

// WithTx runs fn inside a transaction, rolling back on error.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
