// Package rawstore implements RawEventStore: upsert-by-message_id
// persistence of raw gateway events with a payload checksum, plus the
// filtered iteration replay depends on.
//
// Grounded on pkg/eventstore's SQLStore: a *sql.DB handle, a driver string
// normalized to "pgx" in production (the stdlib pgx/v5 driver) or "sqlite"
// in tests, and queries authored with '?' placeholders rewritten per
// driver via sqlutil.Rewrite.
package rawstore

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ridgeline-oss/ridgeline"
	"github.com/ridgeline-oss/ridgeline/pkg/sqlutil"
)

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS evt_raw_events (
	id_event     BIGSERIAL PRIMARY KEY,
	message_id   TEXT UNIQUE NOT NULL,
	event_type   TEXT NOT NULL,
	event_time   TIMESTAMPTZ NOT NULL,
	payload      JSONB NOT NULL,
	checksum     VARCHAR(32) NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evt_raw_events_event_time ON evt_raw_events (event_time DESC);
CREATE INDEX IF NOT EXISTS idx_evt_raw_events_event_type ON evt_raw_events (event_type);
`

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS evt_raw_events (
	id_event     INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id   TEXT UNIQUE NOT NULL,
	event_type   TEXT NOT NULL,
	event_time   TIMESTAMP NOT NULL,
	payload      TEXT NOT NULL,
	checksum     VARCHAR(32) NOT NULL,
	processed_at TIMESTAMP NOT NULL,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evt_raw_events_event_time ON evt_raw_events (event_time DESC);
CREATE INDEX IF NOT EXISTS idx_evt_raw_events_event_type ON evt_raw_events (event_type);
`

// Filter selects rows from Search/CountSearch.
type Filter struct {
	EventType string
	From      time.Time
	To        time.Time
}

// Store is the RawEventStore (ES).
type Store struct {
	db     *sql.DB
	driver string
	logger ridgeline.Logger
}

// New opens/creates the evt_raw_events schema on db and returns a Store.
// driver is the sql.Open driver name ("pgx" in production, "sqlite" in
// tests); it is normalized via sqlutil.NormalizeDriver.
func New(db *sql.DB, driver string, logger ridgeline.Logger) (*Store, error) {
	s := &Store{db: db, driver: sqlutil.NormalizeDriver(driver), logger: logger}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, &ridgeline.StoreError{Op: "init_schema", Err: err}
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == "pgx" || s.driver == "postgres" {
		schema = schemaPostgres
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, sqlutil.Rewrite(s.driver, query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, sqlutil.Rewrite(s.driver, query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, sqlutil.Rewrite(s.driver, query), args...)
}

// UpsertResult reports whether Upsert inserted a new row or updated an
// existing one.
type UpsertResult string

const (
	Inserted UpsertResult = "inserted"
	Updated  UpsertResult = "updated"
)

// Upsert writes a raw event keyed by message_id. A conflict on message_id
// replaces payload, event_type, event_time, and checksum, and refreshes
// processed_at; it is never treated as an error. Connectivity failures
// raise ridgeline.StoreError.
func (s *Store) Upsert(ctx context.Context, messageID, eventType string, eventTime time.Time, payload []byte) (UpsertResult, error) {
	if messageID == "" {
		return "", &ridgeline.StoreError{Op: "upsert", Err: fmt.Errorf("empty message_id")}
	}

	sum := md5.Sum(payload)
	checksum := hex.EncodeToString(sum[:])
	now := time.Now().UTC()

	existed, err := s.existsByMessageID(ctx, messageID)
	if err != nil {
		return "", &ridgeline.StoreError{Op: "upsert_check", Err: err}
	}

	if s.driver == "pgx" || s.driver == "postgres" {
		_, err = s.exec(ctx, `
			INSERT INTO evt_raw_events (message_id, event_type, event_time, payload, checksum, processed_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (message_id) DO UPDATE SET
				event_type = EXCLUDED.event_type,
				event_time = EXCLUDED.event_time,
				payload = EXCLUDED.payload,
				checksum = EXCLUDED.checksum,
				processed_at = EXCLUDED.processed_at
		`, messageID, eventType, eventTime.UTC(), payload, checksum, now, now)
	} else if existed {
		_, err = s.exec(ctx, `
			UPDATE evt_raw_events SET event_type=?, event_time=?, payload=?, checksum=?, processed_at=?
			WHERE message_id=?
		`, eventType, eventTime.UTC(), payload, checksum, now, messageID)
	} else {
		_, err = s.exec(ctx, `
			INSERT INTO evt_raw_events (message_id, event_type, event_time, payload, checksum, processed_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, messageID, eventType, eventTime.UTC(), payload, checksum, now, now)
	}
	if err != nil {
		return "", &ridgeline.StoreError{Op: "upsert", Err: err}
	}

	if existed {
		return Updated, nil
	}
	return Inserted, nil
}

func (s *Store) existsByMessageID(ctx context.Context, messageID string) (bool, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(1) FROM evt_raw_events WHERE message_id = ?`, messageID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Record is one raw event row.
type Record struct {
	MessageID   string
	EventType   string
	EventTime   time.Time
	Payload     []byte
	Checksum    string
	ProcessedAt time.Time
	CreatedAt   time.Time
}

// FindByID returns the row for id, or nil if absent.
func (s *Store) FindByID(ctx context.Context, messageID string) (*Record, error) {
	row := s.queryRow(ctx, `
		SELECT message_id, event_type, event_time, payload, checksum, processed_at, created_at
		FROM evt_raw_events WHERE message_id = ?
	`, messageID)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &ridgeline.StoreError{Op: "find_by_id", Err: err}
	}
	return r, nil
}

func scanRecord(row *sql.Row) (*Record, error) {
	var r Record
	if err := row.Scan(&r.MessageID, &r.EventType, &r.EventTime, &r.Payload, &r.Checksum, &r.ProcessedAt, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

const maxPageSize = 500

// Search returns rows matching filter, sorted by event_time descending,
// capped at maxPageSize.
func (s *Store) Search(ctx context.Context, filter Filter, limit int) ([]Record, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	query := `SELECT message_id, event_type, event_time, payload, checksum, processed_at, created_at FROM evt_raw_events WHERE 1=1`
	var args []interface{}
	if filter.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, filter.EventType)
	}
	if !filter.From.IsZero() {
		query += ` AND event_time >= ?`
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		query += ` AND event_time <= ?`
		args = append(args, filter.To.UTC())
	}
	query += ` ORDER BY event_time DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, &ridgeline.StoreError{Op: "search", Err: err}
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.MessageID, &r.EventType, &r.EventTime, &r.Payload, &r.Checksum, &r.ProcessedAt, &r.CreatedAt); err != nil {
			return nil, &ridgeline.StoreError{Op: "search_scan", Err: err}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountSearch is the row count for the same filter Search accepts.
func (s *Store) CountSearch(ctx context.Context, filter Filter) (int, error) {
	query := `SELECT COUNT(1) FROM evt_raw_events WHERE 1=1`
	var args []interface{}
	if filter.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, filter.EventType)
	}
	if !filter.From.IsZero() {
		query += ` AND event_time >= ?`
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		query += ` AND event_time <= ?`
		args = append(args, filter.To.UTC())
	}
	var n int
	if err := s.queryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, &ridgeline.StoreError{Op: "count_search", Err: err}
	}
	return n, nil
}

// DistinctEventTypes returns the set of event_type values currently stored.
func (s *Store) DistinctEventTypes(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `SELECT DISTINCT event_type FROM evt_raw_events ORDER BY event_type`)
	if err != nil {
		return nil, &ridgeline.StoreError{Op: "distinct_event_types", Err: err}
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
