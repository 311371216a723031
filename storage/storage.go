// Package storage persists the one-minute power samples and run-time
// counters the scheduler's tasks need across restarts, generalising
// sensor_logger.py's per-minute "power" table insert and
// pool_pump.py's already_ran_today_for query onto Postgres via
// database/sql and lib/pq, in the style of the teacher's
// scheduler/mpc_persistence.go (prepared statements, explicit
// transactions, wrapped errors).
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PowerLog records one-minute power samples keyed by sensor record key,
// the table already_ran_today_for scans.
type PowerLog struct {
	db *sql.DB
}

// Open connects to a Postgres database at dsn and ensures the tables this
// package owns exist.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS power (
			timestamp timestamptz PRIMARY KEY,
			key text NOT NULL,
			watts double precision NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create power table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS power_key_timestamp_idx ON power (key, timestamp)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create power index: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS key_value_store (
			key text PRIMARY KEY,
			value text NOT NULL,
			updated_at timestamptz NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create key_value_store table: %w", err)
	}
	return db, nil
}

// NewPowerLog wraps an open database for power-sample logging.
func NewPowerLog(db *sql.DB) *PowerLog {
	return &PowerLog{db: db}
}

// Record appends one minute's power reading for key (sensor_logger.py's
// per-minute insert loop), keyed and timestamped to the minute so repeated
// ticks within the same minute overwrite rather than duplicate.
func (p *PowerLog) Record(ctx context.Context, key string, at time.Time, watts float64) error {
	minute := at.Truncate(time.Minute)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO power (timestamp, key, watts) VALUES ($1, $2, $3)
		ON CONFLICT (timestamp) DO UPDATE SET key = EXCLUDED.key, watts = EXCLUDED.watts
	`, minute, key, watts)
	if err != nil {
		return fmt.Errorf("storage: record power: %w", err)
	}
	return nil
}

// RunTimeTracker answers how long a device already ran today, generalising
// pool_pump.py's already_ran_today_for: a minute counts if its logged power
// exceeded minPower.
type RunTimeTracker struct {
	log *PowerLog
	key string
}

// NewRunTimeTracker builds a RunTimeTracker that scans the power log for
// the given sensor key.
func NewRunTimeTracker(log *PowerLog, key string) *RunTimeTracker {
	return &RunTimeTracker{log: log, key: key}
}

// RanToday returns how much of today the tracked device has already run,
// counting any minute whose logged power exceeded minPower.
func (r *RunTimeTracker) RanToday(minPower float64) time.Duration {
	today := time.Now().Truncate(24 * time.Hour)
	var minutes int
	row := r.log.db.QueryRow(`
		SELECT count(*) FROM power
		WHERE key = $1 AND timestamp >= $2 AND watts > $3
	`, r.key, today, minPower)
	if err := row.Scan(&minutes); err != nil {
		return 0
	}
	return time.Duration(minutes) * time.Minute
}

// KeyValueStore is a small opaque-blob persistence layer for configuration
// the scheduler derives at runtime and wants to survive a restart: warm-up
// priorities, fitted model parameters, and similar values that have no
// home in a typed table of their own.
type KeyValueStore struct {
	db *sql.DB
}

// NewKeyValueStore wraps an open database for opaque key/value persistence.
func NewKeyValueStore(db *sql.DB) *KeyValueStore {
	return &KeyValueStore{db: db}
}

// Get returns the stored value for key, or ok=false if absent.
func (s *KeyValueStore) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM key_value_store WHERE key = $1`, key)
	switch err := row.Scan(&value); err {
	case nil:
		return value, true, nil
	case sql.ErrNoRows:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("storage: get %q: %w", key, err)
	}
}

// Set upserts value for key.
func (s *KeyValueStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO key_value_store (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("storage: set %q: %w", key, err)
	}
	return nil
}
