package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database that holds field metadata, quarantined
// values and stream run logs.
type DB struct {
	conn *sql.DB
	path string
}

// New opens (or creates) the SQLite file at dbPath and migrates it.
func New(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer, avoids SQLITE_BUSY
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, path: dbPath}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Conn returns the underlying database connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS field_profiles (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			field_name TEXT NOT NULL UNIQUE,
			total_count INTEGER NOT NULL DEFAULT 0,
			drift_state TEXT NOT NULL DEFAULT 'STABLE',
			dominant_type TEXT NOT NULL DEFAULT '',
			profile_json TEXT NOT NULL DEFAULT '{}',
			cardinality BLOB,
			first_seen_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS drift_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			field_name TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			window_json TEXT NOT NULL DEFAULT '{}',
			detected_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_drift_events_field ON drift_events(field_name)`,
		`CREATE TABLE IF NOT EXISTS placement_decisions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			field_name TEXT NOT NULL,
			backend TEXT NOT NULL,
			reason_code TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			decided_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_placement_decisions_field ON placement_decisions(field_name)`,
		// Values held back while their field drifts
		`CREATE TABLE IF NOT EXISTS quarantined_values (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			record_id TEXT NOT NULL DEFAULT '',
			field_name TEXT NOT NULL,
			value_json TEXT NOT NULL DEFAULT 'null',
			reason_code TEXT NOT NULL DEFAULT '',
			held_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quarantined_values_field ON quarantined_values(field_name)`,
		`CREATE TABLE IF NOT EXISTS stream_runs (
			id TEXT PRIMARY KEY,
			source_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'running',
			records_read INTEGER NOT NULL DEFAULT 0,
			records_held INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			finished_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stream_runs_started ON stream_runs(started_at)`,
		`ALTER TABLE field_profiles ADD COLUMN approx_distinct INTEGER NOT NULL DEFAULT 0`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			// ALTER TABLE fails if the column already exists
			if strings.Contains(m, "ALTER TABLE") && strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %s: %w", m[:40], err)
		}
	}

	return nil
}
