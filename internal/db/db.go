// Package db provides a centralized database connection and schema for clarad.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Users - the authorization subjects. Credentials/sessions live elsewhere.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			is_admin INTEGER NOT NULL DEFAULT 0,
			is_guest INTEGER NOT NULL DEFAULT 0,
			nlp_enabled INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}

	// Permission grants - labels, not identifiers, so grants survive device
	// replacement. Set semantics via the unique constraint.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS permission_grants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
			UNIQUE(user_id, kind, value)
		);
		CREATE INDEX IF NOT EXISTS idx_grants_user ON permission_grants(user_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create permission_grants table: %w", err)
	}

	// Resolved permission sets - the cascade expansion computed at grant-save
	// time. Deliberately NOT refreshed when the directory changes later.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS resolved_permissions (
			user_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			label TEXT NOT NULL,
			resolved_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, kind, label),
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create resolved_permissions table: %w", err)
	}

	// Command ledger - append-only history of executed batches and their
	// per-operation outcomes, for auditing assistant-proposed actions.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS command_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id TEXT NOT NULL,
			user_id INTEGER,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_batch ON command_ledger(batch_id);
		CREATE INDEX IF NOT EXISTS idx_ledger_type_ts ON command_ledger(event_type, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create command_ledger table: %w", err)
	}

	return nil
}
