// Package storage implements the persistence contract of spec.md §4.6 over
// SQLite: stories, channels, subscriptions, conversations, and search.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite connection pool. database/sql already serializes
// access safely; the core's "async mutex, hand out connections" contract
// (spec.md §5) maps directly onto *sql.DB's own pool plus
// context.Context-bound calls, so no extra locking wrapper is added here —
// see DESIGN.md.
type DB struct {
	sql  *sql.DB
	path string
}

// Open opens or creates the SQLite database in configDir, in WAL mode with
// a busy_timeout, exactly as the teacher's storage layer does, and runs
// every migration.
func Open(configDir string) (*DB, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create config dir: %w", err)
	}
	dbPath := filepath.Join(configDir, "data.db")

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	if _, err := sqlDB.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("storage: configure database: %w", err)
	}

	db := &DB{sql: sqlDB, path: dbPath}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection pool.
func (d *DB) Close() error { return d.sql.Close() }

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

func (d *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stories (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			name        TEXT NOT NULL,
			header      TEXT NOT NULL DEFAULT '',
			body        TEXT NOT NULL DEFAULT '',
			public      INTEGER NOT NULL DEFAULT 0,
			channel     TEXT NOT NULL DEFAULT '',
			created_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stories_created_at ON stories(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_stories_channel ON stories(channel)`,

		`CREATE TABLE IF NOT EXISTS channels (
			name        TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			creator     TEXT NOT NULL DEFAULT '',
			created_at  INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS subscriptions (
			channel TEXT PRIMARY KEY
		)`,

		`CREATE TABLE IF NOT EXISTS conversations (
			peer_id             TEXT PRIMARY KEY,
			peer_alias          TEXT NOT NULL DEFAULT '',
			unread_count        INTEGER NOT NULL DEFAULT 0,
			last_activity       INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS direct_messages (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			peer_id     TEXT NOT NULL,
			from_peer_id TEXT NOT NULL,
			to_peer_id   TEXT NOT NULL,
			body        TEXT NOT NULL,
			timestamp   INTEGER NOT NULL,
			outgoing    INTEGER NOT NULL,
			read        INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (peer_id) REFERENCES conversations(peer_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dm_peer_ts ON direct_messages(peer_id, timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := d.sql.Exec(stmt); err != nil {
			return fmt.Errorf("storage: migrate: %w", err)
		}
	}
	return nil
}
