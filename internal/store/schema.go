// Package store provides the SQLite-backed canonical defect store with
// optional FTS5 full-text search.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS defects (
	id          TEXT PRIMARY KEY,
	base        TEXT NOT NULL,
	variant     INTEGER NOT NULL DEFAULT 0,
	page        TEXT NOT NULL DEFAULT '',
	primary_ref TEXT NOT NULL DEFAULT '',
	refs        TEXT NOT NULL DEFAULT '',
	priority    INTEGER NOT NULL DEFAULT 0,
	first_seen  INTEGER NOT NULL,
	version     INTEGER NOT NULL DEFAULT 1,
	title       TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	data        TEXT NOT NULL,
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(base, variant)
);

CREATE INDEX IF NOT EXISTS idx_defects_base ON defects(base);
CREATE INDEX IF NOT EXISTS idx_defects_page ON defects(page);

CREATE TABLE IF NOT EXISTS defect_versions (
	id         TEXT NOT NULL,
	version    INTEGER NOT NULL,
	run_id     TEXT NOT NULL DEFAULT '',
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY(id, version)
);

CREATE TABLE IF NOT EXISTS conflicts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	source       TEXT NOT NULL,
	candidate_id TEXT NOT NULL,
	score        REAL NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	page         TEXT NOT NULL DEFAULT '',
	run_id       TEXT NOT NULL DEFAULT '',
	data         TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(source, candidate_id)
);

CREATE TABLE IF NOT EXISTS sources (
	path       TEXT PRIMARY KEY,
	checksum   TEXT NOT NULL,
	run_id     TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	files       INTEGER NOT NULL DEFAULT 0,
	ingested    INTEGER NOT NULL DEFAULT 0,
	rejected    INTEGER NOT NULL DEFAULT 0,
	conflicts   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS counters (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

// DB wraps a sql.DB with store-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
