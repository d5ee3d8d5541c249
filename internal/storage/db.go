// Package storage owns the single SQLite file backing both the shadow
// cache and the workflow runtime's durable state. One *sql.DB is opened
// per process and shared, since SQLite's single-writer model makes
// sharing one connection strictly simpler than coordinating two.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"weaver/internal/logging"
)

// CurrentSchemaVersion is bumped whenever a migration adds or changes a
// table. SchemaIncompatible is returned when an on-disk version differs
// from this value.
const CurrentSchemaVersion = 2

// DB wraps the shared SQLite connection plus the schema bookkeeping used
// by the shadow cache's startup protocol (spec.md §4.2).
type DB struct {
	Conn *sql.DB
	Path string
}

// Open creates (or reuses) the SQLite file at path, applies the same
// pragma set as the teacher's LocalStore — single writer, WAL, relaxed
// synchronous — and runs idempotent schema migrations.
func Open(path string) (*DB, error) {
	timer := logging.StartTimer(logging.CategoryCache, "storage.Open")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	db := &DB{Conn: conn, Path: path}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	logging.Cache("storage opened at %s", path)
	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cache_metadata (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		path          TEXT PRIMARY KEY,
		title         TEXT,
		document_type TEXT,
		status        TEXT,
		priority      TEXT,
		icon          TEXT,
		frontmatter   TEXT NOT NULL,
		content_hash  TEXT NOT NULL,
		size          INTEGER NOT NULL,
		created_at    INTEGER NOT NULL,
		modified_at   INTEGER NOT NULL,
		ingested_at   INTEGER NOT NULL,
		stale         INTEGER NOT NULL DEFAULT 0,
		parse_error   TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(document_type);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
	CREATE INDEX IF NOT EXISTS idx_documents_modified ON documents(modified_at);

	CREATE TABLE IF NOT EXISTS tags (
		name TEXT PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS file_tags (
		document_path TEXT NOT NULL REFERENCES documents(path) ON DELETE CASCADE,
		tag_name      TEXT NOT NULL REFERENCES tags(name) ON DELETE CASCADE,
		PRIMARY KEY (document_path, tag_name)
	);
	CREATE INDEX IF NOT EXISTS idx_file_tags_tag ON file_tags(tag_name);

	CREATE TABLE IF NOT EXISTS links (
		source_path  TEXT NOT NULL REFERENCES documents(path) ON DELETE CASCADE,
		target_path  TEXT NOT NULL,
		link_kind    TEXT NOT NULL,
		display_text TEXT,
		PRIMARY KEY (source_path, target_path, link_kind)
	);
	CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_path);

	CREATE TABLE IF NOT EXISTS workflow_runs (
		run_id        TEXT PRIMARY KEY,
		workflow_id   TEXT NOT NULL,
		input_payload TEXT,
		status        TEXT NOT NULL,
		started_at    INTEGER NOT NULL,
		finished_at   INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_workflow_runs_status ON workflow_runs(status);

	CREATE TABLE IF NOT EXISTS workflow_steps (
		run_id         TEXT NOT NULL REFERENCES workflow_runs(run_id) ON DELETE CASCADE,
		step_name      TEXT NOT NULL,
		attempt        INTEGER NOT NULL,
		status         TEXT NOT NULL,
		result_payload TEXT,
		error          TEXT,
		completed_at   INTEGER,
		PRIMARY KEY (run_id, step_name)
	);
	`
	if _, err := db.Conn.Exec(schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}

	var versionStr string
	err := db.Conn.QueryRow(`SELECT value FROM cache_metadata WHERE key = 'schema_version'`).Scan(&versionStr)
	switch {
	case err == sql.ErrNoRows:
		_, err = db.Conn.Exec(
			`INSERT INTO cache_metadata (key, value) VALUES ('schema_version', ?), ('dirty', '1')`,
			fmt.Sprintf("%d", CurrentSchemaVersion))
		if err != nil {
			return fmt.Errorf("seeding cache_metadata: %w", err)
		}
	case err != nil:
		return fmt.Errorf("reading schema_version: %w", err)
	default:
		if versionStr != fmt.Sprintf("%d", CurrentSchemaVersion) {
			return fmt.Errorf("%w: on-disk schema_version=%s, binary expects %d",
				ErrSchemaIncompatible, versionStr, CurrentSchemaVersion)
		}
	}
	return nil
}

// IsDirty reports whether the cache_metadata dirty flag is set, meaning a
// full vault scan must run before the cache can be trusted.
func (db *DB) IsDirty() (bool, error) {
	var v string
	err := db.Conn.QueryRow(`SELECT value FROM cache_metadata WHERE key = 'dirty'`).Scan(&v)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading dirty flag: %w", err)
	}
	return v == "1", nil
}

// MarkDirty sets the dirty flag so the next clean boot performs a full scan.
func (db *DB) MarkDirty() error {
	_, err := db.Conn.Exec(
		`INSERT INTO cache_metadata (key, value) VALUES ('dirty', '1')
		 ON CONFLICT(key) DO UPDATE SET value = '1'`)
	return err
}

// MarkClean clears the dirty flag after a successful full scan.
func (db *DB) MarkClean() error {
	_, err := db.Conn.Exec(
		`INSERT INTO cache_metadata (key, value) VALUES ('dirty', '0')
		 ON CONFLICT(key) DO UPDATE SET value = '0'`)
	return err
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.Conn.Close()
}
