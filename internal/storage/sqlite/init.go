package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		instance_id TEXT,
		links TEXT,
		status TEXT DEFAULT 'running',
		started_at DATETIME,
		finished_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY,
		run_id TEXT REFERENCES runs(id),
		link TEXT,
		path TEXT,
		size INTEGER,
		state TEXT,
		failure_kind TEXT,
		attempts INTEGER,
		finished_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS rotations (
		id INTEGER PRIMARY KEY,
		run_id TEXT REFERENCES runs(id),
		router TEXT,
		previous_identity TEXT,
		identity TEXT,
		duration_ms INTEGER,
		error TEXT,
		rotated_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS tasks_run_id ON tasks(run_id)`,
	`CREATE INDEX IF NOT EXISTS rotations_run_id ON rotations(run_id)`,
}

// InitDB opens the SQLite journal at path and creates its tables if they don't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// One writer at a time, sqlite serializes them anyway.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()

			return nil, fmt.Errorf("failed to create journal schema: %w", err)
		}
	}

	return db, nil
}
