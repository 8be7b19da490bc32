package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// Migration represents a single schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: tasks, global_context, settings",
		SQL:         migration001SQL,
	},
	{
		Version:     2,
		Description: "add oracle_calls and task_events audit tables",
		SQL:         migration002SQL,
	},
	{
		Version:     3,
		Description: "add chat_messages table for the assistant",
		SQL:         migration003SQL,
	},
}

const migration001SQL = `
CREATE TABLE tasks (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    title                TEXT NOT NULL CHECK (length(title) BETWEEN 1 AND 200),
    description          TEXT NOT NULL DEFAULT '',
    context              TEXT NOT NULL DEFAULT '',
    due_date             DATETIME,
    scheduled_start_time DATETIME,
    scheduled_end_time   DATETIME,
    actual_start_time    DATETIME,
    actual_end_time      DATETIME,
    last_stopped_at      DATETIME,
    completed            INTEGER NOT NULL DEFAULT 0 CHECK (completed IN (0, 1)),
    needs_scheduling     INTEGER NOT NULL DEFAULT 1 CHECK (needs_scheduling IN (0, 1)),
    priority             REAL NOT NULL DEFAULT 0 CHECK (priority BETWEEN 0 AND 10),
    schedule_source      TEXT NOT NULL DEFAULT 'fallback',
    schedule_reasoning   TEXT NOT NULL DEFAULT '',
    created_at           DATETIME NOT NULL,
    updated_at           DATETIME NOT NULL,
    CHECK (completed = 0 OR actual_end_time IS NOT NULL),
    CHECK (scheduled_start_time IS NULL OR scheduled_end_time IS NULL OR scheduled_start_time < scheduled_end_time)
);

CREATE UNIQUE INDEX idx_tasks_single_active ON tasks(completed)
    WHERE actual_start_time IS NOT NULL AND completed = 0;

CREATE INDEX idx_tasks_needs_scheduling ON tasks(needs_scheduling) WHERE completed = 0;
CREATE INDEX idx_tasks_scheduled_start ON tasks(scheduled_start_time);

CREATE TABLE global_context (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    context    TEXT NOT NULL DEFAULT '',
    updated_at DATETIME NOT NULL
);

CREATE TABLE settings (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    llm_model  TEXT NOT NULL DEFAULT '',
    max_tokens INTEGER NOT NULL DEFAULT 2000 CHECK (max_tokens > 0),
    updated_at DATETIME NOT NULL
);
`

const migration002SQL = `
CREATE TABLE oracle_calls (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    op          TEXT NOT NULL,
    task_id     INTEGER,
    inputs      TEXT NOT NULL DEFAULT '',
    outputs     TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    attempt     INTEGER NOT NULL DEFAULT 1,
    created_at  DATETIME NOT NULL
);

CREATE INDEX idx_oracle_calls_time ON oracle_calls(created_at DESC);

CREATE TABLE task_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id    INTEGER NOT NULL,
    transition TEXT NOT NULL,
    detail     TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
);

CREATE INDEX idx_task_events_task ON task_events(task_id, created_at DESC);
`

const migration003SQL = `
CREATE TABLE chat_messages (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    user_message       TEXT NOT NULL,
    assistant_response TEXT NOT NULL DEFAULT '',
    action             TEXT NOT NULL DEFAULT 'unknown',
    created_at         DATETIME NOT NULL
);
`

// Migrate runs all pending migrations inside transactions.
func Migrate(db *sql.DB) error {
	if db == nil {
		return errors.New("db is nil")
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	currentVersion, err := CurrentVersion(db)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)`, migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", migration.Version, err)
		}

		currentVersion = migration.Version
	}

	return nil
}

// CurrentVersion returns the current schema version (0 if no migrations applied).
func CurrentVersion(db *sql.DB) (int, error) {
	if db == nil {
		return 0, errors.New("db is nil")
	}

	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema_version: %w", err)
	}
	return version, nil
}
