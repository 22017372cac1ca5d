package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS task_definitions (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		name                TEXT    NOT NULL UNIQUE,
		description         TEXT    NOT NULL DEFAULT '',
		executable_ref      TEXT    NOT NULL,
		parameter_schema    TEXT    NOT NULL DEFAULT '{}',
		max_attempts        INTEGER NOT NULL DEFAULT 1,
		retry_delay_seconds INTEGER NOT NULL DEFAULT 60,
		is_active           INTEGER NOT NULL DEFAULT 1,
		created_at          TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,

	`CREATE INDEX IF NOT EXISTS idx_task_definitions_active ON task_definitions(is_active)`,

	`CREATE TABLE IF NOT EXISTS schedules (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id   TEXT    NOT NULL,
		task_id    INTEGER NOT NULL REFERENCES task_definitions(id),
		cron_expr  TEXT    NOT NULL,
		parameters TEXT    NOT NULL DEFAULT '{}',
		is_active  INTEGER NOT NULL DEFAULT 1,
		created_at TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		updated_at TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,

	`CREATE INDEX IF NOT EXISTS idx_schedules_owner_active ON schedules(owner_id, is_active)`,
	`CREATE INDEX IF NOT EXISTS idx_schedules_task ON schedules(task_id)`,
	`CREATE INDEX IF NOT EXISTS idx_schedules_created ON schedules(created_at)`,

	`CREATE TABLE IF NOT EXISTS execution_logs (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		schedule_id   INTEGER NOT NULL REFERENCES schedules(id) ON DELETE CASCADE,
		handle        TEXT    NOT NULL UNIQUE,
		status        TEXT    NOT NULL DEFAULT 'pending',
		started_at    TEXT    NOT NULL,
		completed_at  TEXT,
		result        TEXT,
		error_message TEXT,
		duration_ms   INTEGER
	)`,

	`CREATE INDEX IF NOT EXISTS idx_execution_logs_schedule ON execution_logs(schedule_id, started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_execution_logs_status ON execution_logs(status)`,

	`CREATE TABLE IF NOT EXISTS dispatch_triggers (
		schedule_id  INTEGER PRIMARY KEY,
		minute       TEXT    NOT NULL,
		hour         TEXT    NOT NULL,
		day_of_month TEXT    NOT NULL,
		month        TEXT    NOT NULL,
		day_of_week  TEXT    NOT NULL,
		enabled      INTEGER NOT NULL DEFAULT 1,
		payload      TEXT    NOT NULL DEFAULT '{}',
		updated_at   TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(db *sql.DB) error {
	ctx := context.TODO()

	// Ensure schema_version table exists first.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("storage: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("storage: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: apply schema: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("storage: record schema version: %w", err)
	}

	return nil
}
