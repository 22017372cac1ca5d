package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no task definition matches the lookup.
var ErrNotFound = errors.New("catalog: task definition not found")

// Store provides access to persisted task definitions.
type Store struct {
	db *sql.DB
}

// NewStore wraps db in a task-definition store. The schema must already be
// migrated.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const taskColumns = "id, name, description, executable_ref, parameter_schema, max_attempts, retry_delay_seconds, is_active, created_at"

// Insert persists def and returns it with the assigned ID.
func (s *Store) Insert(ctx context.Context, def TaskDefinition) (TaskDefinition, error) {
	schemaJSON, err := json.Marshal(def.Schema)
	if err != nil {
		return TaskDefinition{}, fmt.Errorf("catalog: marshal schema: %w", err)
	}

	createdAt := def.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO task_definitions (name, description, executable_ref, parameter_schema, max_attempts, retry_delay_seconds, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		def.Name, def.Description, def.ExecutableRef, string(schemaJSON),
		def.Retry.MaxAttempts, int(def.Retry.RetryDelay.Seconds()),
		def.IsActive, createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return TaskDefinition{}, fmt.Errorf("catalog: insert %q: %w", def.Name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return TaskDefinition{}, fmt.Errorf("catalog: last insert id: %w", err)
	}
	def.ID = id
	def.CreatedAt = createdAt
	return def, nil
}

// ByID returns the definition with the given id, or ErrNotFound.
func (s *Store) ByID(ctx context.Context, id int64) (TaskDefinition, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM task_definitions WHERE id = ?", id)
	return scanTask(row)
}

// ByName returns the definition with the given unique name, or ErrNotFound.
func (s *Store) ByName(ctx context.Context, name string) (TaskDefinition, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM task_definitions WHERE name = ?", name)
	return scanTask(row)
}

// List returns all definitions ordered by name.
func (s *Store) List(ctx context.Context) ([]TaskDefinition, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+taskColumns+" FROM task_definitions ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var defs []TaskDefinition
	for rows.Next() {
		def, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// Deactivate soft-deletes a definition. Schedules referencing it keep their
// rows but fail validation on subsequent writes.
func (s *Store) Deactivate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE task_definitions SET is_active = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("catalog: deactivate %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("catalog: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (TaskDefinition, error) {
	var (
		def          TaskDefinition
		schemaJSON   string
		delaySeconds int
		createdAtStr string
	)
	err := row.Scan(&def.ID, &def.Name, &def.Description, &def.ExecutableRef,
		&schemaJSON, &def.Retry.MaxAttempts, &delaySeconds, &def.IsActive, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskDefinition{}, ErrNotFound
	}
	if err != nil {
		return TaskDefinition{}, fmt.Errorf("catalog: scan task: %w", err)
	}

	if err := json.Unmarshal([]byte(schemaJSON), &def.Schema); err != nil {
		return TaskDefinition{}, fmt.Errorf("catalog: unmarshal schema: %w", err)
	}
	def.Retry.RetryDelay = time.Duration(delaySeconds) * time.Second

	if def.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr); err != nil {
		return TaskDefinition{}, fmt.Errorf("catalog: parse created_at: %w", err)
	}
	return def, nil
}
