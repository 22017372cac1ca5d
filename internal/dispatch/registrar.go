// Package dispatch mirrors active schedules into a periodic-trigger store
// and fires executor invocations at cron-matching instants.
package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flemzord/cronhub/internal/schedule"
)

// Trigger is one registration row: the schedule's cron expression
// decomposed into its five fields, the enabled flag mirroring the
// schedule's active state, and the invocation payload.
type Trigger struct {
	ScheduleID int64
	Minute     string
	Hour       string
	DayOfMonth string
	Month      string
	DayOfWeek  string
	Enabled    bool
	Payload    Payload
	UpdatedAt  time.Time
}

// Payload is what a firing trigger hands to the executor.
type Payload struct {
	ScheduleID int64          `json:"schedule_id"`
	Parameters map[string]any `json:"parameters"`
}

// Spec reassembles the five fields into a cron expression.
func (t Trigger) Spec() string {
	return strings.Join([]string{t.Minute, t.Hour, t.DayOfMonth, t.Month, t.DayOfWeek}, " ")
}

// Registrar keeps exactly one trigger row per schedule id.
type Registrar struct {
	db *sql.DB
}

// NewRegistrar wraps db in a trigger store.
func NewRegistrar(db *sql.DB) *Registrar {
	return &Registrar{db: db}
}

// Sync upserts the trigger for s: created when absent, updated in place
// when present. Calling it repeatedly with an unchanged schedule leaves a
// single identical row.
func (r *Registrar) Sync(ctx context.Context, s schedule.Schedule) error {
	fields := strings.Fields(s.CronExpr)
	if len(fields) != 5 {
		return fmt.Errorf("dispatch: schedule %d: expected 5-field cron expression, got %q", s.ID, s.CronExpr)
	}

	payload, err := json.Marshal(Payload{ScheduleID: s.ID, Parameters: s.Parameters})
	if err != nil {
		return fmt.Errorf("dispatch: marshal payload: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO dispatch_triggers (schedule_id, minute, hour, day_of_month, month, day_of_week, enabled, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(schedule_id) DO UPDATE SET
			minute = excluded.minute,
			hour = excluded.hour,
			day_of_month = excluded.day_of_month,
			month = excluded.month,
			day_of_week = excluded.day_of_week,
			enabled = excluded.enabled,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		s.ID, fields[0], fields[1], fields[2], fields[3], fields[4],
		s.IsActive, string(payload), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("dispatch: sync schedule %d: %w", s.ID, err)
	}
	return nil
}

// Reconcile repairs trigger drift against the schedules table: rows whose
// schedule is gone are deleted, and the enabled flag is re-mirrored from
// the schedule's active state. Sync runs outside the schedule store's
// transactions, so a failed mirror write can leave a deactivated schedule
// with a live trigger until this runs.
func (r *Registrar) Reconcile(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM dispatch_triggers
		WHERE schedule_id NOT IN (SELECT id FROM schedules)`); err != nil {
		return fmt.Errorf("dispatch: prune orphan triggers: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `
		UPDATE dispatch_triggers
		SET enabled = (SELECT s.is_active FROM schedules s WHERE s.id = schedule_id)
		WHERE enabled <> (SELECT s.is_active FROM schedules s WHERE s.id = schedule_id)`); err != nil {
		return fmt.Errorf("dispatch: mirror enabled flags: %w", err)
	}
	return nil
}

// Remove deletes the trigger for a schedule id. Absence is not an error.
func (r *Registrar) Remove(ctx context.Context, scheduleID int64) error {
	if _, err := r.db.ExecContext(ctx,
		"DELETE FROM dispatch_triggers WHERE schedule_id = ?", scheduleID); err != nil {
		return fmt.Errorf("dispatch: remove trigger %d: %w", scheduleID, err)
	}
	return nil
}

// Get returns the trigger for a schedule id, or sql.ErrNoRows wrapped.
func (r *Registrar) Get(ctx context.Context, scheduleID int64) (Trigger, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT schedule_id, minute, hour, day_of_month, month, day_of_week, enabled, payload, updated_at
		FROM dispatch_triggers WHERE schedule_id = ?`, scheduleID)
	return scanTrigger(row)
}

// ListEnabled returns every enabled trigger, for the runner's sweep.
func (r *Registrar) ListEnabled(ctx context.Context) ([]Trigger, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT schedule_id, minute, hour, day_of_month, month, day_of_week, enabled, payload, updated_at
		FROM dispatch_triggers WHERE enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("dispatch: list enabled: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var triggers []Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

// Count returns the total number of trigger rows.
func (r *Registrar) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dispatch_triggers").Scan(&n); err != nil {
		return 0, fmt.Errorf("dispatch: count triggers: %w", err)
	}
	return n, nil
}

func scanTrigger(row interface{ Scan(dest ...any) error }) (Trigger, error) {
	var (
		t           Trigger
		payloadJSON string
		updatedStr  string
	)
	err := row.Scan(&t.ScheduleID, &t.Minute, &t.Hour, &t.DayOfMonth, &t.Month,
		&t.DayOfWeek, &t.Enabled, &payloadJSON, &updatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return Trigger{}, err
	}
	if err != nil {
		return Trigger{}, fmt.Errorf("dispatch: scan trigger: %w", err)
	}

	if err := json.Unmarshal([]byte(payloadJSON), &t.Payload); err != nil {
		return Trigger{}, fmt.Errorf("dispatch: unmarshal payload: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedStr); err != nil {
		return Trigger{}, fmt.Errorf("dispatch: parse updated_at: %w", err)
	}
	return t, nil
}
