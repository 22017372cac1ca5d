package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flemzord/cronhub/internal/catalog"
)

// Store persists schedules and runs the write-time validation pipeline.
// All mutations go through a write transaction so the per-owner quota
// check is a race-free count-then-write.
type Store struct {
	db        *sql.DB
	catalog   *catalog.Store
	registrar Registrar
	logger    *slog.Logger
	now       func() time.Time
}

// NewStore wires a schedule store. registrar may be nil in tests that do
// not exercise dispatch mirroring.
func NewStore(db *sql.DB, cat *catalog.Store, registrar Registrar, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:        db,
		catalog:   cat,
		registrar: registrar,
		logger:    logger,
		now:       time.Now,
	}
}

const scheduleColumns = "id, owner_id, task_id, cron_expr, parameters, is_active, created_at, updated_at"

// CreateParams are the caller-supplied fields for a new schedule.
type CreateParams struct {
	TaskID     int64
	CronExpr   string
	Parameters map[string]any
	IsActive   bool
}

// Create validates and persists a new schedule owned by the caller, then
// mirrors it into the dispatch subsystem. Validation collects every
// violated rule (cron, quota, task/parameters) before failing so the
// caller sees all problems at once.
//
// On success the returned error is nil, or ErrDispatchSync (wrapped) when
// the schedule was created but the trigger mirror could not be written.
func (s *Store) Create(ctx context.Context, caller Identity, p CreateParams) (Schedule, error) {
	verr := s.validateWrite(ctx, caller, p.TaskID, p.CronExpr, p.Parameters, p.IsActive, 0)
	if !verr.Empty() {
		return Schedule{}, verr
	}

	paramsJSON, err := json.Marshal(orEmpty(p.Parameters))
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule: marshal parameters: %w", err)
	}

	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule: begin create: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Recheck the quota inside the write transaction: two concurrent
	// creates must not both observe count=4 and both commit.
	if p.IsActive && !caller.Privileged {
		count, err := activeCountTx(ctx, tx, caller.UserID, 0)
		if err != nil {
			return Schedule{}, err
		}
		if count >= MaxActivePerOwner {
			return Schedule{}, &ValidationError{Quota: msgQuotaExceeded}
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO schedules (owner_id, task_id, cron_expr, parameters, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		caller.UserID, p.TaskID, p.CronExpr, string(paramsJSON), p.IsActive,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule: last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Schedule{}, fmt.Errorf("schedule: commit create: %w", err)
	}

	sched := Schedule{
		ID:         id,
		OwnerID:    caller.UserID,
		TaskID:     p.TaskID,
		CronExpr:   p.CronExpr,
		Parameters: orEmpty(p.Parameters),
		IsActive:   p.IsActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return sched, s.sync(ctx, sched)
}

// Changes are the mutable schedule fields; nil pointers leave the current
// value in place. Parameters replaces the whole mapping when non-nil.
type Changes struct {
	CronExpr   *string
	Parameters map[string]any
	IsActive   *bool
}

// Update merges changes over the schedule's current values, re-runs the
// full validation pipeline, persists, and re-syncs the dispatch trigger.
// Non-owners without privilege get ErrNotFound.
func (s *Store) Update(ctx context.Context, caller Identity, id int64, ch Changes) (Schedule, error) {
	current, err := s.visible(ctx, caller, id)
	if err != nil {
		return Schedule{}, err
	}

	next := current
	if ch.CronExpr != nil {
		next.CronExpr = *ch.CronExpr
	}
	if ch.Parameters != nil {
		next.Parameters = ch.Parameters
	}
	if ch.IsActive != nil {
		next.IsActive = *ch.IsActive
	}

	owner := Identity{UserID: current.OwnerID, Privileged: caller.Privileged}
	verr := s.validateWrite(ctx, owner, next.TaskID, next.CronExpr, next.Parameters, next.IsActive, id)
	if !verr.Empty() {
		return Schedule{}, verr
	}

	paramsJSON, err := json.Marshal(orEmpty(next.Parameters))
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule: marshal parameters: %w", err)
	}

	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule: begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Exemption keys on the caller's privilege; the identity headers
	// carry no owner privilege to check against.
	if next.IsActive && !current.IsActive && !caller.Privileged {
		count, err := activeCountTx(ctx, tx, current.OwnerID, id)
		if err != nil {
			return Schedule{}, err
		}
		if count >= MaxActivePerOwner {
			return Schedule{}, &ValidationError{Quota: msgQuotaExceeded}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE schedules SET cron_expr = ?, parameters = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		next.CronExpr, string(paramsJSON), next.IsActive, now.Format(time.RFC3339Nano), id,
	); err != nil {
		return Schedule{}, fmt.Errorf("schedule: update %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return Schedule{}, fmt.Errorf("schedule: commit update: %w", err)
	}

	next.Parameters = orEmpty(next.Parameters)
	next.UpdatedAt = now
	return next, s.sync(ctx, next)
}

// ToggleActive flips the active flag, re-checking the quota when the flip
// activates the schedule. The returned phrase is the human-readable status
// for the API layer.
func (s *Store) ToggleActive(ctx context.Context, caller Identity, id int64) (Schedule, string, error) {
	current, err := s.visible(ctx, caller, id)
	if err != nil {
		return Schedule{}, "", err
	}

	target := !current.IsActive
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Schedule{}, "", fmt.Errorf("schedule: begin toggle: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// As in Update, the exemption keys on the caller's privilege.
	if target && !caller.Privileged {
		count, err := activeCountTx(ctx, tx, current.OwnerID, id)
		if err != nil {
			return Schedule{}, "", err
		}
		if count >= MaxActivePerOwner {
			return Schedule{}, "", &ValidationError{Quota: msgQuotaExceeded}
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE schedules SET is_active = ?, updated_at = ? WHERE id = ?",
		target, now.Format(time.RFC3339Nano), id,
	); err != nil {
		return Schedule{}, "", fmt.Errorf("schedule: toggle %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return Schedule{}, "", fmt.Errorf("schedule: commit toggle: %w", err)
	}

	current.IsActive = target
	current.UpdatedAt = now

	phrase := "Schedule deactivated successfully"
	if target {
		phrase = "Schedule activated successfully"
	}
	return current, phrase, s.sync(ctx, current)
}

// Delete removes the schedule and, via the FK cascade, its execution logs.
// The dispatch registration is removed first, best-effort: a dangling
// trigger pointing at a deleted schedule is inert, so a registrar failure
// never blocks deletion.
func (s *Store) Delete(ctx context.Context, caller Identity, id int64) error {
	if _, err := s.visible(ctx, caller, id); err != nil {
		return err
	}

	if s.registrar != nil {
		if err := s.registrar.Remove(ctx, id); err != nil {
			s.logger.Warn("schedule: dispatch removal failed, deleting anyway",
				"schedule_id", id, "error", err)
		}
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM schedules WHERE id = ?", id); err != nil {
		return fmt.Errorf("schedule: delete %d: %w", id, err)
	}
	return nil
}

// Get returns a schedule the caller is allowed to see, else ErrNotFound.
func (s *Store) Get(ctx context.Context, caller Identity, id int64) (Schedule, error) {
	return s.visible(ctx, caller, id)
}

// Query narrows and pages a ListVisible call. Filter and ordering names
// that are not in the allow-list are silently dropped, never an error.
type Query struct {
	// Filters are field-name -> value equality filters.
	Filters map[string]any
	// Ordering lists field names, "-" prefix for descending.
	Ordering []string
	Limit    int
	Offset   int
}

// filterColumns is the explicit allow-list of filterable fields. Filtering
// goes through this fixed mapping rather than reflective field access so
// the filterable surface stays a reviewable contract.
var filterColumns = map[string]string{
	"id":        "id",
	"owner_id":  "owner_id",
	"task_id":   "task_id",
	"is_active": "is_active",
}

// orderColumns is the explicit allow-list of orderable fields.
var orderColumns = map[string]string{
	"id":         "id",
	"created_at": "created_at",
	"updated_at": "updated_at",
	"is_active":  "is_active",
}

// ListVisible returns schedules the caller may see: all of them for
// privileged callers, the caller's own otherwise. Default order is
// newest-first.
func (s *Store) ListVisible(ctx context.Context, caller Identity, q Query) ([]Schedule, error) {
	var (
		where []string
		args  []any
	)

	if !caller.Privileged {
		where = append(where, "owner_id = ?")
		args = append(args, caller.UserID)
	}

	for field, value := range q.Filters {
		col, ok := filterColumns[field]
		if !ok {
			continue
		}
		where = append(where, col+" = ?")
		args = append(args, value)
	}

	var order []string
	for _, field := range q.Ordering {
		desc := strings.HasPrefix(field, "-")
		name := strings.TrimPrefix(field, "-")
		col, ok := orderColumns[name]
		if !ok {
			continue
		}
		if desc {
			col += " DESC"
		}
		order = append(order, col)
	}
	if len(order) == 0 {
		order = []string{"created_at DESC", "id DESC"}
	}

	query := "SELECT " + scheduleColumns + " FROM schedules"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + strings.Join(order, ", ")
	if q.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("schedule: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scheds []Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		scheds = append(scheds, sched)
	}
	return scheds, rows.Err()
}

// ListEnabled returns every active schedule, used by the dispatch runner's
// reconciliation sweep.
func (s *Store) ListEnabled(ctx context.Context) ([]Schedule, error) {
	return s.ListVisible(ctx, Identity{Privileged: true}, Query{
		Filters: map[string]any{"is_active": true},
	})
}

// ByID returns a schedule without visibility filtering. The executor uses
// it when a dispatched trigger fires; callers on the API path go through
// Get instead.
func (s *Store) ByID(ctx context.Context, id int64) (Schedule, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+scheduleColumns+" FROM schedules WHERE id = ?", id)
	return scanSchedule(row)
}

// validateWrite collects every violated rule for one write so the caller
// can report all classes of failure together, not just the first.
// excludeID omits the schedule itself from the quota count on updates.
func (s *Store) validateWrite(ctx context.Context, owner Identity, taskID int64, cronExpr string, params map[string]any, active bool, excludeID int64) *ValidationError {
	verr := &ValidationError{}

	if !ValidCron(cronExpr) {
		verr.Cron = msgInvalidCron
	}

	if active && !owner.Privileged {
		count, err := s.activeCount(ctx, owner.UserID, excludeID)
		if err != nil {
			s.logger.Error("schedule: quota precheck failed", "owner", owner.UserID, "error", err)
		} else if count >= MaxActivePerOwner {
			verr.Quota = msgQuotaExceeded
		}
	}

	def, err := s.catalog.ByID(ctx, taskID)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		verr.Task = msgUnknownTask
	case err != nil:
		s.logger.Error("schedule: task lookup failed", "task_id", taskID, "error", err)
		verr.Task = msgUnknownTask
	case !def.IsActive:
		verr.Task = msgUnknownTask
	default:
		if fields := catalog.ValidateParameters(params, def.Schema); len(fields) > 0 {
			verr.Fields = fields
		}
	}

	return verr
}

func (s *Store) activeCount(ctx context.Context, ownerID string, excludeID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schedules WHERE owner_id = ? AND is_active = 1 AND id != ?",
		ownerID, excludeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("schedule: count active: %w", err)
	}
	return n, nil
}

func activeCountTx(ctx context.Context, tx *sql.Tx, ownerID string, excludeID int64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schedules WHERE owner_id = ? AND is_active = 1 AND id != ?",
		ownerID, excludeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("schedule: count active: %w", err)
	}
	return n, nil
}

// visible loads a schedule and applies the ownership rule: non-owners
// without privilege get ErrNotFound rather than a forbidden error.
func (s *Store) visible(ctx context.Context, caller Identity, id int64) (Schedule, error) {
	sched, err := s.ByID(ctx, id)
	if err != nil {
		return Schedule{}, err
	}
	if !caller.Privileged && sched.OwnerID != caller.UserID {
		return Schedule{}, ErrNotFound
	}
	return sched, nil
}

// sync mirrors the schedule into the dispatch subsystem. Registration is
// best-effort: failure degrades to ErrDispatchSync with the entity intact.
func (s *Store) sync(ctx context.Context, sched Schedule) error {
	if s.registrar == nil {
		return nil
	}
	if err := s.registrar.Sync(ctx, sched); err != nil {
		s.logger.Warn("schedule: dispatch sync failed",
			"schedule_id", sched.ID, "error", err)
		return fmt.Errorf("%w: %w", ErrDispatchSync, err)
	}
	return nil
}

func orEmpty(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	return params
}

func scanSchedule(row interface{ Scan(dest ...any) error }) (Schedule, error) {
	var (
		sched      Schedule
		paramsJSON string
		createdStr string
		updatedStr string
	)
	err := row.Scan(&sched.ID, &sched.OwnerID, &sched.TaskID, &sched.CronExpr,
		&paramsJSON, &sched.IsActive, &createdStr, &updatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return Schedule{}, ErrNotFound
	}
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule: scan: %w", err)
	}

	if err := json.Unmarshal([]byte(paramsJSON), &sched.Parameters); err != nil {
		return Schedule{}, fmt.Errorf("schedule: unmarshal parameters: %w", err)
	}
	if sched.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
		return Schedule{}, fmt.Errorf("schedule: parse created_at: %w", err)
	}
	if sched.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedStr); err != nil {
		return Schedule{}, fmt.Errorf("schedule: parse updated_at: %w", err)
	}
	return sched, nil
}
