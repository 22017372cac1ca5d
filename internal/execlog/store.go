package execlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no log row matches the lookup.
	ErrNotFound = errors.New("execlog: log not found")

	// ErrAlreadyFinal is returned when Finalize targets a row that has
	// already left the running state. completed_at is set exactly once.
	ErrAlreadyFinal = errors.New("execlog: log already finalized")
)

// Store is the append/query interface over execution history.
type Store struct {
	db *sql.DB
}

// NewStore wraps db in an execution-log store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const logColumns = "id, schedule_id, handle, status, started_at, completed_at, result, error_message, duration_ms"

// Insert creates the row for a starting attempt. The caller supplies the
// unique handle; Status should be StatusRunning and StartedAt the attempt
// start instant.
func (s *Store) Insert(ctx context.Context, log ExecutionLog) (ExecutionLog, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_logs (schedule_id, handle, status, started_at)
		VALUES (?, ?, ?, ?)`,
		log.ScheduleID, log.Handle, string(log.Status),
		log.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return ExecutionLog{}, fmt.Errorf("execlog: insert attempt %s: %w", log.Handle, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return ExecutionLog{}, fmt.Errorf("execlog: last insert id: %w", err)
	}
	log.ID = id
	return log, nil
}

// Outcome carries the finalization of one attempt.
type Outcome struct {
	Status       Status
	Result       map[string]any
	ErrorMessage string
	CompletedAt  time.Time
}

// Finalize transitions a running row into success, failure, or retry,
// setting completed_at exactly once and deriving the execution duration.
// The status only ever moves forward: finalizing a row twice returns
// ErrAlreadyFinal.
func (s *Store) Finalize(ctx context.Context, id int64, out Outcome) (ExecutionLog, error) {
	var resultJSON sql.NullString
	if out.Result != nil {
		raw, err := json.Marshal(out.Result)
		if err != nil {
			return ExecutionLog{}, fmt.Errorf("execlog: marshal result: %w", err)
		}
		resultJSON = sql.NullString{String: string(raw), Valid: true}
	}

	var errMsg sql.NullString
	if out.ErrorMessage != "" {
		errMsg = sql.NullString{String: out.ErrorMessage, Valid: true}
	}

	completed := out.CompletedAt.UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE execution_logs
		SET status = ?, completed_at = ?, result = ?, error_message = ?,
		    duration_ms = CAST(ROUND((julianday(?) - julianday(started_at)) * 86400000) AS INTEGER)
		WHERE id = ? AND status = ? AND completed_at IS NULL`,
		string(out.Status), completed.Format(time.RFC3339Nano), resultJSON, errMsg,
		completed.Format(time.RFC3339Nano),
		id, string(StatusRunning),
	)
	if err != nil {
		return ExecutionLog{}, fmt.Errorf("execlog: finalize %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return ExecutionLog{}, fmt.Errorf("execlog: rows affected: %w", err)
	}
	if n == 0 {
		// Either the row is gone or it is already terminal.
		if _, err := s.ByID(ctx, id); errors.Is(err, ErrNotFound) {
			return ExecutionLog{}, ErrNotFound
		}
		return ExecutionLog{}, ErrAlreadyFinal
	}

	return s.ByID(ctx, id)
}

// ByID returns a single log row.
func (s *Store) ByID(ctx context.Context, id int64) (ExecutionLog, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+logColumns+" FROM execution_logs WHERE id = ?", id)
	return scanLog(row)
}

// ByHandle returns the log row for a unique attempt handle.
func (s *Store) ByHandle(ctx context.Context, handle string) (ExecutionLog, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+logColumns+" FROM execution_logs WHERE handle = ?", handle)
	return scanLog(row)
}

// ListOptions narrows and pages a history query.
type ListOptions struct {
	// Status filters to a single status when non-empty.
	Status Status
	// Limit caps the number of rows; 0 means no cap.
	Limit int
	// Offset skips rows for pagination.
	Offset int
}

// ListForSchedule returns the schedule's attempts newest-first.
func (s *Store) ListForSchedule(ctx context.Context, scheduleID int64, opts ListOptions) ([]ExecutionLog, error) {
	query := "SELECT " + logColumns + " FROM execution_logs WHERE schedule_id = ?"
	args := []any{scheduleID}

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	query += " ORDER BY started_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("execlog: list for schedule %d: %w", scheduleID, err)
	}
	defer func() { _ = rows.Close() }()

	var logs []ExecutionLog
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// CountForSchedule returns the number of attempts recorded for a schedule.
func (s *Store) CountForSchedule(ctx context.Context, scheduleID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM execution_logs WHERE schedule_id = ?", scheduleID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("execlog: count for schedule %d: %w", scheduleID, err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLog(row rowScanner) (ExecutionLog, error) {
	var (
		log          ExecutionLog
		status       string
		startedStr   string
		completedStr sql.NullString
		resultJSON   sql.NullString
		errMsg       sql.NullString
		durationMS   sql.NullInt64
	)
	err := row.Scan(&log.ID, &log.ScheduleID, &log.Handle, &status,
		&startedStr, &completedStr, &resultJSON, &errMsg, &durationMS)
	if errors.Is(err, sql.ErrNoRows) {
		return ExecutionLog{}, ErrNotFound
	}
	if err != nil {
		return ExecutionLog{}, fmt.Errorf("execlog: scan log: %w", err)
	}

	log.Status = Status(status)
	if log.StartedAt, err = time.Parse(time.RFC3339Nano, startedStr); err != nil {
		return ExecutionLog{}, fmt.Errorf("execlog: parse started_at: %w", err)
	}
	if completedStr.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedStr.String)
		if err != nil {
			return ExecutionLog{}, fmt.Errorf("execlog: parse completed_at: %w", err)
		}
		log.CompletedAt = &t
	}
	if resultJSON.Valid {
		if err := json.Unmarshal([]byte(resultJSON.String), &log.Result); err != nil {
			return ExecutionLog{}, fmt.Errorf("execlog: unmarshal result: %w", err)
		}
	}
	if errMsg.Valid {
		log.ErrorMessage = errMsg.String
	}
	if durationMS.Valid {
		log.ExecDuration = time.Duration(durationMS.Int64) * time.Millisecond
	}
	return log, nil
}
