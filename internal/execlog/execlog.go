// Package execlog records one durable row per physical task execution
// attempt and answers queries over the execution history.
package execlog

import "time"

// Status is the lifecycle state of one execution attempt.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	// StatusRetry marks an attempt that failed but will be re-invoked.
	// The re-invocation produces a fresh log row; this one is final.
	StatusRetry Status = "retry"
)

// ExecutionLog is the durable record of one execution attempt. Rows are
// created when an attempt starts, finalized exactly once, and never mutated
// afterwards.
type ExecutionLog struct {
	ID         int64
	ScheduleID int64
	// Handle is the unique per-attempt identifier assigned by the
	// execution substrate.
	Handle       string
	Status       Status
	StartedAt    time.Time
	CompletedAt  *time.Time
	Result       map[string]any
	ErrorMessage string
	// ExecDuration is derived from CompletedAt - StartedAt at
	// finalization; zero until terminal.
	ExecDuration time.Duration
}

// Duration returns CompletedAt - StartedAt when both are set, recomputed
// from the timestamps so it is stable no matter how often it is called.
func Duration(log ExecutionLog) (time.Duration, bool) {
	if log.CompletedAt == nil || log.StartedAt.IsZero() {
		return 0, false
	}
	return log.CompletedAt.Sub(log.StartedAt), true
}

// IsCompleted reports whether the attempt reached a terminal status.
// A retry-marked attempt is final as a row but the invocation continues
// in a fresh attempt, so it does not count as completed.
func IsCompleted(log ExecutionLog) bool {
	return log.Status == StatusSuccess || log.Status == StatusFailure
}
