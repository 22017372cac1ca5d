package schedule

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound covers both a missing schedule and a schedule the
	// caller is not allowed to see. The two are deliberately
	// indistinguishable so that non-owners cannot probe for the
	// existence of other users' schedules.
	ErrNotFound = errors.New("schedule: not found")

	// ErrDispatchSync signals that the schedule write itself succeeded
	// but mirroring it into the dispatch trigger store did not. The
	// returned entity is valid; the trigger is reconciled later.
	ErrDispatchSync = errors.New("schedule: dispatch sync failed")
)

// Quota and message texts shared by the validation pipeline.
const (
	MaxActivePerOwner = 5

	msgInvalidCron   = "Invalid cron expression format"
	msgQuotaExceeded = "Regular users cannot have more than 5 active jobs"
	msgUnknownTask   = "Task definition does not exist or is inactive"
)

// ValidationError aggregates every violated rule found in one write
// request, partitioned by cause so a client can render all problems at
// once instead of fixing them one round-trip at a time.
type ValidationError struct {
	// Cron is set when the cron expression does not parse as 5-field
	// cron syntax.
	Cron string
	// Quota is set when the owner is at the active-schedule limit.
	Quota string
	// Task is set when the referenced task definition is missing or
	// inactive.
	Task string
	// Fields maps parameter names to their individual error messages.
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	var parts []string
	if e.Cron != "" {
		parts = append(parts, "cron_expression: "+e.Cron)
	}
	if e.Quota != "" {
		parts = append(parts, e.Quota)
	}
	if e.Task != "" {
		parts = append(parts, "task_definition: "+e.Task)
	}
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("parameters.%s: %s", field, msg))
	}
	if len(parts) == 0 {
		return "schedule: validation failed"
	}
	return "schedule: " + strings.Join(parts, "; ")
}

// Empty reports whether no rule was violated.
func (e *ValidationError) Empty() bool {
	return e.Cron == "" && e.Quota == "" && e.Task == "" && len(e.Fields) == 0
}

// AsValidation unwraps err into a *ValidationError if it is one.
func AsValidation(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
