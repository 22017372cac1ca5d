// Package schedule persists recurring-job definitions and enforces the
// write-time validation rules: cron syntax, per-owner active quota, and
// task parameter schemas.
package schedule

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// Identity is the resolved caller passed in by the API layer. The core
// trusts it and performs no authentication itself.
type Identity struct {
	UserID string
	// Privileged callers are exempt from the active-schedule quota and
	// see every schedule regardless of owner.
	Privileged bool
}

// Schedule is a user's recurring-invocation intent: one task kind, cron
// timing, and a validated parameter mapping.
type Schedule struct {
	ID         int64
	OwnerID    string
	TaskID     int64
	CronExpr   string
	Parameters map[string]any
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// cronParser accepts exactly the standard 5-field grammar
// (minute hour day-of-month month day-of-week), no descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun returns the earliest cron-matching instant strictly after now,
// or false when the stored expression no longer parses.
func (s Schedule) NextRun(now time.Time) (time.Time, bool) {
	spec, err := cronParser.Parse(s.CronExpr)
	if err != nil {
		return time.Time{}, false
	}
	return spec.Next(now), true
}

// ValidCron reports whether expr parses as 5-field cron syntax.
func ValidCron(expr string) bool {
	_, err := cronParser.Parse(expr)
	return err == nil
}

// Registrar mirrors active schedules into the dispatch trigger subsystem.
// Sync is an upsert keyed by schedule ID; Remove tolerates absence.
// Both are best-effort from the store's point of view: failures degrade to
// a logged warning and never roll back the schedule write.
type Registrar interface {
	Sync(ctx context.Context, s Schedule) error
	Remove(ctx context.Context, scheduleID int64) error
}
