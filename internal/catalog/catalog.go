// Package catalog holds the fixed registry of invocable task kinds and the
// parameter validator used when schedules are written.
package catalog

import "time"

// ParamType is the declared type of a single task parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeFloat   ParamType = "float"
)

// Schema maps parameter names to their declared types.
type Schema map[string]ParamType

// RetryPolicy is the per-task-kind retry configuration. MaxAttempts counts
// physical attempts, so MaxAttempts=1 means no retries.
type RetryPolicy struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// TaskDefinition is a catalog entry describing one invocable task kind.
// Entries are seeded once and read-mostly afterwards; a definition that is
// referenced by schedules is deactivated rather than deleted.
type TaskDefinition struct {
	ID            int64
	Name          string
	Description   string
	ExecutableRef string
	Schema        Schema
	Retry         RetryPolicy
	IsActive      bool
	CreatedAt     time.Time
}
