package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/cronhub/internal/catalog"
	"github.com/flemzord/cronhub/internal/execlog"
	"github.com/flemzord/cronhub/internal/schedule"
)

// ErrStaleTrigger is returned when a dispatched invocation references a
// schedule that no longer exists or was deactivated. No log row is
// created; the trigger is cleaned up by the dispatch sweep.
var ErrStaleTrigger = errors.New("executor: schedule missing or inactive")

// Invocation is one physical execution attempt. Attempt starts at 1;
// Handle is the substrate-assigned unique id for this attempt.
type Invocation struct {
	ScheduleID int64
	Parameters map[string]any
	Attempt    int
	Handle     string
}

// RetryScheduler carries out a deferred re-enqueue decided by the
// executor. The executor only decides whether to retry and with what
// delay; the substrate owns how the delayed re-invocation happens.
type RetryScheduler interface {
	ScheduleRetry(inv Invocation, delay time.Duration)
}

// Observer is notified when an attempt reaches a final row state.
// The gateway's live feed implements it.
type Observer interface {
	ExecutionFinalized(log execlog.ExecutionLog)
}

// Counter increments a named executor metric. Satisfied by the metrics
// package; nil-safe wrappers are used so tests can omit it.
type Counter interface {
	ExecutionFinished(status string)
}

// Executor runs invocations against the catalog's task bodies.
type Executor struct {
	schedules *schedule.Store
	catalog   *catalog.Store
	logs      *execlog.Store
	bodies    *Registry
	retries   RetryScheduler
	observer  Observer
	counter   Counter
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// Config wires an Executor. Retries, Observer, and Counter are optional.
type Config struct {
	Schedules *schedule.Store
	Catalog   *catalog.Store
	Logs      *execlog.Store
	Bodies    *Registry
	Retries   RetryScheduler
	Observer  Observer
	Counter   Counter
	Logger    *slog.Logger
}

// New creates an Executor.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		schedules: cfg.Schedules,
		catalog:   cfg.Catalog,
		logs:      cfg.Logs,
		bodies:    cfg.Bodies,
		retries:   cfg.Retries,
		observer:  cfg.Observer,
		counter:   cfg.Counter,
		logger:    logger,
		tracer:    otel.Tracer("cronhub/executor"),
		now:       time.Now,
	}
}

// SetRetryScheduler installs the retry substrate after construction.
// The queue needs the executor and the executor needs the queue, so one
// side is bound late during wiring, before anything runs.
func (e *Executor) SetRetryScheduler(r RetryScheduler) {
	e.retries = r
}

// Run executes one attempt: create the log row as running, execute the
// task body, finalize the row. Failures never propagate as process faults;
// they become row state plus, when attempts remain, a deferred re-enqueue.
// Exactly one log row is created per physical attempt.
func (e *Executor) Run(ctx context.Context, inv Invocation) (execlog.ExecutionLog, error) {
	ctx, span := e.tracer.Start(ctx, "executor.run", trace.WithAttributes(
		attribute.Int64("schedule.id", inv.ScheduleID),
		attribute.Int("attempt", inv.Attempt),
	))
	defer span.End()

	sched, err := e.schedules.ByID(ctx, inv.ScheduleID)
	if errors.Is(err, schedule.ErrNotFound) {
		// Stale dispatch entry; a reporting matter, not a crash.
		e.logger.Warn("executor: invocation for missing schedule",
			"schedule_id", inv.ScheduleID, "handle", inv.Handle)
		return execlog.ExecutionLog{}, ErrStaleTrigger
	}
	if err != nil {
		return execlog.ExecutionLog{}, fmt.Errorf("executor: resolve schedule: %w", err)
	}
	if !sched.IsActive {
		// Deactivation can race a firing or a pending retry timer. The
		// attempt is dropped; the sweep disables the trigger.
		e.logger.Warn("executor: invocation for inactive schedule",
			"schedule_id", inv.ScheduleID, "handle", inv.Handle)
		return execlog.ExecutionLog{}, ErrStaleTrigger
	}

	def, err := e.catalog.ByID(ctx, sched.TaskID)
	if err != nil {
		return execlog.ExecutionLog{}, fmt.Errorf("executor: resolve task definition: %w", err)
	}

	row, err := e.logs.Insert(ctx, execlog.ExecutionLog{
		ScheduleID: sched.ID,
		Handle:     inv.Handle,
		Status:     execlog.StatusRunning,
		StartedAt:  e.now().UTC(),
	})
	if err != nil {
		return execlog.ExecutionLog{}, fmt.Errorf("executor: create log: %w", err)
	}

	result, execErr := e.execute(ctx, def, inv.Parameters)

	if execErr == nil {
		final, err := e.logs.Finalize(ctx, row.ID, execlog.Outcome{
			Status:      execlog.StatusSuccess,
			Result:      result,
			CompletedAt: e.now().UTC(),
		})
		if err != nil {
			return execlog.ExecutionLog{}, fmt.Errorf("executor: finalize success: %w", err)
		}
		e.finished(final)
		return final, nil
	}

	// Failure path: always record the error; mark retry when the task
	// kind's policy leaves attempts, terminal failure otherwise.
	status := execlog.StatusFailure
	if inv.Attempt < def.Retry.MaxAttempts {
		status = execlog.StatusRetry
	}

	final, err := e.logs.Finalize(ctx, row.ID, execlog.Outcome{
		Status:       status,
		ErrorMessage: execErr.Error(),
		CompletedAt:  e.now().UTC(),
	})
	if err != nil {
		return execlog.ExecutionLog{}, fmt.Errorf("executor: finalize failure: %w", err)
	}

	if status == execlog.StatusRetry && e.retries != nil {
		e.logger.Info("executor: scheduling retry",
			"schedule_id", sched.ID, "attempt", inv.Attempt+1,
			"max_attempts", def.Retry.MaxAttempts, "delay", def.Retry.RetryDelay)
		e.retries.ScheduleRetry(Invocation{
			ScheduleID: inv.ScheduleID,
			Parameters: inv.Parameters,
			Attempt:    inv.Attempt + 1,
		}, def.Retry.RetryDelay)
	} else if status == execlog.StatusFailure {
		e.logger.Warn("executor: attempt failed terminally",
			"schedule_id", sched.ID, "attempt", inv.Attempt, "error", execErr)
	}

	e.finished(final)
	return final, nil
}

// execute resolves and runs the task body, converting panics and missing
// registrations into regular errors.
func (e *Executor) execute(ctx context.Context, def catalog.TaskDefinition, params map[string]any) (result map[string]any, err error) {
	body, ok := e.bodies.Lookup(def.ExecutableRef)
	if !ok {
		return nil, fmt.Errorf("no task body registered for %q", def.ExecutableRef)
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("task body panicked: %v", r)
		}
	}()

	return body.Execute(ctx, params)
}

func (e *Executor) finished(log execlog.ExecutionLog) {
	if e.counter != nil {
		e.counter.ExecutionFinished(string(log.Status))
	}
	if e.observer != nil {
		e.observer.ExecutionFinalized(log)
	}
}
