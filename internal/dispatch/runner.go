package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Submitter receives invocations when triggers fire. The executor's run
// queue implements it.
type Submitter interface {
	Submit(scheduleID int64, params map[string]any)
}

// RunnerConfig controls the trigger runner.
type RunnerConfig struct {
	// Timezone is an IANA name for trigger evaluation; empty means local.
	Timezone string
	// SweepInterval is how often the runner reconciles its in-memory
	// cron entries against the trigger table. Registrar writes are not
	// transactional with schedule writes, so the sweep bounds how long
	// the two can disagree.
	SweepInterval time.Duration
}

type runnerEntry struct {
	entryID cron.EntryID
	spec    string
	payload string
}

// Runner loads enabled triggers into an in-process cron instance and
// submits an invocation each time one fires.
type Runner struct {
	mu        sync.Mutex
	registrar *Registrar
	submitter Submitter
	logger    *slog.Logger
	cfg       RunnerConfig

	parser  cron.Parser
	c       *cron.Cron
	entries map[int64]runnerEntry
	cancel  context.CancelFunc
}

// NewRunner creates a stopped runner.
func NewRunner(registrar *Registrar, submitter Submitter, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	return &Runner{
		registrar: registrar,
		submitter: submitter,
		logger:    logger,
		cfg:       cfg,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		entries:   map[int64]runnerEntry{},
	}
}

// Start loads the current trigger set, starts the cron loop, and begins
// the reconciliation sweep. Returns an error if the timezone is invalid.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.c != nil {
		return nil
	}

	loc := time.Local
	if r.cfg.Timezone != "" {
		parsed, err := time.LoadLocation(r.cfg.Timezone)
		if err != nil {
			return fmt.Errorf("dispatch: load timezone %q: %w", r.cfg.Timezone, err)
		}
		loc = parsed
	}

	r.c = cron.New(cron.WithParser(r.parser), cron.WithLocation(loc))

	if err := r.reloadLocked(ctx); err != nil {
		r.logger.Warn("dispatch: initial trigger load failed", "error", err)
	}

	r.c.Start()

	sweepCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.sweep(sweepCtx)

	r.logger.Info("dispatch: runner started",
		"triggers", len(r.entries), "sweep_interval", r.cfg.SweepInterval)
	return nil
}

// Stop halts the sweep and waits for in-flight trigger callbacks.
func (r *Runner) Stop(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.c != nil {
		<-r.c.Stop().Done()
		r.c = nil
		r.entries = map[int64]runnerEntry{}
		r.logger.Info("dispatch: runner stopped")
	}
	return nil
}

// Reload reconciles the in-memory cron entries against the trigger table.
// Exposed so schedule mutations can trigger an immediate reconcile instead
// of waiting for the next sweep.
func (r *Runner) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c == nil {
		return nil
	}
	return r.reloadLocked(ctx)
}

func (r *Runner) reloadLocked(ctx context.Context) error {
	triggers, err := r.registrar.ListEnabled(ctx)
	if err != nil {
		return err
	}

	seen := make(map[int64]struct{}, len(triggers))
	for _, t := range triggers {
		seen[t.ScheduleID] = struct{}{}

		payloadJSON, err := json.Marshal(t.Payload)
		if err != nil {
			r.logger.Error("dispatch: marshal payload", "schedule_id", t.ScheduleID, "error", err)
			continue
		}
		spec := t.Spec()

		if cur, ok := r.entries[t.ScheduleID]; ok {
			if cur.spec == spec && cur.payload == string(payloadJSON) {
				continue
			}
			r.c.Remove(cur.entryID)
			delete(r.entries, t.ScheduleID)
		}

		trigger := t // capture
		entryID, err := r.c.AddFunc(spec, func() {
			r.submitter.Submit(trigger.Payload.ScheduleID, trigger.Payload.Parameters)
		})
		if err != nil {
			r.logger.Warn("dispatch: skipping trigger with bad spec",
				"schedule_id", t.ScheduleID, "spec", spec, "error", err)
			continue
		}
		r.entries[t.ScheduleID] = runnerEntry{entryID: entryID, spec: spec, payload: string(payloadJSON)}
	}

	// Drop entries whose trigger is gone or disabled.
	for id, entry := range r.entries {
		if _, ok := seen[id]; !ok {
			r.c.Remove(entry.entryID)
			delete(r.entries, id)
		}
	}
	return nil
}

func (r *Runner) sweep(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Repair table-level drift first so the reload sees a trigger
			// set consistent with the schedules table.
			if err := r.registrar.Reconcile(ctx); err != nil {
				r.logger.Warn("dispatch: sweep reconcile failed", "error", err)
			}
			if err := r.Reload(ctx); err != nil {
				r.logger.Warn("dispatch: sweep failed", "error", err)
			}
		}
	}
}

// EntryCount reports the number of registered cron entries, for status
// endpoints and tests.
func (r *Runner) EntryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
