package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// QueueConfig controls the in-process execution substrate.
type QueueConfig struct {
	Workers   int
	QueueSize int
	// StartsPerSecond paces attempt starts across all workers.
	// 0 disables pacing.
	StartsPerSecond float64
}

// Queue is the asynchronous execution substrate: a bounded channel drained
// by a worker pool. It assigns each attempt its unique handle and carries
// out the deferred re-enqueues the executor decides on. Dispatch trigger
// firings enter through Submit.
type Queue struct {
	mu     sync.Mutex
	exec   *Executor
	cfg    QueueConfig
	logger *slog.Logger

	jobs    chan Invocation
	limiter *rate.Limiter

	timers map[string]*time.Timer

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	started   bool
}

// NewQueue creates a stopped queue feeding exec.
func NewQueue(exec *Executor, cfg QueueConfig, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	q := &Queue{
		exec:   exec,
		cfg:    cfg,
		logger: logger,
		timers: map[string]*time.Timer{},
	}
	if cfg.StartsPerSecond > 0 {
		q.limiter = rate.NewLimiter(rate.Limit(cfg.StartsPerSecond), cfg.Workers)
	}
	return q
}

// Start launches the worker pool.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	q.jobs = make(chan Invocation, q.cfg.QueueSize)
	q.runCtx, q.runCancel = context.WithCancel(context.WithoutCancel(ctx))

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.logger.Info("executor: queue started",
		"workers", q.cfg.Workers, "queue_size", q.cfg.QueueSize)
}

// Stop cancels pending retry timers, stops accepting work, and waits for
// in-flight attempts to finish. In-flight attempts run to completion; a
// schedule being deleted mid-run does not abort them.
func (q *Queue) Stop(_ context.Context) error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return nil
	}
	q.started = false

	for handle, t := range q.timers {
		t.Stop()
		delete(q.timers, handle)
	}
	close(q.jobs)
	q.mu.Unlock()

	// Workers drain the queue and finish in-flight attempts before the
	// run context is cancelled, so shutdown never aborts a task body
	// mid-run.
	q.wg.Wait()
	q.runCancel()
	q.logger.Info("executor: queue stopped")
	return nil
}

// Submit enqueues the first attempt for a fired trigger. It implements
// the dispatch runner's Submitter.
func (q *Queue) Submit(scheduleID int64, params map[string]any) {
	q.enqueue(Invocation{
		ScheduleID: scheduleID,
		Parameters: params,
		Attempt:    1,
	})
}

// ScheduleRetry arms a timer that re-enqueues inv after delay. Fire and
// forget: the original attempt does not block on it.
func (q *Queue) ScheduleRetry(inv Invocation, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return
	}

	key := uuid.NewString()
	q.timers[key] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, key)
		q.mu.Unlock()
		q.enqueue(inv)
	})
}

// Pending reports the number of queued invocations.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return 0
	}
	return len(q.jobs)
}

func (q *Queue) enqueue(inv Invocation) {
	if inv.Handle == "" {
		inv.Handle = uuid.NewString()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		q.logger.Warn("executor: dropping invocation, queue stopped",
			"schedule_id", inv.ScheduleID, "attempt", inv.Attempt)
		return
	}

	select {
	case q.jobs <- inv:
	default:
		q.logger.Error("executor: queue full, dropping invocation",
			"schedule_id", inv.ScheduleID, "attempt", inv.Attempt)
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for inv := range q.jobs {
		if q.limiter != nil {
			if err := q.limiter.Wait(q.runCtx); err != nil {
				// Shutting down; drain remaining jobs without pacing.
				q.logger.Debug("executor: limiter wait aborted", "error", err)
			}
		}
		if _, err := q.exec.Run(q.runCtx, inv); err != nil {
			q.logger.Warn("executor: run failed",
				"schedule_id", inv.ScheduleID, "attempt", inv.Attempt, "error", err)
		}
	}
}
