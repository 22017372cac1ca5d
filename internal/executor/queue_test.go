package executor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/flemzord/cronhub/internal/execlog"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueue_ProcessesSubmissions(t *testing.T) {
	t.Parallel()

	done := make(chan map[string]any, 1)
	f := newFixture(t, BodyFunc(func(_ context.Context, params map[string]any) (map[string]any, error) {
		done <- params
		return map[string]any{"ok": true}, nil
	}))

	q := NewQueue(f.exec, QueueConfig{Workers: 2}, quietLogger())
	q.Start(context.Background())
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	q.Submit(f.schedID, map[string]any{"email": "a@b.c"})

	select {
	case params := <-done:
		if params["email"] != "a@b.c" {
			t.Fatalf("body got params %v", params)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("submission never executed")
	}
}

func TestQueue_AssignsUniqueHandles(t *testing.T) {
	t.Parallel()

	executed := make(chan struct{}, 8)
	f := newFixture(t, BodyFunc(func(context.Context, map[string]any) (map[string]any, error) {
		executed <- struct{}{}
		return map[string]any{}, nil
	}))

	q := NewQueue(f.exec, QueueConfig{Workers: 2}, quietLogger())
	q.Start(context.Background())

	const n = 5
	for i := 0; i < n; i++ {
		q.Submit(f.schedID, nil)
	}
	for i := 0; i < n; i++ {
		select {
		case <-executed:
		case <-time.After(5 * time.Second):
			t.Fatal("submissions did not all execute")
		}
	}
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	logs, err := f.logs.ListForSchedule(context.Background(), f.schedID, execlog.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != n {
		t.Fatalf("expected %d rows, got %d", n, len(logs))
	}
	seen := map[string]bool{}
	for _, l := range logs {
		if l.Handle == "" || seen[l.Handle] {
			t.Fatalf("handle %q missing or duplicated", l.Handle)
		}
		seen[l.Handle] = true
	}
}

func TestQueue_StopWaitsForInFlight(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	finished := make(chan struct{})
	f := newFixture(t, BodyFunc(func(context.Context, map[string]any) (map[string]any, error) {
		close(started)
		time.Sleep(200 * time.Millisecond)
		close(finished)
		return map[string]any{}, nil
	}))

	q := NewQueue(f.exec, QueueConfig{Workers: 1}, quietLogger())
	q.Start(context.Background())
	q.Submit(f.schedID, nil)

	<-started
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	select {
	case <-finished:
	default:
		t.Fatal("stop returned before the in-flight attempt finished")
	}

	logs, err := f.logs.ListForSchedule(context.Background(), f.schedID, execlog.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 1 || logs[0].Status != execlog.StatusSuccess {
		t.Fatalf("in-flight attempt not finalized: %+v", logs)
	}
}

func TestQueue_RetryReenqueuesAfterDelay(t *testing.T) {
	t.Parallel()

	executed := make(chan int, 4)
	f := newFixture(t, BodyFunc(func(context.Context, map[string]any) (map[string]any, error) {
		executed <- 1
		return map[string]any{}, nil
	}))

	q := NewQueue(f.exec, QueueConfig{Workers: 1}, quietLogger())
	q.Start(context.Background())
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	q.ScheduleRetry(Invocation{ScheduleID: f.schedID, Attempt: 2}, 50*time.Millisecond)

	select {
	case <-executed:
	case <-time.After(5 * time.Second):
		t.Fatal("retry never re-enqueued")
	}
}

func TestQueue_StopCancelsPendingRetries(t *testing.T) {
	t.Parallel()

	executed := make(chan struct{}, 1)
	f := newFixture(t, BodyFunc(func(context.Context, map[string]any) (map[string]any, error) {
		executed <- struct{}{}
		return map[string]any{}, nil
	}))

	q := NewQueue(f.exec, QueueConfig{Workers: 1}, quietLogger())
	q.Start(context.Background())
	q.ScheduleRetry(Invocation{ScheduleID: f.schedID, Attempt: 2}, time.Hour)

	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	select {
	case <-executed:
		t.Fatal("retry fired despite stop")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestQueue_SubmitAfterStopIsDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(t, BodyFunc(func(context.Context, map[string]any) (map[string]any, error) {
		t.Error("body should never run")
		return nil, nil
	}))

	q := NewQueue(f.exec, QueueConfig{Workers: 1}, quietLogger())
	q.Start(context.Background())
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// Must not panic on the closed channel.
	q.Submit(f.schedID, nil)
	q.ScheduleRetry(Invocation{ScheduleID: f.schedID, Attempt: 2}, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
}
