package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type recordingSubmitter struct {
	mu    sync.Mutex
	calls []int64
}

func (r *recordingSubmitter) Submit(scheduleID int64, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, scheduleID)
}

func testRunner(t *testing.T) (*Runner, *Registrar, *recordingSubmitter) {
	t.Helper()
	reg := testRegistrar(t)
	sub := &recordingSubmitter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRunner(reg, sub, RunnerConfig{Timezone: "UTC", SweepInterval: time.Hour}, logger)
	t.Cleanup(func() { _ = r.Stop(context.Background()) })
	return r, reg, sub
}

func TestRunner_LoadsEnabledTriggersOnStart(t *testing.T) {
	t.Parallel()

	r, reg, _ := testRunner(t)
	ctx := context.Background()

	if err := reg.Sync(ctx, testSchedule(1, "0 12 * * *", true)); err != nil {
		t.Fatalf("sync 1: %v", err)
	}
	if err := reg.Sync(ctx, testSchedule(2, "0 13 * * *", false)); err != nil {
		t.Fatalf("sync 2: %v", err)
	}

	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := r.EntryCount(); got != 1 {
		t.Fatalf("entry count = %d, want 1 (disabled trigger skipped)", got)
	}
}

func TestRunner_ReloadTracksTriggerChanges(t *testing.T) {
	t.Parallel()

	r, reg, _ := testRunner(t)
	ctx := context.Background()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := r.EntryCount(); got != 0 {
		t.Fatalf("fresh runner has %d entries", got)
	}

	if err := reg.Sync(ctx, testSchedule(1, "0 12 * * *", true)); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := r.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := r.EntryCount(); got != 1 {
		t.Fatalf("entry count after add = %d, want 1", got)
	}

	// Disabling drops the entry on the next reconcile.
	if err := reg.Sync(ctx, testSchedule(1, "0 12 * * *", false)); err != nil {
		t.Fatalf("re-sync: %v", err)
	}
	if err := r.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := r.EntryCount(); got != 0 {
		t.Fatalf("entry count after disable = %d, want 0", got)
	}

	// Removal likewise.
	if err := reg.Sync(ctx, testSchedule(2, "0 9 * * *", true)); err != nil {
		t.Fatalf("sync 2: %v", err)
	}
	_ = r.Reload(ctx)
	if err := reg.Remove(ctx, 2); err != nil {
		t.Fatalf("remove: %v", err)
	}
	_ = r.Reload(ctx)
	if got := r.EntryCount(); got != 0 {
		t.Fatalf("entry count after removal = %d, want 0", got)
	}
}

func TestRunner_ReloadIsStableForUnchangedTriggers(t *testing.T) {
	t.Parallel()

	r, reg, _ := testRunner(t)
	ctx := context.Background()

	if err := reg.Sync(ctx, testSchedule(1, "0 12 * * *", true)); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	before := r.entries[1].entryID
	for i := 0; i < 3; i++ {
		if err := r.Reload(ctx); err != nil {
			t.Fatalf("reload %d: %v", i, err)
		}
	}
	if r.entries[1].entryID != before {
		t.Fatal("unchanged trigger should keep its cron entry")
	}
	if got := r.EntryCount(); got != 1 {
		t.Fatalf("entry count = %d, want 1", got)
	}
}

func TestSweep_DisablesTriggerForDeactivatedSchedule(t *testing.T) {
	t.Parallel()

	reg := testRegistrar(t)
	ctx := context.Background()

	seedScheduleRow(t, reg, 1, true)
	if err := reg.Sync(ctx, testSchedule(1, "0 12 * * *", true)); err != nil {
		t.Fatalf("sync: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRunner(reg, &recordingSubmitter{}, RunnerConfig{
		Timezone:      "UTC",
		SweepInterval: 20 * time.Millisecond,
	}, logger)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = r.Stop(context.Background()) })

	if got := r.EntryCount(); got != 1 {
		t.Fatalf("entry count = %d, want 1", got)
	}

	// Deactivate the schedule without touching the trigger, as a failed
	// best-effort mirror write would leave it.
	if _, err := reg.db.ExecContext(ctx, "UPDATE schedules SET is_active = 0 WHERE id = 1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for r.EntryCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweep never dropped the entry for the deactivated schedule")
		}
		time.Sleep(10 * time.Millisecond)
	}

	trig, err := reg.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if trig.Enabled {
		t.Fatal("sweep should have disabled the trigger")
	}
}

func TestRunner_InvalidTimezone(t *testing.T) {
	t.Parallel()

	reg := testRegistrar(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRunner(reg, &recordingSubmitter{}, RunnerConfig{Timezone: "Not/AZone"}, logger)

	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestRunner_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	r, _, _ := testRunner(t)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
