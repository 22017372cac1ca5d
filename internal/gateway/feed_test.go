package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/flemzord/cronhub/internal/execlog"
)

func TestFeed_BroadcastsFinalizedExecutions(t *testing.T) {
	t.Parallel()

	feed := NewFeed(slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(feed)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	// Subscription registration races the dial returning.
	deadline := time.Now().Add(2 * time.Second)
	for feed.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	completed := time.Date(2026, 3, 1, 12, 0, 3, 0, time.UTC)
	feed.ExecutionFinalized(execlog.ExecutionLog{
		ScheduleID:  7,
		Handle:      "h-7",
		Status:      execlog.StatusSuccess,
		StartedAt:   completed.Add(-3 * time.Second),
		CompletedAt: &completed,
	})

	_, payload, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var event ExecutionEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.ScheduleID != 7 || event.Status != "success" || event.Handle != "h-7" {
		t.Fatalf("event: %+v", event)
	}
	if event.DurationMS != 3000 {
		t.Fatalf("duration_ms = %d, want 3000", event.DurationMS)
	}
}

func TestFeed_NoSubscribersIsFine(t *testing.T) {
	t.Parallel()

	feed := NewFeed(slog.New(slog.NewTextHandler(io.Discard, nil)))
	feed.ExecutionFinalized(execlog.ExecutionLog{ScheduleID: 1, Status: execlog.StatusFailure})
	if feed.Subscribers() != 0 {
		t.Fatal("no subscribers expected")
	}
}
