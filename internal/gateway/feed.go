package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/flemzord/cronhub/internal/execlog"
)

const feedWriteTimeout = 5 * time.Second

// ExecutionEvent is the message broadcast to feed subscribers when an
// attempt reaches a final row state.
type ExecutionEvent struct {
	ScheduleID   int64      `json:"schedule_id"`
	Handle       string     `json:"execution_handle"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	ErrorMessage string     `json:"error_message,omitempty"`
	DurationMS   int64      `json:"duration_ms"`
}

// Feed broadcasts finalized execution attempts to WebSocket subscribers.
// It implements the executor's Observer.
type Feed struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	logger  *slog.Logger
}

// NewFeed creates an empty feed.
func NewFeed(logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		clients: make(map[*websocket.Conn]struct{}),
		logger:  logger,
	}
}

// ExecutionFinalized fans the event out to every subscriber. Slow or
// broken connections are dropped rather than blocking the executor.
func (f *Feed) ExecutionFinalized(log execlog.ExecutionLog) {
	event := ExecutionEvent{
		ScheduleID:   log.ScheduleID,
		Handle:       log.Handle,
		Status:       string(log.Status),
		StartedAt:    log.StartedAt,
		CompletedAt:  log.CompletedAt,
		ErrorMessage: log.ErrorMessage,
	}
	if d, ok := execlog.Duration(log); ok {
		event.DurationMS = d.Milliseconds()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		f.logger.Error("feed: marshal event", "error", err)
		return
	}

	f.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(f.clients))
	for conn := range f.clients {
		conns = append(conns, conn)
	}
	f.mu.Unlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), feedWriteTimeout)
		err := conn.Write(ctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			f.drop(conn)
		}
	}
}

// ServeHTTP upgrades the request and keeps the connection subscribed
// until the client goes away.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		f.logger.Error("feed: websocket accept failed", "error", err)
		return
	}

	f.mu.Lock()
	f.clients[conn] = struct{}{}
	f.mu.Unlock()
	f.logger.Debug("feed: subscriber connected", "remote", r.RemoteAddr)

	// Read loop only to observe close; subscribers never send.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			break
		}
	}

	f.drop(conn)
	f.logger.Debug("feed: subscriber disconnected", "remote", r.RemoteAddr)
}

// Subscribers reports the current connection count.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *Feed) drop(conn *websocket.Conn) {
	f.mu.Lock()
	_, present := f.clients[conn]
	delete(f.clients, conn)
	f.mu.Unlock()

	if present {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
}
