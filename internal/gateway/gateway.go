// Package gateway exposes the scheduling core over HTTP: schedule CRUD,
// toggle, dynamic search, execution history, health, metrics, and a live
// execution feed. Authentication happens upstream; the gateway trusts the
// resolved identity headers it receives.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flemzord/cronhub/internal/catalog"
	"github.com/flemzord/cronhub/internal/dispatch"
	"github.com/flemzord/cronhub/internal/execlog"
	"github.com/flemzord/cronhub/internal/metrics"
	"github.com/flemzord/cronhub/internal/schedule"
)

// Config holds the gateway's listen settings.
type Config struct {
	Bind            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8420"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// QueueStats reports executor queue depth for the health endpoint. The
// executor's run queue implements it.
type QueueStats interface {
	Pending() int
}

// BodySet lists the registered task body references. The executor's body
// registry implements it.
type BodySet interface {
	Refs() []string
}

// Gateway is the HTTP boundary around the scheduling core. It is a leaf —
// nothing imports it.
type Gateway struct {
	config    Config
	schedules *schedule.Store
	catalog   *catalog.Store
	logs      *execlog.Store
	metrics   *metrics.Metrics
	feed      *Feed
	runner    *dispatch.Runner
	queue     QueueStats
	bodies    BodySet
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// Deps are the collaborators the gateway serves. Metrics, Feed, Runner,
// Queue, and Bodies are optional.
type Deps struct {
	Schedules *schedule.Store
	Catalog   *catalog.Store
	Logs      *execlog.Store
	Metrics   *metrics.Metrics
	Feed      *Feed
	Runner    *dispatch.Runner
	Queue     QueueStats
	Bodies    BodySet
	Logger    *slog.Logger
}

// New creates a gateway. Call Start to begin serving.
func New(cfg Config, deps Deps) *Gateway {
	cfg.defaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		config:    cfg,
		schedules: deps.Schedules,
		catalog:   deps.Catalog,
		logs:      deps.Logs,
		metrics:   deps.Metrics,
		feed:      deps.Feed,
		runner:    deps.Runner,
		queue:     deps.Queue,
		bodies:    deps.Bodies,
		logger:    logger,
	}
}

// Start begins serving on the configured bind address.
func (g *Gateway) Start() error {
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.config.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop shuts the server down gracefully within the configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}

// reconcile nudges the dispatch runner after a schedule mutation so the
// trigger change takes effect without waiting for the next sweep.
func (g *Gateway) reconcile(ctx context.Context) {
	if g.runner == nil {
		return
	}
	if err := g.runner.Reload(ctx); err != nil {
		g.logger.Warn("gateway: dispatch reload failed", "error", err)
	}
}
