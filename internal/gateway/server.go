package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public — no identity required.
	r.Get("/health", g.handleHealth())
	if g.metrics != nil {
		r.Handle("/metrics", g.metrics.Handler())
	}

	// Live execution feed — read-only event stream.
	if g.feed != nil {
		r.Get("/ws/executions", g.feed.ServeHTTP)
	}

	// API — requires a resolved identity from the upstream auth layer.
	r.Group(func(r chi.Router) {
		r.Use(identityMiddleware)
		r.Route("/api", func(r chi.Router) {
			r.Get("/tasks", g.handleListTasks())

			r.Route("/schedules", func(r chi.Router) {
				r.Get("/", g.handleListSchedules())
				r.Post("/", g.handleCreateSchedule())
				r.Post("/search", g.handleSearchSchedules())

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", g.handleGetSchedule())
					r.Patch("/", g.handleUpdateSchedule())
					r.Put("/", g.handleUpdateSchedule())
					r.Delete("/", g.handleDeleteSchedule())
					r.Post("/toggle", g.handleToggleSchedule())
					r.Get("/logs", g.handleScheduleLogs())
				})
			})
		})
	})

	return r
}
