package gateway

import (
	"net/http"
	"time"
)

// HealthResponse is the /health body.
type HealthResponse struct {
	Status     string   `json:"status"`
	Uptime     string   `json:"uptime"`
	Triggers   int      `json:"triggers"`
	Pending    int      `json:"pending"`
	TaskBodies []string `json:"task_bodies,omitempty"`
}

func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{
			Status: "ok",
			Uptime: time.Since(g.startedAt).Round(time.Second).String(),
		}
		if g.runner != nil {
			resp.Triggers = g.runner.EntryCount()
		}
		if g.queue != nil {
			resp.Pending = g.queue.Pending()
		}
		if g.bodies != nil {
			resp.TaskBodies = g.bodies.Refs()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
