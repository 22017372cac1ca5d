package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/flemzord/cronhub/internal/schedule"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// validationPayload is the structured error body for rejected writes,
// partitioned by cause so clients can render every problem at once.
type validationPayload struct {
	CronExpression string            `json:"cron_expression,omitempty"`
	Quota          string            `json:"quota,omitempty"`
	TaskDefinition string            `json:"task_definition,omitempty"`
	Parameters     map[string]string `json:"parameters,omitempty"`
}

// writeStoreError maps schedule store errors onto HTTP responses.
// Validation failures become 400 with the partitioned payload; a hidden
// or missing schedule is always 404 to avoid leaking existence.
func (g *Gateway) writeStoreError(w http.ResponseWriter, err error) {
	if verr, ok := schedule.AsValidation(err); ok {
		g.countValidation(verr)
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"errors": validationPayload{
				CronExpression: verr.Cron,
				Quota:          verr.Quota,
				TaskDefinition: verr.Task,
				Parameters:     verr.Fields,
			},
		})
		return
	}

	if errors.Is(err, schedule.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	g.logger.Error("gateway: internal error", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func (g *Gateway) countValidation(verr *schedule.ValidationError) {
	if g.metrics == nil {
		return
	}
	if verr.Cron != "" {
		g.metrics.ValidationFailed("cron")
	}
	if verr.Quota != "" {
		g.metrics.ValidationFailed("quota")
	}
	if verr.Task != "" {
		g.metrics.ValidationFailed("task")
	}
	if len(verr.Fields) > 0 {
		g.metrics.ValidationFailed("parameters")
	}
}
