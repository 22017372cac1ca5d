package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/cronhub/internal/execlog"
	"github.com/flemzord/cronhub/internal/schedule"
)

// scheduleResponse is the wire shape of a schedule, including the derived
// next run time.
type scheduleResponse struct {
	ID             int64          `json:"id"`
	OwnerID        string         `json:"owner_id"`
	TaskID         int64          `json:"task_definition_id"`
	CronExpression string         `json:"cron_expression"`
	Parameters     map[string]any `json:"parameters"`
	IsActive       bool           `json:"is_active"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	NextRunTime    *time.Time     `json:"next_run_time"`
}

func toResponse(s schedule.Schedule) scheduleResponse {
	resp := scheduleResponse{
		ID:             s.ID,
		OwnerID:        s.OwnerID,
		TaskID:         s.TaskID,
		CronExpression: s.CronExpr,
		Parameters:     s.Parameters,
		IsActive:       s.IsActive,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	if next, ok := s.NextRun(time.Now()); ok {
		resp.NextRunTime = &next
	}
	return resp
}

type createRequest struct {
	TaskID         int64          `json:"task_definition_id"`
	CronExpression string         `json:"cron_expression"`
	Parameters     map[string]any `json:"parameters"`
	IsActive       *bool          `json:"is_active"`
}

func (g *Gateway) handleCreateSchedule() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		active := true
		if req.IsActive != nil {
			active = *req.IsActive
		}

		sched, err := g.schedules.Create(r.Context(), callerIdentity(r), schedule.CreateParams{
			TaskID:     req.TaskID,
			CronExpr:   req.CronExpression,
			Parameters: req.Parameters,
			IsActive:   active,
		})
		if err != nil && !errors.Is(err, schedule.ErrDispatchSync) {
			g.writeStoreError(w, err)
			return
		}

		g.reconcile(r.Context())
		body := map[string]any{"schedule": toResponse(sched)}
		if errors.Is(err, schedule.ErrDispatchSync) {
			if g.metrics != nil {
				g.metrics.DispatchSyncFailed()
			}
			body["warning"] = "schedule created but dispatch registration is pending reconciliation"
		}
		writeJSON(w, http.StatusCreated, body)
	}
}

type updateRequest struct {
	CronExpression *string        `json:"cron_expression"`
	Parameters     map[string]any `json:"parameters"`
	IsActive       *bool          `json:"is_active"`
}

func (g *Gateway) handleUpdateSchedule() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		var req updateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		sched, err := g.schedules.Update(r.Context(), callerIdentity(r), id, schedule.Changes{
			CronExpr:   req.CronExpression,
			Parameters: req.Parameters,
			IsActive:   req.IsActive,
		})
		if err != nil && !errors.Is(err, schedule.ErrDispatchSync) {
			g.writeStoreError(w, err)
			return
		}

		g.reconcile(r.Context())
		body := map[string]any{"schedule": toResponse(sched)}
		if errors.Is(err, schedule.ErrDispatchSync) {
			if g.metrics != nil {
				g.metrics.DispatchSyncFailed()
			}
			body["warning"] = "schedule updated but dispatch registration is pending reconciliation"
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func (g *Gateway) handleGetSchedule() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		sched, err := g.schedules.Get(r.Context(), callerIdentity(r), id)
		if err != nil {
			g.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"schedule": toResponse(sched)})
	}
}

func (g *Gateway) handleDeleteSchedule() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		if err := g.schedules.Delete(r.Context(), callerIdentity(r), id); err != nil {
			g.writeStoreError(w, err)
			return
		}
		g.reconcile(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}
}

func (g *Gateway) handleToggleSchedule() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		sched, phrase, err := g.schedules.ToggleActive(r.Context(), callerIdentity(r), id)
		if err != nil && !errors.Is(err, schedule.ErrDispatchSync) {
			g.writeStoreError(w, err)
			return
		}

		g.reconcile(r.Context())
		body := map[string]any{
			"message":   phrase,
			"is_active": sched.IsActive,
			"schedule":  toResponse(sched),
		}
		if errors.Is(err, schedule.ErrDispatchSync) {
			if g.metrics != nil {
				g.metrics.DispatchSyncFailed()
			}
			body["warning"] = "schedule toggled but dispatch registration is pending reconciliation"
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func (g *Gateway) handleListSchedules() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerIdentity(r)
		pageSize := negotiatePageSize(r.URL.Query().Get("page_size"), caller.Privileged)
		page := parsePage(r.URL.Query().Get("page"))

		scheds, err := g.schedules.ListVisible(r.Context(), caller, schedule.Query{
			Limit:  pageSize,
			Offset: (page - 1) * pageSize,
		})
		if err != nil {
			g.writeStoreError(w, err)
			return
		}
		writeScheduleList(w, scheds, page, pageSize)
	}
}

// searchRequest is the dynamic filter/order/page-size body. Unrecognized
// filter fields and ordering names are dropped, never errors.
type searchRequest struct {
	Filters  map[string]any `json:"filters"`
	Ordering []string       `json:"ordering"`
	PageSize any            `json:"page_size"`
	Page     any            `json:"page"`
}

func (g *Gateway) handleSearchSchedules() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		caller := callerIdentity(r)
		pageSize := negotiatePageSize(req.PageSize, caller.Privileged)
		page := parsePage(req.Page)

		scheds, err := g.schedules.ListVisible(r.Context(), caller, schedule.Query{
			Filters:  req.Filters,
			Ordering: req.Ordering,
			Limit:    pageSize,
			Offset:   (page - 1) * pageSize,
		})
		if err != nil {
			g.writeStoreError(w, err)
			return
		}
		writeScheduleList(w, scheds, page, pageSize)
	}
}

func (g *Gateway) handleScheduleLogs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		caller := callerIdentity(r)
		// Visibility first: non-owners must not learn the id exists.
		if _, err := g.schedules.Get(r.Context(), caller, id); err != nil {
			g.writeStoreError(w, err)
			return
		}

		pageSize := negotiatePageSize(r.URL.Query().Get("page_size"), caller.Privileged)
		page := parsePage(r.URL.Query().Get("page"))

		logs, err := g.logs.ListForSchedule(r.Context(), id, execlog.ListOptions{
			Status: execlog.Status(r.URL.Query().Get("status")),
			Limit:  pageSize,
			Offset: (page - 1) * pageSize,
		})
		if err != nil {
			g.logger.Error("gateway: list logs failed", "schedule_id", id, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}

		results := make([]logResponse, 0, len(logs))
		for _, l := range logs {
			results = append(results, toLogResponse(l))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"results":   results,
			"count":     len(results),
			"page":      page,
			"page_size": pageSize,
		})
	}
}

// logResponse is the wire shape of one execution attempt.
type logResponse struct {
	ID           int64          `json:"id"`
	ScheduleID   int64          `json:"schedule_id"`
	Handle       string         `json:"execution_handle"`
	Status       string         `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	DurationMS   *int64         `json:"duration_ms"`
	IsCompleted  bool           `json:"is_completed"`
}

func toLogResponse(l execlog.ExecutionLog) logResponse {
	resp := logResponse{
		ID:           l.ID,
		ScheduleID:   l.ScheduleID,
		Handle:       l.Handle,
		Status:       string(l.Status),
		StartedAt:    l.StartedAt,
		CompletedAt:  l.CompletedAt,
		Result:       l.Result,
		ErrorMessage: l.ErrorMessage,
		IsCompleted:  execlog.IsCompleted(l),
	}
	if d, ok := execlog.Duration(l); ok {
		ms := d.Milliseconds()
		resp.DurationMS = &ms
	}
	return resp
}

func (g *Gateway) handleListTasks() http.HandlerFunc {
	type taskResponse struct {
		ID          int64             `json:"id"`
		Name        string            `json:"name"`
		Description string            `json:"description"`
		Schema      map[string]string `json:"parameter_schema"`
		IsActive    bool              `json:"is_active"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		defs, err := g.catalog.List(r.Context())
		if err != nil {
			g.logger.Error("gateway: list tasks failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}

		results := make([]taskResponse, 0, len(defs))
		for _, def := range defs {
			schema := make(map[string]string, len(def.Schema))
			for field, typ := range def.Schema {
				schema[field] = string(typ)
			}
			results = append(results, taskResponse{
				ID:          def.ID,
				Name:        def.Name,
				Description: def.Description,
				Schema:      schema,
				IsActive:    def.IsActive,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
	}
}

func writeScheduleList(w http.ResponseWriter, scheds []schedule.Schedule, page, pageSize int) {
	results := make([]scheduleResponse, 0, len(scheds))
	for _, s := range scheds {
		results = append(results, toResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results":   results,
		"count":     len(results),
		"page":      page,
		"page_size": pageSize,
	})
}

// pathID parses the {id} route parameter, writing a 404 on garbage so
// malformed ids are indistinguishable from missing ones.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return 0, false
	}
	return id, true
}
