package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"task-router/internal/common/errors"
	"task-router/internal/common/logging"
	"task-router/internal/storage"
	"task-router/internal/tasks"
)

// HealthResponse reports the state of every registered dependency
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthCheck checks storage, the event bus and Redis when configured
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := HealthResponse{Status: "healthy", Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	h.sendJSON(w, status, resp)
}

// EventResponse is the dispatch summary of one ingested event
type EventResponse struct {
	*tasks.Summary
	Matched    int `json:"matched"`
	Dispatched int `json:"dispatched"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// HandleEvent runs the engine for one trigger event
// @Summary Ingest trigger event
// @Description Runs every enabled task bound to the event subject and returns the dispatch summary
// @Tags events
// @Accept json
// @Produce json
// @Param event body tasks.Event true "Trigger event"
// @Success 200 {object} EventResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} EventResponse "No trigger registered for the subject"
// @Failure 429 {object} ErrorResponse "Rate limit exceeded"
// @Router /api/events [post]
func (h *Handlers) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var event tasks.Event
	if err := h.decode(r, &event); err != nil {
		h.sendError(w, err)
		return
	}
	if event.Subject == "" {
		h.sendError(w, errors.ValidationError("event subject is required"))
		return
	}

	summary := h.engine.Handle(r.Context(), event)
	resp := EventResponse{
		Summary:    summary,
		Matched:    len(summary.Results),
		Dispatched: summary.Count(tasks.OutcomeDispatched),
		Failed:     summary.Count(tasks.OutcomeFailed),
		Skipped:    summary.Count(tasks.OutcomeSkipped),
	}

	if !summary.TriggerFound {
		h.sendJSON(w, http.StatusNotFound, resp)
		return
	}
	h.sendJSON(w, http.StatusOK, resp)
}

// DefinitionsRequest carries trigger and action definitions to upsert
type DefinitionsRequest struct {
	Triggers []*tasks.TaskEvent `json:"triggers"`
	Actions  []*tasks.TaskEvent `json:"actions"`
}

// DefinitionsResponse counts the stored definitions
type DefinitionsResponse struct {
	Triggers int `json:"triggers"`
	Actions  int `json:"actions"`
}

// PutDefinitions upserts trigger and action definitions by subject
// @Summary Load event definitions
// @Tags events
// @Accept json
// @Produce json
// @Param definitions body DefinitionsRequest true "Trigger and action definitions"
// @Success 200 {object} DefinitionsResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/events/definitions [put]
func (h *Handlers) PutDefinitions(w http.ResponseWriter, r *http.Request) {
	var req DefinitionsRequest
	if err := h.decode(r, &req); err != nil {
		h.sendError(w, err)
		return
	}

	// validate everything first so a bad entry stores nothing
	for _, list := range [][]*tasks.TaskEvent{req.Triggers, req.Actions} {
		for _, event := range list {
			if event == nil {
				h.sendError(w, errors.ValidationError("null event definition"))
				return
			}
			if err := tasks.ValidateTaskEvent(event); err != nil {
				h.sendError(w, err)
				return
			}
		}
	}

	ctx := r.Context()
	for _, event := range req.Triggers {
		if err := h.storage.SaveTaskEvent(ctx, storage.KindTrigger, event); err != nil {
			h.sendError(w, err)
			return
		}
	}
	for _, event := range req.Actions {
		if err := h.storage.SaveTaskEvent(ctx, storage.KindAction, event); err != nil {
			h.sendError(w, err)
			return
		}
	}

	h.logger.Info("Stored event definitions",
		logging.Int("triggers", len(req.Triggers)),
		logging.Int("actions", len(req.Actions)),
	)
	h.sendJSON(w, http.StatusOK, DefinitionsResponse{Triggers: len(req.Triggers), Actions: len(req.Actions)})
}

// GetProviders lists the registered data providers
// @Summary List data providers
// @Tags providers
// @Produce json
// @Success 200 {array} tasks.ProviderInfo
// @Router /api/providers [get]
func (h *Handlers) GetProviders(w http.ResponseWriter, r *http.Request) {
	infos := h.engine.Providers().Describe()
	if infos == nil {
		infos = []tasks.ProviderInfo{}
	}
	h.sendJSON(w, http.StatusOK, infos)
}
