// Package handlers exposes the task router's operational HTTP API: event
// ingestion, task and event definition loading, the activity log and
// provider discovery.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"task-router/internal/common/errors"
	"task-router/internal/common/logging"
	"task-router/internal/storage"
	"task-router/internal/tasks"
)

// HealthCheck reports whether one dependency is usable
type HealthCheck func(ctx context.Context) error

// Refresher resubscribes the relay listener after task changes
type Refresher interface {
	Refresh(ctx context.Context) error
}

type Handlers struct {
	storage  storage.Storage
	engine   *tasks.Engine
	listener Refresher
	checks   map[string]HealthCheck
	limit    func(http.Handler) http.Handler
	logger   logging.Logger
}

// New creates the handlers. listener may be nil when no event bus consumer runs.
func New(store storage.Storage, engine *tasks.Engine, listener Refresher, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	h := &Handlers{
		storage:  store,
		engine:   engine,
		listener: listener,
		checks:   make(map[string]HealthCheck),
		logger:   logger.WithFields(logging.String("component", "handlers")),
	}
	h.AddHealthCheck("storage", store.Health)
	return h
}

// AddHealthCheck registers a dependency reported by /health
func (h *Handlers) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// LimitEvents wraps event ingestion with mw, typically a rate limiter
func (h *Handlers) LimitEvents(mw func(http.Handler) http.Handler) {
	h.limit = mw
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error      string `json:"error"`
	Type       string `json:"type,omitempty"`
	MessageKey string `json:"messageKey,omitempty"`
}

func (h *Handlers) sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", err)
	}
}

func (h *Handlers) sendError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error(), Type: string(errors.GetType(err))}
	if key := tasks.MessageKey(err); key != "" {
		resp.MessageKey = key
	}
	h.sendJSON(w, statusFor(err), resp)
}

func statusFor(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeValidation:
		return http.StatusBadRequest
	case errors.ErrTypeNotFound:
		return http.StatusNotFound
	case errors.ErrTypeConflict:
		return http.StatusConflict
	case errors.ErrTypeUnavailable, errors.ErrTypeConnection:
		return http.StatusServiceUnavailable
	case errors.ErrTypeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handlers) decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.ValidationError("invalid JSON: " + err.Error())
	}
	return nil
}
