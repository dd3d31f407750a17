package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"task-router/internal/common/errors"
	"task-router/internal/common/logging"
	"task-router/internal/storage"
	"task-router/internal/tasks"
)

// PutTasks upserts tasks. A task without id gets a new one.
// @Summary Load tasks
// @Description Validates each task against its trigger definition and stores it
// @Tags tasks
// @Accept json
// @Produce json
// @Param tasks body []tasks.Task true "Tasks"
// @Success 200 {array} tasks.Task
// @Failure 400 {object} ErrorResponse
// @Router /api/tasks [put]
func (h *Handlers) PutTasks(w http.ResponseWriter, r *http.Request) {
	var list []*tasks.Task
	if err := h.decode(r, &list); err != nil {
		h.sendError(w, err)
		return
	}

	ctx := r.Context()
	for _, task := range list {
		if task == nil {
			h.sendError(w, errors.ValidationError("null task"))
			return
		}
		trigger, err := h.storage.GetTaskEvent(ctx, storage.KindTrigger, task.Trigger)
		if errors.IsType(err, errors.ErrTypeNotFound) {
			h.sendError(w, errors.ValidationError("unknown trigger "+task.Trigger))
			return
		}
		if err != nil {
			h.sendError(w, err)
			return
		}
		if err := tasks.ValidateTask(task, trigger); err != nil {
			h.sendError(w, err)
			return
		}
	}

	for _, task := range list {
		if err := h.storage.Save(ctx, task); err != nil {
			h.sendError(w, err)
			return
		}
	}

	if h.listener != nil {
		if err := h.listener.Refresh(ctx); err != nil {
			h.logger.Error("Failed to refresh trigger subscriptions", err)
		}
	}

	h.logger.Info("Stored tasks", logging.Int("count", len(list)))
	if list == nil {
		list = []*tasks.Task{}
	}
	h.sendJSON(w, http.StatusOK, list)
}

// TaskStateResponse reports the enabled flag after a change
type TaskStateResponse struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

// EnableTask re-enables a task, the only way back after auto-disable
// @Summary Enable task
// @Tags tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} TaskStateResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/tasks/{id}/enable [post]
func (h *Handlers) EnableTask(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// DisableTask disables a task
// @Summary Disable task
// @Tags tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} TaskStateResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/tasks/{id}/disable [post]
func (h *Handlers) DisableTask(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *Handlers) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := mux.Vars(r)["id"]
	if err := h.storage.SetEnabled(r.Context(), id, enabled); err != nil {
		h.sendError(w, err)
		return
	}
	h.logger.Info("Changed task state", logging.String("task_id", id), logging.Bool("enabled", enabled))
	h.sendJSON(w, http.StatusOK, TaskStateResponse{ID: id, Enabled: enabled})
}

// GetActivities lists the activity log of a task, newest first
// @Summary List task activities
// @Tags activities
// @Produce json
// @Param id path string true "Task ID"
// @Param limit query int false "Maximum entries, 100 by default"
// @Success 200 {array} tasks.Activity
// @Failure 400 {object} ErrorResponse
// @Router /api/tasks/{id}/activities [get]
func (h *Handlers) GetActivities(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.sendError(w, errors.ValidationError("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	list, err := h.storage.ListActivities(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		h.sendError(w, err)
		return
	}
	if list == nil {
		list = []tasks.Activity{}
	}
	h.sendJSON(w, http.StatusOK, list)
}

// DeleteActivitiesResponse counts removed log entries
type DeleteActivitiesResponse struct {
	Deleted int64 `json:"deleted"`
}

// DeleteActivities clears the activity log of a task
// @Summary Clear task activities
// @Tags activities
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} DeleteActivitiesResponse
// @Router /api/tasks/{id}/activities [delete]
func (h *Handlers) DeleteActivities(w http.ResponseWriter, r *http.Request) {
	n, err := h.storage.DeleteActivities(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, DeleteActivitiesResponse{Deleted: n})
}

// RetryResponse is the outcome of a retried activity
type RetryResponse struct {
	tasks.TaskResult
	Error string `json:"error,omitempty"`
}

// RetryActivity re-runs the task of a failed activity with its recorded trigger parameters
// @Summary Retry failed activity
// @Tags activities
// @Produce json
// @Param id path string true "Activity ID"
// @Success 200 {object} RetryResponse
// @Failure 404 {object} ErrorResponse "Activity or task not found"
// @Failure 409 {object} ErrorResponse "Activity is not an error"
// @Router /api/activities/{id}/retry [post]
func (h *Handlers) RetryActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	activity, err := h.storage.GetActivity(ctx, mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, err)
		return
	}
	if activity.Type != tasks.ActivityError {
		h.sendError(w, errors.ConflictError("only ERROR activities can be retried"))
		return
	}

	task, err := h.storage.GetTask(ctx, activity.TaskID)
	if err != nil {
		h.sendError(w, err)
		return
	}

	result, err := h.engine.HandleTask(ctx, task, activity.Parameters)
	resp := RetryResponse{TaskResult: result}
	if err != nil {
		resp.Error = err.Error()
	}

	h.logger.Info("Retried activity",
		logging.String("activity_id", activity.ID),
		logging.String("task_id", task.ID),
		logging.String("outcome", string(result.Outcome)),
	)
	h.sendJSON(w, http.StatusOK, resp)
}
