package tasks

import (
	"context"

	"task-router/internal/common/logging"
	"task-router/internal/locks"
)

// Recorder writes task outcomes to the activity log and applies the
// auto-disable policy: once a task has failed threshold times in a row it
// is disabled and a single WARNING is recorded.
type Recorder struct {
	sink      ActivitySink
	source    TaskSource
	locks     locks.Manager
	threshold int
	logger    logging.Logger
}

// NewRecorder creates a recorder. A threshold below one disables the policy.
func NewRecorder(sink ActivitySink, source TaskSource, lockManager locks.Manager, threshold int, logger logging.Logger) *Recorder {
	if lockManager == nil {
		lockManager = locks.NewLocalManager()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Recorder{
		sink:      sink,
		source:    source,
		locks:     lockManager,
		threshold: threshold,
		logger:    logger,
	}
}

// Threshold returns the consecutive-error count that disables a task
func (r *Recorder) Threshold() int {
	return r.threshold
}

// Success records a SUCCESS activity
func (r *Recorder) Success(ctx context.Context, task *Task) {
	if err := r.sink.AddSuccess(ctx, task); err != nil {
		r.logger.WithContext(ctx).Error("Failed to record success activity", err)
	}
}

// Failure records an ERROR activity and disables the task when the number
// of errors since its last success reaches the threshold. It reports
// whether this call disabled the task.
func (r *Recorder) Failure(ctx context.Context, task *Task, failure *TaskError) bool {
	logger := r.logger.WithContext(ctx)

	if err := r.sink.AddError(ctx, task, failure); err != nil {
		logger.Error("Failed to record error activity", err, logging.String("message_key", failure.Key))
	}

	if r.threshold < 1 {
		return false
	}

	lock, err := r.locks.AcquireTaskLock(ctx, task.ID)
	if err != nil {
		logger.Error("Failed to lock task for error threshold check", err)
		return false
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			logger.Warn("Failed to release task lock", logging.Err(err))
		}
	}()

	errs, err := r.sink.ErrorsFromLastRun(ctx, task)
	if err != nil {
		logger.Error("Failed to count errors since last run", err)
		return false
	}
	if len(errs) < r.threshold {
		return false
	}

	// Re-read inside the lock so only one concurrent failure disables the task
	target := task
	if current, err := r.source.GetTask(ctx, task.ID); err == nil && current != nil {
		if !current.Enabled {
			task.Enabled = false
			return false
		}
		target = current
	}

	target.Enabled = false
	if err := r.source.Save(ctx, target); err != nil {
		target.Enabled = true
		logger.Error("Failed to disable task", err)
		return false
	}
	task.Enabled = false

	if err := r.sink.AddWarning(ctx, task); err != nil {
		logger.Error("Failed to record warning activity", err)
	}

	logger.Warn("Task disabled after consecutive errors",
		logging.Int("errors", len(errs)),
		logging.Int("threshold", r.threshold),
	)
	return true
}
