package tasks_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"task-router/internal/common/errors"
	"task-router/internal/tasks"
	"task-router/internal/testutil"
)

func TestValidateTaskEvent(t *testing.T) {
	assert.NoError(t, tasks.ValidateTaskEvent(testutil.AppointmentTrigger()))
	assert.NoError(t, tasks.ValidateTaskEvent(testutil.SMSAction()))

	tests := []struct {
		name  string
		event *tasks.TaskEvent
	}{
		{"missing subject", &tasks.TaskEvent{}},
		{"missing key", &tasks.TaskEvent{Subject: "S", Parameters: []tasks.EventParameter{{DisplayName: "x"}}}},
		{"unknown type", &tasks.TaskEvent{Subject: "S", Parameters: []tasks.EventParameter{{Key: "a", Type: "BLOB"}}}},
		{"duplicate key", &tasks.TaskEvent{Subject: "S", Parameters: []tasks.EventParameter{{Key: "a"}, {Key: "a"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tasks.ValidateTaskEvent(tt.event)
			assert.True(t, errors.IsType(err, errors.ErrTypeValidation), "got %v", err)
		})
	}
}

func TestValidateTask(t *testing.T) {
	trigger := testutil.AppointmentTrigger()
	assert.NoError(t, tasks.ValidateTask(testutil.AppointmentTask(), trigger))

	t.Run("filter on unknown parameter", func(t *testing.T) {
		task := testutil.AppointmentTask()
		task.Filters = append(task.Filters, tasks.Filter{
			Parameter: tasks.EventParameter{Key: "nope"},
			Operator:  tasks.OpExist,
		})
		err := tasks.ValidateTask(task, trigger)
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
		assert.Contains(t, err.Error(), "nope")
	})

	t.Run("unknown operator", func(t *testing.T) {
		task := testutil.AppointmentTask()
		task.Filters = []tasks.Filter{{Parameter: tasks.EventParameter{Key: "eventName"}, Operator: "MATCHES"}}
		assert.Error(t, tasks.ValidateTask(task, trigger))
	})

	t.Run("missing action", func(t *testing.T) {
		task := testutil.AppointmentTask()
		task.Action = ""
		assert.Error(t, tasks.ValidateTask(task, trigger))
	})

	t.Run("trigger mismatch", func(t *testing.T) {
		task := testutil.AppointmentTask()
		task.Trigger = "OTHER"
		assert.Error(t, tasks.ValidateTask(task, trigger))
	})

	t.Run("without trigger definition only checks shape", func(t *testing.T) {
		assert.NoError(t, tasks.ValidateTask(testutil.AppointmentTask(), nil))
	})
}
