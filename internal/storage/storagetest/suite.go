// Package storagetest holds the behaviour every storage backend must share.
// Backend packages call Run from their own tests with a constructor.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-router/internal/common/errors"
	"task-router/internal/storage"
	"task-router/internal/tasks"
	"task-router/internal/testutil"
)

// Run executes the storage suite, calling newStore once per subtest
func Run(t *testing.T, newStore func(t *testing.T) storage.Storage) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"EventDefinitions", testEventDefinitions},
		{"TriggerAndActionNotFound", testNotFound},
		{"SaveAndFindTasks", testTasks},
		{"SetEnabled", testSetEnabled},
		{"ActivityLog", testActivityLog},
		{"ErrorsFromLastRun", testErrorsFromLastRun},
		{"DeleteActivities", testDeleteActivities},
		{"Health", testHealth},
		{"EngineRoundTrip", testEngineRoundTrip},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

func seed(t *testing.T, s storage.Storage) *tasks.Task {
	ctx := context.Background()
	require.NoError(t, s.SaveTaskEvent(ctx, storage.KindTrigger, testutil.AppointmentTrigger()))
	require.NoError(t, s.SaveTaskEvent(ctx, storage.KindAction, testutil.SMSAction()))

	task := testutil.AppointmentTask()
	task.ID = ""
	require.NoError(t, s.Save(ctx, task))
	require.NotEmpty(t, task.ID)
	return task
}

func testEventDefinitions(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	trigger := testutil.AppointmentTrigger()
	require.NoError(t, s.SaveTaskEvent(ctx, storage.KindTrigger, trigger))

	got, err := s.GetTaskEvent(ctx, storage.KindTrigger, trigger.Subject)
	require.NoError(t, err)
	assert.Equal(t, trigger.Subject, got.Subject)
	assert.Equal(t, trigger.Keys(), got.Keys())

	// upsert replaces the definition
	trigger.DisplayName = "Appointment created"
	trigger.Parameters = trigger.Parameters[:1]
	require.NoError(t, s.SaveTaskEvent(ctx, storage.KindTrigger, trigger))

	list, err := s.ListTaskEvents(ctx, storage.KindTrigger)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Appointment created", list[0].DisplayName)
	assert.Len(t, list[0].Parameters, 1)

	actions, err := s.ListTaskEvents(ctx, storage.KindAction)
	require.NoError(t, err)
	assert.Empty(t, actions)

	err = s.SaveTaskEvent(ctx, storage.KindAction, &tasks.TaskEvent{})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	err = s.SaveTaskEvent(ctx, storage.EventKind("other"), trigger)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func testNotFound(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	_, err := s.FindTrigger(ctx, "UNKNOWN")
	assert.ErrorIs(t, err, tasks.ErrTriggerNotFound)

	_, err = s.GetActionEventFor(ctx, &tasks.Task{Action: "UNKNOWN"})
	assert.ErrorIs(t, err, tasks.ErrActionNotFound)

	_, err = s.GetTask(ctx, "missing")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	_, err = s.GetActivity(ctx, "missing")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func testTasks(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	task := seed(t, s)

	other := testutil.AppointmentTask()
	other.ID = ""
	other.Trigger = "OTHER_SUBJECT"
	require.NoError(t, s.Save(ctx, other))

	trigger, err := s.FindTrigger(ctx, testutil.AppointmentSubject)
	require.NoError(t, err)

	bound, err := s.FindTasksForTrigger(ctx, trigger)
	require.NoError(t, err)
	require.Len(t, bound, 1)
	assert.Equal(t, task.ID, bound[0].ID)
	assert.Equal(t, task.ActionInputFields, bound[0].ActionInputFields)
	assert.Len(t, bound[0].Filters, len(task.Filters))
	assert.Equal(t, task.AdditionalData, bound[0].AdditionalData)
	assert.True(t, bound[0].Enabled)

	all, err := s.GetAllTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	action, err := s.GetActionEventFor(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, testutil.SMSSubject, action.Subject)

	// returned tasks are copies
	bound[0].Enabled = false
	fresh, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, fresh.Enabled)

	fresh.Enabled = false
	fresh.Name = "renamed"
	require.NoError(t, s.Save(ctx, fresh))
	saved, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, saved.Enabled)
	assert.Equal(t, "renamed", saved.Name)
}

func testSetEnabled(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	task := seed(t, s)

	require.NoError(t, s.SetEnabled(ctx, task.ID, false))
	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	require.NoError(t, s.SetEnabled(ctx, task.ID, true))
	got, err = s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)

	err = s.SetEnabled(ctx, "missing", true)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func testActivityLog(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	task := seed(t, s)

	require.NoError(t, s.AddSuccess(ctx, task))
	failure := tasks.NewTaskError(tasks.KeyTemplateNull, "field", "message")
	failure.Parameters = testutil.AppointmentParams()
	require.NoError(t, s.AddError(ctx, task, failure))
	require.NoError(t, s.AddWarning(ctx, task))

	list, err := s.ListActivities(ctx, task.ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, tasks.ActivityWarning, list[0].Type)
	assert.Equal(t, tasks.MessageKeyDisabled, list[0].MessageKey)
	assert.Equal(t, tasks.ActivityError, list[1].Type)
	assert.Equal(t, tasks.ActivitySuccess, list[2].Type)
	assert.Equal(t, tasks.MessageKeySuccess, list[2].MessageKey)

	limited, err := s.ListActivities(ctx, task.ID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	stored, err := s.GetActivity(ctx, list[1].ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, stored.TaskID)
	assert.Equal(t, tasks.KeyTemplateNull, stored.MessageKey)
	assert.Equal(t, "message", stored.Fields["field"])
	assert.WithinDuration(t, time.Now(), stored.Timestamp, time.Minute)

	require.Contains(t, stored.Parameters, "externalId")
	assert.Equal(t, "123456789", stored.Parameters["externalId"].String())
	// dates come back as their wire text, which retries parse again
	assert.Equal(t, "2012-11-20", stored.Parameters["startDate"].String())
}

func testErrorsFromLastRun(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	task := seed(t, s)
	failure := tasks.NewTaskError(tasks.KeyObjectNotFound)

	errs, err := s.ErrorsFromLastRun(ctx, task)
	require.NoError(t, err)
	assert.Empty(t, errs)

	require.NoError(t, s.AddError(ctx, task, failure))
	require.NoError(t, s.AddSuccess(ctx, task))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AddError(ctx, task, failure))
	}

	errs, err = s.ErrorsFromLastRun(ctx, task)
	require.NoError(t, err)
	assert.Len(t, errs, 3)

	// the auto-disable warning starts a new run
	require.NoError(t, s.AddWarning(ctx, task))
	require.NoError(t, s.AddError(ctx, task, failure))
	errs, err = s.ErrorsFromLastRun(ctx, task)
	require.NoError(t, err)
	assert.Len(t, errs, 1)

	// other tasks do not count
	other := &tasks.Task{ID: "other-task"}
	require.NoError(t, s.AddError(ctx, other, failure))
	errs, err = s.ErrorsFromLastRun(ctx, task)
	require.NoError(t, err)
	assert.Len(t, errs, 1)
}

func testDeleteActivities(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	task := seed(t, s)
	other := &tasks.Task{ID: "other-task"}

	require.NoError(t, s.AddSuccess(ctx, task))
	require.NoError(t, s.AddSuccess(ctx, task))
	require.NoError(t, s.AddSuccess(ctx, other))

	n, err := s.DeleteActivities(ctx, task.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	list, err := s.ListActivities(ctx, task.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = s.ListActivities(ctx, other.ID, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testHealth(t *testing.T, s storage.Storage) {
	assert.NoError(t, s.Health(context.Background()))
}

// testEngineRoundTrip runs the appointment fixture through the engine with the store as both collaborators
func testEngineRoundTrip(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	task := seed(t, s)
	relay := testutil.NewMockRelay()

	engine := tasks.NewEngine(s, s, relay, nil, tasks.DefaultConfig(), nil)
	engine.SetDataProviders([]tasks.DataProvider{testutil.AppointmentProvider()})

	summary := engine.Handle(ctx, testutil.AppointmentEvent())
	require.True(t, summary.TriggerFound)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, tasks.OutcomeDispatched, summary.Results[0].Outcome)

	sent := relay.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Hello 123456789, You have an appointment on 2012-11-20", sent[0].Parameters["message"].String())

	list, err := s.ListActivities(ctx, task.ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, tasks.ActivitySuccess, list[0].Type)
}
