package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-router/internal/common/errors"
	"task-router/internal/common/logging"
	"task-router/internal/handlers"
	"task-router/internal/locks"
	"task-router/internal/storage"
	"task-router/internal/storage/memory"
	"task-router/internal/tasks"
	"task-router/internal/testutil"
)

type refresher struct {
	mu    sync.Mutex
	calls int
}

func (r *refresher) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil
}

type testEnv struct {
	store     *memory.Store
	relay     *testutil.MockRelay
	provider  *testutil.MockProvider
	listener  *refresher
	handlers  *handlers.Handlers
	router    *mux.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    memory.New(),
		relay:    testutil.NewMockRelay(),
		provider: testutil.AppointmentProvider(),
		listener: &refresher{},
	}

	engine := tasks.NewEngine(env.store, env.store, env.relay, locks.NewLocalManager(), tasks.DefaultConfig(), logging.NopLogger())
	engine.SetDataProviders([]tasks.DataProvider{env.provider})

	env.handlers = handlers.New(env.store, engine, env.listener, logging.NopLogger())
	env.router = mux.NewRouter()
	env.handlers.RegisterRoutes(env.router)
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

// seed loads the appointment definitions and task through the API
func (env *testEnv) seed(t *testing.T) *tasks.Task {
	t.Helper()
	rec := env.do(t, http.MethodPut, "/api/events/definitions", handlers.DefinitionsRequest{
		Triggers: []*tasks.TaskEvent{testutil.AppointmentTrigger()},
		Actions:  []*tasks.TaskEvent{testutil.SMSAction()},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	task := testutil.AppointmentTask()
	task.ID = ""
	rec = env.do(t, http.MethodPut, "/api/tasks", []*tasks.Task{task})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var saved []*tasks.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	require.Len(t, saved, 1)
	require.NotEmpty(t, saved[0].ID)
	return saved[0]
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode[handlers.HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "ok", resp.Checks["storage"])

	env.handlers.AddHealthCheck("broker", func(ctx context.Context) error {
		return errors.ConnectionError("broker down", nil)
	})
	rec = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp = decode[handlers.HealthResponse](t, rec)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Contains(t, resp.Checks["broker"], "broker down")
}

func TestHandleEvent(t *testing.T) {
	env := newTestEnv(t)
	task := env.seed(t)
	assert.Equal(t, 1, env.listener.calls)

	rec := env.do(t, http.MethodPost, "/api/events", testutil.AppointmentEvent())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[handlers.EventResponse](t, rec)
	assert.Equal(t, 1, resp.Matched)
	assert.Equal(t, 1, resp.Dispatched)
	assert.Equal(t, 0, resp.Failed)
	assert.True(t, resp.TriggerFound)

	sent := env.relay.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Hello 123456789, You have an appointment on 2012-11-20", sent[0].Parameters["message"].String())
	assert.Equal(t, "string: Event-Name, date: 20121120", sent[0].Parameters["manipulation"].String())
	assert.Equal(t, "test: 6789", sent[0].Parameters["ds"].String())

	list, err := env.store.ListActivities(context.Background(), task.ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, tasks.ActivitySuccess, list[0].Type)
}

func TestHandleEvent_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	t.Run("unknown subject", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/events", tasks.Event{Subject: "UNKNOWN"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		resp := decode[handlers.EventResponse](t, rec)
		assert.False(t, resp.TriggerFound)
	})

	t.Run("missing subject", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/events", tasks.Event{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/events", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPutDefinitions_RejectsInvalid(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/events/definitions", handlers.DefinitionsRequest{
		Triggers: []*tasks.TaskEvent{testutil.AppointmentTrigger()},
		Actions:  []*tasks.TaskEvent{{DisplayName: "no subject"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// nothing stored when one entry is invalid
	list, err := env.store.ListTaskEvents(context.Background(), storage.KindTrigger)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPutTasks_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	t.Run("unknown trigger", func(t *testing.T) {
		task := testutil.AppointmentTask()
		task.ID = ""
		task.Trigger = "UNKNOWN"
		rec := env.do(t, http.MethodPut, "/api/tasks", []*tasks.Task{task})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("filter on undeclared parameter", func(t *testing.T) {
		task := testutil.AppointmentTask()
		task.ID = ""
		task.Filters = []tasks.Filter{{Parameter: tasks.EventParameter{Key: "missing"}, Operator: tasks.OpExist}}
		rec := env.do(t, http.MethodPut, "/api/tasks", []*tasks.Task{task})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "missing")
	})
}

func TestEnableDisableTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.seed(t)
	ctx := context.Background()

	rec := env.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/disable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got, err := env.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	// disabled tasks do not run
	rec = env.do(t, http.MethodPost, "/api/events", testutil.AppointmentEvent())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.relay.Sent())

	rec = env.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/enable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[handlers.TaskStateResponse](t, rec)
	assert.True(t, state.Enabled)

	rec = env.do(t, http.MethodPost, "/api/tasks/missing/enable", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActivities(t *testing.T) {
	env := newTestEnv(t)
	task := env.seed(t)

	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodPost, "/api/events", testutil.AppointmentEvent())
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/tasks/"+task.ID+"/activities", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]tasks.Activity](t, rec), 3)

	rec = env.do(t, http.MethodGet, "/api/tasks/"+task.ID+"/activities?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]tasks.Activity](t, rec), 2)

	rec = env.do(t, http.MethodGet, "/api/tasks/"+task.ID+"/activities?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/tasks/"+task.ID+"/activities", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decode[handlers.DeleteActivitiesResponse](t, rec).Deleted)

	rec = env.do(t, http.MethodGet, "/api/tasks/"+task.ID+"/activities", nil)
	assert.Empty(t, decode[[]tasks.Activity](t, rec))
}

func TestRetryActivity(t *testing.T) {
	env := newTestEnv(t)
	task := env.seed(t)
	ctx := context.Background()

	env.provider.Err = errors.ConnectionError("provider down", nil)
	rec := env.do(t, http.MethodPost, "/api/events", testutil.AppointmentEvent())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[handlers.EventResponse](t, rec).Failed)
	require.Empty(t, env.relay.Sent())

	list, err := env.store.ListActivities(ctx, task.ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	failed := list[0]
	require.Equal(t, tasks.ActivityError, failed.Type)

	env.provider.Err = nil
	rec = env.do(t, http.MethodPost, "/api/activities/"+failed.ID+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[handlers.RetryResponse](t, rec)
	assert.Equal(t, tasks.OutcomeDispatched, resp.Outcome)
	assert.Empty(t, resp.Error)

	sent := env.relay.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "test: 6789", sent[0].Parameters["ds"].String())

	list, err = env.store.ListActivities(ctx, task.ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, tasks.ActivitySuccess, list[0].Type)

	t.Run("success activity conflicts", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/activities/"+list[0].ID+"/retry", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown activity", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/activities/missing/retry", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetProviders(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	infos := decode[[]tasks.ProviderInfo](t, rec)
	require.Len(t, infos, 1)
	assert.Equal(t, testutil.TestProviderName, infos[0].Name)
}
