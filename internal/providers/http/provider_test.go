package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-router/internal/common/cache"
	"task-router/internal/common/errors"
	"task-router/internal/common/utils"
	"task-router/internal/redis"
	"task-router/internal/tasks"
)

func newProvider(t *testing.T, baseURL string, objects cache.Cache, ttl time.Duration) *Provider {
	t.Helper()
	p, err := New(Config{
		Name:     "CRM",
		BaseURL:  baseURL,
		Types:    []string{"Patient", "Clinic"},
		Token:    "secret",
		CacheTTL: ttl,
		Retry:    utils.RetryConfig{MaxAttempts: 1},
	}, objects, nil)
	require.NoError(t, err)
	return p
}

func field(t *testing.T, obj tasks.FieldAccessor, path ...string) interface{} {
	t.Helper()
	var current interface{} = obj
	for _, name := range path {
		accessor, ok := current.(tasks.FieldAccessor)
		require.True(t, ok, "%s is not an object", name)
		current, ok = accessor.Field(name)
		require.True(t, ok, "missing field %s", name)
	}
	return current
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Config{Name: "CRM", BaseURL: "http://example.com"}, nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = New(Config{BaseURL: "http://example.com", Types: []string{"Patient"}}, nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestProvider_NameAndSupports(t *testing.T) {
	p := newProvider(t, "http://example.com", nil, 0)
	assert.Equal(t, "CRM", p.Name())
	assert.True(t, p.Supports("Patient"))
	assert.False(t, p.Supports("Invoice"))

	info := p.Describe()
	assert.Equal(t, "CRM", info.Name)
	require.Len(t, info.Objects, 2)
	assert.Equal(t, "Patient", info.Objects[0].Type)
}

func TestProvider_BuildURL(t *testing.T) {
	fields := map[string]string{"id": "42", "site": "a b"}

	p := newProvider(t, "http://example.com/api/", nil, 0)
	assert.Equal(t, "http://example.com/api/Patient?id=42&site=a+b", p.buildURL("Patient", fields))
	assert.Equal(t, "http://example.com/api/Patient", p.buildURL("Patient", nil))

	p = newProvider(t, "http://example.com/{type}/search?v=1", nil, 0)
	assert.Equal(t, "http://example.com/Patient/search?v=1&id=42&site=a+b", p.buildURL("Patient", fields))

	p = newProvider(t, "http://example.com/{type}?{query}&format=json", nil, 0)
	assert.Equal(t, "http://example.com/Clinic?id=42&site=a+b&format=json", p.buildURL("Clinic", fields))
}

func TestProvider_LookupObject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Patient", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("id"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"Ada","address":{"city":"Paris"},"age":36}`))
	}))
	defer server.Close()

	p := newProvider(t, server.URL, nil, 0)
	obj, err := p.Lookup(context.Background(), "Patient", map[string]string{"id": "42"})
	require.NoError(t, err)
	require.NotNil(t, obj)

	assert.Equal(t, "Ada", field(t, obj, "name"))
	assert.Equal(t, "Paris", field(t, obj, "address", "city"))
	assert.Equal(t, float64(36), field(t, obj, "age"))
}

func TestProvider_LookupArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") == "none" {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(`[{"name":"first"},{"name":"second"}]`))
	}))
	defer server.Close()

	p := newProvider(t, server.URL, nil, 0)
	obj, err := p.Lookup(context.Background(), "Patient", map[string]string{"id": "1"})
	require.NoError(t, err)
	assert.Equal(t, "first", field(t, obj, "name"))

	obj, err = p.Lookup(context.Background(), "Patient", map[string]string{"id": "none"})
	require.NoError(t, err)
	assert.Nil(t, obj)
}

func TestProvider_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	obj, err := newProvider(t, server.URL, nil, 0).Lookup(context.Background(), "Patient", map[string]string{"id": "1"})
	require.NoError(t, err)
	assert.Nil(t, obj)
}

func TestProvider_Failures(t *testing.T) {
	status := int32(http.StatusUnauthorized)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := int(atomic.LoadInt32(&status))
		w.WriteHeader(code)
		if code == http.StatusOK {
			w.Write([]byte(`not json`))
		}
	}))
	defer server.Close()

	p := newProvider(t, server.URL, nil, 0)

	_, err := p.Lookup(context.Background(), "Patient", nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))

	atomic.StoreInt32(&status, http.StatusInternalServerError)
	_, err = p.Lookup(context.Background(), "Patient", nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeUnavailable))

	atomic.StoreInt32(&status, http.StatusOK)
	_, err = p.Lookup(context.Background(), "Patient", nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeInternal))
}

func TestProvider_CachesFoundObjects(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"name":"Ada"}`))
	}))
	defer server.Close()

	p := newProvider(t, server.URL, cache.NewRedisCache(client, "provider:"), time.Minute)
	fields := map[string]string{"id": "42"}

	for i := 0; i < 3; i++ {
		obj, err := p.Lookup(context.Background(), "Patient", fields)
		require.NoError(t, err)
		assert.Equal(t, "Ada", field(t, obj, "name"))
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.True(t, mr.Exists("provider:CRM:Patient:id=42"))

	mr.FastForward(2 * time.Minute)
	_, err = p.Lookup(context.Background(), "Patient", fields)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestProvider_InsecureSkipVerify(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"Ada"}`))
	}))
	defer server.Close()

	config := Config{
		Name:    "CRM",
		BaseURL: server.URL,
		Types:   []string{"Patient"},
		Retry:   utils.RetryConfig{MaxAttempts: 1},
	}

	strict, err := New(config, nil, nil)
	require.NoError(t, err)
	_, err = strict.Lookup(context.Background(), "Patient", nil)
	assert.Error(t, err)

	config.InsecureSkipVerify = true
	config.MaxIdleConnsPerHost = 2
	lenient, err := New(config, nil, nil)
	require.NoError(t, err)
	obj, err := lenient.Lookup(context.Background(), "Patient", nil)
	require.NoError(t, err)
	assert.Equal(t, "Ada", field(t, obj, "name"))
}
