package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-router/internal/redis"
)

func TestLocalLimiter(t *testing.T) {
	l, err := New(Config{RequestsPerSecond: 1, Burst: 2}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "a")
	assert.False(t, ok)

	// keys have separate buckets
	ok, _ = l.Allow(ctx, "b")
	assert.True(t, ok)
	assert.Equal(t, 2, l.(*LocalLimiter).Len())
}

func TestNew_Disabled(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestDistributedLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	now := time.Unix(1700000000, 0)
	d := NewDistributed(Config{RequestsPerSecond: 2, Burst: 2}, client)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := d.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := d.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, mr.Exists("ratelimit:10.0.0.1:1700000000"))

	now = now.Add(time.Second)
	ok, err = d.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.Close()
	_, err = d.Allow(ctx, "10.0.0.1")
	assert.Error(t, err)
}

func TestHTTPMiddleware(t *testing.T) {
	handler := HTTPMiddleware(NewLocal(Config{RequestsPerSecond: 1, Burst: 1}), IPKey, 1, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) }))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/events", nil)
		req.Header.Set("X-Forwarded-For", ip+", 192.168.0.1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusAccepted, send("1.1.1.1").Code)
	rec := send("1.1.1.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusAccepted, send("2.2.2.2").Code)
}

func TestIPKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	assert.Equal(t, "10.1.2.3", IPKey(req))

	req.Header.Set("X-Real-IP", "8.8.8.8")
	assert.Equal(t, "8.8.8.8", IPKey(req))
}
