package app

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"task-router/internal/common/logging"
	"task-router/internal/common/ratelimit"
	"task-router/internal/handlers"
	"task-router/internal/server"
)

// RunServer builds the HTTP server with all handlers configured
func (app *App) RunServer() (*server.Server, http.Handler) {
	h := handlers.New(app.Storage, app.Engine, app.Listener, app.Logger)
	h.AddHealthCheck("broker", func(context.Context) error { return app.Broker.Health() })
	if app.Redis != nil {
		h.AddHealthCheck("redis", func(context.Context) error { return app.Redis.Health() })
	}

	if rl := app.Config.EventRateLimit; rl.RequestsPerSecond > 0 {
		cfg := ratelimit.Config{RequestsPerSecond: rl.RequestsPerSecond, Burst: rl.Burst, KeyPrefix: "ratelimit:events:"}
		limiter, err := ratelimit.New(cfg, app.Redis)
		if err != nil {
			app.Logger.Warn("Event rate limit disabled", logging.Err(err))
		} else {
			h.LimitEvents(ratelimit.HTTPMiddleware(limiter, ratelimit.IPKey, max(rl.Burst, rl.RequestsPerSecond), app.Logger))
		}
	}

	router := mux.NewRouter()
	SetupRoutes(router, h, app.Logger)

	srv := server.New(router, app.Config.Port, app.Config.TLSCertFile, app.Config.TLSKeyFile)
	return srv, router
}
