package app

import (
	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	"task-router/internal/common/logging"
	"task-router/internal/handlers"
	"task-router/internal/middleware"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, logger logging.Logger) {
	router.Use(middleware.RequestID)
	router.Use(middleware.Recover(logger))
	router.Use(middleware.Logging(logger))

	// Swagger UI
	router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	h.RegisterRoutes(router)
}
