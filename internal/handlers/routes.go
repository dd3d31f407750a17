package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes mounts the health check and the /api endpoints on router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()

	// Events
	var ingest http.Handler = http.HandlerFunc(h.HandleEvent)
	if h.limit != nil {
		ingest = h.limit(ingest)
	}
	api.Handle("/events", ingest).Methods("POST")
	api.HandleFunc("/events/definitions", h.PutDefinitions).Methods("PUT")

	// Tasks
	api.HandleFunc("/tasks", h.PutTasks).Methods("PUT")
	api.HandleFunc("/tasks/{id}/enable", h.EnableTask).Methods("POST")
	api.HandleFunc("/tasks/{id}/disable", h.DisableTask).Methods("POST")
	api.HandleFunc("/tasks/{id}/activities", h.GetActivities).Methods("GET")
	api.HandleFunc("/tasks/{id}/activities", h.DeleteActivities).Methods("DELETE")

	// Activities
	api.HandleFunc("/activities/{id}/retry", h.RetryActivity).Methods("POST")

	// Providers
	api.HandleFunc("/providers", h.GetProviders).Methods("GET")
}
