package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/labelgen/internal/api"
	apiMiddleware "github.com/phrazzld/labelgen/internal/api/middleware"
	"github.com/phrazzld/labelgen/internal/service/auth"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	jobHandler := api.NewJobHandler(app.jobService, api.StaleDefaults{
		OlderThan:   app.config.Dispatcher.StaleAfter(),
		MaxAttempts: app.config.Dispatcher.MaxAttempts,
	}, app.logger)
	credentialHandler := api.NewCredentialHandler(app.jobService)

	r.Route("/api", func(r chi.Router) {
		var authMiddleware *apiMiddleware.AuthMiddleware
		if app.jwtService != nil {
			authMiddleware = apiMiddleware.NewAuthMiddleware(app.jwtService)
			r.Use(authMiddleware.Authenticate)
		}

		r.Post("/jobs", jobHandler.SubmitJobs)
		r.Get("/jobs", jobHandler.ListJobs)
		r.Get("/jobs/stats", jobHandler.GetStats)
		r.Get("/jobs/{id}", jobHandler.GetJob)
		r.Get("/credentials", credentialHandler.ListCredentials)

		// Operator endpoints
		r.Group(func(r chi.Router) {
			if authMiddleware != nil {
				r.Use(apiMiddleware.RequireRole(auth.RoleOperator))
			}
			r.Post("/jobs/reset-stale", jobHandler.ResetStale)
			r.Post("/credentials/{name}/reset-quota", credentialHandler.ResetQuota)
		})
	})

	r.Get("/health", app.handleHealth)
	r.Handle("/metrics", app.metrics.Handler())

	return r
}

// handleHealth reports 200 when the job store is reachable.
func (app *application) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, body := http.StatusOK, "OK"
	if err := app.store.ping(ctx); err != nil {
		app.logger.Error("health check failed", "error", err)
		status, body = http.StatusServiceUnavailable, "UNAVAILABLE"
	}

	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		app.logger.Error("Failed to write health check response", "error", err)
	}
}
