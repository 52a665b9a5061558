// Package server assembles the HTTP API from the per-package handlers.
package server

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"manifold/backend/internal/audit"
	healthhandler "manifold/backend/internal/health/handler"
	registrationhandler "manifold/backend/internal/registration/handler"
	"manifold/backend/internal/server/middleware"
	userhandler "manifold/backend/internal/user/handler"
)

// Deps holds the handler dependencies. Nil services leave their routes answering 501, except
// Users, whose routes are only registered when set.
type Deps struct {
	Registrar registrationhandler.Registrar
	Verifier  registrationhandler.Verifier
	Users     *userhandler.Server
	Health    *healthhandler.Server
	// Audit records rejected mutating requests. If nil, nothing is audited at the HTTP layer.
	Audit audit.AuditLogger
	Log   *slog.Logger
}

// probePaths are neither logged nor traced.
var probePaths = map[string]bool{"/healthz": true, "/readyz": true}

// Routes registers every handler on a new mux.
//
// Route → handler mapping:
//   - POST /users, POST /users/verify     → internal/registration/handler
//   - GET /users/{id}, DELETE /users/{id} → internal/user/handler
//   - GET /healthz, GET /readyz           → internal/health/handler
func Routes(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()
	registrationhandler.NewServer(deps.Registrar, deps.Verifier, deps.Log).RegisterRoutes(mux)
	if deps.Users != nil {
		deps.Users.RegisterRoutes(mux)
	}
	health := deps.Health
	if health == nil {
		health = healthhandler.NewServer(healthhandler.Deps{}, deps.Log)
	}
	health.RegisterRoutes(mux)
	return mux
}

// NewHandler returns the full HTTP handler: routes wrapped in request context, logging, audit
// and OpenTelemetry instrumentation.
func NewHandler(deps Deps) http.Handler {
	log := deps.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	var h http.Handler = Routes(deps)
	h = middleware.AuditRejected(deps.Audit, nil)(h)
	h = middleware.RequestLog(log, probePaths)(h)
	h = middleware.RequestContext(h)
	return otelhttp.NewHandler(h, "manifold.http",
		otelhttp.WithFilter(func(r *http.Request) bool { return !probePaths[r.URL.Path] }),
	)
}
