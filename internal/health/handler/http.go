// Package handler serves liveness and readiness probes.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"manifold/backend/internal/apierror"
)

// Pinger checks the relational store (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// KVPinger checks the token store (e.g. *tokenstore.RedisStore).
type KVPinger interface {
	Ping(ctx context.Context) error
}

// PolicyChecker checks the admission policy engine (e.g. *engine.OPAEvaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the readiness dependencies. Nil fields are skipped.
type Deps struct {
	DB      Pinger
	KV      KVPinger
	Policy  PolicyChecker
	Timeout time.Duration
}

// Server serves GET /healthz and GET /readyz.
type Server struct {
	deps Deps
	log  *slog.Logger
}

// Response is the body of both probes.
type Response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewServer returns a health server. Timeout bounds each readiness check (1s if <= 0).
func NewServer(deps Deps, log *slog.Logger) *Server {
	if deps.Timeout <= 0 {
		deps.Timeout = time.Second
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{deps: deps, log: log}
}

// RegisterRoutes registers the probes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleLive)
	mux.HandleFunc("GET /readyz", s.handleReady)
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	apierror.WriteJSON(w, http.StatusOK, Response{Status: "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]func(context.Context) error{}
	if s.deps.DB != nil {
		checks["db"] = s.deps.DB.PingContext
	}
	if s.deps.KV != nil {
		checks["redis"] = s.deps.KV.Ping
	}
	if s.deps.Policy != nil {
		checks["policy"] = s.deps.Policy.HealthCheck
	}

	resp := Response{Status: "ok", Checks: make(map[string]string, len(checks))}
	status := http.StatusOK
	for name, check := range checks {
		ctx, cancel := context.WithTimeout(r.Context(), s.deps.Timeout)
		err := check(ctx)
		cancel()
		if err != nil {
			s.log.WarnContext(r.Context(), "health: readiness check failed", "check", name, "error", err)
			resp.Checks[name] = "unavailable"
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	apierror.WriteJSON(w, status, resp)
}
