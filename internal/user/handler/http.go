// Package handler serves user lookup and deletion over HTTP.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"manifold/backend/internal/apierror"
	auditdomain "manifold/backend/internal/audit/domain"
	"manifold/backend/internal/user/domain"
)

// UserStore is the subset of the user repository used by the handler.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// AuditLogger records user deletions.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource string, metadata map[string]string)
}

// Server serves GET /users/{id} and DELETE /users/{id}.
type Server struct {
	users   UserStore
	audit   AuditLogger
	log     *slog.Logger
	timeout time.Duration
}

// NewServer returns a user HTTP server. audit may be nil. timeout bounds each store call (2s if <= 0).
func NewServer(users UserStore, audit AuditLogger, log *slog.Logger, timeout time.Duration) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Server{users: users, audit: audit, log: log, timeout: timeout}
}

// RegisterRoutes registers the handlers on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /users/{id}", s.handleGet)
	mux.HandleFunc("DELETE /users/{id}", s.handleDelete)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		s.log.ErrorContext(ctx, "user: lookup failed", "user_id", id, "error", err)
		internalError(w, fmt.Sprintf("Error occurred while trying to get user with id '%s'", id))
		return
	}
	if u == nil {
		notFound(w, fmt.Sprintf("No user with id '%s'", id))
		return
	}
	apierror.WriteJSON(w, http.StatusOK, u)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	deleted, err := s.users.Delete(ctx, id)
	if err != nil {
		s.log.ErrorContext(ctx, "user: delete failed", "user_id", id, "error", err)
		internalError(w, fmt.Sprintf("Unable to delete user with id '%s'", id))
		return
	}
	if !deleted {
		notFound(w, fmt.Sprintf("Trying to delete non-existent user with id '%s'", id))
		return
	}
	if s.audit != nil {
		s.audit.LogEvent(r.Context(), id, auditdomain.ActionUserDeleted, "user", nil)
	}
	s.log.InfoContext(ctx, "user: deleted", "user_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// userID returns the {id} path value if it is a UUID, otherwise writes 400.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := strings.TrimSpace(r.PathValue("id"))
	id, err := uuid.Parse(raw)
	if err != nil {
		apierror.Write(w, http.StatusBadRequest, apierror.Body{
			Code:        apierror.CodeBadRequest,
			Message:     "Invalid user id",
			Description: err.Error(),
		})
		return "", false
	}
	return id.String(), true
}

func notFound(w http.ResponseWriter, msg string) {
	apierror.Write(w, http.StatusNotFound, apierror.Body{Code: apierror.CodeNotFound, Message: msg})
}

func internalError(w http.ResponseWriter, msg string) {
	apierror.Write(w, http.StatusInternalServerError, apierror.Body{Code: apierror.CodeInternal, Message: msg})
}
