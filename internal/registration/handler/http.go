// Package handler exposes registration and verification over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"manifold/backend/internal/apierror"
	identitydomain "manifold/backend/internal/identity/domain"
	"manifold/backend/internal/registration/service"
	userdomain "manifold/backend/internal/user/domain"
)

const maxBodyBytes = 64 << 10

// Registrar runs the registration saga.
type Registrar interface {
	Register(ctx context.Context, in service.NewUser) (*userdomain.User, error)
}

// Verifier redeems verification tokens.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Server serves POST /users and POST /users/verify.
type Server struct {
	registrar Registrar
	verifier  Verifier
	log       *slog.Logger
}

// NewServer returns a registration HTTP server. registrar or verifier may be nil; then the
// matching route answers 501.
func NewServer(registrar Registrar, verifier Verifier, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{registrar: registrar, verifier: verifier, log: log}
}

// RegisterRoutes registers the handlers on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /users", s.handleRegister)
	mux.HandleFunc("POST /users/verify", s.handleVerify)
}

type registerRequest struct {
	Username string          `json:"username"`
	Identity json.RawMessage `json:"identity"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if s.registrar == nil {
		notImplemented(w)
		return
	}
	var req registerRequest
	if err := decode(w, r, &req); err != nil {
		badRequest(w, err)
		return
	}
	identity, err := decodeIdentity(req.Identity)
	if err != nil {
		badRequest(w, err)
		return
	}

	user, err := s.registrar.Register(r.Context(), service.NewUser{Username: req.Username, Identity: identity})
	if user != nil {
		w.Header().Set("Location", resourceURL(r, user.ID))
	}
	if err != nil {
		s.log.InfoContext(r.Context(), "register: request failed", "error", err)
		apierror.WriteError(w, err)
		return
	}
	apierror.WriteJSON(w, http.StatusCreated, user)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		notImplemented(w)
		return
	}
	var token string
	if err := decode(w, r, &token); err != nil {
		badRequest(w, fmt.Errorf("body must be a JSON string token: %w", err))
		return
	}
	if _, err := s.verifier.Verify(r.Context(), strings.TrimSpace(token)); err != nil {
		apierror.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeIdentity reads the identity object. Its optional "kind" field selects the variant and
// defaults to email.
func decodeIdentity(raw json.RawMessage) (identitydomain.LoginIdentity, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, errors.New("identity is required")
	}
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	kind := identitydomain.LoginIdentityTypeEmail
	if head.Kind != "" {
		k, err := identitydomain.ParseLoginIdentityType(head.Kind)
		if err != nil {
			return nil, err
		}
		kind = k
	}
	switch kind {
	case identitydomain.LoginIdentityTypeEmail:
		var ep identitydomain.EmailPassword
		if err := json.Unmarshal(raw, &ep); err != nil {
			return nil, fmt.Errorf("identity: %w", err)
		}
		return ep, nil
	}
	return nil, fmt.Errorf("unsupported login identity kind %q", kind)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("malformed JSON body: %w", err)
	}
	return nil
}

// resourceURL is the absolute URL of the created user, built from the request URL.
func resourceURL(r *http.Request, id string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "/") + "/" + id
}

func badRequest(w http.ResponseWriter, err error) {
	apierror.Write(w, http.StatusBadRequest, apierror.Body{
		Code:        apierror.CodeBadRequest,
		Message:     "Malformed request",
		Description: err.Error(),
	})
}

func notImplemented(w http.ResponseWriter) {
	apierror.Write(w, http.StatusNotImplemented, apierror.Body{Code: apierror.CodeInternal, Message: "Not implemented"})
}
