// Package apierror maps registration and verification errors to HTTP responses.
package apierror

import (
	"encoding/json"
	"errors"
	"net/http"

	"manifold/backend/internal/registration/service"
)

// Numeric error codes carried in Body.Code.
const (
	CodeValidationFailed          = 1001
	CodeDuplicateIdentity         = 1002
	CodeUserCreationFailed        = 1003
	CodeIdentityAttachFailed      = 1004
	CodeTokenIssueFailed          = 1005
	CodeNotificationFailed        = 1006
	CodeCompensationFailed        = 1007
	CodeInvalidOrExpiredToken     = 2001
	CodeVerificationPersistFailed = 2002
	CodeStoreUnavailable          = 2003

	CodeBadRequest = 3001
	CodeNotFound   = 3002
	CodeInternal   = 3003
)

// Body is the JSON error response.
type Body struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
}

// rule maps an error kind to a response. Order matters: the first match wins.
type rule struct {
	kind    error
	status  int
	code    int
	message string
}

var rules = []rule{
	{service.ErrCompensationFailed, http.StatusInternalServerError, CodeCompensationFailed, "Registration failed and could not be fully rolled back"},
	{service.ErrDuplicateIdentity, http.StatusConflict, CodeDuplicateIdentity, "A user with this login identity already exists"},
	{service.ErrValidationFailed, http.StatusBadRequest, CodeValidationFailed, "Invalid registration request"},
	{service.ErrUserCreationFailed, http.StatusInternalServerError, CodeUserCreationFailed, "Error occurred while trying to create new user"},
	{service.ErrIdentityAttachFailed, http.StatusInternalServerError, CodeIdentityAttachFailed, "Error occurred while trying to attach the login identity"},
	{service.ErrTokenIssueFailed, http.StatusInternalServerError, CodeTokenIssueFailed, "Error occurred while trying to issue a verification token"},
	{service.ErrNotificationFailed, http.StatusInternalServerError, CodeNotificationFailed, "Error occurred while trying to send the verification message"},
	{service.ErrInvalidOrExpiredToken, http.StatusBadRequest, CodeInvalidOrExpiredToken, "Invalid or expired verification token"},
	{service.ErrVerificationPersistFailed, http.StatusInternalServerError, CodeVerificationPersistFailed, "Failed while trying to verify login identity"},
	{service.ErrStoreUnavailable, http.StatusServiceUnavailable, CodeStoreUnavailable, "Verification token store unavailable"},
}

// From maps err to an HTTP status and body. Unknown errors become 500 with CodeInternal.
// The description carries err's text except for internal errors of unknown kind.
func From(err error) (int, Body) {
	for _, r := range rules {
		if !errors.Is(err, r.kind) {
			continue
		}
		status := r.status
		if r.kind == service.ErrTokenIssueFailed && errors.Is(err, service.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		body := Body{Code: r.code, Message: r.message, Description: err.Error()}
		if r.kind == service.ErrNotificationFailed {
			body.Description = "The user was created but the verification message could not be sent: " + err.Error()
		}
		return status, body
	}
	return http.StatusInternalServerError, Body{Code: CodeInternal, Message: "Internal server error"}
}

// Write encodes body as JSON with status.
func Write(w http.ResponseWriter, status int, body Body) {
	WriteJSON(w, status, body)
}

// WriteError maps err with From and writes the response.
func WriteError(w http.ResponseWriter, err error) {
	status, body := From(err)
	Write(w, status, body)
}

// WriteJSON writes payload as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
