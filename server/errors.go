package server

import (
	"errors"
	"net/http"
)

// Error is a member of the closed error taxonomy returned by the core.
// Every value carries the OAuth error code and the HTTP status it maps to.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Error taxonomy.
var (
	ErrInvalidRequest             = &Error{Code: "invalid_request", Message: "malformed request", Status: http.StatusBadRequest}
	ErrInvalidGrantType           = &Error{Code: "unsupported_grant_type", Message: "invalid grant type", Status: http.StatusBadRequest}
	ErrInvalidClient              = &Error{Code: "invalid_client", Message: "invalid client", Status: http.StatusUnauthorized}
	ErrInvalidSecret              = &Error{Code: "invalid_client", Message: "invalid client secret", Status: http.StatusUnauthorized}
	ErrRateLimited                = &Error{Code: "access_denied", Message: "too many failed login attempts", Status: http.StatusForbidden}
	ErrInvalidClientName          = &Error{Code: "invalid_client_metadata", Message: "client name is reserved or invalid", Status: http.StatusBadRequest}
	ErrInvalidCode                = &Error{Code: "invalid_grant", Message: "authorization code invalid", Status: http.StatusBadRequest}
	ErrInvalidCodeChallengeMethod = &Error{Code: "invalid_request", Message: "unsupported code_challenge_method", Status: http.StatusBadRequest}
	ErrInvalidResourceAccess      = &Error{Code: "insufficient_scope", Message: "token not valid for this resource", Status: http.StatusForbidden}
	ErrInvalidAuthHeader          = &Error{Code: "invalid_token", Message: "missing or malformed authorization header", Status: http.StatusUnauthorized}
	ErrInvalidAuthType            = &Error{Code: "invalid_token", Message: "authorization type must be Bearer", Status: http.StatusUnauthorized}
	ErrSigningFailure             = &Error{Code: "server_error", Message: "signing or key failure", Status: http.StatusInternalServerError}
)

// StatusOf maps any error to an HTTP status. Errors outside the taxonomy are
// internal failures.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}

// CodeOf returns the OAuth error code for err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrSigningFailure.Code
}
