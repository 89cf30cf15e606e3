package authd

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/giantswarm/authd/identity"
	"github.com/giantswarm/authd/storage"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeServerError             = "server_error"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeInvalidRedirectURI      = "invalid_redirect_uri"
	ErrorCodeRateLimitExceeded       = "rate_limit_exceeded"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common OAuth errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates the authorization code or refresh token is invalid or expired
	ErrInvalidGrant = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidScope indicates the requested scope is invalid or unsupported
	ErrInvalidScope = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidScope, desc, http.StatusBadRequest)
	}

	// ErrInvalidToken indicates the access token is invalid or expired
	ErrInvalidToken = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
	}

	// ErrUnauthorizedClient indicates the client is not authorized for the requested grant type
	ErrUnauthorizedClient = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnauthorizedClient, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedResponseType indicates the response type is not supported
	ErrUnsupportedResponseType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedResponseType, desc, http.StatusBadRequest)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}

	// ErrAccessDenied indicates the user or authorization server denied the request
	ErrAccessDenied = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeAccessDenied, desc, http.StatusForbidden)
	}

	// ErrInvalidRedirectURI indicates the redirect URI is invalid or not registered
	ErrInvalidRedirectURI = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRedirectURI, desc, http.StatusBadRequest)
	}
)

// errorStatus maps OAuth error codes to HTTP status codes.
var errorStatus = map[string]int{
	ErrorCodeInvalidRequest:          http.StatusBadRequest,
	ErrorCodeInvalidGrant:            http.StatusBadRequest,
	ErrorCodeInvalidClient:           http.StatusUnauthorized,
	ErrorCodeInvalidScope:            http.StatusBadRequest,
	ErrorCodeInvalidToken:            http.StatusUnauthorized,
	ErrorCodeUnauthorizedClient:      http.StatusBadRequest,
	ErrorCodeUnsupportedGrantType:    http.StatusBadRequest,
	ErrorCodeUnsupportedResponseType: http.StatusBadRequest,
	ErrorCodeInvalidRedirectURI:      http.StatusBadRequest,
	ErrorCodeServerError:             http.StatusInternalServerError,
	ErrorCodeAccessDenied:            http.StatusForbidden,
	ErrorCodeRateLimitExceeded:       http.StatusTooManyRequests,
}

// AsOAuthError converts an error from the server package into an *OAuthError
// suitable for an HTTP response. Server errors carry their OAuth code as a
// message prefix; unavailability of storage or the identity backend maps to
// server_error so callers can retry, never to a grant error.
func AsOAuthError(err error) *OAuthError {
	if err == nil {
		return nil
	}

	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		return oauthErr
	}

	if errors.Is(err, storage.ErrUnavailable) || errors.Is(err, identity.ErrUnavailable) {
		return ErrServerError("temporarily unavailable")
	}

	msg := err.Error()
	if code, desc, ok := strings.Cut(msg, ": "); ok {
		if status, known := errorStatus[code]; known {
			return NewOAuthError(code, desc, status)
		}
	}

	// Unknown error shape. Do not leak internals to the client.
	return ErrServerError("internal error")
}
