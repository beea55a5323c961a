package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Key and signing errors.
var (
	ErrNoActiveKey    = errors.New("no active signing key")
	ErrUnknownKey     = errors.New("signing key not found")
	ErrInvalidPEM     = errors.New("key material is not a valid PEM block")
	ErrUnsupportedAlg = errors.New("unsupported signing algorithm")
	ErrDuplicateKey   = errors.New("signing key already exists")
)

// Store errors.
var (
	ErrClientExists   = errors.New("client already exists")
	ErrClientNotFound = errors.New("client not found")
	ErrUserExists     = errors.New("user already exists")
	ErrUserNotFound   = errors.New("user not found")
	ErrTokenNotFound  = errors.New("token not found")
	ErrExpired        = errors.New("expired")
	ErrClientMismatch = errors.New("issued to another client")
)

// OAuth 2.0 / OIDC error codes.
const (
	CodeInvalidRequest          = "invalid_request"
	CodeInvalidClient           = "invalid_client"
	CodeInvalidGrant            = "invalid_grant"
	CodeUnauthorizedClient      = "unauthorized_client"
	CodeUnsupportedResponseType = "unsupported_response_type"
	CodeUnsupportedGrantType    = "unsupported_grant_type"
	CodeUnsupportedTokenType    = "unsupported_token_type"
	CodeInvalidScope            = "invalid_scope"
	CodeInvalidRedirectURI      = "invalid_redirect_uri"
	CodeAccessDenied            = "access_denied"
	CodeLoginRequired           = "login_required"
	CodeServerError             = "server_error"
	CodeTemporarilyUnavailable  = "temporarily_unavailable"
	CodeInsufficientScope       = "insufficient_scope"
	CodeInvalidToken            = "invalid_token"
)

// OAuthError is a protocol-level error with the HTTP status it should be
// surfaced with on JSON endpoints.
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
}

func (e *OAuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// New builds an OAuthError with the default status for code.
func New(code, description string) *OAuthError {
	return &OAuthError{Code: code, Description: description, Status: StatusFor(code)}
}

// WithStatus builds an OAuthError with an explicit status. A zero status
// falls back to the default for code.
func WithStatus(status int, code, description string) *OAuthError {
	if status == 0 {
		status = StatusFor(code)
	}

	return &OAuthError{Code: code, Description: description, Status: status}
}

// StatusFor maps an OAuth error code to its HTTP status.
func StatusFor(code string) int {
	switch code {
	case CodeInvalidClient, CodeInvalidToken:
		return http.StatusUnauthorized
	case CodeInsufficientScope, CodeAccessDenied:
		return http.StatusForbidden
	case CodeServerError:
		return http.StatusInternalServerError
	case CodeTemporarilyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// As extracts an *OAuthError from err. Non-OAuth errors are reported as
// server_error so callers never leak internal messages.
func As(err error) *OAuthError {
	if err == nil {
		return nil
	}

	var oe *OAuthError
	if errors.As(err, &oe) {
		return oe
	}

	return New(CodeServerError, "internal error")
}

func InvalidRequest(description string) *OAuthError {
	return New(CodeInvalidRequest, description)
}

func InvalidClient(description string) *OAuthError {
	return New(CodeInvalidClient, description)
}

func InvalidGrant(description string) *OAuthError {
	return New(CodeInvalidGrant, description)
}

func ServerError(description string) *OAuthError {
	return New(CodeServerError, description)
}
