package server

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth error codes returned in the "error" member of an error response.
const (
	ErrorCodeInvalidRequest        = "invalid_request"
	ErrorCodeInvalidState          = "invalid_state"
	ErrorCodeExpiredState          = "expired_state"
	ErrorCodeInvalidGrant          = "invalid_grant"
	ErrorCodeInvalidClient         = "invalid_client"
	ErrorCodeInvalidToken          = "invalid_token"
	ErrorCodeUnsupportedGrantType  = "unsupported_grant_type"
	ErrorCodeInvalidClientMetadata = "invalid_client_metadata"
	ErrorCodeAccessDenied          = "access_denied"
	ErrorCodeRateLimitExceeded     = "rate_limit_exceeded"
	ErrorCodeServerError           = "server_error"
)

// Descriptions for the rejections clients are expected to match on.
const (
	DescInvalidState       = "Invalid or expired state parameter"
	DescExpiredState       = "State parameter has expired"
	DescInvalidCode        = "Invalid or expired authorization code"
	DescExpiredCode        = "Authorization code has expired"
	DescVerifierRequired   = "code_verifier required for PKCE flow"
	DescPKCEFailed         = "PKCE validation failed"
	DescExchangeFailed     = "Failed to exchange code for tokens"
	DescRefreshFailed      = "Failed to refresh access token"
	DescTokenInvalid       = "Token is invalid or expired"
	DescAuthorizationError = "Authorization failed"
	DescInternalError      = "An internal error occurred"
	DescPKCEPairIncomplete = "Both code_challenge and code_challenge_method must be provided together for PKCE"
)

// OAuthError is a protocol-level rejection. It is the only error type the
// HTTP boundary renders verbatim; anything else becomes server_error.
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

var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidState indicates the state is unknown or was already consumed
	ErrInvalidState = func() *OAuthError {
		return NewOAuthError(ErrorCodeInvalidState, DescInvalidState, http.StatusBadRequest)
	}

	// ErrExpiredState indicates the state outlived its TTL
	ErrExpiredState = func() *OAuthError {
		return NewOAuthError(ErrorCodeExpiredState, DescExpiredState, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates the authorization code or refresh token is invalid or expired
	ErrInvalidGrant = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidToken indicates the token is unknown, inactive or expired
	ErrInvalidToken = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidToken, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrInvalidClientMetadata indicates a registration request was rejected
	ErrInvalidClientMetadata = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidClientMetadata, desc, http.StatusBadRequest)
	}

	// ErrAccessDenied indicates the request lacked the required authorization
	ErrAccessDenied = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeAccessDenied, desc, http.StatusForbidden)
	}

	// ErrRateLimitExceeded indicates the caller exceeded its request budget
	ErrRateLimitExceeded = func() *OAuthError {
		return NewOAuthError(ErrorCodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)

// AsOAuthError returns err as an *OAuthError. Errors of any other type are
// mapped to a generic server_error so internal detail never reaches a client.
func AsOAuthError(err error) *OAuthError {
	if err == nil {
		return nil
	}
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		return oauthErr
	}
	return ErrServerError(DescInternalError)
}
