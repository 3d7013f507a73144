package oauth

import (
	"github.com/onimsha/airtable-mcp-server-oauth/server"
)

// OAuthError is the protocol error rendered by every endpoint
type OAuthError = server.OAuthError

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest        = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidState          = server.ErrorCodeInvalidState
	ErrorCodeExpiredState          = server.ErrorCodeExpiredState
	ErrorCodeInvalidGrant          = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidClient         = server.ErrorCodeInvalidClient
	ErrorCodeInvalidToken          = server.ErrorCodeInvalidToken
	ErrorCodeUnsupportedGrantType  = server.ErrorCodeUnsupportedGrantType
	ErrorCodeInvalidClientMetadata = server.ErrorCodeInvalidClientMetadata
	ErrorCodeAccessDenied          = server.ErrorCodeAccessDenied
	ErrorCodeRateLimitExceeded     = server.ErrorCodeRateLimitExceeded
	ErrorCodeServerError           = server.ErrorCodeServerError
)

// ErrorResponse is the JSON body of every error response
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// StatusResponse is the body returned by revocation and health checks
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Service string `json:"service,omitempty"`
	Version string `json:"version,omitempty"`
}
