package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/onimsha/airtable-mcp-server-oauth/pkce"
)

// Provider is the capability set of one downstream OAuth provider.
type Provider interface {
	// Name returns the provider name (e.g., "airtable")
	Name() string

	// Descriptor returns the static client registration with the provider
	Descriptor() Descriptor

	// AuthorizationURL builds the provider authorization URL.
	// codeChallenge and codeChallengeMethod are omitted when either is empty.
	AuthorizationURL(state, codeChallenge, codeChallengeMethod string) string

	// ExchangeCode exchanges a provider authorization code for tokens.
	// codeVerifier is the provider-side PKCE verifier, never the client's.
	ExchangeCode(ctx context.Context, code, codeVerifier, state string) (*oauth2.Token, error)

	// RefreshToken obtains new tokens using a refresh token
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// IntrospectToken returns token information, or nil when nothing is known
	// about the token.
	IntrospectToken(ctx context.Context, token string) (*Introspection, error)

	// RevokeToken forgets the current credential. A provider-side revocation
	// is attempted when the provider supports one.
	RevokeToken(ctx context.Context, token string) error

	// Metadata returns the provider's contribution to the authorization
	// server metadata document served at baseURL.
	Metadata(baseURL string) map[string]any

	// PKCERequirements returns the verifier constraints the provider enforces
	PKCERequirements() pkce.Requirements

	// SupportedScopes lists every scope the provider understands
	SupportedScopes() []string

	// EnsureValidToken reports whether the current credential can be used,
	// refreshing it first when needed.
	EnsureValidToken(ctx context.Context) bool

	// AuthHeaders returns the headers for a downstream API request
	AuthHeaders() (http.Header, error)
}

// Descriptor is the static configuration of a provider client.
type Descriptor struct {
	ProviderName string
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Scope is the space-delimited scope requested at authorization
	Scope string

	AuthorizationEndpoint string
	TokenEndpoint         string

	PKCE   pkce.Requirements
	Scopes []string
}

// Introspection is the RFC 7662 view of a token.
type Introspection struct {
	Active    bool   `json:"active"`
	ClientID  string `json:"client_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

// ErrNoAccessToken is returned by AuthHeaders when no credential is held.
var ErrNoAccessToken = errors.New("no access token available")

// ProviderError wraps a failed call to the downstream provider.
type ProviderError struct {
	Provider   string
	Operation  string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed with status %d: %v", e.Provider, e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Operation, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps err, lifting the HTTP status and OAuth error code
// out of an *oauth2.RetrieveError when present.
func NewProviderError(provider, operation string, err error) *ProviderError {
	pe := &ProviderError{Provider: provider, Operation: operation, Err: err}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		pe.StatusCode = re.Response.StatusCode
	}
	return pe
}

// ErrorCode returns the OAuth error code reported by the provider, if any.
func (e *ProviderError) ErrorCode() string {
	var re *oauth2.RetrieveError
	if errors.As(e.Err, &re) {
		return re.ErrorCode
	}
	return ""
}

// tokenExtras are provider response fields passed through to the caller.
// oauth2.Token does not expose its raw field set, so fields outside this
// list and the standard ones are not forwarded.
var tokenExtras = []string{"scope", "refresh_expires_in", "id_token"}

// TokenResponse renders tok as the JSON token response body. expires_in is
// the provider's own value when the response carried one.
func TokenResponse(tok *oauth2.Token) map[string]any {
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	resp := map[string]any{
		"access_token": tok.AccessToken,
		"token_type":   tokenType,
	}
	if tok.RefreshToken != "" {
		resp["refresh_token"] = tok.RefreshToken
	}

	raw := tok.Extra("expires_in")
	switch {
	case raw != nil && raw != "":
		resp["expires_in"] = raw
	case tok.ExpiresIn > 0:
		resp["expires_in"] = tok.ExpiresIn
	case !tok.Expiry.IsZero():
		if secs := int64(time.Until(tok.Expiry).Round(time.Second) / time.Second); secs > 0 {
			resp["expires_in"] = secs
		}
	}

	for _, key := range tokenExtras {
		if v := tok.Extra(key); v != nil && v != "" {
			resp[key] = v
		}
	}
	return resp
}
