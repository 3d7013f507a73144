// Package mock provides a configurable Provider implementation for tests.
package mock

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"

	"github.com/onimsha/airtable-mcp-server-oauth/pkce"
	"github.com/onimsha/airtable-mcp-server-oauth/providers"
)

// MockProvider is a mock implementation of the Provider interface for testing.
// Each method calls the matching Func field when set and counts the call.
type MockProvider struct {
	NameFunc             func() string
	DescriptorFunc       func() providers.Descriptor
	AuthorizationURLFunc func(state, codeChallenge, codeChallengeMethod string) string
	ExchangeCodeFunc     func(ctx context.Context, code, codeVerifier, state string) (*oauth2.Token, error)
	RefreshTokenFunc     func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	IntrospectTokenFunc  func(ctx context.Context, token string) (*providers.Introspection, error)
	RevokeTokenFunc      func(ctx context.Context, token string) error
	MetadataFunc         func(baseURL string) map[string]any
	PKCERequirementsFunc func() pkce.Requirements
	EnsureValidTokenFunc func(ctx context.Context) bool

	// Holder backs AuthHeaders and is updated by the default exchange and
	// refresh implementations.
	Holder *providers.TokenHolder

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	// mu protects CallCounts from concurrent access
	mu sync.RWMutex
}

var _ providers.Provider = (*MockProvider)(nil)

// MockCharset mirrors a provider that, like Airtable, rejects "~".
const MockCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789.-_"

// NewMockProvider creates a new mock provider with default implementations
func NewMockProvider() *MockProvider {
	m := &MockProvider{
		CallCounts: make(map[string]int),
		Holder:     providers.NewTokenHolder(),
	}
	m.NameFunc = func() string { return "mock" }
	m.DescriptorFunc = func() providers.Descriptor {
		return providers.Descriptor{
			ProviderName:          "mock",
			ClientID:              "mock-client-id",
			ClientSecret:          "mock-client-secret",
			RedirectURL:           "http://localhost:8000/auth/callback",
			Scope:                 "data.records:read",
			AuthorizationEndpoint: "https://mock.example.com/authorize",
			TokenEndpoint:         "https://mock.example.com/token",
			PKCE:                  m.PKCERequirements(),
			Scopes:                []string{"data.records:read", "data.records:write"},
		}
	}
	m.AuthorizationURLFunc = func(state, codeChallenge, codeChallengeMethod string) string {
		return fmt.Sprintf("https://mock.example.com/authorize?state=%s&code_challenge=%s&code_challenge_method=%s",
			state, codeChallenge, codeChallengeMethod)
	}
	m.ExchangeCodeFunc = func(ctx context.Context, code, codeVerifier, state string) (*oauth2.Token, error) {
		tok := &oauth2.Token{
			AccessToken:  "mock-access-token",
			TokenType:    "Bearer",
			RefreshToken: "mock-refresh-token",
			ExpiresIn:    3600,
		}
		m.Holder.Update(tok)
		return tok, nil
	}
	m.RefreshTokenFunc = func(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
		tok := &oauth2.Token{
			AccessToken:  "new-mock-access-token",
			TokenType:    "Bearer",
			RefreshToken: "new-mock-refresh-token",
			ExpiresIn:    3600,
		}
		m.Holder.ApplyRefresh(tok)
		return tok, nil
	}
	m.IntrospectTokenFunc = func(ctx context.Context, token string) (*providers.Introspection, error) {
		if token == "" {
			return nil, nil
		}
		return &providers.Introspection{
			Active:    token == m.Holder.AccessToken(),
			ClientID:  "mock-client-id",
			Scope:     "data.records:read",
			TokenType: "Bearer",
		}, nil
	}
	m.RevokeTokenFunc = func(ctx context.Context, token string) error {
		m.Holder.Clear()
		return nil
	}
	m.MetadataFunc = func(baseURL string) map[string]any {
		return map[string]any{
			"issuer":                           baseURL,
			"authorization_endpoint":           baseURL + "/auth/authorize",
			"token_endpoint":                   baseURL + "/token",
			"response_types_supported":         []string{"code"},
			"code_challenge_methods_supported": []string{"S256", "plain"},
			"provider":                         "mock",
		}
	}
	m.PKCERequirementsFunc = func() pkce.Requirements {
		req := pkce.DefaultRequirements()
		req.Charset = MockCharset
		return req
	}
	m.EnsureValidTokenFunc = func(ctx context.Context) bool {
		return m.Holder.EnsureValid(ctx, func(ctx context.Context, rt string) (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: "new-mock-access-token", RefreshToken: rt}, nil
		})
	}
	return m
}

func (m *MockProvider) count(method string) {
	m.mu.Lock()
	m.CallCounts[method]++
	m.mu.Unlock()
}

// Name returns the provider name
func (m *MockProvider) Name() string {
	m.count("Name")
	if m.NameFunc == nil {
		return "mock"
	}
	return m.NameFunc()
}

// Descriptor returns the static provider configuration
func (m *MockProvider) Descriptor() providers.Descriptor {
	m.count("Descriptor")
	if m.DescriptorFunc == nil {
		return providers.Descriptor{ProviderName: "mock"}
	}
	return m.DescriptorFunc()
}

// AuthorizationURL generates the URL to redirect users for authentication
func (m *MockProvider) AuthorizationURL(state, codeChallenge, codeChallengeMethod string) string {
	m.count("AuthorizationURL")
	if m.AuthorizationURLFunc == nil {
		return "https://mock.example.com/authorize?state=" + state
	}
	return m.AuthorizationURLFunc(state, codeChallenge, codeChallengeMethod)
}

// ExchangeCode exchanges an authorization code for tokens
func (m *MockProvider) ExchangeCode(ctx context.Context, code, codeVerifier, state string) (*oauth2.Token, error) {
	m.count("ExchangeCode")
	if m.ExchangeCodeFunc == nil {
		return nil, fmt.Errorf("ExchangeCodeFunc not configured")
	}
	return m.ExchangeCodeFunc(ctx, code, codeVerifier, state)
}

// RefreshToken refreshes an expired token using a refresh token
func (m *MockProvider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	m.count("RefreshToken")
	if m.RefreshTokenFunc == nil {
		return nil, fmt.Errorf("RefreshTokenFunc not configured")
	}
	return m.RefreshTokenFunc(ctx, refreshToken)
}

// IntrospectToken describes a token
func (m *MockProvider) IntrospectToken(ctx context.Context, token string) (*providers.Introspection, error) {
	m.count("IntrospectToken")
	if m.IntrospectTokenFunc == nil {
		return nil, nil
	}
	return m.IntrospectTokenFunc(ctx, token)
}

// RevokeToken revokes a token
func (m *MockProvider) RevokeToken(ctx context.Context, token string) error {
	m.count("RevokeToken")
	if m.RevokeTokenFunc == nil {
		return fmt.Errorf("RevokeTokenFunc not configured")
	}
	return m.RevokeTokenFunc(ctx, token)
}

// Metadata returns provider metadata
func (m *MockProvider) Metadata(baseURL string) map[string]any {
	m.count("Metadata")
	if m.MetadataFunc == nil {
		return map[string]any{"issuer": baseURL}
	}
	return m.MetadataFunc(baseURL)
}

// PKCERequirements returns the provider's PKCE constraints
func (m *MockProvider) PKCERequirements() pkce.Requirements {
	m.count("PKCERequirements")
	if m.PKCERequirementsFunc == nil {
		return pkce.DefaultRequirements()
	}
	return m.PKCERequirementsFunc()
}

// SupportedScopes returns the scopes from the descriptor
func (m *MockProvider) SupportedScopes() []string {
	return m.Descriptor().Scopes
}

// EnsureValidToken reports whether the held credential is usable
func (m *MockProvider) EnsureValidToken(ctx context.Context) bool {
	m.count("EnsureValidToken")
	if m.EnsureValidTokenFunc == nil {
		return false
	}
	return m.EnsureValidTokenFunc(ctx)
}

// AuthHeaders returns the bearer header for the held token
func (m *MockProvider) AuthHeaders() (http.Header, error) {
	m.count("AuthHeaders")
	return m.Holder.AuthHeader()
}

// ResetCallCounts resets all call counters
func (m *MockProvider) ResetCallCounts() {
	m.mu.Lock()
	m.CallCounts = make(map[string]int)
	m.mu.Unlock()
}

// GetCallCount returns the number of times a method was called
func (m *MockProvider) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}
