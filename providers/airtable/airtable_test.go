package airtable

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/onimsha/airtable-mcp-server-oauth/pkce"
	"github.com/onimsha/airtable-mcp-server-oauth/providers"
)

const (
	testClientID     = "test-client-id"
	testClientSecret = "test-client-secret"
	testCallbackURL  = "http://localhost:8000/auth/callback"
)

// tokenServer fakes the Airtable token endpoint. Every grant returns a new
// access token; refresh tokens are rotated.
type tokenServer struct {
	*httptest.Server
	calls    atomic.Int32
	lastForm url.Values
	mu       sync.Mutex
	status   int
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{status: http.StatusOK}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.calls.Add(1)

		id, secret, ok := r.BasicAuth()
		if !ok || id != testClientID || secret != testClientSecret {
			http.Error(w, "missing basic auth", http.StatusUnauthorized)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ts.mu.Lock()
		ts.lastForm = r.PostForm
		status := ts.status
		ts.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":       "access-" + strings.Repeat("x", int(n)),
			"token_type":         "Bearer",
			"refresh_token":      "refresh-" + strings.Repeat("y", int(n)),
			"expires_in":         3600,
			"refresh_expires_in": 5184000,
			"scope":              "data.records:read",
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) form() url.Values {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.lastForm
}

func (ts *tokenServer) fail(status int) {
	ts.mu.Lock()
	ts.status = status
	ts.mu.Unlock()
}

func newTestProvider(t *testing.T, tokenURL string) *Provider {
	t.Helper()
	p, err := NewProvider(&Config{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURL:  testCallbackURL,
		TokenURL:     tokenURL,
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	return p
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr string
	}{
		{
			name:   "valid config",
			config: &Config{ClientID: testClientID, ClientSecret: testClientSecret, RedirectURL: testCallbackURL},
		},
		{
			name:    "nil config",
			config:  nil,
			wantErr: "config is required",
		},
		{
			name:    "missing client ID",
			config:  &Config{ClientSecret: testClientSecret, RedirectURL: testCallbackURL},
			wantErr: "client ID is required",
		},
		{
			name:    "missing client secret",
			config:  &Config{ClientID: testClientID, RedirectURL: testCallbackURL},
			wantErr: "client secret is required",
		},
		{
			name:    "missing redirect URL",
			config:  &Config{ClientID: testClientID, ClientSecret: testClientSecret},
			wantErr: "redirect URL is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.config)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("NewProvider() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewProvider() error = %v", err)
			}
			if p.Name() != "airtable" {
				t.Errorf("Name() = %q", p.Name())
			}
			if p.Descriptor().Scope != DefaultScope {
				t.Errorf("Scope = %q, want default", p.Descriptor().Scope)
			}
		})
	}
}

func TestAuthorizationURL(t *testing.T) {
	p := newTestProvider(t, "")

	raw := p.AuthorizationURL("state-123", "challenge-abc", "S256")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	if got := u.Scheme + "://" + u.Host + u.Path; got != AuthorizationEndpoint {
		t.Errorf("endpoint = %q, want %q", got, AuthorizationEndpoint)
	}

	q := u.Query()
	want := map[string]string{
		"response_type":         "code",
		"client_id":             testClientID,
		"redirect_uri":          testCallbackURL,
		"scope":                 DefaultScope,
		"state":                 "state-123",
		"code_challenge":        "challenge-abc",
		"code_challenge_method": "S256",
	}
	for k, v := range want {
		if q.Get(k) != v {
			t.Errorf("query %s = %q, want %q", k, q.Get(k), v)
		}
	}

	noPKCE, _ := url.Parse(p.AuthorizationURL("s", "", "S256"))
	if noPKCE.Query().Has("code_challenge") || noPKCE.Query().Has("code_challenge_method") {
		t.Error("PKCE parameters should be omitted without a challenge")
	}
}

func TestExchangeCode(t *testing.T) {
	ts := newTokenServer(t)
	p := newTestProvider(t, ts.URL)

	tok, err := p.ExchangeCode(context.Background(), "provider-code", "provider-verifier", "state")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	form := ts.form()
	if form.Get("grant_type") != "authorization_code" || form.Get("code") != "provider-code" {
		t.Errorf("unexpected token request form: %v", form)
	}
	if form.Get("code_verifier") != "provider-verifier" {
		t.Errorf("code_verifier = %q", form.Get("code_verifier"))
	}
	if form.Get("redirect_uri") != testCallbackURL {
		t.Errorf("redirect_uri = %q", form.Get("redirect_uri"))
	}

	access, refresh, expiresAt := p.Holder().Snapshot()
	if access != tok.AccessToken || refresh != tok.RefreshToken {
		t.Errorf("holder not updated: access=%q refresh=%q", access, refresh)
	}
	if time.Until(expiresAt) < 50*time.Minute {
		t.Errorf("expiresAt = %v, want about an hour from now", expiresAt)
	}

	resp := providers.TokenResponse(tok)
	if resp["refresh_expires_in"] == nil || resp["scope"] != "data.records:read" {
		t.Errorf("TokenResponse() lost provider extras: %v", resp)
	}
}

func TestExchangeCode_ProviderError(t *testing.T) {
	ts := newTokenServer(t)
	ts.fail(http.StatusBadRequest)
	p := newTestProvider(t, ts.URL)

	_, err := p.ExchangeCode(context.Background(), "bad-code", "v", "s")
	var pe *providers.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("ExchangeCode() error = %v, want *ProviderError", err)
	}
	if pe.StatusCode != http.StatusBadRequest || pe.ErrorCode() != "invalid_grant" {
		t.Errorf("ProviderError = %+v, code %q", pe, pe.ErrorCode())
	}
	if p.Holder().AccessToken() != "" {
		t.Error("failed exchange must not touch the holder")
	}
}

func TestRefreshToken(t *testing.T) {
	ts := newTokenServer(t)
	p := newTestProvider(t, ts.URL)

	tok, err := p.RefreshToken(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("RefreshToken() error = %v", err)
	}
	if got := ts.form().Get("grant_type"); got != "refresh_token" {
		t.Errorf("grant_type = %q", got)
	}
	if got := ts.form().Get("refresh_token"); got != "old-refresh" {
		t.Errorf("refresh_token = %q", got)
	}
	if p.Holder().AccessToken() != tok.AccessToken {
		t.Error("holder not updated after refresh")
	}

	if _, err := p.RefreshToken(context.Background(), ""); err == nil {
		t.Error("RefreshToken(\"\") should fail")
	}
}

func TestEnsureValidToken(t *testing.T) {
	ts := newTokenServer(t)

	t.Run("pass-through bearer", func(t *testing.T) {
		p := newTestProvider(t, ts.URL).ForAccessToken("caller-token")
		if !p.EnsureValidToken(context.Background()) {
			t.Error("EnsureValidToken() = false for caller-supplied bearer")
		}
		h, err := p.AuthHeaders()
		if err != nil || h.Get("Authorization") != "Bearer caller-token" {
			t.Errorf("AuthHeaders() = %v, %v", h, err)
		}
	})

	t.Run("empty holder", func(t *testing.T) {
		p := newTestProvider(t, ts.URL)
		if p.EnsureValidToken(context.Background()) {
			t.Error("EnsureValidToken() = true with no credential")
		}
		if _, err := p.AuthHeaders(); !errors.Is(err, providers.ErrNoAccessToken) {
			t.Errorf("AuthHeaders() error = %v, want ErrNoAccessToken", err)
		}
	})

	t.Run("expired token is refreshed once under concurrency", func(t *testing.T) {
		p := newTestProvider(t, ts.URL)
		p.Holder().Update(&oauth2.Token{
			AccessToken:  "stale",
			RefreshToken: "refresh-me",
			Expiry:       time.Now().Add(time.Minute),
		})
		before := ts.calls.Load()

		var wg sync.WaitGroup
		var failures atomic.Int32
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if !p.EnsureValidToken(context.Background()) {
					failures.Add(1)
				}
			}()
		}
		wg.Wait()

		if failures.Load() != 0 {
			t.Errorf("%d callers saw an invalid token", failures.Load())
		}
		if got := ts.calls.Load() - before; got != 1 {
			t.Errorf("token endpoint called %d times, want 1", got)
		}
		if p.Holder().AccessToken() == "stale" {
			t.Error("holder still carries the stale token")
		}
	})

	t.Run("refresh failure", func(t *testing.T) {
		failing := newTokenServer(t)
		failing.fail(http.StatusBadRequest)
		p := newTestProvider(t, failing.URL)
		p.Holder().Update(&oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(-time.Hour)})

		if p.EnsureValidToken(context.Background()) {
			t.Error("EnsureValidToken() = true after failed refresh")
		}
		if p.Holder().AccessToken() != "a" {
			t.Error("failed refresh must leave the holder untouched")
		}
	})
}

func TestIntrospectToken(t *testing.T) {
	p := newTestProvider(t, "")
	ctx := context.Background()

	info, err := p.IntrospectToken(ctx, "")
	if err != nil || info != nil {
		t.Errorf("IntrospectToken() with nothing held = %+v, %v, want nil", info, err)
	}

	expiry := time.Now().Add(time.Hour)
	p.Holder().Update(&oauth2.Token{AccessToken: "held", RefreshToken: "r", Expiry: expiry})

	info, _ = p.IntrospectToken(ctx, "held")
	if info == nil || !info.Active || info.Exp != expiry.Unix() || info.ClientID != testClientID {
		t.Errorf("IntrospectToken(held) = %+v", info)
	}
	if info.TokenType != "Bearer" || info.Scope != DefaultScope {
		t.Errorf("IntrospectToken(held) = %+v", info)
	}

	info, _ = p.IntrospectToken(ctx, "someone-else")
	if info == nil || info.Active {
		t.Errorf("IntrospectToken(unknown) = %+v, want inactive", info)
	}

	p.Holder().Update(&oauth2.Token{AccessToken: "held", RefreshToken: "r", Expiry: time.Now().Add(time.Minute)})
	if info, _ := p.IntrospectToken(ctx, "held"); info.Active {
		t.Error("token inside the expiry margin should be inactive")
	}
}

func TestRevokeToken(t *testing.T) {
	var revoked atomic.Value
	revocation := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		revoked.Store(r.PostForm.Get("token"))
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer revocation.Close()

	p, err := NewProvider(&Config{
		ClientID:      testClientID,
		ClientSecret:  testClientSecret,
		RedirectURL:   testCallbackURL,
		RevocationURL: revocation.URL,
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	p.Holder().Update(&oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)})

	if err := p.RevokeToken(context.Background(), "a"); err != nil {
		t.Errorf("RevokeToken() error = %v, remote failures must not surface", err)
	}
	if access, refresh, exp := p.Holder().Snapshot(); access != "" || refresh != "" || !exp.IsZero() {
		t.Error("RevokeToken() did not clear the holder")
	}
	if revoked.Load() != "a" {
		t.Errorf("revocation endpoint received %v", revoked.Load())
	}
}

func TestPKCERequirements(t *testing.T) {
	p := newTestProvider(t, "")
	req := p.PKCERequirements()

	if strings.Contains(req.Charset, "~") {
		t.Error("Airtable charset must not contain ~")
	}
	if req.MinLength != 43 || req.MaxLength != 128 || !req.Required {
		t.Errorf("PKCERequirements() = %+v", req)
	}

	pair, err := pkce.GenerateProviderCompatible(req, pkce.MethodS256)
	if err != nil {
		t.Fatalf("GenerateProviderCompatible() error = %v", err)
	}
	if ok, reason := pkce.ValidateFormat(pair.Verifier, req); !ok {
		t.Errorf("generated verifier rejected: %s", reason)
	}
}

func TestMetadata(t *testing.T) {
	p := newTestProvider(t, "")
	md := p.Metadata("http://localhost:8000/")

	checks := map[string]any{
		"issuer":                          "http://localhost:8000",
		"authorization_endpoint":          "http://localhost:8000/auth/authorize",
		"token_endpoint":                  "http://localhost:8000/token",
		"provider":                        "airtable",
		"provider_authorization_endpoint": AuthorizationEndpoint,
		"provider_token_endpoint":         TokenEndpoint,
		"clientId":                        testClientID,
		"redirectUri":                     testCallbackURL,
		"codeChallengeMethod":             "S256",
		"tokenEndpointAuthMethod":         "client_secret_basic",
	}
	for k, v := range checks {
		if md[k] != v {
			t.Errorf("Metadata()[%q] = %v, want %v", k, md[k], v)
		}
	}

	scopes, ok := md["scopes_supported"].([]string)
	if !ok || len(scopes) != 7 {
		t.Errorf("scopes_supported = %v", md["scopes_supported"])
	}
	if _, err := json.Marshal(md); err != nil {
		t.Errorf("metadata must be JSON encodable: %v", err)
	}
}
