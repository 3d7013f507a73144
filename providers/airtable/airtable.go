package airtable

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/onimsha/airtable-mcp-server-oauth/instrumentation"
	"github.com/onimsha/airtable-mcp-server-oauth/internal/util"
	"github.com/onimsha/airtable-mcp-server-oauth/pkce"
	"github.com/onimsha/airtable-mcp-server-oauth/providers"
)

const (
	// ProviderName identifies this provider in metadata, logs and metrics
	ProviderName = "airtable"

	// AuthorizationEndpoint is Airtable's authorization endpoint
	AuthorizationEndpoint = "https://airtable.com/oauth2/v1/authorize"

	// TokenEndpoint is Airtable's token endpoint
	TokenEndpoint = "https://airtable.com/oauth2/v1/token"

	// DefaultScope is requested when no scope is configured
	DefaultScope = "data.records:read data.records:write data.recordComments:read data.recordComments:write " +
		"schema.bases:read schema.bases:write webhook:manage"

	// Charset is the verifier alphabet Airtable accepts: RFC 7636 unreserved minus "~"
	Charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789.-_"

	defaultHTTPTimeout = 30 * time.Second
)

// supportedScopes lists every scope Airtable grants to OAuth integrations
var supportedScopes = []string{
	"data.records:read",
	"data.records:write",
	"data.recordComments:read",
	"data.recordComments:write",
	"schema.bases:read",
	"schema.bases:write",
	"webhook:manage",
}

// Requirements returns Airtable's PKCE constraints.
func Requirements() pkce.Requirements {
	return pkce.Requirements{
		MinLength: pkce.MinVerifierLength,
		MaxLength: pkce.MaxVerifierLength,
		Charset:   Charset,
		Methods:   []pkce.Method{pkce.MethodS256, pkce.MethodPlain},
		Required:  true,
		Note:      "Airtable does not allow ~ character (stricter than RFC 7636)",
	}
}

// Config holds Airtable OAuth configuration
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Scope is space-delimited; DefaultScope when empty
	Scope string

	// RevocationURL is an optional RFC 7009 endpoint. Airtable publishes
	// none, so revocation is local unless this is set.
	RevocationURL string

	// AuthURL and TokenURL override the Airtable endpoints, for tests
	AuthURL  string
	TokenURL string

	HTTPClient *http.Client // Optional custom HTTP client
	Logger     *slog.Logger
}

// Provider implements providers.Provider for Airtable.
//
// Each Provider owns one TokenHolder for the caller it currently acts for.
// Use ForAccessToken to get a copy bound to another caller's bearer token.
type Provider struct {
	config        *oauth2.Config
	httpClient    *http.Client
	scope         string
	revocationURL string
	holder        *providers.TokenHolder
	logger        *slog.Logger

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

var _ providers.Provider = (*Provider)(nil)

// NewProvider creates a new Airtable OAuth provider
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect URL is required")
	}

	scope := strings.TrimSpace(cfg.Scope)
	if scope == "" {
		scope = DefaultScope
	}

	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = AuthorizationEndpoint
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = TokenEndpoint
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       util.SplitScope(scope),
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		httpClient:    httpClient,
		scope:         scope,
		revocationURL: cfg.RevocationURL,
		holder:        providers.NewTokenHolder(),
		logger:        logger,
	}, nil
}

// SetInstrumentation enables provider spans and API call metrics.
func (p *Provider) SetInstrumentation(inst *instrumentation.Instrumentation) {
	p.instrumentation = inst
	if inst != nil {
		p.tracer = inst.Tracer("provider")
	}
}

// ForAccessToken returns a copy of the provider acting for the holder of a
// caller-supplied bearer token. The copy has its own TokenHolder in
// pass-through mode.
func (p *Provider) ForAccessToken(accessToken string) *Provider {
	cp := *p
	cp.holder = providers.NewTokenHolder()
	cp.holder.SetAccessToken(accessToken)
	return &cp
}

// Holder returns the provider's token holder.
func (p *Provider) Holder() *providers.TokenHolder {
	return p.holder
}

// Name returns the provider name
func (p *Provider) Name() string {
	return ProviderName
}

// Descriptor returns the static client configuration.
func (p *Provider) Descriptor() providers.Descriptor {
	return providers.Descriptor{
		ProviderName:          ProviderName,
		ClientID:              p.config.ClientID,
		ClientSecret:          p.config.ClientSecret,
		RedirectURL:           p.config.RedirectURL,
		Scope:                 p.scope,
		AuthorizationEndpoint: p.config.Endpoint.AuthURL,
		TokenEndpoint:         p.config.Endpoint.TokenURL,
		PKCE:                  Requirements(),
		Scopes:                p.SupportedScopes(),
	}
}

// AuthorizationURL builds the Airtable consent URL
func (p *Provider) AuthorizationURL(state, codeChallenge, codeChallengeMethod string) string {
	var opts []oauth2.AuthCodeOption
	if codeChallenge != "" && codeChallengeMethod != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", codeChallengeMethod),
		)
	}
	return p.config.AuthCodeURL(state, opts...)
}

// ExchangeCode exchanges an Airtable authorization code and stores the
// resulting tokens in the holder.
func (p *Provider) ExchangeCode(ctx context.Context, code, codeVerifier, state string) (_ *oauth2.Token, err error) {
	ctx, span := p.startSpan(ctx, "exchange_code")
	defer p.finishSpan(ctx, span, "exchange_code", time.Now(), &err)

	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}

	p.logger.Info("Exchanging authorization code for tokens with Airtable",
		"state", util.SafeTruncate(state, 8))

	token, err := p.config.Exchange(p.clientContext(ctx), code, opts...)
	if err != nil {
		return nil, providers.NewProviderError(ProviderName, "exchange_code", err)
	}

	p.holder.Update(token)
	p.logger.Info("OAuth token exchange successful", "expires_in", token.ExpiresIn)
	return token, nil
}

// RefreshToken refreshes tokens and merges the result into the holder.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	token, err := p.fetchRefresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	p.holder.ApplyRefresh(token)
	p.logger.Info("Access token refreshed successfully")
	return token, nil
}

// fetchRefresh calls the token endpoint without touching the holder.
func (p *Provider) fetchRefresh(ctx context.Context, refreshToken string) (_ *oauth2.Token, err error) {
	ctx, span := p.startSpan(ctx, "refresh_token")
	defer p.finishSpan(ctx, span, "refresh_token", time.Now(), &err)

	if refreshToken == "" {
		return nil, providers.NewProviderError(ProviderName, "refresh_token", fmt.Errorf("refresh token is required"))
	}

	source := p.config.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, providers.NewProviderError(ProviderName, "refresh_token", err)
	}
	return token, nil
}

// EnsureValidToken reports whether the held credential is usable,
// refreshing it when it is expired and a refresh token is held.
func (p *Provider) EnsureValidToken(ctx context.Context) bool {
	if p.holder.EnsureValid(ctx, p.fetchRefresh) {
		return true
	}
	p.logger.Warn("Unable to ensure valid token - no refresh token available or refresh failed")
	return false
}

// IntrospectToken describes token from the holder's point of view. Airtable
// has no introspection endpoint: a token is active only if it is the held
// token and is usable.
func (p *Provider) IntrospectToken(ctx context.Context, token string) (*providers.Introspection, error) {
	access, refresh, expiresAt := p.holder.Snapshot()

	target := token
	if target == "" {
		target = access
	}
	if target == "" {
		return nil, nil
	}

	active := target == access
	if active && refresh != "" {
		active = !p.holder.IsExpired()
	}

	info := &providers.Introspection{
		Active:    active,
		ClientID:  p.config.ClientID,
		Scope:     p.scope,
		TokenType: "Bearer",
	}
	if !expiresAt.IsZero() {
		info.Exp = expiresAt.Unix()
	}
	return info, nil
}

// RevokeToken clears the holder. When a revocation endpoint is configured
// the token is also revoked there; failures are logged and not returned.
func (p *Provider) RevokeToken(ctx context.Context, token string) error {
	p.holder.Clear()

	if p.revocationURL != "" && token != "" {
		if err := p.revokeRemote(ctx, token); err != nil {
			p.logger.Warn("Provider-side token revocation failed", "error", err)
		}
	}

	p.logger.Info("Tokens revoked successfully")
	return nil
}

func (p *Provider) revokeRemote(ctx context.Context, token string) (err error) {
	ctx, span := p.startSpan(ctx, "revoke_token")
	defer p.finishSpan(ctx, span, "revoke_token", time.Now(), &err)

	form := url.Values{}
	form.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(p.config.ClientID), url.QueryEscape(p.config.ClientSecret))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return providers.NewProviderError(ProviderName, "revoke_token", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &providers.ProviderError{
			Provider:   ProviderName,
			Operation:  "revoke_token",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status"),
		}
	}
	return nil
}

// PKCERequirements returns Airtable's PKCE constraints
func (p *Provider) PKCERequirements() pkce.Requirements {
	return Requirements()
}

// SupportedScopes returns every scope Airtable understands
func (p *Provider) SupportedScopes() []string {
	out := make([]string, len(supportedScopes))
	copy(out, supportedScopes)
	return out
}

// AuthHeaders returns the bearer header for Airtable API calls
func (p *Provider) AuthHeaders() (http.Header, error) {
	return p.holder.AuthHeader()
}

// Metadata returns the authorization server metadata for a server at baseURL.
// Besides the RFC 8414 fields it carries the upstream endpoints, the PKCE
// requirements and the camelCase fields older MCP clients read.
func (p *Provider) Metadata(baseURL string) map[string]any {
	base := util.NormalizeURL(baseURL)
	authorize := util.JoinURL(base, "/auth/authorize")
	token := util.JoinURL(base, "/token")
	req := Requirements()

	return map[string]any{
		"issuer":                                base,
		"authorization_endpoint":                authorize,
		"token_endpoint":                        token,
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post", "client_secret_basic", "none"},
		"scopes_supported":                      p.SupportedScopes(),
		"response_modes_supported":              []string{"query"},
		"code_challenge_methods_supported":      req.MethodNames(),

		"provider":                        ProviderName,
		"provider_authorization_endpoint": p.config.Endpoint.AuthURL,
		"provider_token_endpoint":         p.config.Endpoint.TokenURL,
		"pkce_requirements":               req,

		"authorizationEndpoint":   authorize,
		"tokenEndpoint":           token,
		"scope":                   p.scope,
		"clientId":                p.config.ClientID,
		"redirectUri":             p.config.RedirectURL,
		"responseType":            "code",
		"grantType":               "authorization_code",
		"tokenEndpointAuthMethod": "client_secret_basic",
		"codeChallengeMethod":     string(pkce.MethodS256),
		"additionalParameters":    map[string]string{"access_type": "offline"},
	}
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// ============================================================
// Instrumentation Helpers
// ============================================================

func (p *Provider) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if p.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	ctx, span := p.tracer.Start(ctx, "provider."+operation)
	instrumentation.AddProviderAttributes(span, ProviderName, operation)
	return ctx, span
}

func (p *Provider) finishSpan(ctx context.Context, span trace.Span, operation string, start time.Time, errp *error) {
	if p.tracer == nil {
		return
	}
	defer span.End()

	if *errp != nil {
		instrumentation.RecordError(span, *errp)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	p.instrumentation.Metrics().RecordProviderAPICall(ctx, ProviderName, operation,
		float64(time.Since(start).Microseconds())/1000, *errp)
}
