package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/onimsha/airtable-mcp-server-oauth/instrumentation"
	"github.com/onimsha/airtable-mcp-server-oauth/security"
	"github.com/onimsha/airtable-mcp-server-oauth/server"
)

const (
	tokenTypeBearer = "Bearer"

	// rateLimitRetryAfter is the Retry-After value, in seconds, sent with 429 responses
	rateLimitRetryAfter = 1

	grantTypeAuthorizationCode = "authorization_code"
	grantTypeRefreshToken      = "refresh_token"
)

// Handler is the HTTP boundary over a *server.Server. It parses requests,
// applies rate limits and security headers, and renders results and
// OAuthErrors. All protocol decisions are made by the server.
type Handler struct {
	server      *server.Server
	logger      *slog.Logger
	tracer      trace.Tracer // OpenTelemetry tracer for HTTP layer
	rateLimiter *security.RateLimiter
}

// NewHandler creates a new HTTP handler
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		logger: logger,
	}

	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	return h
}

// SetRateLimiter enables per-IP rate limiting on the authorize, token and
// registration endpoints. A nil limiter disables it.
func (h *Handler) SetRateLimiter(rl *security.RateLimiter) {
	h.rateLimiter = rl
}

// ServeAuthorization starts an authorization flow and redirects the user
// agent to the provider.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		h.ServePreflightRequest(w, r)
		return
	}
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}
	h.setCORSHeaders(w, r)

	clientIP := h.clientIP(r)
	if !h.checkRateLimit(w, r, "authorization", clientIP) {
		return
	}

	q := r.URL.Query()
	authURL, err := h.server.Initiate(r.Context(), server.AuthorizeRequest{
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		UserID:              q.Get("user_id"),
		RedirectURI:         q.Get("redirect_uri"),
		ClientIP:            clientIP,
	})
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// ServeCallback handles the provider redirect. The client is redirected
// when it supplied a redirect_uri at initiate; otherwise the code is
// returned as JSON for an out-of-band exchange.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}
	h.setCORSHeaders(w, r)

	q := r.URL.Query()
	result, err := h.server.HandleCallback(r.Context(), server.CallbackRequest{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	})
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	if result.RedirectURL != "" {
		http.Redirect(w, r, result.RedirectURL, http.StatusFound)
		return
	}
	h.writeJSON(w, http.StatusOK, result.Body)
}

// ServeToken handles the OAuth token endpoint. A missing grant_type is
// treated as authorization_code.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		h.ServePreflightRequest(w, r)
		return
	}
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, http.MethodPost, http.MethodOptions)
		return
	}
	h.setCORSHeaders(w, r)

	clientIP := h.clientIP(r)
	if !h.checkRateLimit(w, r, "token", clientIP) {
		return
	}

	params, err := parseParams(w, r)
	if err != nil {
		h.logger.Debug("Failed to parse token request", "error", err)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	if err := h.authenticateClient(r, params); err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	grantType := params.bodyFirst("grant_type")
	instrumentation.SetSpanAttributes(trace.SpanFromContext(r.Context()),
		attribute.String(instrumentation.AttrGrantType, grantType))

	var resp map[string]any
	switch grantType {
	case "", grantTypeAuthorizationCode:
		resp, err = h.server.Exchange(r.Context(), params.bodyFirst("code"), params.bodyFirst("code_verifier"))
	case grantTypeRefreshToken:
		resp, err = h.server.Refresh(r.Context(), params.bodyFirst("refresh_token"))
	default:
		err = server.ErrUnsupportedGrantType(fmt.Sprintf("Grant type %s not supported", grantType))
	}
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	h.writeJSON(w, http.StatusOK, resp)
}

// ServeRefresh refreshes an access token outside the token endpoint
func (h *Handler) ServeRefresh(w http.ResponseWriter, r *http.Request) {
	params, ok := h.boundaryParams(w, r)
	if !ok {
		return
	}

	resp, err := h.server.Refresh(r.Context(), params.queryFirst("refresh_token"))
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	h.writeJSON(w, http.StatusOK, resp)
}

// ServeTokenIntrospection reports what the provider adapter knows about a token
func (h *Handler) ServeTokenIntrospection(w http.ResponseWriter, r *http.Request) {
	params, ok := h.boundaryParams(w, r)
	if !ok {
		return
	}

	info, err := h.server.Introspect(r.Context(), params.queryFirst("token"))
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	h.writeJSON(w, http.StatusOK, info)
}

// ServeTokenRevocation revokes a token
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	params, ok := h.boundaryParams(w, r)
	if !ok {
		return
	}

	if err := h.server.Revoke(r.Context(), params.queryFirst("token")); err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	h.writeJSON(w, http.StatusOK, StatusResponse{
		Status:  "success",
		Message: "Token revoked successfully",
	})
}

// boundaryParams handles method checks and parameter parsing shared by the
// refresh, introspection and revocation endpoints.
func (h *Handler) boundaryParams(w http.ResponseWriter, r *http.Request) (*requestParams, bool) {
	if r.Method == http.MethodOptions {
		h.ServePreflightRequest(w, r)
		return nil, false
	}
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, http.MethodPost, http.MethodOptions)
		return nil, false
	}
	h.setCORSHeaders(w, r)

	params, err := parseParams(w, r)
	if err != nil {
		h.logger.Debug("Failed to parse request", "path", r.URL.Path, "error", err)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return nil, false
	}
	return params, true
}

// ServeClientRegistration handles RFC 7591 dynamic client registration
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		h.ServePreflightRequest(w, r)
		return
	}
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, http.MethodPost, http.MethodOptions)
		return
	}
	h.setCORSHeaders(w, r)

	clientIP := h.clientIP(r)
	if !h.checkRateLimit(w, r, "registration", clientIP) {
		return
	}

	if err := h.server.AuthorizeRegistration(bearerToken(r), clientIP); err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	var req server.ClientRegistrationRequest
	if r.Body != nil {
		body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.writeError(w, ErrorCodeInvalidRequest, "Invalid JSON in request body", http.StatusBadRequest)
			return
		}
	}

	reg, err := h.server.RegisterClient(r.Context(), req, clientIP)
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	h.writeJSON(w, http.StatusCreated, reg)
}

// ServeAuthorizationServerMetadata serves RFC 8414 metadata
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	h.serveDiscovery(w, r, h.server.AuthorizationServerMetadata)
}

// ServeMCPAuthorizationServerMetadata serves RFC 8414 metadata with the MCP extensions
func (h *Handler) ServeMCPAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	h.serveDiscovery(w, r, h.server.MCPAuthorizationServerMetadata)
}

// ServeProtectedResourceMetadata serves RFC 9728 metadata
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	h.serveDiscovery(w, r, h.server.ProtectedResourceMetadata)
}

// ServeMCPProtectedResourceMetadata serves the MCP flavour of RFC 9728 metadata
func (h *Handler) ServeMCPProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	h.serveDiscovery(w, r, h.server.MCPProtectedResourceMetadata)
}

// ServeAppInfo describes this server and its provider
func (h *Handler) ServeAppInfo(w http.ResponseWriter, r *http.Request) {
	h.serveDiscovery(w, r, h.server.AppInfo)
}

func (h *Handler) serveDiscovery(w http.ResponseWriter, r *http.Request, document func() map[string]any) {
	if r.Method == http.MethodOptions {
		h.ServePreflightRequest(w, r)
		return
	}
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet, http.MethodOptions)
		return
	}
	h.setCORSHeaders(w, r)
	security.SetDiscoveryHeaders(w)
	h.writeJSON(w, http.StatusOK, document())
}

// ServeHealth reports liveness
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	h.writeJSON(w, http.StatusOK, StatusResponse{
		Status:  "healthy",
		Service: h.server.Config.ServerName,
		Version: h.server.Config.ServerVersion,
	})
}

// ServePreflightRequest handles CORS preflight (OPTIONS) requests.
func (h *Handler) ServePreflightRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodOptions {
		h.methodNotAllowed(w, http.MethodOptions)
		return
	}

	h.setCORSHeaders(w, r)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusNoContent)
}

// authenticateClient validates client credentials from either Basic Auth or
// form parameters. Requests that present no credentials are not
// authenticated; the authorization code alone is then the proof.
func (h *Handler) authenticateClient(r *http.Request, params *requestParams) error {
	clientID, clientSecret, hasBasic := r.BasicAuth()
	if !hasBasic {
		clientID = params.bodyFirst("client_id")
		clientSecret = params.bodyFirst("client_secret")
		if clientSecret == "" {
			return nil
		}
	}
	if clientID == "" {
		return server.ErrInvalidClient("client_id is required")
	}
	return h.server.AuthenticateClient(r.Context(), clientID, clientSecret)
}

// bearerToken extracts the token from an "Authorization: Bearer" header
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, tokenTypeBearer) {
		return ""
	}
	return strings.TrimSpace(token)
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
}

// checkRateLimit writes a 429 and returns false when clientIP is over its budget
func (h *Handler) checkRateLimit(w http.ResponseWriter, r *http.Request, endpoint, clientIP string) bool {
	if h.rateLimiter == nil || h.rateLimiter.Allow(clientIP) {
		return true
	}

	h.logger.Warn("Rate limit exceeded", "endpoint", endpoint, "client_ip", clientIP)
	if h.server.Auditor != nil {
		h.server.Auditor.LogRateLimitExceeded(clientIP, endpoint)
	}
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), endpoint)
	}

	w.Header().Set("Retry-After", strconv.Itoa(rateLimitRetryAfter))
	h.writeOAuthError(w, r, server.ErrRateLimitExceeded())
	return false
}

// setCORSHeaders applies the configured CORS policy to a browser request.
// The request origin is echoed rather than "*".
func (h *Handler) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	cors := h.server.Config.CORS
	if len(cors.AllowedOrigins) == 0 {
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	wildcard, allowed := h.matchOrigin(origin)
	if !allowed {
		h.logger.Debug("CORS request from disallowed origin", "origin", origin)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")

	if cors.AllowCredentials && !wildcard {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	w.Header().Set("Access-Control-Allow-Methods", strings.Join(cors.AllowedMethods, ", "))
	w.Header().Set("Access-Control-Allow-Headers", strings.Join(cors.AllowedHeaders, ", "))
	w.Header().Set("Access-Control-Max-Age", strconv.Itoa(cors.MaxAge))
}

// matchOrigin reports whether origin is allowed and whether it matched a wildcard entry
func (h *Handler) matchOrigin(origin string) (wildcard, allowed bool) {
	for _, candidate := range h.server.Config.CORS.AllowedOrigins {
		if candidate == "*" {
			return true, true
		}
		// Origins compare case-sensitively
		if candidate == origin {
			return false, true
		}
	}
	return false, false
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// writeOAuthError renders err. Anything other than an *OAuthError is logged
// with its detail and rendered as a generic server_error.
func (h *Handler) writeOAuthError(w http.ResponseWriter, r *http.Request, err error) {
	span := trace.SpanFromContext(r.Context())
	oauthErr := server.AsOAuthError(err)

	var known *OAuthError
	if !errors.As(err, &known) {
		h.logger.Error("Unexpected error while serving request",
			"path", r.URL.Path,
			"request_id", security.GetRequestID(r.Context()),
			"error", err)
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanError(span, oauthErr.Code)
	}

	h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`%s realm=%q, error=%q, error_description=%q`,
			tokenTypeBearer, h.server.Config.Issuer, code, description))
	}

	h.writeJSON(w, status, ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("Failed to write response body", "error", err)
	}
}

// recordHTTPMetrics records HTTP request metrics (total count and duration)
func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}

	duration := time.Since(startTime).Seconds() * 1000 // convert to milliseconds
	h.server.Instrumentation.Metrics().RecordHTTPRequest(ctx, method, endpoint, status, duration)
}
