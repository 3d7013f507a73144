package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onimsha/airtable-mcp-server-oauth/instrumentation"
	"github.com/onimsha/airtable-mcp-server-oauth/internal/util"
	"github.com/onimsha/airtable-mcp-server-oauth/pkce"
	"github.com/onimsha/airtable-mcp-server-oauth/providers"
	"github.com/onimsha/airtable-mcp-server-oauth/security"
	"github.com/onimsha/airtable-mcp-server-oauth/storage"
)

// Callback response values for out-of-band exchange
const (
	CallbackStatusSuccess  = "authorization_successful"
	CallbackMessageSuccess = "Authorization code received. Use /token endpoint to exchange for access token."
)

// providerErrorCodePattern bounds the provider-supplied error code echoed on a failed callback
var providerErrorCodePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,64}$`)

// AuthorizeRequest carries the parameters of an authorization request
type AuthorizeRequest struct {
	CodeChallenge       string
	CodeChallengeMethod string
	UserID              string
	RedirectURI         string
	ClientIP            string
}

// CallbackRequest carries the provider's redirect back to this server
type CallbackRequest struct {
	Code  string
	State string
	Error string
}

// CallbackResult is the outcome of a successful callback. Exactly one of
// RedirectURL and Body is set.
type CallbackResult struct {
	RedirectURL string
	Body        map[string]any
}

// Initiate starts an authorization flow and returns the provider
// authorization URL the user agent should be sent to.
//
// When the client supplies a challenge, an independent provider-compatible
// pair with the same method is generated and only its challenge is sent to
// the provider. Without a client challenge no PKCE is sent to the provider.
func (s *Server) Initiate(ctx context.Context, req AuthorizeRequest) (_ string, err error) {
	ctx, span := s.startSpan(ctx, "initiate")
	defer s.finishSpan(span, &err)

	method, err := s.validateClientPKCE(req.CodeChallenge, req.CodeChallengeMethod)
	if err != nil {
		s.Logger.Debug("Rejected authorization request", "reason", err.Error(), "client_ip", req.ClientIP)
		if s.Auditor != nil {
			reason := security.EventAuthFailure
			if req.CodeChallenge == "" && req.CodeChallengeMethod == "" {
				reason = security.EventPKCERequired
			}
			s.Auditor.LogAuthFailure(req.UserID, "", req.ClientIP, reason)
		}
		return "", err
	}

	if req.RedirectURI != "" {
		if vErr := s.validateRedirectURI(req.RedirectURI); vErr != nil {
			s.Logger.Debug("Rejected redirect_uri", "error", vErr.Error(), "client_ip", req.ClientIP)
			return "", ErrInvalidRequest("Invalid redirect_uri: " + vErr.Error())
		}
	}

	state := generateRandomToken()
	record := &storage.StateRecord{
		State:       state,
		CreatedAt:   s.now(),
		UserID:      req.UserID,
		ClientIP:    req.ClientIP,
		RedirectURI: req.RedirectURI,
	}

	var providerChallenge, providerMethod string
	if method != "" {
		pair, gErr := pkce.GenerateProviderCompatible(s.provider.PKCERequirements(), method)
		if gErr != nil {
			s.Logger.Error("Failed to generate provider PKCE pair", "error", gErr)
			return "", ErrServerError("Failed to initiate OAuth authorization")
		}
		record.ClientChallenge = req.CodeChallenge
		record.ClientMethod = string(method)
		record.ProviderVerifier = pair.Verifier
		record.ProviderChallenge = pair.Challenge
		record.ProviderMethod = string(pair.Method)
		providerChallenge, providerMethod = pair.Challenge, string(pair.Method)
	}

	if sErr := s.flowStore.SaveState(ctx, record); sErr != nil {
		s.Logger.Error("Failed to save authorization state", "error", sErr)
		return "", fmt.Errorf("failed to save state: %w", sErr)
	}

	authURL := s.provider.AuthorizationURL(state, providerChallenge, providerMethod)

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrPKCEMethod, string(method)),
		attribute.Bool(instrumentation.AttrClientPKCE, method != ""),
	)
	if m := s.metrics(); m != nil {
		m.RecordAuthorizationStarted(ctx, string(method))
	}
	if s.Auditor != nil {
		s.Auditor.LogAuthorizationStarted(req.UserID, req.ClientIP, string(method))
	}

	s.Logger.Info("Initiating OAuth authorization",
		"user_id", req.UserID,
		"state_prefix", util.SafeTruncate(state, logPrefixLength),
		"client_pkce", method != "",
		"redirect", req.RedirectURI != "")

	return authURL, nil
}

// HandleCallback consumes the state returned by the provider and stores the
// provider's authorization code for a later exchange.
func (s *Server) HandleCallback(ctx context.Context, req CallbackRequest) (_ *CallbackResult, err error) {
	ctx, span := s.startSpan(ctx, "callback")
	defer s.finishSpan(span, &err)

	if req.Error != "" {
		code := req.Error
		if !providerErrorCodePattern.MatchString(code) {
			code = ErrorCodeAccessDenied
		}
		s.Logger.Error("Authorization error from provider", "error", code)
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:    security.EventProviderCallbackError,
				Details: map[string]any{"error": code},
			})
		}
		if m := s.metrics(); m != nil {
			m.RecordCallbackProcessed(ctx, false, false)
		}
		return nil, NewOAuthError(code, DescAuthorizationError, http.StatusBadRequest)
	}

	if req.Code == "" || req.State == "" {
		return nil, ErrInvalidRequest("Missing required parameters")
	}

	record, err := s.flowStore.ConsumeState(ctx, req.State)
	if err != nil {
		return nil, s.stateRejection(ctx, req.State, err)
	}
	if s.outlived(record.CreatedAt, s.Config.StateExpiry) {
		return nil, s.stateRejection(ctx, req.State, storage.ErrStateExpired)
	}

	codeRecord := storage.NewCodeRecord(req.Code, record, s.now())
	if err := s.flowStore.SaveCode(ctx, codeRecord); err != nil {
		s.Logger.Error("Failed to save authorization code", "error", err)
		return nil, fmt.Errorf("failed to save authorization code: %w", err)
	}

	redirected := record.RedirectURI != ""
	instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrRedirected, redirected))
	if m := s.metrics(); m != nil {
		m.RecordCallbackProcessed(ctx, redirected, true)
	}
	if s.Auditor != nil {
		s.Auditor.LogCodeIssued(record.UserID, redirected)
	}
	s.Logger.Info("Authorization successful, stored code for token exchange",
		"user_id", record.UserID,
		"code_prefix", util.SafeTruncate(req.Code, logPrefixLength),
		"redirected", redirected)

	if !redirected {
		return &CallbackResult{Body: map[string]any{
			"status":  CallbackStatusSuccess,
			"message": CallbackMessageSuccess,
			"code":    req.Code,
			"state":   req.State,
		}}, nil
	}

	redirectURL, err := buildClientRedirect(record, req.Code)
	if err != nil {
		return nil, err
	}
	return &CallbackResult{RedirectURL: redirectURL}, nil
}

// buildClientRedirect appends code, state and, when the client used PKCE,
// its own challenge to the recorded redirect URI.
func buildClientRedirect(record *storage.StateRecord, code string) (string, error) {
	target, err := url.Parse(record.RedirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid stored redirect_uri: %w", err)
	}
	q := target.Query()
	q.Set("code", code)
	q.Set("state", record.State)
	if record.HasClientPKCE() {
		q.Set("code_challenge", record.ClientChallenge)
		q.Set("code_challenge_method", record.ClientMethod)
	}
	target.RawQuery = q.Encode()
	return target.String(), nil
}

// outlived reports whether a record stamped at createdAt is older than ttl
// on the server clock. Stores apply their own TTL as well; the shorter wins.
func (s *Server) outlived(createdAt time.Time, ttl time.Duration) bool {
	return ttl > 0 && !createdAt.IsZero() && s.now().Sub(createdAt) > ttl
}

func (s *Server) stateRejection(ctx context.Context, state string, err error) error {
	expired := errors.Is(err, storage.ErrStateExpired)
	if !expired && !errors.Is(err, storage.ErrStateNotFound) {
		s.Logger.Error("Failed to consume authorization state", "error", err)
		return fmt.Errorf("failed to consume state: %w", err)
	}

	s.Logger.Error("Rejected callback state",
		"state_prefix", util.SafeTruncate(state, logPrefixLength),
		"expired", expired)
	if m := s.metrics(); m != nil {
		m.RecordStateRejected(ctx, expired)
	}
	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:    security.EventStateRejected,
			Details: map[string]any{"expired": expired},
		})
	}
	if expired {
		return ErrExpiredState()
	}
	return ErrInvalidState()
}

// Exchange redeems a stored authorization code. The client's verifier is
// checked against the client's challenge; the provider only ever sees the
// provider-side verifier generated at initiate.
func (s *Server) Exchange(ctx context.Context, code, codeVerifier string) (_ map[string]any, err error) {
	ctx, span := s.startSpan(ctx, "exchange")
	defer s.finishSpan(span, &err)

	if code == "" {
		return nil, ErrInvalidRequest("Missing required parameter: code")
	}

	s.Logger.Info("Token exchange request", "code_prefix", util.SafeTruncate(code, logPrefixLength))

	record, err := s.flowStore.ConsumeCode(ctx, code)
	if err != nil {
		return nil, s.codeRejection(ctx, code, err)
	}
	if s.outlived(record.CreatedAt, s.Config.AuthCodeExpiry) {
		return nil, s.codeRejection(ctx, code, storage.ErrCodeExpired)
	}

	method := record.ClientMethod
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrPKCEMethod, method),
		attribute.Bool(instrumentation.AttrClientPKCE, record.ClientChallenge != ""),
	)

	if record.ClientChallenge != "" {
		if codeVerifier == "" {
			s.Logger.Error("PKCE was used but code_verifier not provided")
			s.recordExchange(ctx, method, false)
			return nil, ErrInvalidRequest(DescVerifierRequired)
		}
		if !pkce.Validate(codeVerifier, record.ClientChallenge, pkce.Method(method)) {
			s.Logger.Error("Client PKCE validation failed", "method", method)
			if m := s.metrics(); m != nil {
				m.RecordPKCEValidationFailed(ctx, method)
			}
			if s.Auditor != nil {
				s.Auditor.LogEvent(security.Event{
					Type:    security.EventPKCEValidationFailed,
					UserID:  record.UserID,
					Details: map[string]any{"method": method},
				})
			}
			s.recordExchange(ctx, method, false)
			return nil, ErrInvalidGrant(DescPKCEFailed)
		}
	}

	providerCtx, cancel := context.WithTimeout(ctx, s.Config.ProviderTimeout)
	defer cancel()

	token, err := s.provider.ExchangeCode(providerCtx, record.Code, record.ProviderVerifier, record.State)
	if err != nil || token == nil {
		s.Logger.Error("Token exchange with provider failed",
			"provider", s.provider.Name(),
			"error", err)
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:   security.EventProviderCodeExchangeFailed,
				UserID: record.UserID,
			})
		}
		s.recordExchange(ctx, method, false)
		return nil, ErrInvalidGrant(DescExchangeFailed)
	}

	s.recordExchange(ctx, method, true)
	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(record.UserID, "")
	}
	s.Logger.Info("Token exchange successful", "user_id", record.UserID)

	return providers.TokenResponse(token), nil
}

func (s *Server) codeRejection(ctx context.Context, code string, err error) error {
	switch {
	case errors.Is(err, storage.ErrCodeExpired):
		s.Logger.Error("Expired authorization code", "code_prefix", util.SafeTruncate(code, logPrefixLength))
		s.auditInvalidCode("expired")
		s.recordExchange(ctx, "", false)
		return ErrInvalidGrant(DescExpiredCode)
	case errors.Is(err, storage.ErrCodeNotFound):
		s.Logger.Error("Invalid or expired authorization code", "code_prefix", util.SafeTruncate(code, logPrefixLength))
		s.auditInvalidCode("not_found")
		s.recordExchange(ctx, "", false)
		return ErrInvalidGrant(DescInvalidCode)
	default:
		s.Logger.Error("Failed to consume authorization code", "error", err)
		return fmt.Errorf("failed to consume authorization code: %w", err)
	}
}

func (s *Server) auditInvalidCode(reason string) {
	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:    security.EventInvalidCode,
			Details: map[string]any{"reason": reason},
		})
	}
}

func (s *Server) recordExchange(ctx context.Context, method string, success bool) {
	if m := s.metrics(); m != nil {
		m.RecordCodeExchange(ctx, method, success)
	}
}

// Refresh obtains new tokens from the provider. Any provider failure is
// reported as invalid_grant.
func (s *Server) Refresh(ctx context.Context, refreshToken string) (_ map[string]any, err error) {
	ctx, span := s.startSpan(ctx, "refresh")
	defer s.finishSpan(span, &err)

	if refreshToken == "" {
		return nil, ErrInvalidRequest("Missing refresh_token parameter")
	}

	providerCtx, cancel := context.WithTimeout(ctx, s.Config.ProviderTimeout)
	defer cancel()

	token, err := s.provider.RefreshToken(providerCtx, refreshToken)
	if m := s.metrics(); m != nil {
		m.RecordTokenRefresh(ctx, err == nil && token != nil)
	}
	if err != nil || token == nil {
		s.Logger.Error("Token refresh failed", "provider", s.provider.Name(), "error", err)
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", "", "", "refresh_failed")
		}
		return nil, ErrInvalidGrant(DescRefreshFailed)
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenRefreshed("")
	}
	return providers.TokenResponse(token), nil
}

// Introspect reports what the provider adapter knows about token.
// An unknown token is an invalid_token rejection.
func (s *Server) Introspect(ctx context.Context, token string) (_ *providers.Introspection, err error) {
	ctx, span := s.startSpan(ctx, "introspect")
	defer s.finishSpan(span, &err)

	if token == "" {
		return nil, ErrInvalidRequest("Missing token parameter")
	}

	info, err := s.provider.IntrospectToken(ctx, token)
	if err != nil {
		s.Logger.Error("Token introspection failed", "error", err)
		return nil, ErrInvalidToken(DescTokenInvalid)
	}
	if info == nil {
		if m := s.metrics(); m != nil {
			m.RecordTokenIntrospection(ctx, false)
		}
		return nil, ErrInvalidToken(DescTokenInvalid)
	}

	instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrTokenActive, info.Active))
	if m := s.metrics(); m != nil {
		m.RecordTokenIntrospection(ctx, info.Active)
	}
	return info, nil
}

// Revoke forgets the adapter's credential and asks the provider to revoke
// token where the provider supports it.
func (s *Server) Revoke(ctx context.Context, token string) (err error) {
	ctx, span := s.startSpan(ctx, "revoke")
	defer s.finishSpan(span, &err)

	if token == "" {
		return ErrInvalidRequest("Missing token parameter")
	}

	providerCtx, cancel := context.WithTimeout(ctx, s.Config.ProviderTimeout)
	defer cancel()

	if err := s.provider.RevokeToken(providerCtx, token); err != nil {
		s.Logger.Error("Token revocation failed", "error", err)
		return ErrInvalidToken("Failed to revoke token")
	}

	if m := s.metrics(); m != nil {
		m.RecordTokenRevocation(ctx)
	}
	if s.Auditor != nil {
		s.Auditor.LogTokenRevoked("")
	}
	s.Logger.Info("Token revoked")
	return nil
}
