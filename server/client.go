package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/onimsha/airtable-mcp-server-oauth/security"
	"github.com/onimsha/airtable-mcp-server-oauth/storage"
)

// Token endpoint authentication methods (RFC 7591)
const (
	TokenEndpointAuthMethodNone  = "none"
	TokenEndpointAuthMethodBasic = "client_secret_basic"
	TokenEndpointAuthMethodPost  = "client_secret_post"
)

// Registration defaults
const (
	DefaultClientName = "MCP OAuth Client"
	ClientIDPrefix    = "mcp-client-"
	DevRedirectURI    = "http://localhost:3000/callback"
)

var (
	supportedAuthMethods    = []string{TokenEndpointAuthMethodBasic, TokenEndpointAuthMethodPost, TokenEndpointAuthMethodNone}
	supportedGrantTypes     = []string{"authorization_code", "refresh_token"}
	supportedResponseTypes  = []string{"code"}
	defaultGrantTypes       = []string{"authorization_code", "refresh_token"}
	defaultResponseTypes    = []string{"code"}
	errRegistrationDisabled = errors.New("dynamic client registration is disabled")
)

// ClientRegistrationRequest is the RFC 7591 registration request body
type ClientRegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	ClientURI               string   `json:"client_uri,omitempty"`
	LogoURI                 string   `json:"logo_uri,omitempty"`
	TosURI                  string   `json:"tos_uri,omitempty"`
	PolicyURI               string   `json:"policy_uri,omitempty"`
}

// ClientRegistration is the RFC 7591 registration response
type ClientRegistration struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	ClientName              string   `json:"client_name"`
	Scope                   string   `json:"scope"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`

	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	RegistrationEndpoint  string `json:"registration_endpoint"`

	ClientIDIssuedAt      int64 `json:"client_id_issued_at"`
	ClientSecretExpiresAt int64 `json:"client_secret_expires_at"`

	MCPVersion string `json:"mcp_version"`
	ServerName string `json:"server_name"`

	ClientURI string `json:"client_uri,omitempty"`
	LogoURI   string `json:"logo_uri,omitempty"`
	TosURI    string `json:"tos_uri,omitempty"`
	PolicyURI string `json:"policy_uri,omitempty"`
}

// AuthorizeRegistration checks the bearer token presented to the
// registration endpoint. Without a configured RegistrationAccessToken any
// caller may register.
func (s *Server) AuthorizeRegistration(bearerToken, clientIP string) error {
	if !s.Config.EnableDynamicRegistration {
		return ErrAccessDenied("Dynamic client registration is disabled")
	}
	expected := s.Config.RegistrationAccessToken
	if expected == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(bearerToken), []byte(expected)) != 1 {
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:      security.EventClientRegistrationRejected,
				IPAddress: clientIP,
				Details:   map[string]any{"reason": "invalid_registration_token"},
			})
		}
		s.Logger.Warn("Client registration rejected: invalid registration access token", "client_ip", clientIP)
		return ErrInvalidClient("Invalid registration access token")
	}
	return nil
}

// RegisterClient registers a new OAuth client. Omitted metadata falls back
// to the defaults MCP clients expect. The plaintext secret is returned once
// and only its bcrypt hash is stored.
func (s *Server) RegisterClient(ctx context.Context, req ClientRegistrationRequest, clientIP string) (_ *ClientRegistration, err error) {
	ctx, span := s.startSpan(ctx, "register_client")
	defer s.finishSpan(span, &err)

	if !s.Config.EnableDynamicRegistration {
		return nil, ErrAccessDenied(errRegistrationDisabled.Error())
	}

	client, err := s.buildClient(req)
	if err != nil {
		s.rejectRegistration(clientIP, err)
		return nil, ErrInvalidClientMetadata(err.Error())
	}

	clientSecret, clientSecretHash, err := generateClientSecret(client.TokenEndpointAuthMethod)
	if err != nil {
		return nil, err
	}
	client.ClientSecretHash = clientSecretHash

	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		return nil, fmt.Errorf("failed to save client: %w", err)
	}

	if m := s.metrics(); m != nil {
		m.RecordClientRegistration(ctx, client.TokenEndpointAuthMethod)
	}
	if s.Auditor != nil {
		s.Auditor.LogClientRegistered(client.ClientID, client.TokenEndpointAuthMethod, clientIP)
	}
	s.Logger.Info("Registered new OAuth client",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"token_endpoint_auth_method", client.TokenEndpointAuthMethod,
		"client_ip", clientIP)

	return &ClientRegistration{
		ClientID:                client.ClientID,
		ClientSecret:            clientSecret,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		ClientName:              client.ClientName,
		Scope:                   client.Scope,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		AuthorizationEndpoint:   s.Config.AuthorizationEndpoint(),
		TokenEndpoint:           s.Config.TokenEndpoint(),
		RegistrationEndpoint:    s.Config.RegistrationEndpoint(),
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		ClientSecretExpiresAt:   0,
		MCPVersion:              s.Config.MCPVersion,
		ServerName:              s.Config.ServerName,
		ClientURI:               client.ClientURI,
		LogoURI:                 client.LogoURI,
		TosURI:                  client.TosURI,
		PolicyURI:               client.PolicyURI,
	}, nil
}

// buildClient applies registration defaults and validates the result
func (s *Server) buildClient(req ClientRegistrationRequest) (*storage.Client, error) {
	redirectURIs := req.RedirectURIs
	if len(redirectURIs) == 0 {
		redirectURIs = []string{s.Config.CallbackEndpoint(), DevRedirectURI, OutOfBandRedirectURI}
	}
	for _, uri := range redirectURIs {
		if err := s.validateRedirectURI(uri); err != nil {
			return nil, fmt.Errorf("invalid redirect_uri %q: %w", uri, err)
		}
	}

	grantTypes := orDefault(req.GrantTypes, defaultGrantTypes)
	for _, gt := range grantTypes {
		if !slices.Contains(supportedGrantTypes, gt) {
			return nil, fmt.Errorf("unsupported grant_type: %s", gt)
		}
	}

	responseTypes := orDefault(req.ResponseTypes, defaultResponseTypes)
	for _, rt := range responseTypes {
		if !slices.Contains(supportedResponseTypes, rt) {
			return nil, fmt.Errorf("unsupported response_type: %s", rt)
		}
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = TokenEndpointAuthMethodBasic
	}
	if !slices.Contains(supportedAuthMethods, authMethod) {
		return nil, fmt.Errorf("unsupported token_endpoint_auth_method: %s", authMethod)
	}

	clientName := req.ClientName
	if clientName == "" {
		clientName = DefaultClientName
	}

	return &storage.Client{
		ClientID:                ClientIDPrefix + uuid.NewString(),
		ClientName:              clientName,
		RedirectURIs:            redirectURIs,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		TokenEndpointAuthMethod: authMethod,
		Scope:                   strings.Join(s.provider.SupportedScopes(), " "),
		ClientURI:               req.ClientURI,
		LogoURI:                 req.LogoURI,
		TosURI:                  req.TosURI,
		PolicyURI:               req.PolicyURI,
		CreatedAt:               s.now(),
	}, nil
}

func (s *Server) rejectRegistration(clientIP string, err error) {
	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventClientRegistrationRejected,
			IPAddress: clientIP,
			Details:   map[string]any{"reason": err.Error()},
		})
	}
	s.Logger.Warn("Client registration rejected", "error", err.Error(), "client_ip", clientIP)
}

func orDefault(values, defaults []string) []string {
	if len(values) == 0 {
		return slices.Clone(defaults)
	}
	return values
}

// generateClientSecret generates a secret for confidential clients.
// Public clients get neither a secret nor a hash.
func generateClientSecret(authMethod string) (string, string, error) {
	if authMethod == TokenEndpointAuthMethodNone {
		return "", "", nil
	}

	clientSecret := generateRandomToken()
	hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return clientSecret, string(hash), nil
}

// AuthenticateClient validates client credentials presented at the token endpoint
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret string) error {
	if err := s.clientStore.ValidateClientSecret(ctx, clientID, clientSecret); err != nil {
		s.Logger.Debug("Client authentication failed", "client_id", clientID)
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", clientID, "", "invalid_client_credentials")
		}
		return ErrInvalidClient("Client authentication failed")
	}
	return nil
}

// GetClient retrieves a registered client by ID
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return s.clientStore.GetClient(ctx, clientID)
}
