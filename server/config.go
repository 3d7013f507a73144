package server

import (
	"log/slog"
	"time"

	"github.com/onimsha/airtable-mcp-server-oauth/internal/util"
)

// Server defaults
const (
	DefaultIssuer          = "http://localhost:8000"
	DefaultStateExpiry     = 600 * time.Second
	DefaultAuthCodeExpiry  = 600 * time.Second
	DefaultProviderTimeout = 30 * time.Second
	DefaultCleanupInterval = 60 * time.Second
	DefaultServerName      = "mcp-oauth-server"
	DefaultServerVersion   = "0.1.0"
	DefaultMCPVersion      = "2024-11-05"
	DefaultRequiredScope   = "data.records:read"
)

// Endpoint paths served by the HTTP boundary. The metadata documents
// advertise them relative to Config.Issuer.
const (
	PathAuthorize                    = "/auth/authorize"
	PathCallback                     = "/auth/callback"
	PathToken                        = "/token"
	PathRefresh                      = "/oauth/refresh"
	PathIntrospect                   = "/oauth/introspect"
	PathRevoke                       = "/oauth/revoke"
	PathRegister                     = "/oauth/register"
	PathAppInfo                      = "/oauth/app"
	PathHealth                       = "/health"
	PathAuthorizationServerMetadata  = "/.well-known/oauth-authorization-server"
	PathProtectedResourceMetadata    = "/.well-known/oauth-protected-resource"
	PathMCPAuthorizationServerSuffix = "/mcp"
)

// Config holds OAuth server configuration
type Config struct {
	// Issuer is the externally visible base URL of this server
	Issuer string // default: http://localhost:8000

	// StateExpiry is how long a state issued at initiate stays usable
	StateExpiry time.Duration // default: 10 minutes

	// AuthCodeExpiry is how long a stored provider code stays exchangeable
	AuthCodeExpiry time.Duration // default: 10 minutes

	// ProviderTimeout bounds each outbound call to the provider
	ProviderTimeout time.Duration // default: 30 seconds

	// CleanupInterval is the period of the background sweep started by StartCleanup
	CleanupInterval time.Duration // default: 60 seconds

	// EnablePKCE advertises PKCE support in discovery documents
	EnablePKCE bool // default: true (via DefaultConfig)

	// RequirePKCE rejects authorization requests that carry no client challenge
	RequirePKCE bool // default: false

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// WARNING: Only enable if behind a trusted reverse proxy
	TrustProxy bool // default: false

	// TrustedProxyCount is the number of trusted proxies in front of this server
	TrustedProxyCount int // default: 1

	// ServerName, ServerVersion and MCPVersion are echoed in discovery documents
	ServerName    string // default: mcp-oauth-server
	ServerVersion string // default: 0.1.0
	MCPVersion    string // default: 2024-11-05

	// EnableDynamicRegistration enables the RFC 7591 registration endpoint
	EnableDynamicRegistration bool // default: true (via DefaultConfig)

	// RegistrationAccessToken, when set, must be presented as a bearer token
	// to the registration endpoint.
	RegistrationAccessToken string

	// ScopesRequired is advertised in the MCP protected resource document
	ScopesRequired []string // default: [data.records:read]

	// CORS configures cross-origin access to every endpoint
	CORS CORSConfig
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	// AllowedOrigins lists origins allowed to make cross-origin requests.
	// "*" allows any origin.
	AllowedOrigins []string // default: ["*"]

	// AllowedMethods lists the methods advertised on preflight
	AllowedMethods []string // default: GET, POST, OPTIONS

	// AllowedHeaders lists the request headers advertised on preflight
	AllowedHeaders []string // default: Content-Type, Authorization

	// AllowCredentials sets Access-Control-Allow-Credentials. Never sent with a wildcard origin.
	AllowCredentials bool

	// MaxAge is how long browsers may cache a preflight response, in seconds
	MaxAge int // default: 3600
}

// DefaultConfig returns a Config with every default applied, including the
// boolean features that are enabled unless turned off.
func DefaultConfig() *Config {
	config := &Config{
		EnablePKCE:                true,
		EnableDynamicRegistration: true,
	}
	applyDefaults(config, nil)
	return config
}

// applyDefaults fills zero values. Booleans are left as given.
func applyDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	applyIdentityDefaults(config)
	applyCORSDefaults(&config.CORS)

	if logger != nil {
		logConfigWarnings(config, logger)
	}
	return config
}

func applyTimeDefaults(config *Config) {
	if config.StateExpiry <= 0 {
		config.StateExpiry = DefaultStateExpiry
	}
	if config.AuthCodeExpiry <= 0 {
		config.AuthCodeExpiry = DefaultAuthCodeExpiry
	}
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = DefaultProviderTimeout
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCleanupInterval
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
}

func applyIdentityDefaults(config *Config) {
	if config.Issuer == "" {
		config.Issuer = DefaultIssuer
	}
	config.Issuer = util.NormalizeURL(config.Issuer)
	if config.ServerName == "" {
		config.ServerName = DefaultServerName
	}
	if config.ServerVersion == "" {
		config.ServerVersion = DefaultServerVersion
	}
	if config.MCPVersion == "" {
		config.MCPVersion = DefaultMCPVersion
	}
	if len(config.ScopesRequired) == 0 {
		config.ScopesRequired = []string{DefaultRequiredScope}
	}
}

func applyCORSDefaults(cors *CORSConfig) {
	if len(cors.AllowedOrigins) == 0 {
		cors.AllowedOrigins = []string{"*"}
	}
	if len(cors.AllowedMethods) == 0 {
		cors.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(cors.AllowedHeaders) == 0 {
		cors.AllowedHeaders = []string{"Content-Type", "Authorization"}
	}
	if cors.MaxAge == 0 {
		cors.MaxAge = 3600
	}
}

// logConfigWarnings logs warnings for weak settings
func logConfigWarnings(config *Config, logger *slog.Logger) {
	if !config.RequirePKCE {
		logger.Warn("PKCE is optional for clients",
			"risk", "Authorization code interception for clients that do not send a challenge",
			"recommendation", "Set RequirePKCE=true once every client supports PKCE")
	}
	if config.EnableDynamicRegistration && config.RegistrationAccessToken == "" {
		logger.Warn("Dynamic client registration is open",
			"risk", "Unauthenticated callers can register clients",
			"recommendation", "Set RegistrationAccessToken")
	}
	if config.TrustProxy {
		logger.Warn("Trusting proxy headers for client IP",
			"trusted_proxy_count", config.TrustedProxyCount)
	}
}

// BaseURL returns the issuer without a trailing slash
func (c *Config) BaseURL() string {
	return util.NormalizeURL(c.Issuer)
}

// Endpoint returns the absolute URL of path on this server
func (c *Config) Endpoint(path string) string {
	return util.JoinURL(c.Issuer, path)
}

// AuthorizationEndpoint returns the absolute authorize URL
func (c *Config) AuthorizationEndpoint() string { return c.Endpoint(PathAuthorize) }

// TokenEndpoint returns the absolute token URL
func (c *Config) TokenEndpoint() string { return c.Endpoint(PathToken) }

// RegistrationEndpoint returns the absolute registration URL
func (c *Config) RegistrationEndpoint() string { return c.Endpoint(PathRegister) }

// MetadataEndpoint returns the absolute authorization server metadata URL
func (c *Config) MetadataEndpoint() string { return c.Endpoint(PathAuthorizationServerMetadata) }

// CallbackEndpoint returns the absolute provider callback URL
func (c *Config) CallbackEndpoint() string { return c.Endpoint(PathCallback) }
