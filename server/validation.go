package server

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/onimsha/airtable-mcp-server-oauth/pkce"
)

// URI scheme constants
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// OutOfBandRedirectURI is the RFC 6749 out-of-band redirect target
const OutOfBandRedirectURI = "urn:ietf:wg:oauth:2.0:oob"

var (
	// DangerousSchemes lists URI schemes that are never accepted as redirect targets
	DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

	// LoopbackAddresses lists recognized loopback hosts
	LoopbackAddresses = []string{"localhost", "127.0.0.1", "::1"}
)

// validateClientPKCE checks the client's challenge parameters at initiate.
// It returns an empty method when the client did not use PKCE.
func (s *Server) validateClientPKCE(challenge, method string) (pkce.Method, error) {
	if challenge == "" && method == "" {
		if s.Config.RequirePKCE {
			return "", ErrInvalidRequest("code_challenge is required")
		}
		return "", nil
	}
	if challenge == "" || method == "" {
		return "", ErrInvalidRequest(DescPKCEPairIncomplete)
	}

	m, err := pkce.ParseMethod(method)
	if err != nil {
		return "", ErrInvalidRequest(fmt.Sprintf("Unsupported PKCE code challenge method: %s", method))
	}
	return m, nil
}

// validateRedirectURI checks a client-supplied redirect target. It must be
// absolute, carry no fragment and use neither a dangerous scheme nor plain
// HTTP to a remote host while this server is served over HTTPS.
func (s *Server) validateRedirectURI(redirectURI string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri format: %w", err)
	}
	if parsed.Scheme == "" {
		return fmt.Errorf("redirect_uri must be an absolute URI")
	}
	if parsed.Fragment != "" {
		return fmt.Errorf("redirect_uri must not contain fragments")
	}

	scheme := strings.ToLower(parsed.Scheme)
	for _, dangerous := range DangerousSchemes {
		if scheme == dangerous {
			return fmt.Errorf("redirect_uri scheme '%s' is not allowed", parsed.Scheme)
		}
	}

	switch scheme {
	case SchemeHTTPS:
		if parsed.Host == "" {
			return fmt.Errorf("redirect_uri must include a host")
		}
	case SchemeHTTP:
		if parsed.Host == "" {
			return fmt.Errorf("redirect_uri must include a host")
		}
		if !isLoopbackAddress(parsed.Hostname()) && strings.HasPrefix(s.Config.Issuer, SchemeHTTPS+"://") {
			return fmt.Errorf("redirect_uri must use HTTPS (got %s://)", scheme)
		}
	}
	return nil
}

// isLoopbackAddress checks if a hostname is a loopback address
func isLoopbackAddress(hostname string) bool {
	hostname = strings.TrimSpace(strings.Trim(hostname, "[]"))
	for _, loopback := range LoopbackAddresses {
		if strings.EqualFold(hostname, loopback) {
			return true
		}
	}
	return strings.HasPrefix(hostname, "127.")
}
