// Package providers defines the interface for downstream OAuth providers.
//
// A Provider wraps one upstream authorization server: it builds the consent
// URL, exchanges and refreshes codes, and reports the PKCE constraints the
// upstream enforces so the authorization server can generate a compatible
// verifier of its own.
//
// Each adapter owns a TokenHolder for the caller it currently acts for.
// Tool handlers call EnsureValidToken and then AuthHeaders before every
// downstream API request.
//
// Implementations are provided in subpackages:
//   - providers/airtable: Airtable OAuth 2.0 provider
//   - providers/mock: Mock provider for testing
package providers
