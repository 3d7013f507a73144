// Package server implements the authorization flow of an OAuth 2.0 broker
// that sits between MCP clients and a single downstream provider.
//
// The flow uses two independent PKCE pairs. The client's challenge is
// recorded at Initiate and checked against the client's verifier at
// Exchange. A second, provider-compatible pair is generated by the server
// and used only on the provider leg, so a client verifier never has to meet
// the provider's charset or length rules.
//
// The Server type delegates to:
//   - Provider integration (providers package)
//   - Single-use state and code records, registered clients (storage package)
//   - Auditing, client IP handling (security package)
//
// Every rejection is returned as an *OAuthError carrying the OAuth error
// code, a description safe to show the caller and the HTTP status. Provider
// failures during exchange and refresh are reported as invalid_grant and
// logged in full.
//
// Example usage:
//
//	provider, err := airtable.NewProvider(&airtable.Config{
//	    ClientID:     clientID,
//	    ClientSecret: clientSecret,
//	    RedirectURL:  "http://localhost:8000/auth/callback",
//	})
//	store := memory.New()
//
//	srv, err := server.New(provider, store, store, server.DefaultConfig(), logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	done := srv.StartCleanup(ctx)
package server
