// Package oauth is the HTTP boundary of an OAuth 2.0 authorization server
// that brokers Airtable for MCP clients.
//
// The server speaks PKCE (RFC 7636) with two independent pairs: the calling
// client's pair is validated at token exchange, while a separate
// provider-compatible pair is generated for Airtable, whose verifier charset
// excludes "~". Flow logic lives in the server package; this package only
// parses requests, applies rate limits, CORS and security headers, and
// renders JSON responses and OAuth errors.
//
// Endpoints:
//
//	GET  /auth/authorize                              redirect to the provider
//	GET  /auth/callback                               provider redirect; 302 to the client or JSON
//	POST /token                                       authorization_code and refresh_token grants
//	POST /oauth/refresh                               refresh outside the token endpoint
//	POST /oauth/introspect                            RFC 7662 style introspection
//	POST /oauth/revoke                                revocation
//	POST /oauth/register                              RFC 7591 dynamic client registration
//	GET  /.well-known/oauth-authorization-server[/mcp]
//	GET  /.well-known/oauth-protected-resource[/mcp]
//	GET  /oauth/app, /health
//
// Basic usage:
//
//	provider, _ := airtable.NewProvider(&airtable.Config{
//		ClientID:     os.Getenv("AIRTABLE_CLIENT_ID"),
//		ClientSecret: os.Getenv("AIRTABLE_CLIENT_SECRET"),
//		RedirectURL:  "http://localhost:8000/auth/callback",
//	})
//	store := memory.New()
//	srv, _ := server.New(provider, store, store, server.DefaultConfig(), logger)
//
//	handler := oauth.NewHandler(srv, logger)
//	mux := http.NewServeMux()
//	handler.RegisterRoutes(mux)
//
// MCP endpoints are protected with the MCP SDK bearer middleware:
//
//	protected := auth.RequireBearerToken(handler.TokenVerifier(), nil)(mcpHandler)
package oauth
