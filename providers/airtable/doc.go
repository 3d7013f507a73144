// Package airtable implements the Airtable OAuth 2.0 provider.
//
// Airtable requires PKCE on every authorization request and rejects
// verifiers containing "~", so verifiers sent to Airtable must be generated
// with Requirements(). Airtable offers no introspection or revocation
// endpoints; both operations work on the provider's local TokenHolder.
//
// Example usage:
//
//	provider, err := airtable.NewProvider(&airtable.Config{
//	    ClientID:     os.Getenv("AIRTABLE_CLIENT_ID"),
//	    ClientSecret: os.Getenv("AIRTABLE_CLIENT_SECRET"),
//	    RedirectURL:  "http://localhost:8000/auth/callback",
//	})
package airtable
