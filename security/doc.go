// Package security provides the protective plumbing around the authorization
// endpoints: audit logging, rate limiting, response headers, request IDs,
// client IP extraction and at-rest sealing of flow records.
//
// # Rate limiting
//
// RateLimiter keeps one token bucket per key and bounds the number of keys
// with LRU eviction, so a flood of distinct addresses cannot grow memory
// without limit:
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//		// respond 429
//	}
//
// # Sealing
//
// Sealer encrypts flow records written to shared storage. State and code
// records carry the server-side PKCE verifier for the provider, which must
// not be readable by anyone with access to the cache alone.
package security
