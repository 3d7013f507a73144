package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders sets the response headers applied to every OAuth endpoint.
// HSTS is only sent when serverURL uses https.
func SetSecurityHeaders(w http.ResponseWriter, serverURL string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")

	if parsed, err := url.Parse(serverURL); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// OAuth responses carry codes and tokens
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
}

// SetDiscoveryHeaders sets headers for public discovery documents, which may be cached.
func SetDiscoveryHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", "public, max-age=3600")
}
