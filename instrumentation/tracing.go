package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
//
// Never attach credential values (access tokens, refresh tokens, codes,
// verifiers, client secrets) to spans. Record presence or method only.
const (
	AttrUserID          = "oauth.user_id"
	AttrClientID        = "oauth.client_id"
	AttrGrantType       = "oauth.grant_type"
	AttrPKCEMethod      = "oauth.pkce.method"
	AttrClientPKCE      = "oauth.pkce.client_present"
	AttrRedirected      = "oauth.callback.redirected"
	AttrError           = "oauth.error"
	AttrTokenActive     = "oauth.token.active" //nolint:gosec // attribute name, not a credential
	AttrProviderName    = "provider.name"
	AttrProviderOp      = "provider.operation"
	AttrStorageBackend  = "storage.backend"
	AttrStorageOp       = "storage.operation"
	AttrClientIP        = "security.client_ip"
	AttrHTTPEndpoint    = "http.endpoint"
	AttrHTTPMethod      = "http.method"
	AttrHTTPStatusCode  = "http.status_code"
	AttrSweepRemoved    = "storage.sweep.removed"
	AttrRegisteredAuthM = "oauth.client.auth_method"
)

// RecordError records an error on a span (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddPKCEAttributes records the client PKCE method on a span, or its absence.
func AddPKCEAttributes(span trace.Span, method string) {
	SetSpanAttributes(span, attribute.Bool(AttrClientPKCE, method != ""))
	if method != "" {
		SetSpanAttributes(span, attribute.String(AttrPKCEMethod, method))
	}
}

// AddProviderAttributes adds provider attributes to a span (nil-safe)
func AddProviderAttributes(span trace.Span, providerName, operation string) {
	SetSpanAttributes(span,
		attribute.String(AttrProviderName, providerName),
		attribute.String(AttrProviderOp, operation),
	)
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, backend, operation string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageBackend, backend),
		attribute.String(AttrStorageOp, operation),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddSecurityAttributes adds the client IP to a span. Callers check
// ShouldLogClientIPs first.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
