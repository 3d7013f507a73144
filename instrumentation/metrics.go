package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the authorization server
type Metrics struct {
	// HTTP
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Authorization flow
	AuthorizationStarted metric.Int64Counter
	CallbackProcessed    metric.Int64Counter
	CodeExchanged        metric.Int64Counter
	TokenRefreshed       metric.Int64Counter
	TokenIntrospected    metric.Int64Counter
	TokenRevoked         metric.Int64Counter
	ClientRegistered     metric.Int64Counter

	// Security
	RateLimitExceeded    metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter
	StateRejected        metric.Int64Counter

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageSwept             metric.Int64Counter
	StorageSizeStates        metric.Int64ObservableGauge
	StorageSizeCodes         metric.Int64ObservableGauge
	StorageSizeClients       metric.Int64ObservableGauge

	// Provider
	ProviderAPICallsTotal metric.Int64Counter
	ProviderAPIDuration   metric.Float64Histogram
	ProviderAPIErrors     metric.Int64Counter
}

type counterSpec struct {
	dst         *metric.Int64Counter
	meter       metric.Meter
	name        string
	description string
	unit        string
}

type histogramSpec struct {
	dst         *metric.Float64Histogram
	meter       metric.Meter
	name        string
	description string
}

type gaugeSpec struct {
	dst         *metric.Int64ObservableGauge
	name        string
	description string
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")
	providerMeter := inst.Meter("provider")

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, httpMeter, "oauth.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.AuthorizationStarted, serverMeter, "oauth.authorization.started", "Number of authorization flows started", "{flow}"},
		{&m.CallbackProcessed, serverMeter, "oauth.callback.processed", "Number of provider callbacks processed", "{callback}"},
		{&m.CodeExchanged, serverMeter, "oauth.code.exchanged", "Number of authorization code exchanges", "{exchange}"},
		{&m.TokenRefreshed, serverMeter, "oauth.token.refreshed", "Number of token refresh attempts", "{refresh}"},
		{&m.TokenIntrospected, serverMeter, "oauth.token.introspected", "Number of token introspections", "{introspection}"},
		{&m.TokenRevoked, serverMeter, "oauth.token.revoked", "Number of token revocations", "{revocation}"},
		{&m.ClientRegistered, serverMeter, "oauth.client.registered", "Number of clients registered", "{client}"},
		{&m.RateLimitExceeded, securityMeter, "oauth.rate_limit.exceeded", "Number of rate limit violations", "{violation}"},
		{&m.PKCEValidationFailed, securityMeter, "oauth.pkce.validation_failed", "Number of PKCE verifier mismatches", "{failure}"},
		{&m.StateRejected, securityMeter, "oauth.state.rejected", "Number of callbacks with unknown or expired state", "{rejection}"},
		{&m.StorageOperationTotal, storageMeter, "storage.operation.total", "Total number of storage operations", "{operation}"},
		{&m.StorageSwept, storageMeter, "storage.swept.total", "Number of expired records removed by sweeps", "{record}"},
		{&m.ProviderAPICallsTotal, providerMeter, "provider.api.calls.total", "Total number of provider API calls", "{call}"},
		{&m.ProviderAPIErrors, providerMeter, "provider.api.errors.total", "Total number of failed provider API calls", "{error}"},
	}
	for _, c := range counters {
		counter, err := c.meter.Int64Counter(c.name, metric.WithDescription(c.description), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	histograms := []histogramSpec{
		{&m.HTTPRequestDuration, httpMeter, "oauth.http.request.duration", "HTTP request duration in milliseconds"},
		{&m.StorageOperationDuration, storageMeter, "storage.operation.duration", "Storage operation duration in milliseconds"},
		{&m.ProviderAPIDuration, providerMeter, "provider.api.duration", "Provider API call duration in milliseconds"},
	}
	for _, h := range histograms {
		histogram, err := h.meter.Float64Histogram(h.name, metric.WithDescription(h.description), metric.WithUnit("ms"))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s histogram: %w", h.name, err)
		}
		*h.dst = histogram
	}

	gauges := []gaugeSpec{
		{&m.StorageSizeStates, "storage.size.states", "Number of pending authorization states"},
		{&m.StorageSizeCodes, "storage.size.codes", "Number of authorization codes awaiting exchange"},
		{&m.StorageSizeClients, "storage.size.clients", "Number of registered clients"},
	}
	for _, g := range gauges {
		gauge, err := storageMeter.Int64ObservableGauge(g.name, metric.WithDescription(g.description), metric.WithUnit("{item}"))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s gauge: %w", g.name, err)
		}
		*g.dst = gauge
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordAuthorizationStarted records an authorization flow start
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context, pkceMethod string) {
	m.AuthorizationStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pkce_method", pkceMethodLabel(pkceMethod)),
	))
}

// RecordCallbackProcessed records a provider callback
func (m *Metrics) RecordCallbackProcessed(ctx context.Context, redirected, success bool) {
	m.CallbackProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("redirected", redirected),
		attribute.Bool("success", success),
	))
}

// RecordCodeExchange records an authorization code exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, pkceMethod string, success bool) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pkce_method", pkceMethodLabel(pkceMethod)),
		attribute.Bool("success", success),
	))
}

// RecordTokenRefresh records a token refresh attempt
func (m *Metrics) RecordTokenRefresh(ctx context.Context, success bool) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

// RecordTokenIntrospection records a token introspection
func (m *Metrics) RecordTokenIntrospection(ctx context.Context, active bool) {
	m.TokenIntrospected.Add(ctx, 1, metric.WithAttributes(attribute.Bool("active", active)))
}

// RecordTokenRevocation records a token revocation
func (m *Metrics) RecordTokenRevocation(ctx context.Context) {
	m.TokenRevoked.Add(ctx, 1)
}

// RecordClientRegistration records a client registration
func (m *Metrics) RecordClientRegistration(ctx context.Context, authMethod string) {
	m.ClientRegistered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("token_endpoint_auth_method", authMethod),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, endpoint string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordPKCEValidationFailed records a PKCE verifier mismatch
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// RecordStateRejected records a callback whose state was unknown or expired
func (m *Metrics) RecordStateRejected(ctx context.Context, expired bool) {
	m.StateRejected.Add(ctx, 1, metric.WithAttributes(attribute.Bool("expired", expired)))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, backend, operation, result string, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("operation", operation),
		attribute.String("result", result),
	)
	m.StorageOperationTotal.Add(ctx, 1, attrs)
	m.StorageOperationDuration.Record(ctx, durationMs, attrs)
}

// RecordStorageSwept records records removed by a sweep
func (m *Metrics) RecordStorageSwept(ctx context.Context, backend string, removed int) {
	if removed <= 0 {
		return
	}
	m.StorageSwept.Add(ctx, int64(removed), metric.WithAttributes(attribute.String("backend", backend)))
}

// RecordProviderAPICall records a provider API call
func (m *Metrics) RecordProviderAPICall(ctx context.Context, provider, operation string, durationMs float64, err error) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	)
	m.ProviderAPICallsTotal.Add(ctx, 1, attrs)
	m.ProviderAPIDuration.Record(ctx, durationMs, attrs)
	if err != nil {
		m.ProviderAPIErrors.Add(ctx, 1, attrs)
	}
}

func pkceMethodLabel(method string) string {
	if method == "" {
		return "none"
	}
	return method
}
