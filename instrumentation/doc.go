// Package instrumentation provides OpenTelemetry metrics and tracing for the
// Airtable OAuth authorization server.
//
// When disabled, no-op providers are used. When enabled, metrics go to either
// a dedicated Prometheus registry (served by MetricsHandler) or stdout, and
// traces optionally go to stdout.
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:         true,
//		ServiceName:     "airtable-oauth-mcp",
//		ServiceVersion:  "0.1.0",
//		MetricsExporter: instrumentation.ExporterPrometheus,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	mux.Handle("/metrics", inst.MetricsHandler())
//
// # Metrics
//
// HTTP:
//   - oauth.http.requests.total{method, endpoint, status}
//   - oauth.http.request.duration{endpoint}
//
// Flow:
//   - oauth.authorization.started{pkce_method}
//   - oauth.callback.processed{redirected, success}
//   - oauth.code.exchanged{pkce_method, success}
//   - oauth.token.refreshed{success}, oauth.token.introspected{active}, oauth.token.revoked
//   - oauth.client.registered{token_endpoint_auth_method}
//
// Security:
//   - oauth.rate_limit.exceeded{endpoint}
//   - oauth.pkce.validation_failed{method}
//   - oauth.state.rejected{expired}
//
// Storage and provider:
//   - storage.operation.total / storage.operation.duration{backend, operation, result}
//   - storage.swept.total{backend}
//   - storage.size.states, storage.size.codes, storage.size.clients
//   - provider.api.calls.total, provider.api.duration, provider.api.errors.total{provider, operation}
//
// Span attributes never carry tokens, codes or verifiers.
package instrumentation
