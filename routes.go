package oauth

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/onimsha/airtable-mcp-server-oauth/instrumentation"
	"github.com/onimsha/airtable-mcp-server-oauth/security"
	"github.com/onimsha/airtable-mcp-server-oauth/server"
)

type route struct {
	path     string
	endpoint string
	serve    http.HandlerFunc
}

func (h *Handler) routes() []route {
	return []route{
		{server.PathAuthorize, "authorization", h.ServeAuthorization},
		{server.PathCallback, "callback", h.ServeCallback},
		{server.PathToken, "token", h.ServeToken},
		{server.PathRefresh, "refresh", h.ServeRefresh},
		{server.PathIntrospect, "introspection", h.ServeTokenIntrospection},
		{server.PathRevoke, "revocation", h.ServeTokenRevocation},
		{server.PathRegister, "registration", h.ServeClientRegistration},
		{server.PathAuthorizationServerMetadata, "authorization_server_metadata", h.ServeAuthorizationServerMetadata},
		{server.PathAuthorizationServerMetadata + server.PathMCPAuthorizationServerSuffix, "mcp_authorization_server_metadata", h.ServeMCPAuthorizationServerMetadata},
		{server.PathProtectedResourceMetadata, "protected_resource_metadata", h.ServeProtectedResourceMetadata},
		{server.PathProtectedResourceMetadata + server.PathMCPAuthorizationServerSuffix, "mcp_protected_resource_metadata", h.ServeMCPProtectedResourceMetadata},
		{server.PathAppInfo, "app_info", h.ServeAppInfo},
		{server.PathHealth, "health", h.ServeHealth},
	}
}

// RegisterRoutes registers every OAuth endpoint on mux. Each endpoint is
// traced, measured and guarded against panics.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	for _, rt := range h.routes() {
		mux.Handle(rt.path, h.instrument(rt.endpoint, rt.serve))
	}
}

// Routes returns a mux with every OAuth endpoint behind the request ID middleware
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return security.RequestIDMiddleware(mux)
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rec *statusRecorder) WriteHeader(code int) {
	if !rec.wroteHeader {
		rec.status = code
		rec.wroteHeader = true
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if !rec.wroteHeader {
		rec.status = http.StatusOK
		rec.wroteHeader = true
	}
	return rec.ResponseWriter.Write(b)
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// instrument wraps serve with a span, HTTP metrics and panic recovery.
// A panic becomes a 500 server_error unless a response was already started.
func (h *Handler) instrument(endpoint string, serve http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ctx := r.Context()

		var span trace.Span
		if h.tracer != nil {
			ctx, span = h.tracer.Start(ctx, "oauth.http."+endpoint)
			defer span.End()
			r = r.WithContext(ctx)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if p := recover(); p != nil {
				h.logger.Error("Recovered from panic while serving request",
					"endpoint", endpoint,
					"request_id", security.GetRequestID(ctx),
					"panic", p)
				instrumentation.SetSpanError(span, "panic")
				if !rec.wroteHeader {
					h.writeError(rec, ErrorCodeServerError, server.DescInternalError, http.StatusInternalServerError)
				}
			}
			instrumentation.AddHTTPAttributes(span, r.Method, endpoint, rec.status)
			if rec.status < http.StatusBadRequest {
				instrumentation.SetSpanSuccess(span)
			}
			h.recordHTTPMetrics(ctx, endpoint, r.Method, rec.status, startTime)
		}()

		serve(rec, r)
	})
}
