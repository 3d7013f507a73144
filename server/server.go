package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/onimsha/airtable-mcp-server-oauth/instrumentation"
	"github.com/onimsha/airtable-mcp-server-oauth/providers"
	"github.com/onimsha/airtable-mcp-server-oauth/security"
	"github.com/onimsha/airtable-mcp-server-oauth/storage"
)

// logPrefixLength is how much of a state or code is written to logs
const logPrefixLength = 10

// Server runs the dual-PKCE authorization flow against one provider.
// It owns no HTTP types: the handler in the root package translates requests
// into calls on Server and renders the results.
type Server struct {
	provider    providers.Provider
	flowStore   storage.FlowStore
	clientStore storage.ClientStore

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config

	tracer trace.Tracer
	now    func() time.Time
}

// New creates a new OAuth server. A nil config selects DefaultConfig.
func New(
	provider providers.Provider,
	flowStore storage.FlowStore,
	clientStore storage.ClientStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if flowStore == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applyDefaults(config, logger)

	return &Server{
		provider:    provider,
		flowStore:   flowStore,
		clientStore: clientStore,
		Config:      config,
		Logger:      logger,
		now:         time.Now,
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation enables flow spans and metrics
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("server")
	}
}

// SetClock overrides the server clock. It stamps CreatedAt on state and code
// records and judges StateExpiry and AuthCodeExpiry at consume time, so a
// record is rejected once it outlives the configured lifetime whatever the
// store's own clock and TTL say.
func (s *Server) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Provider returns the provider this server brokers
func (s *Server) Provider() providers.Provider {
	return s.provider
}

// generateRandomToken returns a URL-safe random string with 256 bits of
// entropy, used for state values and client secrets.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}

func (s *Server) metrics() *instrumentation.Metrics {
	if s.Instrumentation == nil {
		return nil
	}
	return s.Instrumentation.Metrics()
}

func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, "oauth.server."+name)
}

func (s *Server) finishSpan(span trace.Span, errp *error) {
	if s.tracer == nil {
		return
	}
	if *errp != nil {
		instrumentation.RecordError(span, *errp)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	span.End()
}
