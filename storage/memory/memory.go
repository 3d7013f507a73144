// Package memory provides an in-memory implementation of the storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/onimsha/airtable-mcp-server-oauth/instrumentation"
	"github.com/onimsha/airtable-mcp-server-oauth/internal/util"
	"github.com/onimsha/airtable-mcp-server-oauth/storage"
)

const (
	backendName = "memory"

	// DefaultStateTTL bounds how long an authorization request may wait for its callback
	DefaultStateTTL = 10 * time.Minute

	// DefaultCodeTTL bounds how long an authorization code may wait for exchange
	DefaultCodeTTL = 10 * time.Minute

	// keyLogLength is the number of characters of a state or code included in logs
	keyLogLength = 8
)

// Config controls record lifetimes. Zero values select the defaults.
type Config struct {
	StateTTL time.Duration
	CodeTTL  time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store is an in-memory FlowStore and ClientStore.
type Store struct {
	states *ConsumeOnce[*storage.StateRecord]
	codes  *ConsumeOnce[*storage.CodeRecord]

	clientsMu sync.RWMutex
	clients   map[string]*storage.Client

	now    func() time.Time
	logger *slog.Logger

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

var (
	_ storage.FlowStore   = (*Store)(nil)
	_ storage.ClientStore = (*Store)(nil)
)

// New creates a store with the default ten minute state and code lifetimes.
func New() *Store {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a store with explicit lifetimes.
func NewWithConfig(cfg Config) *Store {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultStateTTL
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = DefaultCodeTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Store{
		states:  NewConsumeOnce[*storage.StateRecord](cfg.StateTTL, cfg.Now),
		codes:   NewConsumeOnce[*storage.CodeRecord](cfg.CodeTTL, cfg.Now),
		clients: make(map[string]*storage.Client),
		now:     cfg.Now,
		logger:  slog.Default(),
	}
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables storage spans, operation metrics and size gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst == nil {
		return
	}
	s.tracer = inst.Tracer("storage")

	err := inst.RegisterStorageSizeCallbacks(
		func() int64 { return int64(s.states.Len()) },
		func() int64 { return int64(s.codes.Len()) },
		func() int64 {
			s.clientsMu.RLock()
			defer s.clientsMu.RUnlock()
			return int64(len(s.clients))
		},
	)
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// ============================================================
// FlowStore Implementation
// ============================================================

// SaveState stores a copy of record under record.State.
func (s *Store) SaveState(ctx context.Context, record *storage.StateRecord) (err error) {
	ctx, span := s.startSpan(ctx, "save_state")
	defer s.finishSpan(ctx, span, "save_state", time.Now(), &err)

	if record == nil || record.State == "" {
		return fmt.Errorf("invalid state record")
	}
	cp := *record
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.states.Put(cp.State, &cp, cp.CreatedAt)

	s.logger.Debug("Saved authorization state", "state", util.SafeTruncate(cp.State, keyLogLength))
	return nil
}

// ConsumeState pops the state record.
func (s *Store) ConsumeState(ctx context.Context, state string) (_ *storage.StateRecord, err error) {
	ctx, span := s.startSpan(ctx, "consume_state")
	defer s.finishSpan(ctx, span, "consume_state", time.Now(), &err)

	record, err := s.states.Consume(state)
	switch {
	case errors.Is(err, errNotFound):
		return nil, storage.ErrStateNotFound
	case errors.Is(err, errExpired):
		s.logger.Debug("Rejected expired authorization state", "state", util.SafeTruncate(state, keyLogLength))
		return nil, storage.ErrStateExpired
	}
	return record, nil
}

// SaveCode stores a copy of record under record.Code.
func (s *Store) SaveCode(ctx context.Context, record *storage.CodeRecord) (err error) {
	ctx, span := s.startSpan(ctx, "save_code")
	defer s.finishSpan(ctx, span, "save_code", time.Now(), &err)

	if record == nil || record.Code == "" {
		return fmt.Errorf("invalid authorization code record")
	}
	cp := *record
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.codes.Put(cp.Code, &cp, cp.CreatedAt)
	return nil
}

// ConsumeCode pops the authorization code record.
func (s *Store) ConsumeCode(ctx context.Context, code string) (_ *storage.CodeRecord, err error) {
	ctx, span := s.startSpan(ctx, "consume_code")
	defer s.finishSpan(ctx, span, "consume_code", time.Now(), &err)

	record, err := s.codes.Consume(code)
	switch {
	case errors.Is(err, errNotFound):
		return nil, storage.ErrCodeNotFound
	case errors.Is(err, errExpired):
		return nil, storage.ErrCodeExpired
	}
	return record, nil
}

// Sweep drops expired states and codes.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	removed := s.states.Sweep() + s.codes.Sweep()
	if removed > 0 {
		s.logger.Debug("Swept expired flow records", "removed", removed)
	}
	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordStorageSwept(ctx, backendName, removed)
	}
	return removed, nil
}

// PendingStates returns the number of stored states, expired or not.
func (s *Store) PendingStates() int {
	return s.states.Len()
}

// PendingCodes returns the number of stored codes, expired or not.
func (s *Store) PendingCodes() int {
	return s.codes.Len()
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, span := s.startSpan(ctx, "save_client")
	defer s.finishSpan(ctx, span, "save_client", time.Now(), &err)

	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[client.ClientID] = client

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}
	return client, nil
}

// ValidateClientSecret compares secret against the stored bcrypt hash.
// A bcrypt comparison is always performed, even for unknown clients.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.GetClient(ctx, clientID)

	hash := storage.DummySecretHash
	if err == nil && client.ClientSecretHash != "" {
		hash = client.ClientSecretHash
	}
	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(clientSecret))

	if err != nil {
		return storage.ErrInvalidClientCredentials
	}
	if client.IsPublic() {
		return nil
	}
	if bcryptErr != nil {
		return storage.ErrInvalidClientCredentials
	}
	return nil
}

// ============================================================
// Instrumentation Helpers
// ============================================================

func (s *Store) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, "storage."+operation, trace.WithAttributes(
		attribute.String(instrumentation.AttrStorageBackend, backendName),
		attribute.String(instrumentation.AttrStorageOp, operation),
	))
}

func (s *Store) finishSpan(ctx context.Context, span trace.Span, operation string, start time.Time, errp *error) {
	if s.tracer == nil {
		return
	}
	defer span.End()

	result := "success"
	if *errp != nil {
		result = "error"
		instrumentation.RecordError(span, *errp)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	s.instrumentation.Metrics().RecordStorageOperation(ctx, backendName, operation, result,
		float64(time.Since(start).Microseconds())/1000)
}
