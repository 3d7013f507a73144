package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/onimsha/airtable-mcp-server-oauth/instrumentation"
	"github.com/onimsha/airtable-mcp-server-oauth/security"
	"github.com/onimsha/airtable-mcp-server-oauth/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "mcp:"

	// DefaultStateTTL bounds how long an authorization request may wait for its callback
	DefaultStateTTL = 10 * time.Minute

	// DefaultCodeTTL bounds how long an authorization code may wait for exchange
	DefaultCodeTTL = 10 * time.Minute

	backendName = "valkey"

	// keyLogLength is the number of characters of a state or code included in logs
	keyLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxKeyLength is the maximum accepted length of a state, code or client ID
	MaxKeyLength = 512

	// MaxRecordDataSize is the maximum size of a serialized record (64KB)
	MaxRecordDataSize = 64 * 1024
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "mcp:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// StateTTL and CodeTTL bound record lifetimes (default 10 minutes each)
	StateTTL time.Duration
	CodeTTL  time.Duration

	// Sealer encrypts records at rest. Nil or keyless stores plaintext JSON.
	Sealer *security.Sealer

	// Now overrides the clock used for the consume-time expiry check.
	Now func() time.Time
}

// Store is a Valkey-backed FlowStore and ClientStore. Records expire through
// key TTLs and are additionally checked against their creation time when
// consumed, so a record is never honoured past its lifetime even if the
// server clock and the Valkey clock disagree.
type Store struct {
	client   valkeygo.Client
	prefix   string
	logger   *slog.Logger
	stateTTL time.Duration
	codeTTL  time.Duration
	sealer   *security.Sealer
	now      func() time.Time

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// Compile-time interface checks
var (
	_ storage.FlowStore   = (*Store)(nil)
	_ storage.ClientStore = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultStateTTL
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = DefaultCodeTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)
	if cfg.Sealer.Enabled() {
		logger.Info("Flow record encryption at rest enabled for Valkey storage")
	}

	return &Store{
		client:   client,
		prefix:   prefix,
		logger:   logger,
		stateTTL: cfg.StateTTL,
		codeTTL:  cfg.CodeTTL,
		sealer:   cfg.Sealer,
		now:      cfg.Now,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables storage spans and operation metrics.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// ============================================================
// Key Helpers
// ============================================================

// stateKey returns the key for an authorization state: {prefix}state:{state}
func (s *Store) stateKey(state string) string {
	return fmt.Sprintf("%sstate:%s", s.prefix, state)
}

// codeKey returns the key for an authorization code: {prefix}code:{code}
func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, code)
}

// clientKey returns the key for a client: {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================

// luaConsume returns the value stored at KEYS[1] and deletes the key in the
// same step. Of any number of concurrent callers exactly one sees the value;
// the others get nil.
const luaConsume = `
local data = redis.call('GET', KEYS[1])
if not data then
    return false
end
redis.call('DEL', KEYS[1])
return data
`

// consume atomically pops key. found is false when the key does not exist.
func (s *Store) consume(ctx context.Context, key string) (data []byte, found bool, err error) {
	raw, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsume).Numkeys(1).Key(key).Build(),
	).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(raw), true, nil
}

// ============================================================
// Serialization Helpers
// ============================================================

// encode marshals v to JSON and seals it when a key is configured.
func (s *Store) encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	if len(data) > MaxRecordDataSize {
		return "", fmt.Errorf("record exceeds maximum size of %d bytes", MaxRecordDataSize)
	}
	sealed, err := s.sealer.Seal(data)
	if err != nil {
		return "", fmt.Errorf("failed to seal record: %w", err)
	}
	return string(sealed), nil
}

// decode opens and unmarshals a stored payload into v.
func (s *Store) decode(payload []byte, v any) error {
	data, err := s.sealer.Open(payload)
	if err != nil {
		return fmt.Errorf("failed to open record: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}

// remainingTTL returns how long a record created at createdAt may still live.
func (s *Store) remainingTTL(createdAt time.Time, ttl time.Duration) time.Duration {
	return ttl - s.now().Sub(createdAt)
}

func validateKey(value, fieldName string) error {
	if value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(value) > MaxKeyLength {
		return fmt.Errorf("%s exceeds maximum length of %d bytes", fieldName, MaxKeyLength)
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
