package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by FlowStore and ClientStore implementations.
// Expired and not-found records are both rejections; the distinction is only
// used to pick a more descriptive error code.
var (
	ErrStateNotFound = errors.New("state not found")
	ErrStateExpired  = errors.New("state expired")
	ErrCodeNotFound  = errors.New("authorization code not found")
	ErrCodeExpired   = errors.New("authorization code expired")

	ErrClientNotFound           = errors.New("client not found")
	ErrInvalidClientCredentials = errors.New("invalid client credentials")
)

// IsExpired reports whether err is one of the expiry sentinels.
func IsExpired(err error) bool {
	return errors.Is(err, ErrStateExpired) || errors.Is(err, ErrCodeExpired)
}

// StateRecord is the CSRF state persisted between initiate and callback.
//
// The client challenge pair is present only when the calling client used
// PKCE. The provider pair is generated by this server and never shared with
// or derived from the client's pair.
type StateRecord struct {
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UserID    string    `json:"user_id,omitempty"`
	ClientIP  string    `json:"client_ip,omitempty"`

	ClientChallenge string `json:"client_challenge,omitempty"`
	ClientMethod    string `json:"client_method,omitempty"`

	ProviderVerifier  string `json:"provider_verifier,omitempty"`
	ProviderChallenge string `json:"provider_challenge,omitempty"`
	ProviderMethod    string `json:"provider_method,omitempty"`

	RedirectURI string `json:"redirect_uri,omitempty"`
}

// HasClientPKCE reports whether the calling client supplied a challenge.
func (r *StateRecord) HasClientPKCE() bool {
	return r.ClientChallenge != ""
}

// CodeRecord is the provider-issued authorization code awaiting exchange.
type CodeRecord struct {
	Code      string    `json:"code"`
	State     string    `json:"state"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	ClientChallenge string `json:"client_challenge,omitempty"`
	ClientMethod    string `json:"client_method,omitempty"`

	ProviderVerifier string `json:"provider_verifier,omitempty"`
	ProviderMethod   string `json:"provider_method,omitempty"`
}

// NewCodeRecord copies the user and both PKCE pairs from a consumed state.
func NewCodeRecord(code string, state *StateRecord, now time.Time) *CodeRecord {
	return &CodeRecord{
		Code:             code,
		State:            state.State,
		UserID:           state.UserID,
		CreatedAt:        now,
		ClientChallenge:  state.ClientChallenge,
		ClientMethod:     state.ClientMethod,
		ProviderVerifier: state.ProviderVerifier,
		ProviderMethod:   state.ProviderMethod,
	}
}

// FlowStore holds the two TTL-bounded, single-use maps used by the
// authorization flow.
//
// Consume operations MUST be atomic: for a given key at most one concurrent
// caller receives the record, every other caller receives a not-found error.
// Expiry is checked at consume time against the record's CreatedAt; Sweep is
// only a memory bound.
type FlowStore interface {
	// SaveState persists a state record keyed by record.State.
	SaveState(ctx context.Context, record *StateRecord) error

	// ConsumeState atomically removes and returns the state record.
	// Returns ErrStateNotFound or ErrStateExpired.
	ConsumeState(ctx context.Context, state string) (*StateRecord, error)

	// SaveCode persists an authorization code record keyed by record.Code.
	SaveCode(ctx context.Context, record *CodeRecord) error

	// ConsumeCode atomically removes and returns the code record.
	// Returns ErrCodeNotFound or ErrCodeExpired.
	ConsumeCode(ctx context.Context, code string) (*CodeRecord, error)

	// Sweep drops expired entries from both maps and reports how many were removed.
	Sweep(ctx context.Context) (int, error)
}

// ClientStore manages dynamically registered OAuth clients.
type ClientStore interface {
	// SaveClient saves a registered client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret returns ErrInvalidClientCredentials on mismatch
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error
}

// Client represents a dynamically registered OAuth client.
type Client struct {
	ClientID                string    `json:"client_id"`
	ClientSecretHash        string    `json:"client_secret_hash,omitempty"` // bcrypt hash
	ClientName              string    `json:"client_name"`
	RedirectURIs            []string  `json:"redirect_uris"`
	GrantTypes              []string  `json:"grant_types"`
	ResponseTypes           []string  `json:"response_types"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method"`
	Scope                   string    `json:"scope,omitempty"`
	ClientURI               string    `json:"client_uri,omitempty"`
	LogoURI                 string    `json:"logo_uri,omitempty"`
	TosURI                  string    `json:"tos_uri,omitempty"`
	PolicyURI               string    `json:"policy_uri,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
}

// IsPublic reports whether the client authenticates without a secret.
func (c *Client) IsPublic() bool {
	return c.TokenEndpointAuthMethod == "none"
}

// DummySecretHash is compared against when a client does not exist so that
// lookups for unknown and known clients take similar time.
const DummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
