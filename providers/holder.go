package providers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// DefaultExpiryMargin is how long before its expiry an access token is
// already treated as expired.
const DefaultExpiryMargin = 300 * time.Second

// RefreshFunc fetches a new token for refreshToken without touching any holder.
type RefreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

// TokenHolder is the in-memory downstream credential of one provider adapter.
//
// All fields are guarded by one mutex. EnsureValid keeps the mutex for the
// whole refresh, so concurrent callers wait for a single refresh instead of
// racing on the token fields.
type TokenHolder struct {
	mu        sync.Mutex
	access    string
	refresh   string
	expiresAt time.Time

	margin time.Duration
	now    func() time.Time
}

// NewTokenHolder creates an empty holder with the default expiry margin.
func NewTokenHolder() *TokenHolder {
	return &TokenHolder{margin: DefaultExpiryMargin, now: time.Now}
}

// SetClock overrides the clock, for tests.
func (h *TokenHolder) SetClock(now func() time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = now
}

// IsExpired reports whether the access token is missing, has no known expiry,
// or expires within the margin.
func (h *TokenHolder) IsExpired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.expiredLocked()
}

func (h *TokenHolder) expiredLocked() bool {
	if h.access == "" || h.expiresAt.IsZero() {
		return true
	}
	return !h.now().Add(h.margin).Before(h.expiresAt)
}

// EnsureValid reports whether the held credential can be used.
//
// An access token without a refresh token is a caller-supplied bearer and is
// passed through as valid. Otherwise an unexpired token is valid, and an
// expired one is refreshed with refresh when a refresh token is held.
func (h *TokenHolder) EnsureValid(ctx context.Context, refresh RefreshFunc) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.access != "" && h.refresh == "" {
		return true
	}
	if !h.expiredLocked() {
		return true
	}
	if h.refresh == "" || refresh == nil {
		return false
	}

	tok, err := refresh(ctx, h.refresh)
	if err != nil || tok == nil || tok.AccessToken == "" {
		return false
	}
	h.applyRefreshLocked(tok)
	return true
}

// Update replaces the held credential with a freshly exchanged token.
func (h *TokenHolder) Update(tok *oauth2.Token) {
	if tok == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.access = tok.AccessToken
	h.refresh = tok.RefreshToken
	h.expiresAt = tok.Expiry
}

// ApplyRefresh merges a refreshed token. The refresh token and the expiry
// are kept when the response omits them.
func (h *TokenHolder) ApplyRefresh(tok *oauth2.Token) {
	if tok == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.applyRefreshLocked(tok)
}

func (h *TokenHolder) applyRefreshLocked(tok *oauth2.Token) {
	h.access = tok.AccessToken
	if tok.RefreshToken != "" {
		h.refresh = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		h.expiresAt = tok.Expiry
	}
}

// SetAccessToken installs a caller-supplied bearer token with no refresh token.
func (h *TokenHolder) SetAccessToken(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.access = token
	h.refresh = ""
	h.expiresAt = time.Time{}
}

// Clear drops all credential fields.
func (h *TokenHolder) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.access = ""
	h.refresh = ""
	h.expiresAt = time.Time{}
}

// AccessToken returns the held access token.
func (h *TokenHolder) AccessToken() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.access
}

// Snapshot returns a consistent copy of all fields.
func (h *TokenHolder) Snapshot() (access, refresh string, expiresAt time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.access, h.refresh, h.expiresAt
}

// AuthHeader returns the Authorization header for the held access token.
func (h *TokenHolder) AuthHeader() (http.Header, error) {
	access := h.AccessToken()
	if access == "" {
		return nil, ErrNoAccessToken
	}
	header := make(http.Header)
	header.Set("Authorization", "Bearer "+access)
	return header, nil
}
