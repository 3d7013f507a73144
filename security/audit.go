package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor writes security events to a structured logger. User identifiers are
// hashed before they are logged.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII. A nil Auditor is a no-op.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"timestamp", event.Timestamp,
	}
	if event.ClientID != "" {
		attrs = append(attrs, "client_id", event.ClientID)
	}
	if event.IPAddress != "" {
		attrs = append(attrs, "ip_address", event.IPAddress)
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, "details", event.Details)
	}

	a.logger.Info("security_audit", attrs...)
}

// LogAuthorizationStarted logs a new authorization flow
func (a *Auditor) LogAuthorizationStarted(userID, ipAddress, pkceMethod string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationFlowStarted,
		UserID:    userID,
		IPAddress: ipAddress,
		Details:   map[string]any{"client_pkce_method": pkceMethod},
	})
}

// LogCodeIssued logs a stored authorization code after a successful callback
func (a *Auditor) LogCodeIssued(userID string, redirected bool) {
	a.LogEvent(Event{
		Type:    EventAuthorizationCodeIssued,
		UserID:  userID,
		Details: map[string]any{"redirected": redirected},
	})
}

// LogTokenIssued logs a successful code exchange
func (a *Auditor) LogTokenIssued(userID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		UserID:    userID,
		IPAddress: ipAddress,
	})
}

// LogTokenRefreshed logs a successful refresh
func (a *Auditor) LogTokenRefreshed(ipAddress string) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		IPAddress: ipAddress,
	})
}

// LogTokenRevoked logs a revocation request
func (a *Auditor) LogTokenRevoked(ipAddress string) {
	a.LogEvent(Event{
		Type:      EventTokenRevoked,
		IPAddress: ipAddress,
	})
}

// LogAuthFailure logs a rejected request. reason is an event constant or a
// short machine-readable string, never a credential.
func (a *Auditor) LogAuthFailure(userID, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"reason": reason},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, endpoint string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details:   map[string]any{"endpoint": endpoint},
	})
}

// LogClientRegistered logs a dynamic client registration
func (a *Auditor) LogClientRegistered(clientID, authMethod, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventClientRegistered,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   map[string]any{"token_endpoint_auth_method": authMethod},
	})
}

// hashForLogging creates a truncated SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
