package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newBufferedAuditor(enabled bool) (*Auditor, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	return NewAuditor(logger, enabled), &buf
}

func TestAuditor_HashesUserID(t *testing.T) {
	a, buf := newBufferedAuditor(true)
	a.LogAuthorizationStarted("usr-secret-id", "192.0.2.10", "S256")

	out := buf.String()
	if strings.Contains(out, "usr-secret-id") {
		t.Error("raw user ID leaked into audit log")
	}
	for _, want := range []string{"security_audit", EventAuthorizationFlowStarted, "user_id_hash", "192.0.2.10", "S256"} {
		if !strings.Contains(out, want) {
			t.Errorf("audit log missing %q: %s", want, out)
		}
	}
}

func TestAuditor_Disabled(t *testing.T) {
	a, buf := newBufferedAuditor(false)
	a.LogTokenIssued("user", "127.0.0.1")
	if buf.Len() != 0 {
		t.Errorf("disabled auditor wrote %q", buf.String())
	}
}

func TestAuditor_NilIsNoop(t *testing.T) {
	var a *Auditor
	a.LogTokenRevoked("127.0.0.1")
	a.LogRateLimitExceeded("127.0.0.1", "token")
}

func TestAuditor_EventHelpers(t *testing.T) {
	tests := []struct {
		name string
		log  func(a *Auditor)
		want string
	}{
		{"code issued", func(a *Auditor) { a.LogCodeIssued("u", true) }, EventAuthorizationCodeIssued},
		{"token issued", func(a *Auditor) { a.LogTokenIssued("u", "ip") }, EventTokenIssued},
		{"token refreshed", func(a *Auditor) { a.LogTokenRefreshed("ip") }, EventTokenRefreshed},
		{"token revoked", func(a *Auditor) { a.LogTokenRevoked("ip") }, EventTokenRevoked},
		{"auth failure", func(a *Auditor) { a.LogAuthFailure("u", "c", "ip", EventPKCEValidationFailed) }, EventPKCEValidationFailed},
		{"rate limit", func(a *Auditor) { a.LogRateLimitExceeded("ip", "register") }, EventRateLimitExceeded},
		{"client registered", func(a *Auditor) { a.LogClientRegistered("mcp-client-1", "none", "ip") }, "mcp-client-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, buf := newBufferedAuditor(true)
			tt.log(a)
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("log output %q missing %q", buf.String(), tt.want)
			}
		})
	}
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q", got)
	}
	h1 := hashForLogging("user-1")
	if len(h1) != 16 {
		t.Errorf("len(hash) = %d, want 16", len(h1))
	}
	if h1 != hashForLogging("user-1") {
		t.Error("hash is not deterministic")
	}
	if h1 == hashForLogging("user-2") {
		t.Error("different inputs produced the same hash")
	}
}
