package mock

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func TestMockProvider_Defaults(t *testing.T) {
	m := NewMockProvider()
	ctx := context.Background()

	if m.Name() != "mock" {
		t.Errorf("Name() = %q", m.Name())
	}
	if !strings.Contains(m.AuthorizationURL("s1", "c1", "S256"), "code_challenge=c1") {
		t.Error("AuthorizationURL() should carry the challenge")
	}

	tok, err := m.ExchangeCode(ctx, "code", "verifier", "s1")
	if err != nil || tok.AccessToken != "mock-access-token" {
		t.Fatalf("ExchangeCode() = %v, %v", tok, err)
	}
	if h, err := m.AuthHeaders(); err != nil || h.Get("Authorization") != "Bearer mock-access-token" {
		t.Errorf("AuthHeaders() = %v, %v", h, err)
	}

	info, _ := m.IntrospectToken(ctx, "mock-access-token")
	if info == nil || !info.Active {
		t.Errorf("IntrospectToken() = %+v", info)
	}
	if err := m.RevokeToken(ctx, "mock-access-token"); err != nil {
		t.Errorf("RevokeToken() error = %v", err)
	}
	if m.Holder.AccessToken() != "" {
		t.Error("RevokeToken() should clear the holder")
	}
	if strings.Contains(m.PKCERequirements().Charset, "~") {
		t.Error("mock charset must exclude ~")
	}

	if got := m.GetCallCount("ExchangeCode"); got != 1 {
		t.Errorf("ExchangeCode count = %d", got)
	}
	m.ResetCallCounts()
	if got := m.GetCallCount("ExchangeCode"); got != 0 {
		t.Errorf("count after reset = %d", got)
	}
}

func TestMockProvider_Overrides(t *testing.T) {
	m := NewMockProvider()
	m.ExchangeCodeFunc = func(ctx context.Context, code, codeVerifier, state string) (*oauth2.Token, error) {
		return nil, errors.New("upstream down")
	}
	m.RevokeTokenFunc = nil

	if _, err := m.ExchangeCode(context.Background(), "c", "v", "s"); err == nil {
		t.Error("ExchangeCode() should return the configured error")
	}
	if err := m.RevokeToken(context.Background(), "t"); err == nil {
		t.Error("RevokeToken() without a func should fail")
	}
}
