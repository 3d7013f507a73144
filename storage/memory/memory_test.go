package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/onimsha/airtable-mcp-server-oauth/internal/testutil"
	"github.com/onimsha/airtable-mcp-server-oauth/storage"
)

func newTestStore(t *testing.T) (*Store, *testutil.MockTime) {
	t.Helper()
	clock := testutil.NewMockTime(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	return NewWithConfig(Config{
		StateTTL: 600 * time.Second,
		CodeTTL:  600 * time.Second,
		Now:      clock.Now,
	}), clock
}

func sampleState(token string, createdAt time.Time) *storage.StateRecord {
	return &storage.StateRecord{
		State:             token,
		CreatedAt:         createdAt,
		UserID:            "usr123",
		ClientChallenge:   testutil.RFCChallenge,
		ClientMethod:      "S256",
		ProviderVerifier:  "provider-verifier",
		ProviderChallenge: "provider-challenge",
		ProviderMethod:    "S256",
		RedirectURI:       "http://localhost:3000/callback",
	}
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	want := sampleState("state-1", clock.Now())
	if err := s.SaveState(ctx, want); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	got, err := s.ConsumeState(ctx, "state-1")
	if err != nil {
		t.Fatalf("ConsumeState() error = %v", err)
	}
	if *got != *want {
		t.Errorf("ConsumeState() = %+v, want %+v", got, want)
	}

	if _, err := s.ConsumeState(ctx, "state-1"); !errors.Is(err, storage.ErrStateNotFound) {
		t.Errorf("second ConsumeState() error = %v, want ErrStateNotFound", err)
	}
}

func TestSaveState_CopiesRecord(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	record := sampleState("state-copy", clock.Now())
	if err := s.SaveState(ctx, record); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}
	record.UserID = "mutated"

	got, err := s.ConsumeState(ctx, "state-copy")
	if err != nil {
		t.Fatalf("ConsumeState() error = %v", err)
	}
	if got.UserID != "usr123" {
		t.Errorf("UserID = %q, caller mutation leaked into store", got.UserID)
	}
}

func TestConsumeState_ExpiredBeforeSweep(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	record := sampleState("old-state", clock.Now().Add(-601*time.Second))
	if err := s.SaveState(ctx, record); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}
	if s.PendingStates() != 1 {
		t.Fatalf("PendingStates() = %d, want 1 before consumption", s.PendingStates())
	}

	_, err := s.ConsumeState(ctx, "old-state")
	if !errors.Is(err, storage.ErrStateExpired) {
		t.Fatalf("ConsumeState() error = %v, want ErrStateExpired", err)
	}
	if !storage.IsExpired(err) {
		t.Error("IsExpired() = false for ErrStateExpired")
	}
	if s.PendingStates() != 0 {
		t.Errorf("PendingStates() = %d, expired record should be removed on consume", s.PendingStates())
	}
}

func TestConsumeState_AtExactTTLStillValid(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	_ = s.SaveState(ctx, sampleState("edge", clock.Now()))
	clock.Advance(600 * time.Second)

	if _, err := s.ConsumeState(ctx, "edge"); err != nil {
		t.Errorf("ConsumeState() at exactly TTL error = %v, want nil", err)
	}
}

func TestCodeRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	state := sampleState("state-2", clock.Now())
	code := storage.NewCodeRecord("abc123", state, clock.Now())
	if err := s.SaveCode(ctx, code); err != nil {
		t.Fatalf("SaveCode() error = %v", err)
	}

	got, err := s.ConsumeCode(ctx, "abc123")
	if err != nil {
		t.Fatalf("ConsumeCode() error = %v", err)
	}
	if got.ClientChallenge != testutil.RFCChallenge || got.ProviderVerifier != "provider-verifier" {
		t.Errorf("ConsumeCode() lost PKCE pairs: %+v", got)
	}
	if got.UserID != "usr123" || got.State != "state-2" {
		t.Errorf("ConsumeCode() lost state linkage: %+v", got)
	}

	if _, err := s.ConsumeCode(ctx, "abc123"); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("second ConsumeCode() error = %v, want ErrCodeNotFound", err)
	}

	_ = s.SaveCode(ctx, storage.NewCodeRecord("late", state, clock.Now()))
	clock.Advance(601 * time.Second)
	if _, err := s.ConsumeCode(ctx, "late"); !errors.Is(err, storage.ErrCodeExpired) {
		t.Errorf("ConsumeCode() after TTL error = %v, want ErrCodeExpired", err)
	}
}

func TestSaveRejectsEmptyKeys(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	if err := s.SaveState(ctx, &storage.StateRecord{}); err == nil {
		t.Error("SaveState() with empty token should fail")
	}
	if err := s.SaveState(ctx, nil); err == nil {
		t.Error("SaveState(nil) should fail")
	}
	if err := s.SaveCode(ctx, &storage.CodeRecord{}); err == nil {
		t.Error("SaveCode() with empty code should fail")
	}
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	_ = s.SaveState(ctx, sampleState("fresh", clock.Now()))
	_ = s.SaveState(ctx, sampleState("stale", clock.Now().Add(-700*time.Second)))
	_ = s.SaveCode(ctx, &storage.CodeRecord{Code: "stale-code", CreatedAt: clock.Now().Add(-700 * time.Second)})

	removed, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("Sweep() removed = %d, want 2", removed)
	}
	if s.PendingStates() != 1 || s.PendingCodes() != 0 {
		t.Errorf("after sweep states=%d codes=%d, want 1 and 0", s.PendingStates(), s.PendingCodes())
	}
	if _, err := s.ConsumeState(ctx, "fresh"); err != nil {
		t.Errorf("fresh state lost by sweep: %v", err)
	}
}

func TestConsumeCode_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	for round := 0; round < 20; round++ {
		code := "race-code"
		_ = s.SaveCode(ctx, &storage.CodeRecord{Code: code, CreatedAt: clock.Now()})

		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if _, err := s.ConsumeCode(ctx, code); err == nil {
					wins.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		if wins.Load() != 1 {
			t.Fatalf("round %d: %d consumers succeeded, want exactly 1", round, wins.Load())
		}
	}
}

func TestClientStore(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error = %v", err)
	}
	confidential := &storage.Client{
		ClientID:                "mcp-client-1",
		ClientSecretHash:        string(hash),
		TokenEndpointAuthMethod: "client_secret_basic",
		CreatedAt:               clock.Now(),
	}
	public := &storage.Client{ClientID: "mcp-client-2", TokenEndpointAuthMethod: "none"}

	for _, c := range []*storage.Client{confidential, public} {
		if err := s.SaveClient(ctx, c); err != nil {
			t.Fatalf("SaveClient() error = %v", err)
		}
	}

	if _, err := s.GetClient(ctx, "missing"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient(missing) error = %v, want ErrClientNotFound", err)
	}

	tests := []struct {
		name     string
		clientID string
		secret   string
		wantErr  bool
	}{
		{"correct secret", "mcp-client-1", "s3cret", false},
		{"wrong secret", "mcp-client-1", "nope", true},
		{"unknown client", "missing", "s3cret", true},
		{"public client", "mcp-client-2", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.ValidateClientSecret(ctx, tt.clientID, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateClientSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, storage.ErrInvalidClientCredentials) {
				t.Errorf("error = %v, want ErrInvalidClientCredentials", err)
			}
		})
	}

	if err := s.SaveClient(ctx, &storage.Client{}); err == nil {
		t.Error("SaveClient() with empty ID should fail")
	}
}
