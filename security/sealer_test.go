package security

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSealer_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	s, err := NewSealer(key)
	if err != nil {
		t.Fatalf("NewSealer() error = %v", err)
	}
	if !s.Enabled() {
		t.Fatal("Enabled() = false with a 32-byte key")
	}

	plaintext := []byte(`{"state":"abc","provider_verifier":"secret-verifier"}`)
	sealed, err := s.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if bytes.Contains(sealed, []byte("secret-verifier")) {
		t.Error("sealed payload contains plaintext")
	}
	if !strings.HasPrefix(string(sealed), sealedPrefix) {
		t.Errorf("sealed payload missing %q prefix", sealedPrefix)
	}

	opened, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open() = %s, want %s", opened, plaintext)
	}
}

func TestSealer_NonceIsRandom(t *testing.T) {
	key, _ := GenerateKey()
	s, _ := NewSealer(key)

	a, _ := s.Seal([]byte("same"))
	b, _ := s.Seal([]byte("same"))
	if bytes.Equal(a, b) {
		t.Error("two seals of the same plaintext produced identical output")
	}
}

func TestSealer_Disabled(t *testing.T) {
	s, err := NewSealer(nil)
	if err != nil {
		t.Fatalf("NewSealer(nil) error = %v", err)
	}
	if s.Enabled() {
		t.Error("Enabled() = true without key")
	}

	out, err := s.Seal([]byte("plain"))
	if err != nil || string(out) != "plain" {
		t.Errorf("Seal() = %q, %v, want passthrough", out, err)
	}

	key, _ := GenerateKey()
	enabled, _ := NewSealer(key)
	sealed, _ := enabled.Seal([]byte("x"))
	if _, err := s.Open(sealed); !errors.Is(err, ErrSealedPayload) {
		t.Errorf("Open() without key error = %v, want ErrSealedPayload", err)
	}
}

func TestSealer_OpenPlaintextWithKey(t *testing.T) {
	key, _ := GenerateKey()
	s, _ := NewSealer(key)

	out, err := s.Open([]byte(`{"code":"abc"}`))
	if err != nil || string(out) != `{"code":"abc"}` {
		t.Errorf("Open(plaintext) = %q, %v", out, err)
	}
}

func TestSealer_WrongKeyFails(t *testing.T) {
	k1, _ := GenerateKey()
	k2, _ := GenerateKey()
	s1, _ := NewSealer(k1)
	s2, _ := NewSealer(k2)

	sealed, _ := s1.Seal([]byte("data"))
	if _, err := s2.Open(sealed); err == nil {
		t.Error("Open() with a different key should fail")
	}
}

func TestNewSealer_InvalidKey(t *testing.T) {
	if _, err := NewSealer([]byte("short")); err == nil {
		t.Error("NewSealer() with 5-byte key should fail")
	}
}

func TestKeyFromBase64(t *testing.T) {
	if _, err := KeyFromBase64("MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="); err != nil {
		t.Errorf("KeyFromBase64(valid) error = %v", err)
	}
	if _, err := KeyFromBase64("c2hvcnQ="); err == nil {
		t.Error("KeyFromBase64(short) should fail")
	}
	if _, err := KeyFromBase64("%%%"); err == nil {
		t.Error("KeyFromBase64(invalid) should fail")
	}
}
