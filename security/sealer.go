package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// sealedPrefix marks a payload produced by Seal so Open can tell sealed and
// plaintext payloads apart during key rollout.
const sealedPrefix = "gcm1:"

// ErrSealedPayload is returned when a sealed payload is read without a key.
var ErrSealedPayload = errors.New("payload is sealed but no encryption key is configured")

// Sealer encrypts flow records at rest with AES-256-GCM.
// A Sealer without a key passes payloads through unchanged.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a sealer. An empty key disables sealing; any other key
// must be exactly 32 bytes.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) == 0 {
		return &Sealer{}, nil
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes for AES-256, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Enabled reports whether a key is configured.
func (s *Sealer) Enabled() bool {
	return s != nil && s.aead != nil
}

// Seal encrypts plaintext. The nonce is prepended to the ciphertext and the
// result is base64 encoded behind sealedPrefix.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	if !s.Enabled() {
		return plaintext, nil
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := s.aead.Seal(nonce, nonce, plaintext, nil)
	out := make([]byte, 0, len(sealedPrefix)+base64.StdEncoding.EncodedLen(len(ciphertext)))
	out = append(out, sealedPrefix...)
	return base64.StdEncoding.AppendEncode(out, ciphertext), nil
}

// Open reverses Seal. Unsealed payloads are returned as-is when no key is
// configured and also when a key is configured, so records written before a
// key was introduced remain readable.
func (s *Sealer) Open(payload []byte) ([]byte, error) {
	if len(payload) < len(sealedPrefix) || string(payload[:len(sealedPrefix)]) != sealedPrefix {
		return payload, nil
	}
	if !s.Enabled() {
		return nil, ErrSealedPayload
	}

	ciphertext, err := base64.StdEncoding.DecodeString(string(payload[len(sealedPrefix):]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode sealed payload: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// GenerateKey generates a new 32-byte key for AES-256
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// KeyFromBase64 decodes a base64-encoded 32-byte key
func KeyFromBase64(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}
