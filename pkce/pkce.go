// Package pkce generates and validates RFC 7636 code verifier/challenge pairs.
//
// Two kinds of pairs are produced: generic pairs over the RFC 7636 unreserved
// character set, and provider-compatible pairs that honor a downstream
// provider's stricter length and charset constraints. The authorization
// server uses the latter for its own leg of the flow so the calling client's
// pair never has to satisfy the provider.
package pkce

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/oauth2"
)

// Method is a code_challenge_method value.
type Method string

const (
	MethodS256  Method = "S256"
	MethodPlain Method = "plain"
)

// RFC 7636 verifier bounds
const (
	MinVerifierLength = 43
	MaxVerifierLength = 128
)

// DefaultCharset is the RFC 7636 unreserved character set.
const DefaultCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

var (
	// ErrInvalidLength is returned when a requested verifier length is outside [43,128].
	ErrInvalidLength = errors.New("code_verifier length must be between 43 and 128")

	// ErrUnsupportedMethod is returned for any method other than S256 or plain.
	ErrUnsupportedMethod = errors.New("unsupported code_challenge_method")

	// ErrEmptyCharset is returned when a charset contains no usable characters.
	ErrEmptyCharset = errors.New("character set must not be empty")
)

// Requirements describes the PKCE constraints a provider imposes.
type Requirements struct {
	MinLength int      `json:"min_length"`
	MaxLength int      `json:"max_length"`
	Charset   string   `json:"character_set"`
	Methods   []Method `json:"methods_supported"`

	// Required reports whether the provider rejects authorization requests without PKCE.
	Required bool `json:"required,omitempty"`

	// Note is free-form guidance surfaced in discovery metadata.
	Note string `json:"note,omitempty"`
}

// DefaultRequirements returns the unconstrained RFC 7636 requirements.
func DefaultRequirements() Requirements {
	return Requirements{
		MinLength: MinVerifierLength,
		MaxLength: MaxVerifierLength,
		Charset:   DefaultCharset,
		Methods:   []Method{MethodS256, MethodPlain},
	}
}

// Supports reports whether the requirements list the given method.
func (r Requirements) Supports(m Method) bool {
	for _, candidate := range r.Methods {
		if candidate == m {
			return true
		}
	}
	return false
}

// MethodNames returns the supported methods as plain strings.
func (r Requirements) MethodNames() []string {
	names := make([]string, 0, len(r.Methods))
	for _, m := range r.Methods {
		names = append(names, string(m))
	}
	return names
}

// Pair is a verifier with its derived challenge.
type Pair struct {
	Verifier  string
	Challenge string
	Method    Method
}

// ParseMethod converts a code_challenge_method parameter into a Method.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodS256:
		return MethodS256, nil
	case MethodPlain:
		return MethodPlain, nil
	default:
		return "", fmt.Errorf("%w: %q (supported: S256, plain)", ErrUnsupportedMethod, s)
	}
}

// GeneratePair draws a verifier of exactly length characters from charset
// using crypto/rand and derives the challenge for method.
// An empty charset selects DefaultCharset.
func GeneratePair(method Method, length int, charset string) (Pair, error) {
	if length < MinVerifierLength || length > MaxVerifierLength {
		return Pair{}, fmt.Errorf("%w: got %d", ErrInvalidLength, length)
	}
	if _, err := ParseMethod(string(method)); err != nil {
		return Pair{}, err
	}
	if charset == "" {
		charset = DefaultCharset
	}

	verifier, err := randomString(length, charset)
	if err != nil {
		return Pair{}, err
	}

	challenge, err := Challenge(verifier, method)
	if err != nil {
		return Pair{}, err
	}

	return Pair{Verifier: verifier, Challenge: challenge, Method: method}, nil
}

// GenerateProviderCompatible generates a pair at the provider's maximum
// verifier length using only the provider's charset.
func GenerateProviderCompatible(req Requirements, method Method) (Pair, error) {
	length := req.MaxLength
	if length == 0 {
		length = MaxVerifierLength
	}
	return GeneratePair(method, length, req.Charset)
}

// Challenge derives the code_challenge for verifier.
func Challenge(verifier string, method Method) (string, error) {
	switch method {
	case MethodS256:
		return oauth2.S256ChallengeFromVerifier(verifier), nil
	case MethodPlain:
		return verifier, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
}

// Validate recomputes the challenge from verifier and compares it to
// challenge in constant time. Any failure yields false.
func Validate(verifier, challenge string, method Method) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if verifier == "" || challenge == "" {
		return false
	}

	computed, err := Challenge(verifier, method)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// ValidateFormat checks verifier length and charset against req and returns
// a human-readable reason on failure.
func ValidateFormat(verifier string, req Requirements) (bool, string) {
	minLen, maxLen := req.MinLength, req.MaxLength
	if minLen == 0 {
		minLen = MinVerifierLength
	}
	if maxLen == 0 {
		maxLen = MaxVerifierLength
	}
	charset := req.Charset
	if charset == "" {
		charset = DefaultCharset
	}

	if len(verifier) < minLen {
		return false, fmt.Sprintf("code_verifier too short: %d characters (minimum %d)", len(verifier), minLen)
	}
	if len(verifier) > maxLen {
		return false, fmt.Sprintf("code_verifier too long: %d characters (maximum %d)", len(verifier), maxLen)
	}
	for i, ch := range verifier {
		if !strings.ContainsRune(charset, ch) {
			return false, fmt.Sprintf("code_verifier contains invalid character %q at position %d", ch, i)
		}
	}
	return true, ""
}

// randomString samples length characters uniformly from charset.
func randomString(length int, charset string) (string, error) {
	alphabet := []rune(charset)
	if len(alphabet) == 0 {
		return "", ErrEmptyCharset
	}

	limit := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		b.WriteRune(alphabet[n.Int64()])
	}
	return b.String(), nil
}
