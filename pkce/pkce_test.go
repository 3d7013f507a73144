package pkce

import (
	"errors"
	"strings"
	"testing"
)

const (
	rfcVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	rfcChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	airtableCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789.-_"
)

func onlyFrom(s, charset string) bool {
	for _, ch := range s {
		if !strings.ContainsRune(charset, ch) {
			return false
		}
	}
	return true
}

func TestGeneratePair(t *testing.T) {
	for _, method := range []Method{MethodS256, MethodPlain} {
		for _, length := range []int{43, 64, 100, 128} {
			pair, err := GeneratePair(method, length, "")
			if err != nil {
				t.Fatalf("GeneratePair(%s, %d) error = %v", method, length, err)
			}
			if len(pair.Verifier) != length {
				t.Errorf("len(verifier) = %d, want %d", len(pair.Verifier), length)
			}
			if !onlyFrom(pair.Verifier, DefaultCharset) {
				t.Errorf("verifier %q contains characters outside the default charset", pair.Verifier)
			}
			if pair.Method != method {
				t.Errorf("Method = %q, want %q", pair.Method, method)
			}
			if !Validate(pair.Verifier, pair.Challenge, method) {
				t.Errorf("Validate() = false for freshly generated %s pair", method)
			}
		}
	}
}

func TestGeneratePair_Errors(t *testing.T) {
	tests := []struct {
		name    string
		method  Method
		length  int
		wantErr error
	}{
		{"too short", MethodS256, 42, ErrInvalidLength},
		{"too long", MethodS256, 129, ErrInvalidLength},
		{"zero length", MethodPlain, 0, ErrInvalidLength},
		{"unknown method", Method("S512"), 64, ErrUnsupportedMethod},
		{"empty method", Method(""), 64, ErrUnsupportedMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GeneratePair(tt.method, tt.length, "")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("GeneratePair() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateProviderCompatible(t *testing.T) {
	req := Requirements{
		MinLength: 43,
		MaxLength: 128,
		Charset:   airtableCharset,
		Methods:   []Method{MethodS256, MethodPlain},
	}

	for i := 0; i < 50; i++ {
		pair, err := GenerateProviderCompatible(req, MethodS256)
		if err != nil {
			t.Fatalf("GenerateProviderCompatible() error = %v", err)
		}
		if len(pair.Verifier) != 128 {
			t.Fatalf("len(verifier) = %d, want 128", len(pair.Verifier))
		}
		if !onlyFrom(pair.Verifier, airtableCharset) {
			t.Fatalf("verifier %q uses characters outside the provider charset", pair.Verifier)
		}
		if strings.Contains(pair.Verifier, "~") {
			t.Fatalf("verifier %q contains '~'", pair.Verifier)
		}
	}
}

func TestValidate_RFCVector(t *testing.T) {
	if !Validate(rfcVerifier, rfcChallenge, MethodS256) {
		t.Error("Validate() = false for the RFC 7636 appendix B pair")
	}
	if Validate(rfcChallenge, rfcChallenge, MethodS256) {
		t.Error("Validate() = true when the challenge is presented as verifier")
	}
}

func TestValidate_SingleCharacterMutation(t *testing.T) {
	for _, method := range []Method{MethodS256, MethodPlain} {
		pair, err := GeneratePair(method, 64, "")
		if err != nil {
			t.Fatalf("GeneratePair() error = %v", err)
		}

		for _, pos := range []int{0, 31, 63} {
			mutated := []byte(pair.Verifier)
			if mutated[pos] == 'a' {
				mutated[pos] = 'b'
			} else {
				mutated[pos] = 'a'
			}
			if Validate(string(mutated), pair.Challenge, method) {
				t.Errorf("%s: Validate() = true after mutating position %d", method, pos)
			}
		}
	}
}

func TestValidate_NeverPanics(t *testing.T) {
	tests := []struct {
		name      string
		verifier  string
		challenge string
		method    Method
	}{
		{"empty verifier", "", rfcChallenge, MethodS256},
		{"empty challenge", rfcVerifier, "", MethodS256},
		{"unknown method", rfcVerifier, rfcChallenge, Method("bogus")},
		{"binary garbage", "\x00\xff\xfe", "\x00", MethodPlain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Validate(tt.verifier, tt.challenge, tt.method) {
				t.Error("Validate() = true, want false")
			}
		})
	}
}

func TestValidateFormat(t *testing.T) {
	req := Requirements{MinLength: 43, MaxLength: 128, Charset: airtableCharset}

	tests := []struct {
		name       string
		verifier   string
		wantOK     bool
		wantReason string
	}{
		{"valid", strings.Repeat("a", 43), true, ""},
		{"too short", strings.Repeat("a", 42), false, "too short"},
		{"too long", strings.Repeat("a", 129), false, "too long"},
		{"tilde rejected by provider", strings.Repeat("a", 42) + "~", false, "invalid character"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := ValidateFormat(tt.verifier, req)
			if ok != tt.wantOK {
				t.Errorf("ValidateFormat() ok = %v, want %v (reason %q)", ok, tt.wantOK, reason)
			}
			if !strings.Contains(reason, tt.wantReason) {
				t.Errorf("reason = %q, want it to contain %q", reason, tt.wantReason)
			}
		})
	}
}

func TestParseMethod(t *testing.T) {
	if m, err := ParseMethod("S256"); err != nil || m != MethodS256 {
		t.Errorf("ParseMethod(S256) = %q, %v", m, err)
	}
	if m, err := ParseMethod("plain"); err != nil || m != MethodPlain {
		t.Errorf("ParseMethod(plain) = %q, %v", m, err)
	}
	if _, err := ParseMethod("s256"); !errors.Is(err, ErrUnsupportedMethod) {
		t.Errorf("ParseMethod(s256) error = %v, want ErrUnsupportedMethod", err)
	}
}

func TestRequirementsSupports(t *testing.T) {
	req := Requirements{Methods: []Method{MethodS256}}
	if !req.Supports(MethodS256) {
		t.Error("Supports(S256) = false")
	}
	if req.Supports(MethodPlain) {
		t.Error("Supports(plain) = true")
	}
	if got := req.MethodNames(); len(got) != 1 || got[0] != "S256" {
		t.Errorf("MethodNames() = %v", got)
	}
}
