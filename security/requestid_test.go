package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestGenerateRequestID(t *testing.T) {
	id := GenerateRequestID()
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("GenerateRequestID() = %q is not a UUID: %v", id, err)
	}
	if !requestIDPattern.MatchString(id) {
		t.Errorf("generated ID %q does not pass our own validation", id)
	}
	if id == GenerateRequestID() {
		t.Error("two generated IDs are equal")
	}
}

func TestRequestIDContext(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID(empty ctx) = %q", got)
	}
	ctx := WithRequestID(context.Background(), "req-1")
	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("GetRequestID() = %q, want req-1", got)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		upstream   string
		wantReused bool
	}{
		{"no upstream id", "", false},
		{"valid upstream id", "abc-123_DEF", true},
		{"header injection", "abc\r\nSet-Cookie: x=1", false},
		{"too long", strings.Repeat("a", 129), false},
		{"invalid characters", "abc def", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			r := httptest.NewRequest(http.MethodGet, "/health", nil)
			if tt.upstream != "" {
				r.Header[RequestIDHeader] = []string{tt.upstream}
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			got := w.Header().Get(RequestIDHeader)
			if got == "" || got != seen {
				t.Fatalf("response id %q, context id %q", got, seen)
			}
			if (got == tt.upstream) != tt.wantReused {
				t.Errorf("reused upstream = %v, want %v", got == tt.upstream, tt.wantReused)
			}
		})
	}
}
