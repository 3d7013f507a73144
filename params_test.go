package oauth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseParams_Precedence(t *testing.T) {
	tests := []struct {
		name           string
		target         string
		contentType    string
		body           string
		wantBodyFirst  string
		wantQueryFirst string
	}{
		{
			name:           "form and query",
			target:         "/x?token=from-query",
			contentType:    "application/x-www-form-urlencoded",
			body:           "token=from-form",
			wantBodyFirst:  "from-form",
			wantQueryFirst: "from-query",
		},
		{
			name:           "json and query",
			target:         "/x?token=from-query",
			contentType:    "application/json; charset=utf-8",
			body:           `{"token":"from-json"}`,
			wantBodyFirst:  "from-json",
			wantQueryFirst: "from-query",
		},
		{
			name:           "query only",
			target:         "/x?token=from-query",
			wantBodyFirst:  "from-query",
			wantQueryFirst: "from-query",
		},
		{
			name:           "json non-string value",
			target:         "/x",
			contentType:    "application/json",
			body:           `{"token":42,"other":null}`,
			wantBodyFirst:  "42",
			wantQueryFirst: "42",
		},
		{
			name:        "empty json body",
			target:      "/x",
			contentType: "application/json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}

			p, err := parseParams(httptest.NewRecorder(), r)
			if err != nil {
				t.Fatalf("parseParams() error = %v", err)
			}
			if got := p.bodyFirst("token"); got != tt.wantBodyFirst {
				t.Errorf("bodyFirst = %q, want %q", got, tt.wantBodyFirst)
			}
			if got := p.queryFirst("token"); got != tt.wantQueryFirst {
				t.Errorf("queryFirst = %q, want %q", got, tt.wantQueryFirst)
			}
		})
	}
}

func TestParseParams_InvalidJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`["not","an","object"]`))
	r.Header.Set("Content-Type", "application/json")

	if _, err := parseParams(httptest.NewRecorder(), r); err == nil {
		t.Error("parseParams() accepted a JSON array")
	}
}
