package main

import (
	"log/slog"
	"reflect"
	"testing"
	"time"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STRING", "  value  ")
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_BAD_BOOL", "maybe")
	t.Setenv("TEST_FLOAT", "2.5")
	t.Setenv("TEST_NEGATIVE_FLOAT", "-1")
	t.Setenv("TEST_INT", "7")
	t.Setenv("TEST_BAD_INT", "seven")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_LIST", "https://a.example, ,https://b.example")
	t.Setenv("TEST_EMPTY_LIST", " , ")

	if got := getEnvOrDefault("TEST_STRING", "fallback"); got != "value" {
		t.Errorf("getEnvOrDefault() = %q, want value", got)
	}
	if got := getEnvOrDefault("TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("getEnvOrDefault(unset) = %q, want fallback", got)
	}
	if !getBoolEnv("TEST_BOOL", false) {
		t.Error("getBoolEnv(true) = false")
	}
	if !getBoolEnv("TEST_BAD_BOOL", true) {
		t.Error("getBoolEnv(invalid) did not fall back to default")
	}
	if got := getFloatEnv("TEST_FLOAT", 1); got != 2.5 {
		t.Errorf("getFloatEnv() = %v, want 2.5", got)
	}
	if got := getFloatEnv("TEST_NEGATIVE_FLOAT", 1); got != 1 {
		t.Errorf("getFloatEnv(negative) = %v, want 1", got)
	}
	if got := getIntEnv("TEST_INT", 1); got != 7 {
		t.Errorf("getIntEnv() = %d, want 7", got)
	}
	if got := getIntEnv("TEST_BAD_INT", 3); got != 3 {
		t.Errorf("getIntEnv(invalid) = %d, want 3", got)
	}
	if got := getDurationEnv("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("getDurationEnv() = %v, want 90s", got)
	}
	if got := getListEnv("TEST_LIST", nil); !reflect.DeepEqual(got, []string{"https://a.example", "https://b.example"}) {
		t.Errorf("getListEnv() = %v", got)
	}
	if got := getListEnv("TEST_EMPTY_LIST", []string{"*"}); !reflect.DeepEqual(got, []string{"*"}) {
		t.Errorf("getListEnv(empty items) = %v, want default", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
