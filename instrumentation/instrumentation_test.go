package instrumentation

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"disabled", Config{Enabled: false}, false},
		{"prometheus", Config{Enabled: true, MetricsExporter: ExporterPrometheus}, false},
		{"stdout", Config{Enabled: true, MetricsExporter: ExporterStdout, TracesExporter: ExporterStdout}, false},
		{"none", Config{Enabled: true, MetricsExporter: ExporterNone, TracesExporter: ExporterNone}, false},
		{"unknown metrics exporter", Config{Enabled: true, MetricsExporter: "otlp"}, true},
		{"unknown traces exporter", Config{Enabled: true, TracesExporter: "jaeger"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer func() { _ = inst.Shutdown(context.Background()) }()

			if inst.Meter("http") == nil {
				t.Error("Meter(http) returned nil")
			}
			if inst.Tracer("server") == nil {
				t.Error("Tracer(server) returned nil")
			}
			if inst.Metrics() == nil {
				t.Error("Metrics() returned nil")
			}
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if inst.config.ServiceName != DefaultServiceName {
		t.Errorf("ServiceName = %q, want %q", inst.config.ServiceName, DefaultServiceName)
	}
	if inst.config.ServiceVersion != DefaultServiceVersion {
		t.Errorf("ServiceVersion = %q, want %q", inst.config.ServiceVersion, DefaultServiceVersion)
	}
	if inst.config.MetricsExporter != ExporterPrometheus {
		t.Errorf("MetricsExporter = %q, want %q", inst.config.MetricsExporter, ExporterPrometheus)
	}
	if inst.MetricsHandler() != nil {
		t.Error("MetricsHandler() should be nil when instrumentation is disabled")
	}
}

func TestMetricsHandler_ExposesFlowCounters(t *testing.T) {
	inst, err := New(Config{Enabled: true, MetricsExporter: ExporterPrometheus})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	m := inst.Metrics()
	m.RecordAuthorizationStarted(ctx, "S256")
	m.RecordCodeExchange(ctx, "", true)
	m.RecordPKCEValidationFailed(ctx, "S256")
	m.RecordHTTPRequest(ctx, http.MethodPost, "token", http.StatusOK, 12.5)
	m.RecordProviderAPICall(ctx, "airtable", "exchange_code", 40, errors.New("boom"))

	handler := inst.MetricsHandler()
	if handler == nil {
		t.Fatal("MetricsHandler() returned nil with prometheus exporter")
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	body, _ := io.ReadAll(w.Body)
	for _, name := range []string{
		"oauth_authorization_started",
		"oauth_code_exchanged",
		"oauth_pkce_validation_failed",
		"oauth_http_requests",
		"provider_api_errors",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestRegisterStorageSizeCallbacks(t *testing.T) {
	inst, err := New(Config{Enabled: true, MetricsExporter: ExporterPrometheus})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	err = inst.RegisterStorageSizeCallbacks(
		func() int64 { return 3 },
		func() int64 { return 1 },
		nil,
	)
	if err != nil {
		t.Fatalf("RegisterStorageSizeCallbacks() error = %v", err)
	}

	w := httptest.NewRecorder()
	inst.MetricsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), "storage_size_states") {
		t.Error("metrics output missing storage_size_states gauge")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	inst, err := New(Config{Enabled: true, MetricsExporter: ExporterStdout, TracesExporter: ExporterStdout})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("first Shutdown() error = %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestMetrics_ConcurrentRecording(t *testing.T) {
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	m := inst.Metrics()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordCallbackProcessed(ctx, true, true)
			m.RecordTokenRefresh(ctx, false)
			m.RecordStorageOperation(ctx, "memory", "consume_code", "success", 0.1)
			m.RecordStorageSwept(ctx, "memory", 2)
			m.RecordRateLimitExceeded(ctx, "token")
			m.RecordStateRejected(ctx, true)
		}()
	}
	wg.Wait()
}

func TestShouldLogClientIPs(t *testing.T) {
	on, _ := New(Config{LogClientIPs: true})
	off, _ := New(Config{LogClientIPs: false})
	if !on.ShouldLogClientIPs() {
		t.Error("ShouldLogClientIPs() = false, want true")
	}
	if off.ShouldLogClientIPs() {
		t.Error("ShouldLogClientIPs() = true, want false")
	}
}
