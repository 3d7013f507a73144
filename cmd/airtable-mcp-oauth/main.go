// Command airtable-mcp-oauth runs the OAuth authorization server in front of
// Airtable together with a bearer-protected MCP endpoint.
//
// Configuration is read from the environment, optionally seeded from a .env
// file in the working directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	oauth "github.com/onimsha/airtable-mcp-server-oauth"
	"github.com/onimsha/airtable-mcp-server-oauth/instrumentation"
	"github.com/onimsha/airtable-mcp-server-oauth/providers/airtable"
	"github.com/onimsha/airtable-mcp-server-oauth/security"
	"github.com/onimsha/airtable-mcp-server-oauth/server"
	"github.com/onimsha/airtable-mcp-server-oauth/storage"
	"github.com/onimsha/airtable-mcp-server-oauth/storage/memory"
	"github.com/onimsha/airtable-mcp-server-oauth/storage/valkey"
)

const (
	appName         = "airtable-mcp"
	shutdownTimeout = 10 * time.Second
)

// flowClientStore is satisfied by both storage backends
type flowClientStore interface {
	storage.FlowStore
	storage.ClientStore
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to load .env file: %v", err)
	}

	displayAppName(appName)

	if err := run(); err != nil {
		log.Fatalf("Error running server: %v", err)
	}
}

func run() error {
	logger := newLogger()
	slog.SetDefault(logger)

	serverName := getEnvOrDefault("MCP_SERVER_NAME", "airtable-mcp-server")
	serverVersion := getEnvOrDefault("MCP_SERVER_VERSION", "0.1.0")
	host := getEnvOrDefault("HOST", "0.0.0.0")
	port := getEnvOrDefault("PORT", "8000")
	baseURL := getEnvOrDefault("OAUTH_BASE_URL", "http://localhost:"+port)

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:     serverName,
		ServiceVersion:  serverVersion,
		Enabled:         getBoolEnv("INSTRUMENTATION_ENABLED", true),
		MetricsExporter: getEnvOrDefault("METRICS_EXPORTER", instrumentation.ExporterPrometheus),
		TracesExporter:  getEnvOrDefault("TRACES_EXPORTER", instrumentation.ExporterNone),
		LogClientIPs:    getBoolEnv("LOG_CLIENT_IPS", false),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}

	config := server.DefaultConfig()
	config.Issuer = baseURL
	config.RequirePKCE = getBoolEnv("REQUIRE_PKCE", false)
	config.EnableDynamicRegistration = getBoolEnv("ENABLE_DYNAMIC_REGISTRATION", true)
	config.RegistrationAccessToken = os.Getenv("REGISTRATION_ACCESS_TOKEN")
	config.ServerName = serverName
	config.ServerVersion = serverVersion
	config.TrustProxy = getBoolEnv("TRUST_PROXY", false)
	config.TrustedProxyCount = getIntEnv("TRUSTED_PROXY_COUNT", 1)
	config.StateExpiry = getDurationEnv("STATE_EXPIRY", config.StateExpiry)
	config.AuthCodeExpiry = getDurationEnv("AUTH_CODE_EXPIRY", config.AuthCodeExpiry)
	config.CleanupInterval = getDurationEnv("CLEANUP_INTERVAL", config.CleanupInterval)
	config.CORS.AllowedOrigins = getListEnv("CORS_ALLOWED_ORIGINS", config.CORS.AllowedOrigins)

	store, closeStore, err := newStore(config, logger, inst)
	if err != nil {
		return err
	}
	defer closeStore()

	provider, err := airtable.NewProvider(&airtable.Config{
		ClientID:      os.Getenv("AIRTABLE_CLIENT_ID"),
		ClientSecret:  os.Getenv("AIRTABLE_CLIENT_SECRET"),
		RedirectURL:   getEnvOrDefault("AIRTABLE_REDIRECT_URI", baseURL+server.PathCallback),
		Scope:         os.Getenv("AIRTABLE_SCOPE"),
		RevocationURL: os.Getenv("AIRTABLE_REVOCATION_URL"),
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create airtable provider: %w", err)
	}
	provider.SetInstrumentation(inst)

	srv, err := server.New(provider, store, store, config, logger)
	if err != nil {
		return fmt.Errorf("failed to create oauth server: %w", err)
	}
	srv.SetAuditor(security.NewAuditor(logger, true))
	srv.SetInstrumentation(inst)

	handler := oauth.NewHandler(srv, logger)
	rateLimiter := security.NewRateLimiter(
		getFloatEnv("RATE_LIMIT_RPS", 10),
		getIntEnv("RATE_LIMIT_BURST", 20),
		logger,
	)
	defer rateLimiter.Stop()
	handler.SetRateLimiter(rateLimiter)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	if metrics := inst.MetricsHandler(); metrics != nil {
		mux.Handle("/metrics", metrics)
		logger.Info("Prometheus metrics endpoint enabled", "path", "/metrics")
	}

	tools := newAirtableTools(provider, getEnvOrDefault("AIRTABLE_API_URL", defaultAirtableAPIURL), logger)
	mcpServer := newMCPServer(serverName, serverVersion, tools)
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpServer }, nil)
	mux.Handle("/mcp", auth.RequireBearerToken(handler.TokenVerifier(), &auth.RequireBearerTokenOptions{
		ResourceMetadataURL: config.Endpoint(server.PathProtectedResourceMetadata),
	})(mcpHandler))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanupDone := srv.StartCleanup(ctx)

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(host, port),
		Handler:           security.RequestIDMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", httpServer.Addr, "issuer", config.Issuer, "mcp", "/mcp")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	stop()
	<-cleanupDone

	if err := inst.Shutdown(shutdownCtx); err != nil {
		logger.Error("Instrumentation shutdown failed", "error", err)
	}
	logger.Info("Server stopped")
	return nil
}

// newStore selects Valkey when VALKEY_ADDR is set, otherwise the in-memory store.
// Record lifetimes come from config so stores and the server agree.
func newStore(config *server.Config, logger *slog.Logger, inst *instrumentation.Instrumentation) (flowClientStore, func(), error) {
	addr := os.Getenv("VALKEY_ADDR")
	if addr == "" {
		store := memory.NewWithConfig(memory.Config{
			StateTTL: config.StateExpiry,
			CodeTTL:  config.AuthCodeExpiry,
		})
		store.SetLogger(logger)
		store.SetInstrumentation(inst)
		logger.Info("Using in-memory storage")
		return store, func() {}, nil
	}

	var sealer *security.Sealer
	if encoded := os.Getenv("STORAGE_ENCRYPTION_KEY"); encoded != "" {
		key, err := security.KeyFromBase64(encoded)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid STORAGE_ENCRYPTION_KEY: %w", err)
		}
		sealer, err = security.NewSealer(key)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create sealer: %w", err)
		}
	}

	store, err := valkey.New(valkey.Config{
		Address:   addr,
		Password:  os.Getenv("VALKEY_PASSWORD"),
		DB:        getIntEnv("VALKEY_DB", 0),
		KeyPrefix: getEnvOrDefault("VALKEY_KEY_PREFIX", "airtable-mcp:"),
		Logger:    logger,
		StateTTL:  config.StateExpiry,
		CodeTTL:   config.AuthCodeExpiry,
		Sealer:    sealer,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}
	store.SetInstrumentation(inst)
	logger.Info("Using Valkey storage", "addr", addr, "encrypted", sealer.Enabled())
	return store, store.Close, nil
}

func displayAppName(name string) {
	figure.NewFigure(name, "cybermedium", true).Print()
	fmt.Println()
}
