package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/onimsha/airtable-mcp-server-oauth/server"
	"github.com/onimsha/airtable-mcp-server-oauth/storage"
)

func TestNewStore_MemoryUsesConfiguredLifetimes(t *testing.T) {
	t.Setenv("VALKEY_ADDR", "")

	config := server.DefaultConfig()
	config.StateExpiry = time.Minute
	config.AuthCodeExpiry = 2 * time.Minute

	store, closeStore, err := newStore(config, slog.Default(), nil)
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}
	defer closeStore()

	ctx := context.Background()
	created := time.Now().Add(-90 * time.Second)

	if err := store.SaveState(ctx, &storage.StateRecord{State: "s", CreatedAt: created}); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}
	if _, err := store.ConsumeState(ctx, "s"); !errors.Is(err, storage.ErrStateExpired) {
		t.Errorf("ConsumeState() error = %v, want ErrStateExpired after the one minute state lifetime", err)
	}

	if err := store.SaveCode(ctx, &storage.CodeRecord{Code: "c", State: "s", CreatedAt: created}); err != nil {
		t.Fatalf("SaveCode() error = %v", err)
	}
	if _, err := store.ConsumeCode(ctx, "c"); err != nil {
		t.Errorf("ConsumeCode() error = %v, want success within the two minute code lifetime", err)
	}
}
