package server

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/onimsha/airtable-mcp-server-oauth/providers/mock"
	"github.com/onimsha/airtable-mcp-server-oauth/storage"
	storagemock "github.com/onimsha/airtable-mcp-server-oauth/storage/mock"
)

var errBackendDown = errors.New("backend unavailable")

func newMockStoreServer(t *testing.T) (*Server, *storagemock.MockStore) {
	t.Helper()
	store := storagemock.NewMockStore()
	srv, err := New(mock.NewMockProvider(), store, store, nil, discardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, store
}

func TestStoreFailures_AreServerErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(*storagemock.MockStore)
		run   func(*Server) error
	}{
		{
			name: "save state",
			setup: func(m *storagemock.MockStore) {
				m.SaveStateFunc = func(context.Context, *storage.StateRecord) error { return errBackendDown }
			},
			run: func(s *Server) error {
				_, err := s.Initiate(ctx, AuthorizeRequest{})
				return err
			},
		},
		{
			name: "consume state",
			setup: func(m *storagemock.MockStore) {
				m.ConsumeStateFunc = func(context.Context, string) (*storage.StateRecord, error) { return nil, errBackendDown }
			},
			run: func(s *Server) error {
				_, err := s.HandleCallback(ctx, CallbackRequest{Code: "c", State: "s"})
				return err
			},
		},
		{
			name: "save code",
			setup: func(m *storagemock.MockStore) {
				m.SaveCodeFunc = func(context.Context, *storage.CodeRecord) error { return errBackendDown }
			},
			run: func(s *Server) error {
				authURL, err := s.Initiate(ctx, AuthorizeRequest{})
				if err != nil {
					return err
				}
				u, _ := url.Parse(authURL)
				_, err = s.HandleCallback(ctx, CallbackRequest{Code: "c", State: u.Query().Get("state")})
				return err
			},
		},
		{
			name: "consume code",
			setup: func(m *storagemock.MockStore) {
				m.ConsumeCodeFunc = func(context.Context, string) (*storage.CodeRecord, error) { return nil, errBackendDown }
			},
			run: func(s *Server) error {
				_, err := s.Exchange(ctx, "c", "")
				return err
			},
		},
		{
			name: "save client",
			setup: func(m *storagemock.MockStore) {
				m.SaveClientFunc = func(context.Context, *storage.Client) error { return errBackendDown }
			},
			run: func(s *Server) error {
				_, err := s.RegisterClient(ctx, ClientRegistrationRequest{}, "")
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, store := newMockStoreServer(t)
			tt.setup(store)

			err := tt.run(srv)
			if !errors.Is(err, errBackendDown) {
				t.Fatalf("error = %v, want wrapped backend error", err)
			}
			oauthErr := AsOAuthError(err)
			if oauthErr.Code != ErrorCodeServerError || oauthErr.Description != DescInternalError {
				t.Errorf("AsOAuthError() = %+v, want opaque server_error", oauthErr)
			}
		})
	}
}

func TestCleanup_PropagatesSweepError(t *testing.T) {
	srv, store := newMockStoreServer(t)
	store.SweepFunc = func(context.Context) (int, error) { return 0, errBackendDown }

	if _, err := srv.Cleanup(context.Background()); !errors.Is(err, errBackendDown) {
		t.Errorf("Cleanup() error = %v, want backend error", err)
	}
	if store.CallCount("Sweep") != 1 {
		t.Errorf("Sweep calls = %d, want 1", store.CallCount("Sweep"))
	}
}
