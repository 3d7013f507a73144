// Package mock provides a FlowStore and ClientStore whose operations can be
// overridden per test. By default it delegates to an in-memory store.
package mock

import (
	"context"
	"sync"

	"github.com/onimsha/airtable-mcp-server-oauth/storage"
	"github.com/onimsha/airtable-mcp-server-oauth/storage/memory"
)

// MockStore wraps a memory.Store. Set any *Func field to replace the
// corresponding operation.
type MockStore struct {
	*memory.Store

	SaveStateFunc    func(ctx context.Context, record *storage.StateRecord) error
	ConsumeStateFunc func(ctx context.Context, state string) (*storage.StateRecord, error)
	SaveCodeFunc     func(ctx context.Context, record *storage.CodeRecord) error
	ConsumeCodeFunc  func(ctx context.Context, code string) (*storage.CodeRecord, error)
	SweepFunc        func(ctx context.Context) (int, error)
	SaveClientFunc   func(ctx context.Context, client *storage.Client) error
	GetClientFunc    func(ctx context.Context, clientID string) (*storage.Client, error)

	mu         sync.Mutex
	callCounts map[string]int
}

var (
	_ storage.FlowStore   = (*MockStore)(nil)
	_ storage.ClientStore = (*MockStore)(nil)
)

// NewMockStore creates a mock backed by a fresh memory store
func NewMockStore() *MockStore {
	return &MockStore{
		Store:      memory.New(),
		callCounts: make(map[string]int),
	}
}

func (m *MockStore) count(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCounts[method]++
}

// CallCount returns how many times method was invoked
func (m *MockStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[method]
}

func (m *MockStore) SaveState(ctx context.Context, record *storage.StateRecord) error {
	m.count("SaveState")
	if m.SaveStateFunc != nil {
		return m.SaveStateFunc(ctx, record)
	}
	return m.Store.SaveState(ctx, record)
}

func (m *MockStore) ConsumeState(ctx context.Context, state string) (*storage.StateRecord, error) {
	m.count("ConsumeState")
	if m.ConsumeStateFunc != nil {
		return m.ConsumeStateFunc(ctx, state)
	}
	return m.Store.ConsumeState(ctx, state)
}

func (m *MockStore) SaveCode(ctx context.Context, record *storage.CodeRecord) error {
	m.count("SaveCode")
	if m.SaveCodeFunc != nil {
		return m.SaveCodeFunc(ctx, record)
	}
	return m.Store.SaveCode(ctx, record)
}

func (m *MockStore) ConsumeCode(ctx context.Context, code string) (*storage.CodeRecord, error) {
	m.count("ConsumeCode")
	if m.ConsumeCodeFunc != nil {
		return m.ConsumeCodeFunc(ctx, code)
	}
	return m.Store.ConsumeCode(ctx, code)
}

func (m *MockStore) Sweep(ctx context.Context) (int, error) {
	m.count("Sweep")
	if m.SweepFunc != nil {
		return m.SweepFunc(ctx)
	}
	return m.Store.Sweep(ctx)
}

func (m *MockStore) SaveClient(ctx context.Context, client *storage.Client) error {
	m.count("SaveClient")
	if m.SaveClientFunc != nil {
		return m.SaveClientFunc(ctx, client)
	}
	return m.Store.SaveClient(ctx, client)
}

func (m *MockStore) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	m.count("GetClient")
	if m.GetClientFunc != nil {
		return m.GetClientFunc(ctx, clientID)
	}
	return m.Store.GetClient(ctx, clientID)
}
