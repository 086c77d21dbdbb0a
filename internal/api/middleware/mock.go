// Package middleware provides HTTP middleware components for the control-plane API.
package middleware

import (
	"context"

	"github.com/taskforge/sync/internal/store"
)

// MockAPIKeyStore is a mock implementation of store.APIKeyStore for testing.
type MockAPIKeyStore struct {
	FindByKeyFunc    func(ctx context.Context, key string) (*store.APIKey, bool)
	AddFunc          func(ctx context.Context, apiKey *store.APIKey) error
	UpdateFunc       func(ctx context.Context, apiKey *store.APIKey) error
	DeleteFunc       func(ctx context.Context, keyID string) error
	ListByClientFunc func(ctx context.Context, clientName string) ([]*store.APIKey, error)
	HealthCheckFunc  func(ctx context.Context) error
}

// FindByKey implements store.APIKeyStore.FindByKey.
func (m *MockAPIKeyStore) FindByKey(ctx context.Context, key string) (*store.APIKey, bool) {
	if m.FindByKeyFunc != nil {
		return m.FindByKeyFunc(ctx, key)
	}

	return nil, false
}

// Add implements store.APIKeyStore.Add.
func (m *MockAPIKeyStore) Add(ctx context.Context, apiKey *store.APIKey) error {
	if m.AddFunc != nil {
		return m.AddFunc(ctx, apiKey)
	}

	return nil
}

// Update implements store.APIKeyStore.Update.
func (m *MockAPIKeyStore) Update(ctx context.Context, apiKey *store.APIKey) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, apiKey)
	}

	return nil
}

// Delete implements store.APIKeyStore.Delete.
func (m *MockAPIKeyStore) Delete(ctx context.Context, keyID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, keyID)
	}

	return nil
}

// ListByClient implements store.APIKeyStore.ListByClient.
func (m *MockAPIKeyStore) ListByClient(ctx context.Context, clientName string) ([]*store.APIKey, error) {
	if m.ListByClientFunc != nil {
		return m.ListByClientFunc(ctx, clientName)
	}

	return []*store.APIKey{}, nil
}

// HealthCheck implements store.APIKeyStore.HealthCheck.
func (m *MockAPIKeyStore) HealthCheck(ctx context.Context) error {
	if m.HealthCheckFunc != nil {
		return m.HealthCheckFunc(ctx)
	}

	return nil
}

var _ store.APIKeyStore = (*MockAPIKeyStore)(nil)
