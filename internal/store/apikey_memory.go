package store

import (
	"context"
	"sync"
)

// InMemoryAPIKeyStore is a thread-safe APIKeyStore test double.
type InMemoryAPIKeyStore struct {
	keys         map[string]*APIKey // by plaintext key
	keysByID     map[string]*APIKey
	keysByClient map[string][]*APIKey
	mutex        sync.RWMutex
}

// NewInMemoryAPIKeyStore creates an empty in-memory API key store.
func NewInMemoryAPIKeyStore() *InMemoryAPIKeyStore {
	return &InMemoryAPIKeyStore{
		keys:         make(map[string]*APIKey),
		keysByID:     make(map[string]*APIKey),
		keysByClient: make(map[string][]*APIKey),
	}
}

// HealthCheck always succeeds; there is no backing connection to probe.
func (s *InMemoryAPIKeyStore) HealthCheck(_ context.Context) error {
	return nil
}

// FindByKey retrieves an API key by its plaintext value.
func (s *InMemoryAPIKeyStore) FindByKey(_ context.Context, key string) (*APIKey, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	apiKey, exists := s.keys[key]
	if !exists {
		return nil, false
	}

	keyCopy := *apiKey

	return &keyCopy, true
}

// Add stores a new API key.
func (s *InMemoryAPIKeyStore) Add(_ context.Context, apiKey *APIKey) error {
	if apiKey == nil {
		return ErrKeyNil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.keysByID[apiKey.ID]; exists {
		return ErrKeyAlreadyExists
	}

	if _, exists := s.keys[apiKey.Key]; exists {
		return ErrKeyAlreadyExists
	}

	keyCopy := *apiKey

	s.keys[keyCopy.Key] = &keyCopy
	s.keysByID[keyCopy.ID] = &keyCopy
	s.keysByClient[keyCopy.ClientName] = append(s.keysByClient[keyCopy.ClientName], &keyCopy)

	return nil
}

// Update modifies an existing API key.
func (s *InMemoryAPIKeyStore) Update(_ context.Context, apiKey *APIKey) error {
	if apiKey == nil {
		return ErrKeyNil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	existing, exists := s.keysByID[apiKey.ID]
	if !exists {
		return ErrKeyNotFound
	}

	s.removeFromClientMap(existing.ClientName, existing.ID)

	if existing.Key != apiKey.Key {
		delete(s.keys, existing.Key)
	}

	keyCopy := *apiKey

	s.keys[keyCopy.Key] = &keyCopy
	s.keysByID[keyCopy.ID] = &keyCopy
	s.keysByClient[keyCopy.ClientName] = append(s.keysByClient[keyCopy.ClientName], &keyCopy)

	return nil
}

// Delete soft-deletes an API key by setting active=false, matching
// PersistentAPIKeyStore's behavior.
func (s *InMemoryAPIKeyStore) Delete(_ context.Context, keyID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	existing, exists := s.keysByID[keyID]
	if !exists {
		return ErrKeyNotFound
	}

	existing.Active = false

	return nil
}

// ListByClient returns all API keys issued to a named client.
func (s *InMemoryAPIKeyStore) ListByClient(_ context.Context, clientName string) ([]*APIKey, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	keys, exists := s.keysByClient[clientName]
	if !exists {
		return []*APIKey{}, nil
	}

	result := make([]*APIKey, len(keys))
	for i, key := range keys {
		keyCopy := *key
		result[i] = &keyCopy
	}

	return result, nil
}

// removeFromClientMap removes a key from the client map by key ID. Caller
// must hold the write lock.
func (s *InMemoryAPIKeyStore) removeFromClientMap(clientName, keyID string) {
	keys := s.keysByClient[clientName]
	for i, key := range keys {
		if key.ID == keyID {
			s.keysByClient[clientName] = append(keys[:i], keys[i+1:]...)

			break
		}
	}

	if len(s.keysByClient[clientName]) == 0 {
		delete(s.keysByClient, clientName)
	}
}

var _ APIKeyStore = (*InMemoryAPIKeyStore)(nil)
