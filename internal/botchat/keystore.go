package botchat

import (
	"context"
	"sync"
)

// storageKeyPrefix matches the key layout the mobile client used in its
// secure store, so a server-side cache stays compatible across versions.
const storageKeyPrefix = "bp_user_key_"

func userKeyKey(externalID string) string  { return storageKeyPrefix + externalID }
func internalIDKey(externalID string) string {
	return storageKeyPrefix + "internal_" + externalID
}
func lastConvoKey(externalID string) string {
	return storageKeyPrefix + "last_convo_" + externalID
}

// KeyStore persists per-user chat credentials (session key, internal user
// id, last conversation id). Get returns "" with a nil error when the key
// is absent.
type KeyStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// MemoryKeyStore is an in-process KeyStore for tests and single-node runs.
type MemoryKeyStore struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{values: make(map[string]string)}
}

func (s *MemoryKeyStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key], nil
}

func (s *MemoryKeyStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryKeyStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
