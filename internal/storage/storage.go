package storage

import (
	"fmt"
	"sync"
)

// Store persists small strings by key. It stands in for browser local storage:
// the flow controller keeps OAuth state and PKCE verifiers here, and the CLI
// keeps the serialized session.
type Store interface {
	// Get returns the value for key. ok is false when the key is not set.
	Get(key string) (value string, ok bool, err error)
	// Set stores value under key.
	Set(key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
}

// Backend names accepted by Open.
const (
	BackendMemory  = "memory"
	BackendFile    = "file"
	BackendKeyring = "keyring"
)

// Open returns the Store for backend. dir is used by the file backend and as
// the keyring fallback location.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case "", BackendFile:
		return NewFileStore(dir), nil
	case BackendKeyring:
		return NewKeyringStore(dir), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// Describe names where s keeps its values, for display.
func Describe(s Store) string {
	switch st := s.(type) {
	case *KeyringStore:
		if st.UsingKeyring() {
			return "system keyring"
		}
		return "file " + st.fallback.Path() + " (keyring unavailable)"
	case *FileStore:
		return "file " + st.Path()
	case *MemoryStore:
		return "memory"
	default:
		return fmt.Sprintf("%T", s)
	}
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get implements Store.
func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

// Set implements Store.
func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Keys returns the stored keys. Intended for tests.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys
}
