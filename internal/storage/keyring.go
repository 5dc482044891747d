package storage

import (
	"errors"
	"os"

	"github.com/zalando/go-keyring"

	"gisauth/pkg/logging"
)

const (
	serviceName = "gisauth"

	// DisableKeyringEnv forces the file fallback, e.g. in CI.
	DisableKeyringEnv = "GISAUTH_NO_KEYRING"
)

// KeyringStore keeps values in the OS keychain, falling back to a FileStore
// when no keychain is available.
type KeyringStore struct {
	useKeyring bool
	fallback   *FileStore
}

// NewKeyringStore tests the system keyring and creates a store. fallbackDir
// is used when the keyring cannot be written.
func NewKeyringStore(fallbackDir string) *KeyringStore {
	fallback := NewFileStore(fallbackDir)
	if os.Getenv(DisableKeyringEnv) != "" {
		return &KeyringStore{fallback: fallback}
	}

	testKey := "gisauth::check"
	if err := keyring.Set(serviceName, testKey, "check"); err != nil {
		logging.Warn("Storage", "System keyring unavailable, credentials stored in plaintext at %s", fallback.Path())
		return &KeyringStore{fallback: fallback}
	}
	_ = keyring.Delete(serviceName, testKey) // Best-effort cleanup
	return &KeyringStore{useKeyring: true, fallback: fallback}
}

// UsingKeyring returns true if the store is backed by the system keyring.
func (s *KeyringStore) UsingKeyring() bool {
	return s.useKeyring
}

// Get implements Store.
func (s *KeyringStore) Get(key string) (string, bool, error) {
	if !s.useKeyring {
		return s.fallback.Get(key)
	}
	v, err := keyring.Get(serviceName, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

// Set implements Store.
func (s *KeyringStore) Set(key, value string) error {
	if !s.useKeyring {
		return s.fallback.Set(key, value)
	}
	return keyring.Set(serviceName, key, value)
}

// Remove implements Store.
func (s *KeyringStore) Remove(key string) error {
	if !s.useKeyring {
		return s.fallback.Remove(key)
	}
	if err := keyring.Delete(serviceName, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}
