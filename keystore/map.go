package keystore

import (
	"fmt"

	"github.com/quaydock/lighter"
)

// MapStore resolves API keys from an in-memory map of key to name.
// Suitable for configuration file-based key storage.
type MapStore struct {
	keys map[string]string
}

// NewMapStore creates a map-backed store from the given key-to-name mapping.
func NewMapStore(keys map[string]string) *MapStore {
	return &MapStore{keys: keys}
}

// Lookup returns the name registered for key.
func (s *MapStore) Lookup(key string) (string, error) {
	name, found := s.keys[key]
	if !found {
		return "", fmt.Errorf("api key not found: %w", lighter.ErrUnauthorized)
	}
	return name, nil
}
