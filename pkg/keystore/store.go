// Package keystore persists the session's token and profile material across
// process restarts. It is a thin key-value boundary: the auth state machine
// owns what the values mean, the store only guarantees durability and that
// ClearAll is never observed half-done.
package keystore

import "sync"

// Storage keys. These names are a contract with code outside this library:
// an OAuth provider callback writes the same keys after a redirect, and the
// state machine reads them back on bootstrap.
const (
	// KeyAccessToken holds the raw access token string.
	KeyAccessToken = "auth_access_token"

	// KeyRefreshToken holds the raw refresh token string.
	KeyRefreshToken = "auth_refresh_token"

	// KeyUser holds the cached user profile, JSON-serialized.
	KeyUser = "auth_user"

	// legacyAccessToken is the key an older integration wrote the access
	// token under. A Get miss on KeyAccessToken falls back to it once and
	// migrates the value to the canonical key.
	legacyAccessToken = "authToken"
)

// Keys lists every key the store manages; ClearAll removes exactly these.
var Keys = []string{KeyAccessToken, KeyRefreshToken, KeyUser, legacyAccessToken}

// Store is the persistence boundary for session state. Implementations must
// be safe for concurrent use, and a ClearAll must be atomic from the
// perspective of any subsequent Get: no reader may see some keys cleared
// and others not.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool)

	// Set stores value under key.
	Set(key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error

	// ClearAll removes every managed key together.
	ClearAll() error
}

// memoryStore is a map-backed Store. It is the default for tests and the
// degradation target when a persistent driver fails at runtime.
type memoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// Memory returns an in-memory Store.
func Memory() Store {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.data[key]
	if !ok && key == KeyAccessToken {
		if v, ok = m.data[legacyAccessToken]; ok {
			// One-shot migration: later reads find the canonical key.
			m.data[KeyAccessToken] = v
			delete(m.data, legacyAccessToken)
		}
	}
	return v, ok
}

func (m *memoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) ClearAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range Keys {
		delete(m.data, k)
	}
	return nil
}
