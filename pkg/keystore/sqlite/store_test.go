package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/CISCODE-MA/AuthKit-UI-sub000/pkg/keystore"
	"github.com/CISCODE-MA/AuthKit-UI-sub000/pkg/keystore/sqlite"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	s, err := sqlite.Open(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	require.NoError(t, s.Ping(context.Background()))

	_, ok := s.Get(keystore.KeyAccessToken)
	require.False(t, ok)

	require.NoError(t, s.Set(keystore.KeyAccessToken, "at-1"))
	require.NoError(t, s.Set(keystore.KeyRefreshToken, "rt-1"))
	require.NoError(t, s.Set(keystore.KeyUser, `{"id":"1"}`))

	v, ok := s.Get(keystore.KeyAccessToken)
	require.True(t, ok)
	require.Equal(t, "at-1", v)

	// Upsert replaces in place.
	require.NoError(t, s.Set(keystore.KeyAccessToken, "at-2"))
	v, _ = s.Get(keystore.KeyAccessToken)
	require.Equal(t, "at-2", v)

	require.NoError(t, s.Remove(keystore.KeyRefreshToken))
	_, ok = s.Get(keystore.KeyRefreshToken)
	require.False(t, ok)

	require.NoError(t, s.ClearAll())
	for _, key := range []string{keystore.KeyAccessToken, keystore.KeyRefreshToken, keystore.KeyUser} {
		_, ok := s.Get(key)
		require.False(t, ok, "key %s should be cleared", key)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.db")

	s, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(keystore.KeyAccessToken, "at-1"))
	require.NoError(t, s.Close())

	reopened, err := sqlite.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok := reopened.Get(keystore.KeyAccessToken)
	require.True(t, ok)
	require.Equal(t, "at-1", v)
}

func TestStoreLegacyKeyFallback(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	require.NoError(t, s.Set("authToken", "legacy-at"))

	v, ok := s.Get(keystore.KeyAccessToken)
	require.True(t, ok)
	require.Equal(t, "legacy-at", v)

	// The fallback read moved the row under the canonical key.
	v, ok = s.Get(keystore.KeyAccessToken)
	require.True(t, ok)
	require.Equal(t, "legacy-at", v)
	_, ok = s.Get("authToken")
	require.False(t, ok)

	require.NoError(t, s.ClearAll())
	_, ok = s.Get(keystore.KeyAccessToken)
	require.False(t, ok)
}
