// Package sqlite provides a SQLite-backed keystore driver. It suits client
// applications that already carry a local database and want session
// material in the same place.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/CISCODE-MA/AuthKit-UI-sub000/pkg/keystore"
)

// legacyAccessToken mirrors the keystore package's migration shim for the
// access-token key an older integration used.
const legacyAccessToken = "authToken"

// Store persists session keys in a single SQLite table.
type Store struct {
	db     *sql.DB
	dsn    string
	logger *slog.Logger
}

var _ keystore.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for read-path diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open opens (or creates) the database at dsn and applies pending
// migrations.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("keystore/sqlite: open %s: %w", dsn, err)
	}

	// Serialize writers; the session store is low-traffic.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dsn: dsn, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("keystore/sqlite: migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Get(key string) (string, bool) {
	value, ok := s.get(key)
	if !ok && key == keystore.KeyAccessToken {
		// Key written by an older integration; migrate it on first read.
		if value, ok = s.get(legacyAccessToken); ok {
			s.migrateLegacy(value)
		}
	}
	return value, ok
}

// migrateLegacy moves the legacy access token under the canonical key. The
// value is already being served, so a failed move only logs.
func (s *Store) migrateLegacy(value string) {
	if err := s.Set(keystore.KeyAccessToken, value); err != nil {
		s.logger.Warn("keystore legacy key migration failed", "error", err)
		return
	}
	if err := s.Remove(legacyAccessToken); err != nil {
		s.logger.Warn("removing legacy key failed", "error", err)
	}
}

func (s *Store) get(key string) (string, bool) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM session_keys WHERE key = ?`, key,
	).Scan(&value)
	switch {
	case err == nil:
		return value, true
	case errors.Is(err, sql.ErrNoRows):
		return "", false
	default:
		// A broken database must not masquerade as a cold start silently.
		s.logger.Warn("session key read failed", "key", key, "error", err)
		return "", false
	}
}

func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO session_keys (key, value, updated_at)
		VALUES (?, ?, strftime('%s','now'))
		ON CONFLICT (key) DO UPDATE
		SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("keystore/sqlite: set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Remove(key string) error {
	if _, err := s.db.Exec(`DELETE FROM session_keys WHERE key = ?`, key); err != nil {
		return fmt.Errorf("keystore/sqlite: remove %s: %w", key, err)
	}
	return nil
}

// ClearAll deletes every managed key in one statement so no reader can
// observe a partial clear.
func (s *Store) ClearAll() error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keystore.Keys)), ",")
	args := make([]any, len(keystore.Keys))
	for i, k := range keystore.Keys {
		args[i] = k
	}

	query := fmt.Sprintf(`DELETE FROM session_keys WHERE key IN (%s)`, placeholders)
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("keystore/sqlite: clear: %w", err)
	}
	return nil
}
