package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/CISCODE-MA/AuthKit-UI-sub000/pkg/cryptox"
)

// FileStore persists keys in a single JSON file. Writes go through a temp
// file and rename so readers never see a torn file. With a passphrase the
// payload is sealed with AES-256-GCM under an Argon2id-derived key.
type FileStore struct {
	path   string
	box    *cryptox.Box
	logger *slog.Logger

	mu   sync.RWMutex
	data map[string]string

	watcher  *fsnotify.Watcher
	onChange func()
	done     chan struct{}
}

// FileOption configures a FileStore.
type FileOption func(*FileStore) error

// WithPassphrase encrypts the file at rest with a key derived from the
// passphrase.
func WithPassphrase(passphrase string) FileOption {
	return func(fs *FileStore) error {
		box, err := cryptox.NewBox(passphrase)
		if err != nil {
			return err
		}
		fs.box = box
		return nil
	}
}

// WithWatcher reloads the file when another process writes it (for example
// an OAuth callback handler persisting tokens after a provider redirect)
// and invokes onChange after each external reload.
func WithWatcher(onChange func()) FileOption {
	return func(fs *FileStore) error {
		fs.onChange = onChange
		return nil
	}
}

// WithFileLogger sets the logger used for watcher and reload diagnostics.
func WithFileLogger(logger *slog.Logger) FileOption {
	return func(fs *FileStore) error {
		fs.logger = logger
		return nil
	}
}

// File opens (or creates) a file-backed Store at path.
func File(path string, opts ...FileOption) (*FileStore, error) {
	fs := &FileStore{
		path:   path,
		data:   make(map[string]string),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(fs); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("keystore: create %s: %w", filepath.Dir(path), err)
	}

	if err := fs.load(); err != nil {
		return nil, err
	}

	if fs.onChange != nil {
		if err := fs.startWatcher(); err != nil {
			return nil, err
		}
	}

	return fs, nil
}

func (fs *FileStore) Get(key string) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	v, ok := fs.data[key]
	if !ok && key == KeyAccessToken {
		if v, ok = fs.data[legacyAccessToken]; ok {
			fs.data[KeyAccessToken] = v
			delete(fs.data, legacyAccessToken)
			if err := fs.persistLocked(); err != nil {
				// The value is still served; only the on-disk move failed.
				fs.logger.Warn("keystore legacy key migration failed", "path", fs.path, "error", err)
			}
		}
	}
	return v, ok
}

func (fs *FileStore) Set(key, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.data[key] = value
	return fs.persistLocked()
}

func (fs *FileStore) Remove(key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	delete(fs.data, key)
	return fs.persistLocked()
}

func (fs *FileStore) ClearAll() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for _, k := range Keys {
		delete(fs.data, k)
	}
	return fs.persistLocked()
}

// Close stops the watcher, if any. The store remains usable afterwards.
func (fs *FileStore) Close() error {
	if fs.watcher == nil {
		return nil
	}
	close(fs.done)
	return fs.watcher.Close()
}

// load reads the backing file into memory. A missing file is an empty store.
func (fs *FileStore) load() error {
	raw, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("keystore: read %s: %w", fs.path, err)
	}
	if len(raw) == 0 {
		return nil
	}

	if fs.box != nil {
		if raw, err = fs.box.Open(raw); err != nil {
			return fmt.Errorf("keystore: open %s: %w", fs.path, err)
		}
	}

	data := make(map[string]string)
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("keystore: parse %s: %w", fs.path, err)
	}

	fs.mu.Lock()
	fs.data = data
	fs.mu.Unlock()
	return nil
}

// persistLocked writes the current map through a temp file and rename.
// Callers must hold fs.mu.
func (fs *FileStore) persistLocked() error {
	raw, err := json.Marshal(fs.data)
	if err != nil {
		return fmt.Errorf("keystore: marshal: %w", err)
	}

	if fs.box != nil {
		if raw, err = fs.box.Seal(raw); err != nil {
			return fmt.Errorf("keystore: seal: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(fs.path), ".authkit-*")
	if err != nil {
		return fmt.Errorf("keystore: temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("keystore: write %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("keystore: chmod %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("keystore: close %s: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, fs.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("keystore: rename %s: %w", fs.path, err)
	}
	return nil
}

// startWatcher watches the file's directory; atomic renames surface as
// Create events on the target name, plain writes as Write events.
func (fs *FileStore) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("keystore: watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(fs.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("keystore: watch %s: %w", filepath.Dir(fs.path), err)
	}

	fs.watcher = watcher
	fs.done = make(chan struct{})

	go fs.watchLoop()
	return nil
}

func (fs *FileStore) watchLoop() {
	for {
		select {
		case <-fs.done:
			return
		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(fs.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if fs.reloadIfChanged() && fs.onChange != nil {
				fs.onChange()
			}
		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			fs.logger.Warn("keystore watcher error", "path", fs.path, "error", err)
		}
	}
}

// reloadIfChanged re-reads the file and reports whether the contents moved.
func (fs *FileStore) reloadIfChanged() bool {
	fs.mu.RLock()
	before := maps.Clone(fs.data)
	fs.mu.RUnlock()

	if err := fs.load(); err != nil {
		fs.logger.Warn("keystore reload failed", "path", fs.path, "error", err)
		return false
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return !maps.Equal(before, fs.data)
}
