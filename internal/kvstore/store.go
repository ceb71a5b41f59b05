package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// Store is a small persisted key-value surface for session state. Values are
// opaque JSON documents; callers own the schema of each key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Well-known keys.
const (
	KeyPinnedTabs     = "pinned_tabs"
	KeyChatHistory    = "chat_history"
	KeyShareActiveTab = "share_active_tab"
)

var keyRe = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// FileStore persists one JSON file per key under a directory.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates a FileStore and ensures the directory exists.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("kv store: mkdir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) validateKey(key string) error {
	if !keyRe.MatchString(key) {
		return fmt.Errorf("invalid store key: %q", key)
	}
	return nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Get reads the value for key. The second return is false when the key has
// never been written.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := s.validateKey(key); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kv store: read %s: %w", key, err)
	}
	return data, true, nil
}

// Set writes the value for key. The value must be valid JSON; a corrupt
// write would poison every later load of the key.
func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	if err := s.validateKey(key); err != nil {
		return err
	}
	if !json.Valid(value) {
		return fmt.Errorf("kv store: value for %s is not valid JSON", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return fmt.Errorf("kv store: write %s: %w", key, err)
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("kv store: rename %s: %w", key, err)
	}
	return nil
}

// Delete removes the key. Deleting an absent key is a no-op.
func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := s.validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("kv store: remove %s: %w", key, err)
	}
	return nil
}
