// Package file stores the session blob in a single file on disk.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goodtune/coxstatus/internal/storage"
)

// Store implements storage.SessionStore on the local filesystem.
type Store struct {
	path string
}

// Open returns a file-backed store writing to path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("session file path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := storage.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("create session directory: %w", err)
		}
	}
	return &Store{path: path}, nil
}

// Path returns the file the session is written to.
func (s *Store) Path() string { return s.path }

// Load reads the stored blob.
func (s *Store) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

// Save replaces the stored blob. The write goes through a temporary file so a
// crash never leaves a truncated session behind.
func (s *Store) Save(_ context.Context, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp session file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// Delete removes the stored blob. Deleting a missing file is not an error.
func (s *Store) Delete(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// Close is a no-op for the file store.
func (s *Store) Close() error { return nil }
