package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when nothing has been persisted yet.
var ErrNotFound = errors.New("storage: record not found")

// SessionStore persists the serialized session of one account.
// Implementations overwrite any previously saved state on Save.
type SessionStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Delete(ctx context.Context) error
	Close() error
}
