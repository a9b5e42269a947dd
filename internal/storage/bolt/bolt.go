package bolt

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/goodtune/coxstatus/internal/storage"
)

const bucketSessions = "sessions"

// Store implements storage.SessionStore using bbolt. Sessions are keyed by
// account so one database can be shared between deployments.
type Store struct {
	db      *bbolt.DB
	account []byte
}

// Open opens a BoltDB-backed store.
func Open(path, account string) (*Store, error) {
	if account == "" {
		return nil, fmt.Errorf("account is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db, account: []byte(account)}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return storage.EnsureDir(dir)
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketSessions)); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketSessions, err)
		}
		return nil
	})
}

// Load returns a copy of the stored session blob.
func (s *Store) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSessions))
		if b == nil {
			return storage.ErrNotFound
		}
		v := b.Get(s.account)
		if v == nil {
			return storage.ErrNotFound
		}
		// v is only valid for the life of the transaction
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Save replaces the stored session blob.
func (s *Store) Save(ctx context.Context, data []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSessions))
		if b == nil {
			return fmt.Errorf("bucket %s missing", bucketSessions)
		}
		return b.Put(s.account, data)
	})
}

// Delete removes the stored session blob.
func (s *Store) Delete(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSessions))
		if b == nil {
			return nil
		}
		return b.Delete(s.account)
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
