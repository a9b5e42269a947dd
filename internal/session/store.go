package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/coxstatus/internal/errs"
	"github.com/goodtune/coxstatus/internal/storage"
)

const formatVersion = 1

// document is the persisted representation of a session.
type document struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Cookies []Cookie  `json:"cookies"`
}

// Store loads and saves sessions through a storage backend.
type Store struct {
	backend storage.SessionStore
	logger  zerolog.Logger
	now     func() time.Time
}

// NewStore wraps backend.
func NewStore(backend storage.SessionStore, logger zerolog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger.With().Str("component", "session-store").Logger(),
		now:     time.Now,
	}
}

// Load returns the persisted session. A missing, unreadable or corrupt store
// yields an empty session; it never fails.
func (s *Store) Load(ctx context.Context) *Session {
	sess := New()

	data, err := s.backend.Load(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Debug().Msg("No saved login session")
		} else {
			s.logger.Warn().Err(err).Msg("Failed to read saved login session, starting fresh")
		}
		return sess
	}

	cookies, err := Decode(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Saved login session is corrupt, starting fresh")
		return sess
	}

	sess.Restore(cookies)
	s.logger.Info().Int("cookies", len(sess.Snapshot())).Msg("Loaded saved login session")
	return sess
}

// Save persists sess, replacing any previous state.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	data, err := Encode(sess.Snapshot(), s.now())
	if err != nil {
		return errs.Wrap(errs.KindPersistence, "session.save", "encode session", err)
	}
	if err := s.backend.Save(ctx, data); err != nil {
		return errs.Wrap(errs.KindPersistence, "session.save", "write session", err)
	}
	s.logger.Debug().Int("cookies", len(sess.Snapshot())).Msg("Saved login session")
	return nil
}

// Purge deletes the persisted session.
func (s *Store) Purge(ctx context.Context) error {
	if err := s.backend.Delete(ctx); err != nil {
		return errs.Wrap(errs.KindPersistence, "session.purge", "delete session", err)
	}
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Encode serializes cookies.
func Encode(cookies []Cookie, savedAt time.Time) ([]byte, error) {
	if cookies == nil {
		cookies = []Cookie{}
	}
	return json.Marshal(document{
		Version: formatVersion,
		SavedAt: savedAt.UTC(),
		Cookies: cookies,
	})
}

// Decode parses data produced by Encode.
func Decode(data []byte) ([]Cookie, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if doc.Version != formatVersion {
		return nil, fmt.Errorf("unsupported session format version %d", doc.Version)
	}
	return doc.Cookies, nil
}
