// Package store provides storage backends for the Makeriess offline layer.
//
// It includes the durable pending-action log (SQLite, PostgreSQL, or in-memory)
// and the cache partition and entity stores used by the interceptor and the
// local content cache.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/models"
)

// DatabaseName and SchemaVersion identify the local action database.
const (
	DatabaseName  = "makeriess-db"
	SchemaVersion = 1
)

// Opts holds store construction options.
type Opts struct {
	DSN string
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// ActionLog is the durable, ordered log of pending actions. Records survive
// process restarts until explicitly deleted.
type ActionLog interface {
	// Insert assigns a new unique id, durably stores the action, and returns the id.
	Insert(ctx context.Context, a models.NewAction) (int64, error)

	// ListAll returns every stored record in insertion order.
	ListAll(ctx context.Context) ([]models.PendingAction, error)

	// DeleteByID removes exactly one record. Deleting an absent id is not an error.
	DeleteByID(ctx context.Context, id int64) error

	// ClearAll removes every record.
	ClearAll(ctx context.Context) error

	// ClaimAction marks a record as in flight. It returns false when the record
	// is gone or already claimed at or after staleBefore.
	ClaimAction(ctx context.Context, id int64, now, staleBefore time.Time) (bool, error)

	// ReleaseAction clears the claim after a failed delivery, incrementing the
	// attempt count and recording errMsg. A zero nextAttemptAt means no delay.
	ReleaseAction(ctx context.Context, id int64, errMsg string, nextAttemptAt time.Time) error

	// RequeueStaleClaims clears claims taken before staleBefore (crash recovery).
	RequeueStaleClaims(ctx context.Context, staleBefore time.Time) (int, error)

	Close() error
}

// newIdempotencyKey returns the key sent with every delivery attempt of a record.
func newIdempotencyKey() string {
	return uuid.NewString()
}

// encodePayload serializes an action payload for storage.
func encodePayload(a models.NewAction) (string, error) {
	b, err := json.Marshal(a.Data)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", a.Type, err)
	}
	return string(b), nil
}

// InMemoryStore is an ActionLog kept in process memory. It is used in tests
// and when no database DSN is configured.
type InMemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	actions []models.PendingAction
}

// Compile-time check that InMemoryStore implements ActionLog.
var _ ActionLog = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory action log.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Insert(_ context.Context, a models.NewAction) (int64, error) {
	if a.Data == nil {
		return 0, models.ErrMissingPayload
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec := models.PendingAction{
		ID:             s.nextID,
		Type:           a.Type,
		Action:         a.Action,
		Data:           a.Data,
		Timestamp:      time.Now(),
		IdempotencyKey: newIdempotencyKey(),
	}
	s.actions = append(s.actions, rec)
	slog.Debug("InMemoryStore.Insert", "id", rec.ID, "type", rec.Type, "action", rec.Action)
	return rec.ID, nil
}

func (s *InMemoryStore) ListAll(context.Context) ([]models.PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PendingAction, len(s.actions))
	copy(out, s.actions)
	return out, nil
}

func (s *InMemoryStore) DeleteByID(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.actions {
		if s.actions[i].ID == id {
			s.actions = append(s.actions[:i], s.actions[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *InMemoryStore) ClearAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = nil
	return nil
}

func (s *InMemoryStore) ClaimAction(_ context.Context, id int64, now, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.actions {
		if s.actions[i].ID != id {
			continue
		}
		if c := s.actions[i].ClaimedAt; c != nil && !c.Before(staleBefore) {
			return false, nil
		}
		claimed := now
		s.actions[i].ClaimedAt = &claimed
		return true, nil
	}
	return false, nil
}

func (s *InMemoryStore) ReleaseAction(_ context.Context, id int64, errMsg string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.actions {
		if s.actions[i].ID != id {
			continue
		}
		s.actions[i].ClaimedAt = nil
		s.actions[i].Attempts++
		s.actions[i].LastError = errMsg
		if nextAttemptAt.IsZero() {
			s.actions[i].NextAttemptAt = nil
		} else {
			next := nextAttemptAt
			s.actions[i].NextAttemptAt = &next
		}
		return nil
	}
	return nil
}

func (s *InMemoryStore) RequeueStaleClaims(_ context.Context, staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.actions {
		if c := s.actions[i].ClaimedAt; c != nil && c.Before(staleBefore) {
			s.actions[i].ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
