package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tonytanb/makeriess-marketplace-sub000/internal/models"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nilIfZero returns nil for the zero time so it is stored as NULL.
func nilIfZero(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// scanPendingAction scans a pending action row in pendingActions column order:
// id, type, action, data, timestamp, idempotency_key, attempts, last_error,
// next_attempt_at, claimed_at.
func scanPendingAction(row rowScanner) (models.PendingAction, error) {
	var a models.PendingAction
	var data string
	var lastError sql.NullString
	var nextAttemptAt, claimedAt sql.NullTime
	err := row.Scan(
		&a.ID, &a.Type, &a.Action, &data, &a.Timestamp, &a.IdempotencyKey,
		&a.Attempts, &lastError, &nextAttemptAt, &claimedAt,
	)
	if err != nil {
		return a, fmt.Errorf("scan pending action failed: %w", err)
	}
	payload, err := models.DecodePayload(a.Type, []byte(data))
	if err != nil {
		return a, fmt.Errorf("pending action %d: %w", a.ID, err)
	}
	a.Data = payload
	a.LastError = lastError.String
	if nextAttemptAt.Valid {
		t := nextAttemptAt.Time
		a.NextAttemptAt = &t
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		a.ClaimedAt = &t
	}
	return a, nil
}

const pendingActionColumns = `id, type, action, data, timestamp, idempotency_key, attempts, last_error, next_attempt_at, claimed_at`
