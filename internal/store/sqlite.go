// Package store provides storage backends for the Makeriess offline layer.
//
// This file implements the SQLite-backed pending action log.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/tonytanb/makeriess-marketplace-sub000/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
	// sqliteDSNParams makes commits durable and lets concurrent writers wait instead of failing.
	sqliteDSNParams = "_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_foreign_keys=on"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// openSQLite opens a SQLite database at dsn, creating its directory, and
// applies the given migrations.
func openSQLite(dsn, migrations string) (*sql.DB, error) {
	if dsn == "" {
		slog.Error("SQLite DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	if !strings.HasPrefix(dsn, "file:") && !strings.Contains(dsn, ":memory:") {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		slog.Debug("SQLite database directory verified/created", "dir", dir)
	}

	full := dsn
	if !strings.Contains(dsn, "?") {
		full = dsn + "?" + sqliteDSNParams
	}

	slog.Debug("Opening SQLite database connection", "dsn", dsn)
	db, err := sql.Open("sqlite3", full)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// One connection serializes writers inside the process.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(migrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dsn", dsn)
	return db, nil
}

// SQLiteStore is the SQLite implementation of ActionLog.
type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements ActionLog.
var _ ActionLog = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite action log with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	db, err := openSQLite(cfg.DSN, sqliteMigrations)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// SchemaVersion reports the user_version of the opened database.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version failed: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, a models.NewAction) (int64, error) {
	if a.Data == nil {
		return 0, models.ErrMissingPayload
	}
	data, err := encodePayload(a)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pendingActions (type, action, data, timestamp, idempotency_key, attempts)
		 VALUES (?, ?, ?, ?, ?, 0)`,
		a.Type, a.Action, data, time.Now().UTC(), newIdempotencyKey(),
	)
	if err != nil {
		slog.Error("SQLiteStore.Insert failed", "error", err, "type", a.Type, "action", a.Action)
		return 0, fmt.Errorf("insert pending action failed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read pending action id failed: %w", err)
	}
	slog.Debug("SQLiteStore.Insert", "id", id, "type", a.Type, "action", a.Action)
	return id, nil
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]models.PendingAction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pendingActionColumns+` FROM pendingActions ORDER BY id ASC`)
	if err != nil {
		slog.Error("SQLiteStore.ListAll query failed", "error", err)
		return nil, fmt.Errorf("list pending actions failed: %w", err)
	}
	defer rows.Close()

	var actions []models.PendingAction
	for rows.Next() {
		a, err := scanPendingAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending action iteration failed: %w", err)
	}
	return actions, nil
}

func (s *SQLiteStore) DeleteByID(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pendingActions WHERE id = ?`, id); err != nil {
		slog.Error("SQLiteStore.DeleteByID failed", "error", err, "id", id)
		return fmt.Errorf("delete pending action %d failed: %w", id, err)
	}
	slog.Debug("SQLiteStore.DeleteByID", "id", id)
	return nil
}

func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pendingActions`)
	if err != nil {
		slog.Error("SQLiteStore.ClearAll failed", "error", err)
		return fmt.Errorf("clear pending actions failed: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.Info("SQLiteStore.ClearAll", "removed", n)
	return nil
}

func (s *SQLiteStore) ClaimAction(ctx context.Context, id int64, now, staleBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pendingActions SET claimed_at = ? WHERE id = ? AND (claimed_at IS NULL OR claimed_at < ?)`,
		now.UTC(), id, staleBefore.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("claim pending action %d failed: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim pending action %d failed: %w", id, err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) ReleaseAction(ctx context.Context, id int64, errMsg string, nextAttemptAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pendingActions SET claimed_at = NULL, attempts = attempts + 1, last_error = ?, next_attempt_at = ? WHERE id = ?`,
		nilIfEmpty(errMsg), nilIfZero(nextAttemptAt.UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("release pending action %d failed: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) RequeueStaleClaims(ctx context.Context, staleBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pendingActions SET claimed_at = NULL WHERE claimed_at IS NOT NULL AND claimed_at < ?`,
		staleBefore.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale claims failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Info("SQLiteStore.RequeueStaleClaims", "requeued", n)
	}
	return int(n), nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
