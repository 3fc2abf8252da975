// Package store provides storage backends for the Makeriess offline layer.
//
// This file implements a PostgreSQL-backed pending action log, used when
// several storefront nodes share one queue.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/tonytanb/makeriess-marketplace-sub000/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is the PostgreSQL implementation of ActionLog.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements ActionLog.
var _ ActionLog = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres action log based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Insert(ctx context.Context, a models.NewAction) (int64, error) {
	if a.Data == nil {
		return 0, models.ErrMissingPayload
	}
	data, err := encodePayload(a)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO pendingActions (type, action, data, timestamp, idempotency_key, attempts)
		 VALUES ($1, $2, $3, $4, $5, 0) RETURNING id`,
		a.Type, a.Action, data, time.Now(), newIdempotencyKey(),
	).Scan(&id)
	if err != nil {
		slog.Error("PostgresStore.Insert failed", "error", err, "type", a.Type, "action", a.Action)
		return 0, fmt.Errorf("insert pending action failed: %w", err)
	}
	slog.Debug("PostgresStore.Insert", "id", id, "type", a.Type, "action", a.Action)
	return id, nil
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]models.PendingAction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pendingActionColumns+` FROM pendingActions ORDER BY id ASC`)
	if err != nil {
		slog.Error("PostgresStore.ListAll query failed", "error", err)
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

func (s *PostgresStore) DeleteByID(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pendingActions WHERE id = $1`, id); err != nil {
		slog.Error("PostgresStore.DeleteByID failed", "error", err, "id", id)
		return fmt.Errorf("delete pending action %d failed: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pendingActions`); err != nil {
		slog.Error("PostgresStore.ClearAll failed", "error", err)
		return fmt.Errorf("clear pending actions failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClaimAction(ctx context.Context, id int64, now, staleBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pendingActions SET claimed_at = $1 WHERE id = $2 AND (claimed_at IS NULL OR claimed_at < $3)`,
		now, id, staleBefore,
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

func (s *PostgresStore) ReleaseAction(ctx context.Context, id int64, errMsg string, nextAttemptAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pendingActions SET claimed_at = NULL, attempts = attempts + 1, last_error = $1, next_attempt_at = $2 WHERE id = $3`,
		nilIfEmpty(errMsg), nilIfZero(nextAttemptAt), id,
	)
	if err != nil {
		return fmt.Errorf("release pending action %d failed: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) RequeueStaleClaims(ctx context.Context, staleBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pendingActions SET claimed_at = NULL WHERE claimed_at IS NOT NULL AND claimed_at < $1`,
		staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale claims failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Info("PostgresStore.RequeueStaleClaims", "requeued", n)
	}
	return int(n), nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
