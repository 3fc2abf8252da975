package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "embed"

	"github.com/tonytanb/makeriess-marketplace-sub000/internal/models"
)

//go:embed migrations_cache_sqlite.sql
var cacheSQLiteMigrations string

// SQLiteCacheStore is the SQLite implementation of PartitionStore and EntityStore.
// It lives in its own database file, separate from the action log.
type SQLiteCacheStore struct {
	db *sql.DB
}

var (
	_ PartitionStore = (*SQLiteCacheStore)(nil)
	_ EntityStore    = (*SQLiteCacheStore)(nil)
)

// NewSQLiteCacheStore opens (or creates) the cache database at the configured DSN.
func NewSQLiteCacheStore(opts ...Option) (*SQLiteCacheStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteCacheStore invoked", "DSN_set", cfg.DSN != "")
	db, err := openSQLite(cfg.DSN, cacheSQLiteMigrations)
	if err != nil {
		return nil, err
	}
	return &SQLiteCacheStore{db: db}, nil
}

func (s *SQLiteCacheStore) OpenPartition(ctx context.Context, name string) error {
	return openPartition(ctx, s.db, name)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func openPartition(ctx context.Context, db execer, name string) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cache_partitions (name, created_at) VALUES (?, ?)`,
		name, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("open partition %s failed: %w", name, err)
	}
	return nil
}

func (s *SQLiteCacheStore) ListPartitions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM cache_partitions ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list partitions failed: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan partition name failed: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("partition iteration failed: %w", err)
	}
	return names, nil
}

func (s *SQLiteCacheStore) DeletePartition(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete partition %s failed: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE partition_name = ?`, name); err != nil {
		return false, fmt.Errorf("delete partition %s entries failed: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM cache_partitions WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete partition %s failed: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete partition %s commit failed: %w", name, err)
	}
	n, _ := res.RowsAffected()
	slog.Debug("SQLiteCacheStore.DeletePartition", "name", name, "existed", n > 0)
	return n > 0, nil
}

func (s *SQLiteCacheStore) Match(ctx context.Context, partition, key string) (*CachedResponse, error) {
	var r CachedResponse
	var header string
	err := s.db.QueryRowContext(ctx,
		`SELECT cache_key, url, status_code, header, body, stored_at FROM cache_entries WHERE partition_name = ? AND cache_key = ?`,
		partition, key,
	).Scan(&r.Key, &r.URL, &r.StatusCode, &header, &r.Body, &r.StoredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("match %s in %s failed: %w", key, partition, err)
	}
	r.Header = make(http.Header)
	if err := json.Unmarshal([]byte(header), &r.Header); err != nil {
		return nil, fmt.Errorf("decode cached header for %s failed: %w", key, err)
	}
	return &r, nil
}

func putEntry(ctx context.Context, db execer, partition string, r CachedResponse) error {
	if err := openPartition(ctx, db, partition); err != nil {
		return err
	}
	header, err := json.Marshal(r.Header)
	if err != nil {
		return fmt.Errorf("encode header for %s failed: %w", r.Key, err)
	}
	storedAt := r.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (partition_name, cache_key, url, status_code, header, body, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		partition, r.Key, r.URL, r.StatusCode, string(header), r.Body, storedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("put %s in %s failed: %w", r.Key, partition, err)
	}
	return nil
}

func (s *SQLiteCacheStore) Put(ctx context.Context, partition string, resp CachedResponse) error {
	return putEntry(ctx, s.db, partition, resp)
}

func (s *SQLiteCacheStore) PutAll(ctx context.Context, entries []PartitionEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch put failed: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		if err := putEntry(ctx, tx, e.Partition, e.Response); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch put failed: %w", err)
	}
	slog.Debug("SQLiteCacheStore.PutAll", "entries", len(entries))
	return nil
}

func (s *SQLiteCacheStore) SaveEntity(ctx context.Context, e models.CachedEntity) error {
	snapshot, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entity %s failed: %w", e.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cached_entities (id, kind, snapshot, cached_at) VALUES (?, ?, ?, ?)`,
		e.ID, e.Kind, string(snapshot), e.CachedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save entity %s failed: %w", e.ID, err)
	}
	return nil
}

func (s *SQLiteCacheStore) LoadEntities(ctx context.Context) ([]models.CachedEntity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT snapshot FROM cached_entities ORDER BY cached_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("load entities failed: %w", err)
	}
	defer rows.Close()

	var out []models.CachedEntity
	for rows.Next() {
		var snapshot string
		if err := rows.Scan(&snapshot); err != nil {
			return nil, fmt.Errorf("scan entity failed: %w", err)
		}
		var e models.CachedEntity
		if err := json.Unmarshal([]byte(snapshot), &e); err != nil {
			slog.Warn("SQLiteCacheStore.LoadEntities: skipping unreadable snapshot", "error", err)
			continue
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("entity iteration failed: %w", err)
	}
	return out, nil
}

func (s *SQLiteCacheStore) DeleteEntitiesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cached_entities WHERE cached_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired entities failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the cache database connection.
func (s *SQLiteCacheStore) Close() error {
	return s.db.Close()
}
