// Package store provides the PartitionStore and EntityStore interfaces.
package store

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/tonytanb/makeriess-marketplace-sub000/internal/models"
)

// CachedResponse is a stored HTTP response keyed by its request.
type CachedResponse struct {
	Key        string      `json:"key"`
	URL        string      `json:"url"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"stored_at"`
}

// PartitionEntry pairs a response with the partition it belongs to.
type PartitionEntry struct {
	Partition string
	Response  CachedResponse
}

// PartitionStore holds named partitions of cached request/response pairs.
// Match returns (nil, nil) on a miss, including when the partition does not exist.
type PartitionStore interface {
	// OpenPartition creates the partition if it does not exist.
	OpenPartition(ctx context.Context, name string) error

	// ListPartitions returns every partition name in creation order.
	ListPartitions(ctx context.Context) ([]string, error)

	// DeletePartition removes a partition and all its entries. It reports
	// whether the partition existed.
	DeletePartition(ctx context.Context, name string) (bool, error)

	Match(ctx context.Context, partition, key string) (*CachedResponse, error)

	// Put stores resp under resp.Key, creating the partition if needed.
	Put(ctx context.Context, partition string, resp CachedResponse) error

	// PutAll stores every entry or none of them.
	PutAll(ctx context.Context, entries []PartitionEntry) error
}

// EntityStore persists the local content cache.
type EntityStore interface {
	// SaveEntity upserts an entity keyed by id.
	SaveEntity(ctx context.Context, e models.CachedEntity) error

	LoadEntities(ctx context.Context) ([]models.CachedEntity, error)

	// DeleteEntitiesBefore removes entities cached before cutoff.
	DeleteEntitiesBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// RequestKey returns the cache key for a request URL: its path and query,
// independent of the host it was fetched from.
func RequestKey(u *url.URL) string {
	return u.RequestURI()
}

func cloneResponse(r CachedResponse) CachedResponse {
	out := r
	out.Header = r.Header.Clone()
	out.Body = append([]byte(nil), r.Body...)
	return out
}
