package store

import (
	"context"
	"sync"
	"time"

	"github.com/tonytanb/makeriess-marketplace-sub000/internal/models"
)

// MemoryCacheStore is an in-memory PartitionStore and EntityStore.
type MemoryCacheStore struct {
	mu         sync.RWMutex
	order      []string
	partitions map[string]map[string]CachedResponse
	entities   map[string]models.CachedEntity
}

var (
	_ PartitionStore = (*MemoryCacheStore)(nil)
	_ EntityStore    = (*MemoryCacheStore)(nil)
)

// NewMemoryCacheStore creates an empty in-memory cache store.
func NewMemoryCacheStore() *MemoryCacheStore {
	return &MemoryCacheStore{
		partitions: make(map[string]map[string]CachedResponse),
		entities:   make(map[string]models.CachedEntity),
	}
}

// openLocked requires s.mu held for writing.
func (s *MemoryCacheStore) openLocked(name string) map[string]CachedResponse {
	p, ok := s.partitions[name]
	if !ok {
		p = make(map[string]CachedResponse)
		s.partitions[name] = p
		s.order = append(s.order, name)
	}
	return p
}

func (s *MemoryCacheStore) OpenPartition(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openLocked(name)
	return nil
}

func (s *MemoryCacheStore) ListPartitions(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

func (s *MemoryCacheStore) DeletePartition(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[name]; !ok {
		return false, nil
	}
	delete(s.partitions, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *MemoryCacheStore) Match(_ context.Context, partition, key string) (*CachedResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.partitions[partition][key]
	if !ok {
		return nil, nil
	}
	out := cloneResponse(r)
	return &out, nil
}

func (s *MemoryCacheStore) Put(_ context.Context, partition string, resp CachedResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if resp.StoredAt.IsZero() {
		resp.StoredAt = time.Now()
	}
	s.openLocked(partition)[resp.Key] = cloneResponse(resp)
	return nil
}

func (s *MemoryCacheStore) PutAll(_ context.Context, entries []PartitionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, e := range entries {
		r := cloneResponse(e.Response)
		if r.StoredAt.IsZero() {
			r.StoredAt = now
		}
		s.openLocked(e.Partition)[r.Key] = r
	}
	return nil
}

func (s *MemoryCacheStore) SaveEntity(_ context.Context, e models.CachedEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ImageURLs = append([]string(nil), e.ImageURLs...)
	s.entities[e.ID] = e
	return nil
}

func (s *MemoryCacheStore) LoadEntities(context.Context) ([]models.CachedEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CachedEntity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	return out, nil
}

func (s *MemoryCacheStore) DeleteEntitiesBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.entities {
		if e.CachedAt.Before(cutoff) {
			delete(s.entities, id)
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryCacheStore) Close() error { return nil }
