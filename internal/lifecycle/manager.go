// Package lifecycle installs and activates versions of the HTTP cache.
//
// A version is installed by caching the shell manifest into fresh partitions.
// It then waits until no client is open, or until a client asks it to skip
// waiting, and is activated: stale partitions of this application are deleted
// and the interceptor is switched to the new names.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tonytanb/makeriess-marketplace-sub000/internal/metrics"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/store"
)

// ErrNoWaitingUpdate is returned by Activate when nothing is installed and waiting.
var ErrNoWaitingUpdate = errors.New("no waiting update")

// Claimer takes control of request handling for an activated version.
type Claimer interface {
	Claim(names Names, offlinePage string)
}

// Manager owns the waiting-update handle and drives install and activation.
type Manager struct {
	cache    store.PartitionStore
	origin   *url.URL
	claimer  Claimer
	client   *http.Client
	manifest Manifest

	mu      sync.Mutex
	waiting *Names
	active  *Names
	clients int
}

// Option configures a Manager.
type Option func(*Manager)

func WithManifest(m Manifest) Option {
	return func(mgr *Manager) { mgr.manifest = m.normalized() }
}

func WithHTTPClient(c *http.Client) Option {
	return func(mgr *Manager) { mgr.client = c }
}

// NewManager creates a manager that fetches shell assets from origin.
func NewManager(cache store.PartitionStore, origin *url.URL, claimer Claimer, opts ...Option) *Manager {
	m := &Manager{
		cache:    cache,
		origin:   origin,
		claimer:  claimer,
		client:   &http.Client{Timeout: 30 * time.Second},
		manifest: DefaultManifest(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Manifest returns the manifest used for installs.
func (m *Manager) Manifest() Manifest {
	return m.manifest
}

// Install caches every manifest asset for version tag. Either every asset is
// stored or none is: a single unreachable asset fails the install and leaves
// no partial partitions. A successful install becomes the waiting update and
// is activated at once when no version is active or no client is open.
func (m *Manager) Install(ctx context.Context, tag string) error {
	names := NamesFor(tag)
	slog.Info("Manager.Install: installing cache version", "tag", tag, "assets", len(m.manifest.Assets))

	entries := make([]store.PartitionEntry, 0, len(m.manifest.Assets)+1)
	for _, asset := range m.manifest.Assets {
		resp, err := m.fetch(ctx, asset)
		if err != nil {
			slog.Error("Manager.Install: asset fetch failed, aborting install", "tag", tag, "asset", asset, "error", err)
			return fmt.Errorf("install %s: %w", tag, err)
		}
		entries = append(entries, store.PartitionEntry{Partition: names.Static, Response: resp})
		if asset == m.manifest.OfflinePage {
			entries = append(entries, store.PartitionEntry{Partition: names.Offline, Response: resp})
		}
	}
	if err := m.cache.PutAll(ctx, entries); err != nil {
		return fmt.Errorf("install %s: %w", tag, err)
	}

	m.mu.Lock()
	m.waiting = &names
	activateNow := m.active == nil || m.clients == 0
	m.mu.Unlock()
	slog.Info("Manager.Install: installed, waiting to activate", "tag", tag, "activateNow", activateNow)

	if activateNow {
		return m.Activate(ctx)
	}
	return nil
}

// Start installs version tag. If the install fails but the version's static
// partition survives from an earlier run, that copy is activated instead so
// a restart while offline keeps serving the cached shell.
func (m *Manager) Start(ctx context.Context, tag string) error {
	installErr := m.Install(ctx, tag)
	if installErr == nil {
		return nil
	}
	names := NamesFor(tag)
	existing, err := m.cache.ListPartitions(ctx)
	if err != nil {
		return errors.Join(installErr, err)
	}
	for _, p := range existing {
		if p == names.Static {
			slog.Warn("Manager.Start: install failed, activating previously cached version", "tag", tag, "error", installErr)
			m.mu.Lock()
			m.waiting = &names
			m.mu.Unlock()
			return m.Activate(ctx)
		}
	}
	return installErr
}

func (m *Manager) fetch(ctx context.Context, asset string) (store.CachedResponse, error) {
	ref, err := url.Parse(asset)
	if err != nil {
		return store.CachedResponse{}, fmt.Errorf("bad asset %q: %w", asset, err)
	}
	u := m.origin.ResolveReference(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return store.CachedResponse{}, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return store.CachedResponse{}, fmt.Errorf("fetch %s: %w", asset, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return store.CachedResponse{}, fmt.Errorf("read %s: %w", asset, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return store.CachedResponse{}, fmt.Errorf("fetch %s: status %d", asset, resp.StatusCode)
	}
	return store.CachedResponse{
		Key:        store.RequestKey(u),
		URL:        u.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

// Activate consumes the waiting update: it deletes every partition of this
// application that does not belong to the new version, opens the new
// partitions and hands request handling to the claimer.
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.waiting == nil {
		return ErrNoWaitingUpdate
	}
	names := *m.waiting

	existing, err := m.cache.ListPartitions(ctx)
	if err != nil {
		return fmt.Errorf("activate %s: %w", names.Tag, err)
	}
	deleted := 0
	for _, p := range existing {
		if !IsOwned(p) || names.Contains(p) {
			continue
		}
		if _, err := m.cache.DeletePartition(ctx, p); err != nil {
			slog.Error("Manager.Activate: failed to delete stale partition", "partition", p, "error", err)
			continue
		}
		deleted++
		slog.Info("Manager.Activate: deleted stale partition", "partition", p)
	}
	metrics.AddPartitionsDeleted(deleted)

	for _, p := range names.All() {
		if err := m.cache.OpenPartition(ctx, p); err != nil {
			return fmt.Errorf("activate %s: %w", names.Tag, err)
		}
	}

	m.claimer.Claim(names, m.manifest.OfflinePage)
	m.active = &names
	m.waiting = nil
	slog.Info("Manager.Activate: version active", "tag", names.Tag, "deleted", deleted)
	return nil
}

// SkipWaiting activates the waiting update without waiting for clients to
// close. With nothing waiting it does nothing.
func (m *Manager) SkipWaiting(ctx context.Context) error {
	err := m.Activate(ctx)
	if errors.Is(err, ErrNoWaitingUpdate) {
		slog.Debug("Manager.SkipWaiting: no waiting update")
		return nil
	}
	return err
}

// ClientOpened records an open application instance.
func (m *Manager) ClientOpened() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients++
}

// ClientClosed records a closed application instance. When the last one
// closes, a waiting update is activated.
func (m *Manager) ClientClosed(ctx context.Context) error {
	m.mu.Lock()
	if m.clients > 0 {
		m.clients--
	}
	activate := m.clients == 0 && m.waiting != nil
	m.mu.Unlock()
	if !activate {
		return nil
	}
	return m.SkipWaiting(ctx)
}

// Waiting returns the installed version awaiting activation, if any.
func (m *Manager) Waiting() (Names, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.waiting == nil {
		return Names{}, false
	}
	return *m.waiting, true
}

// Active returns the active version, if any.
func (m *Manager) Active() (Names, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return Names{}, false
	}
	return *m.active, true
}

// Clients returns the number of open application instances.
func (m *Manager) Clients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients
}
