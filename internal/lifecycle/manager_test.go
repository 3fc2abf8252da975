package lifecycle

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/tonytanb/makeriess-marketplace-sub000/internal/store"
)

type recordingClaimer struct {
	mu     sync.Mutex
	claims []Names
	page   string
}

func (c *recordingClaimer) Claim(names Names, offlinePage string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claims = append(c.claims, names)
	c.page = offlinePage
}

func (c *recordingClaimer) last() (Names, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.claims) == 0 {
		return Names{}, false
	}
	return c.claims[len(c.claims)-1], true
}

// newOrigin serves every path with body "asset <path>", except paths listed in missing.
func newOrigin(t *testing.T, missing ...string) *url.URL {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, m := range missing {
			if r.URL.Path == m {
				http.NotFound(w, r)
				return
			}
		}
		io.WriteString(w, "asset "+r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	u, _ := url.Parse(srv.URL)
	return u
}

func partitions(t *testing.T, cache store.PartitionStore) map[string]bool {
	t.Helper()
	names, err := cache.ListPartitions(context.Background())
	if err != nil {
		t.Fatalf("ListPartitions failed: %v", err)
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

func TestNamesFor(t *testing.T) {
	n := NamesFor("v2")
	if n.Static != "makeriess-v2" || n.Dynamic != "makeriess-dynamic-v2" || n.Offline != "makeriess-offline-v2" {
		t.Errorf("unexpected names: %+v", n)
	}
	if !IsOwned("makeriess-dynamic-v1") || IsOwned("other-app-v1") {
		t.Error("unexpected namespace ownership")
	}
}

func TestInstall_FirstVersionActivatesImmediately(t *testing.T) {
	cache := store.NewMemoryCacheStore()
	claimer := &recordingClaimer{}
	m := NewManager(cache, newOrigin(t), claimer)
	ctx := context.Background()

	if err := m.Install(ctx, "v1"); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	active, ok := m.Active()
	if !ok || active.Tag != "v1" {
		t.Fatalf("expected v1 active, got %+v", active)
	}
	if got, _ := claimer.last(); got.Tag != "v1" || claimer.page != DefaultOfflinePage {
		t.Errorf("expected claim of v1, got %+v page %q", got, claimer.page)
	}

	for _, asset := range DefaultManifest().Assets {
		if hit, _ := cache.Match(ctx, active.Static, asset); hit == nil {
			t.Errorf("expected %s in static partition", asset)
		}
	}
	page, _ := cache.Match(ctx, active.Offline, DefaultOfflinePage)
	if page == nil || string(page.Body) != "asset /offline.html" {
		t.Errorf("expected offline page in offline partition, got %+v", page)
	}
	if !partitions(t, cache)[active.Dynamic] {
		t.Error("expected dynamic partition to exist after activation")
	}
}

func TestInstall_OneBadAssetLeavesNoPartialState(t *testing.T) {
	cache := store.NewMemoryCacheStore()
	m := NewManager(cache, newOrigin(t, "/icons/icon-512x512.png"), &recordingClaimer{})

	if err := m.Install(context.Background(), "v1"); err == nil {
		t.Fatal("expected install to fail")
	}
	if p := partitions(t, cache); len(p) != 0 {
		t.Errorf("expected no partitions after failed install, got %v", p)
	}
	if _, ok := m.Waiting(); ok {
		t.Error("failed install must not leave a waiting update")
	}
	if _, ok := m.Active(); ok {
		t.Error("failed install must not activate")
	}
}

// Activation with v2 removes v1 partitions and leaves foreign ones alone.
func TestActivate_DeletesStaleVersions(t *testing.T) {
	cache := store.NewMemoryCacheStore()
	ctx := context.Background()
	for _, p := range []string{"makeriess-v1", "makeriess-dynamic-v1", "other-app-v1"} {
		if err := cache.Put(ctx, p, store.CachedResponse{Key: "/", StatusCode: 200}); err != nil {
			t.Fatalf("seed %s: %v", p, err)
		}
	}

	m := NewManager(cache, newOrigin(t), &recordingClaimer{})
	if err := m.Install(ctx, "v2"); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	got := partitions(t, cache)
	for _, gone := range []string{"makeriess-v1", "makeriess-dynamic-v1"} {
		if got[gone] {
			t.Errorf("expected %s deleted", gone)
		}
		if hit, _ := cache.Match(ctx, gone, "/"); hit != nil {
			t.Errorf("%s still queryable", gone)
		}
	}
	for _, kept := range []string{"makeriess-v2", "makeriess-dynamic-v2", "makeriess-offline-v2", "other-app-v1"} {
		if !got[kept] {
			t.Errorf("expected %s to exist", kept)
		}
	}
}

func TestWaitingUpdate(t *testing.T) {
	cache := store.NewMemoryCacheStore()
	claimer := &recordingClaimer{}
	m := NewManager(cache, newOrigin(t), claimer)
	ctx := context.Background()

	if err := m.Install(ctx, "v1"); err != nil {
		t.Fatalf("Install v1 failed: %v", err)
	}
	m.ClientOpened()
	m.ClientOpened()

	if err := m.Install(ctx, "v2"); err != nil {
		t.Fatalf("Install v2 failed: %v", err)
	}
	if w, ok := m.Waiting(); !ok || w.Tag != "v2" {
		t.Fatalf("expected v2 waiting, got %+v", w)
	}
	if a, _ := m.Active(); a.Tag != "v1" {
		t.Fatalf("expected v1 still active, got %+v", a)
	}

	// One client closing is not enough.
	if err := m.ClientClosed(ctx); err != nil {
		t.Fatalf("ClientClosed failed: %v", err)
	}
	if a, _ := m.Active(); a.Tag != "v1" {
		t.Fatalf("expected v1 active with a client open, got %+v", a)
	}

	t.Run("skip waiting", func(t *testing.T) {
		if err := m.SkipWaiting(ctx); err != nil {
			t.Fatalf("SkipWaiting failed: %v", err)
		}
		if a, _ := m.Active(); a.Tag != "v2" {
			t.Errorf("expected v2 active, got %+v", a)
		}
		if _, ok := m.Waiting(); ok {
			t.Error("waiting handle must be cleared once consumed")
		}
		if p := partitions(t, cache); p["makeriess-v1"] {
			t.Error("expected v1 partitions deleted")
		}
	})

	t.Run("skip waiting with nothing waiting", func(t *testing.T) {
		if err := m.SkipWaiting(ctx); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		if err := m.Activate(ctx); !errors.Is(err, ErrNoWaitingUpdate) {
			t.Errorf("expected ErrNoWaitingUpdate, got %v", err)
		}
	})

	t.Run("last client closing activates", func(t *testing.T) {
		if err := m.Install(ctx, "v3"); err != nil {
			t.Fatalf("Install v3 failed: %v", err)
		}
		if a, _ := m.Active(); a.Tag != "v2" {
			t.Fatalf("expected v2 still active, got %+v", a)
		}
		if err := m.ClientClosed(ctx); err != nil {
			t.Fatalf("ClientClosed failed: %v", err)
		}
		if a, _ := m.Active(); a.Tag != "v3" {
			t.Errorf("expected v3 active after last client closed, got %+v", a)
		}
		if m.Clients() != 0 {
			t.Errorf("expected 0 clients, got %d", m.Clients())
		}
	})
}

func TestStart_FallsBackToCachedVersion(t *testing.T) {
	cache := store.NewMemoryCacheStore()
	ctx := context.Background()
	first := NewManager(cache, newOrigin(t), &recordingClaimer{})
	if err := first.Install(ctx, "v1"); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	// Restart with the origin unreachable.
	down, _ := url.Parse("http://127.0.0.1:1")
	claimer := &recordingClaimer{}
	second := NewManager(cache, down, claimer)
	if err := second.Start(ctx, "v1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got, ok := claimer.last(); !ok || got.Tag != "v1" {
		t.Errorf("expected cached v1 to be claimed, got %+v", got)
	}

	if err := second.Start(ctx, "v2"); err == nil {
		t.Error("expected error when nothing is cached for v2")
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.toml")
	content := `
offline_page = "/offline/index.html"
assets = ["/", "/manifest.json"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if m.OfflinePage != "/offline/index.html" {
		t.Errorf("unexpected offline page %q", m.OfflinePage)
	}
	want := []string{"/", "/manifest.json", "/offline/index.html"}
	if len(m.Assets) != len(want) {
		t.Fatalf("expected %v, got %v", want, m.Assets)
	}
	for i := range want {
		if m.Assets[i] != want[i] {
			t.Errorf("asset %d: got %q, want %q", i, m.Assets[i], want[i])
		}
	}

	if _, err := LoadManifest(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}
