package interceptor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tonytanb/makeriess-marketplace-sub000/internal/lifecycle"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/store"
)

var errUnreachable = errors.New("dial tcp: network is unreachable")

// fakeNetwork answers every request with the body "live <path>" unless down.
type fakeNetwork struct {
	calls atomic.Int32
	down  atomic.Bool
}

func (f *fakeNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return nil, errUnreachable
	}
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "text/plain")
	rec.WriteHeader(http.StatusOK)
	io.WriteString(rec, "live "+req.URL.Path)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

const offlineHTML = "<html><body>You are offline</body></html>"

func newClaimedInterceptor(t *testing.T) (*Interceptor, *fakeNetwork, *store.MemoryCacheStore, lifecycle.Names) {
	t.Helper()
	cache := store.NewMemoryCacheStore()
	names := lifecycle.NamesFor("v1")
	page := store.CachedResponse{
		Key:        "/offline.html",
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       []byte(offlineHTML),
	}
	if err := cache.Put(context.Background(), names.Offline, page); err != nil {
		t.Fatalf("seed offline page: %v", err)
	}
	net := &fakeNetwork{}
	i := New(cache, WithTransport(net))
	i.Claim(names, "/offline.html")
	return i, net, cache, names
}

func get(t *testing.T, target string, navigation bool) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if navigation {
		req.Header.Set("Sec-Fetch-Mode", "navigate")
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
	}
	return req
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		method string
		target string
		want   Strategy
	}{
		{http.MethodGet, "https://makeriess.test/styles/app.css", CacheFirst},
		{http.MethodGet, "https://makeriess.test/img/Logo.PNG", CacheFirst},
		{http.MethodGet, "https://makeriess.test/fonts/inter.woff2", CacheFirst},
		{http.MethodGet, "https://makeriess.test/api/products?category=bakery", NetworkFirst},
		{http.MethodGet, "https://makeriess.test/vendors/v1", NetworkFirst},
		{http.MethodGet, "https://makeriess.test/api/cart", NetworkFirst},
		{http.MethodPost, "https://makeriess.test/api/cart", Passthrough},
		{http.MethodPost, "https://makeriess.test/app.js", Passthrough},
		{http.MethodGet, "chrome-extension://abc/script.js", Passthrough},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, "/", nil)
		u, err := url.Parse(tt.target)
		if err != nil {
			t.Fatalf("parse %s: %v", tt.target, err)
		}
		req.URL = u
		if got := Classify(req); got != tt.want {
			t.Errorf("Classify(%s %s) = %v, want %v", tt.method, tt.target, got, tt.want)
		}
	}
}

func TestIsDataEndpoint(t *testing.T) {
	tests := map[string]bool{
		"/api/products":          true,
		"/api/products/p1":       true,
		"/api/vendors":           true,
		"/graphql":               true,
		"/api/v2/graphql/search": true,
		"/api/cart":              false,
		"/about":                 false,
	}
	for p, want := range tests {
		if got := IsDataEndpoint(p); got != want {
			t.Errorf("IsDataEndpoint(%q) = %v, want %v", p, got, want)
		}
	}
}

// A cache-first miss fetches and stores; the second request never reaches the network.
func TestCacheFirst_StoresThenServesFromCache(t *testing.T) {
	i, net, cache, names := newClaimedInterceptor(t)

	resp, err := i.RoundTrip(get(t, "http://makeriess.test/styles/app.css", false))
	if err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if body := readAll(t, resp); body != "live /styles/app.css" {
		t.Errorf("unexpected body %q", body)
	}
	if net.calls.Load() != 1 {
		t.Fatalf("expected 1 network call, got %d", net.calls.Load())
	}
	if hit, _ := cache.Match(context.Background(), names.Static, "/styles/app.css"); hit == nil {
		t.Fatal("expected response stored in static partition")
	}

	net.down.Store(true)
	resp, err = i.RoundTrip(get(t, "http://makeriess.test/styles/app.css", false))
	if err != nil {
		t.Fatalf("cached request failed: %v", err)
	}
	if resp.Header.Get(CacheHeader) != "static" {
		t.Errorf("expected static cache header, got %q", resp.Header.Get(CacheHeader))
	}
	if body := readAll(t, resp); body != "live /styles/app.css" {
		t.Errorf("unexpected cached body %q", body)
	}
	if net.calls.Load() != 1 {
		t.Errorf("cache hit must not fetch, got %d network calls", net.calls.Load())
	}
}

func TestCacheFirst_MissWithNetworkDownPropagates(t *testing.T) {
	i, net, _, _ := newClaimedInterceptor(t)
	net.down.Store(true)
	if _, err := i.RoundTrip(get(t, "http://makeriess.test/app.js", false)); !errors.Is(err, errUnreachable) {
		t.Errorf("expected network error, got %v", err)
	}
}

// A failed navigation with nothing cached returns the stored offline page byte for byte.
func TestNetworkFirst_NavigationFallsBackToOfflinePage(t *testing.T) {
	i, net, _, _ := newClaimedInterceptor(t)
	net.down.Store(true)

	resp, err := i.RoundTrip(get(t, "http://makeriess.test/vendors/v9", true))
	if err != nil {
		t.Fatalf("expected offline page, got error %v", err)
	}
	if resp.Header.Get(CacheHeader) != "offline" {
		t.Errorf("expected offline cache header, got %q", resp.Header.Get(CacheHeader))
	}
	if body := readAll(t, resp); body != offlineHTML {
		t.Errorf("expected offline page, got %q", body)
	}
}

func TestNetworkFirst_FallsBackToDynamic(t *testing.T) {
	i, net, _, _ := newClaimedInterceptor(t)

	resp, err := i.RoundTrip(get(t, "http://makeriess.test/api/products?category=bakery", false))
	if err != nil {
		t.Fatalf("online request failed: %v", err)
	}
	live := readAll(t, resp)

	net.down.Store(true)
	resp, err = i.RoundTrip(get(t, "http://makeriess.test/api/products?category=bakery", false))
	if err != nil {
		t.Fatalf("expected cached response, got %v", err)
	}
	if resp.Header.Get(CacheHeader) != "dynamic" {
		t.Errorf("expected dynamic cache header, got %q", resp.Header.Get(CacheHeader))
	}
	if body := readAll(t, resp); body != live {
		t.Errorf("expected %q, got %q", live, body)
	}

	// A different query string is a different entry.
	if _, err := i.RoundTrip(get(t, "http://makeriess.test/api/products?category=dairy", false)); err == nil {
		t.Error("expected error for uncached query")
	}
}

// A data request with the network down and nothing cached is an error, not the offline page.
func TestNetworkFirst_APIFailurePropagates(t *testing.T) {
	i, net, _, _ := newClaimedInterceptor(t)
	net.down.Store(true)

	resp, err := i.RoundTrip(get(t, "http://makeriess.test/api/products?category=bakery", false))
	if !errors.Is(err, errUnreachable) {
		t.Fatalf("expected network error, got %v", err)
	}
	if resp != nil {
		t.Error("expected no response")
	}
}

func TestNetworkFirst_IneligibleResponsesNotStored(t *testing.T) {
	i, _, cache, names := newClaimedInterceptor(t)
	resp, err := i.RoundTrip(get(t, "http://makeriess.test/api/cart", false))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	readAll(t, resp)
	if hit, _ := cache.Match(context.Background(), names.Dynamic, "/api/cart"); hit != nil {
		t.Error("cart responses must not be cached")
	}
}

func TestPassthrough(t *testing.T) {
	t.Run("non-GET", func(t *testing.T) {
		i, net, cache, names := newClaimedInterceptor(t)
		req := httptest.NewRequest(http.MethodPost, "http://makeriess.test/app.js", strings.NewReader("{}"))
		resp, err := i.RoundTrip(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		readAll(t, resp)
		if net.calls.Load() != 1 {
			t.Errorf("expected network call, got %d", net.calls.Load())
		}
		if hit, _ := cache.Match(context.Background(), names.Static, "/app.js"); hit != nil {
			t.Error("POST responses must not be cached")
		}
	})

	t.Run("before any version is claimed", func(t *testing.T) {
		net := &fakeNetwork{}
		cache := store.NewMemoryCacheStore()
		i := New(cache, WithTransport(net))
		resp, err := i.RoundTrip(get(t, "http://makeriess.test/app.js", false))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		readAll(t, resp)
		names, _ := cache.ListPartitions(context.Background())
		if len(names) != 0 {
			t.Errorf("expected no partitions, got %v", names)
		}
	})
}

type failingWrites struct {
	*store.MemoryCacheStore
}

func (failingWrites) Put(context.Context, string, store.CachedResponse) error {
	return errors.New("quota exceeded")
}

func TestCacheWriteFailureStillReturnsResponse(t *testing.T) {
	net := &fakeNetwork{}
	i := New(failingWrites{store.NewMemoryCacheStore()}, WithTransport(net))
	i.Claim(lifecycle.NamesFor("v1"), "/offline.html")

	resp, err := i.RoundTrip(get(t, "http://makeriess.test/styles/app.css", false))
	if err != nil {
		t.Fatalf("expected live response, got %v", err)
	}
	if body := readAll(t, resp); body != "live /styles/app.css" {
		t.Errorf("unexpected body %q", body)
	}
}

func TestCacheURL(t *testing.T) {
	i, net, cache, names := newClaimedInterceptor(t)
	i.origin, _ = url.Parse("http://makeriess.test")

	if err := i.CacheURL(context.Background(), "/products/p1"); err != nil {
		t.Fatalf("CacheURL failed: %v", err)
	}
	hit, _ := cache.Match(context.Background(), names.Dynamic, "/products/p1")
	if hit == nil || string(hit.Body) != "live /products/p1" {
		t.Fatalf("expected pinned page in dynamic partition, got %+v", hit)
	}

	net.down.Store(true)
	if err := i.CacheURL(context.Background(), "/products/p2"); err == nil {
		t.Error("expected error when the network is down")
	}
}

func TestCacheURL_SkipsOtherHosts(t *testing.T) {
	i, net, cache, names := newClaimedInterceptor(t)
	i.origin, _ = url.Parse("http://makeriess.test")
	ctx := context.Background()

	for _, raw := range []string{"https://cdn.example.com/img/p1.jpg", "https://makeriess.test/img/p1.jpg"} {
		if err := i.CacheURL(ctx, raw); err != nil {
			t.Fatalf("CacheURL(%s) failed: %v", raw, err)
		}
	}
	if got := net.calls.Load(); got != 0 {
		t.Errorf("expected no fetch for foreign URLs, got %d", got)
	}
	if hit, _ := cache.Match(ctx, names.Dynamic, "/img/p1.jpg"); hit != nil {
		t.Errorf("expected nothing stored under a host-less key, got %+v", hit)
	}

	if err := i.CacheURL(ctx, "http://MAKERIESS.test/img/p1.jpg"); err != nil {
		t.Fatalf("CacheURL failed: %v", err)
	}
	if hit, _ := cache.Match(ctx, names.Dynamic, "/img/p1.jpg"); hit == nil {
		t.Error("expected absolute origin URL to be cached")
	}
}

func TestHandler_ProxiesThroughCache(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/css")
		io.WriteString(w, "body{}")
	}))
	defer upstream.Close()
	target, _ := url.Parse(upstream.URL)

	i := New(store.NewMemoryCacheStore())
	i.Claim(lifecycle.NamesFor("v1"), "/offline.html")
	h := i.Handler(target)

	for n := 0; n < 2; n++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/styles/app.css", nil))
		if rec.Code != http.StatusOK || rec.Body.String() != "body{}" {
			t.Fatalf("request %d: got %d %q", n, rec.Code, rec.Body.String())
		}
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 upstream hit, got %d", hits.Load())
	}
}

func TestHandler_UpstreamDownIsBadGateway(t *testing.T) {
	target, _ := url.Parse("http://127.0.0.1:1")
	i := New(store.NewMemoryCacheStore())
	i.Claim(lifecycle.NamesFor("v1"), "/offline.html")

	rec := httptest.NewRecorder()
	i.Handler(target).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/products", nil))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
}
