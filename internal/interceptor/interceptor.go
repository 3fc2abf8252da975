// Package interceptor applies per-request caching strategies to storefront
// traffic. It is an http.RoundTripper, so it can sit behind a reverse proxy
// or inside any http.Client.
package interceptor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/tonytanb/makeriess-marketplace-sub000/internal/lifecycle"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/metrics"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/store"
)

// CacheHeader is set on responses served from a partition; its value is the
// partition role (static, dynamic or offline).
const CacheHeader = "X-Makeriess-Cache"

type activeVersion struct {
	names      lifecycle.Names
	offlineKey string
}

// Interceptor routes requests through the partitions of the active version.
// Until a version is claimed every request passes through.
type Interceptor struct {
	cache  store.PartitionStore
	next   http.RoundTripper
	origin *url.URL
	active atomic.Pointer[activeVersion]
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithTransport sets the transport used for network fetches.
func WithTransport(rt http.RoundTripper) Option {
	return func(i *Interceptor) { i.next = rt }
}

// WithOrigin sets the base URL relative CacheURL requests resolve against.
// CacheURL skips URLs on any other host.
func WithOrigin(u *url.URL) Option {
	return func(i *Interceptor) { i.origin = u }
}

// New creates an interceptor over cache.
func New(cache store.PartitionStore, opts ...Option) *Interceptor {
	i := &Interceptor{cache: cache, next: http.DefaultTransport}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Claim makes names the partitions consulted by every subsequent request.
func (i *Interceptor) Claim(names lifecycle.Names, offlinePage string) {
	key := offlinePage
	if u, err := url.Parse(offlinePage); err == nil {
		key = store.RequestKey(u)
	}
	i.active.Store(&activeVersion{names: names, offlineKey: key})
	slog.Info("Interceptor.Claim: serving cache version", "tag", names.Tag)
}

// Active returns the claimed partition names.
func (i *Interceptor) Active() (lifecycle.Names, bool) {
	v := i.active.Load()
	if v == nil {
		return lifecycle.Names{}, false
	}
	return v.names, true
}

// RoundTrip implements http.RoundTripper.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	v := i.active.Load()
	strategy := Classify(req)
	if v == nil || strategy == Passthrough {
		metrics.RecordIntercept(Passthrough.String(), "network")
		return i.next.RoundTrip(req)
	}
	switch strategy {
	case CacheFirst:
		return i.cacheFirst(req, v)
	default:
		return i.networkFirst(req, v)
	}
}

func (i *Interceptor) cacheFirst(req *http.Request, v *activeVersion) (*http.Response, error) {
	ctx := req.Context()
	key := store.RequestKey(req.URL)
	if hit := i.lookup(ctx, v.names.Static, key); hit != nil {
		metrics.RecordIntercept(CacheFirst.String(), "hit")
		return toResponse(req, hit, "static"), nil
	}

	resp, err := i.next.RoundTrip(req)
	if err != nil {
		metrics.RecordIntercept(CacheFirst.String(), "error")
		return nil, err
	}
	if !isSuccess(resp.StatusCode) {
		metrics.RecordIntercept(CacheFirst.String(), "network")
		return resp, nil
	}
	body, err := readBody(resp)
	if err != nil {
		metrics.RecordIntercept(CacheFirst.String(), "error")
		return nil, err
	}
	i.store(ctx, v.names.Static, req, resp, body)
	metrics.RecordIntercept(CacheFirst.String(), "miss")
	return resp, nil
}

func (i *Interceptor) networkFirst(req *http.Request, v *activeVersion) (*http.Response, error) {
	ctx := req.Context()
	key := store.RequestKey(req.URL)

	resp, err := i.next.RoundTrip(req)
	if err == nil && isSuccess(resp.StatusCode) && cacheable(req) {
		body, rerr := readBody(resp)
		if rerr == nil {
			i.store(ctx, v.names.Dynamic, req, resp, body)
		} else {
			resp, err = nil, rerr
		}
	}
	if err == nil {
		metrics.RecordIntercept(NetworkFirst.String(), "network")
		return resp, nil
	}

	slog.Debug("Interceptor.networkFirst: network failed, trying cache", "path", req.URL.Path, "error", err)
	if hit := i.lookup(ctx, v.names.Dynamic, key); hit != nil {
		metrics.RecordIntercept(NetworkFirst.String(), "fallback-dynamic")
		return toResponse(req, hit, "dynamic"), nil
	}
	if IsNavigation(req) {
		if page := i.lookup(ctx, v.names.Offline, v.offlineKey); page != nil {
			metrics.RecordIntercept(NetworkFirst.String(), "fallback-offline")
			return toResponse(req, page, "offline"), nil
		}
	}
	metrics.RecordIntercept(NetworkFirst.String(), "error")
	return nil, err
}

// lookup treats read errors as misses.
func (i *Interceptor) lookup(ctx context.Context, partition, key string) *store.CachedResponse {
	hit, err := i.cache.Match(ctx, partition, key)
	if err != nil {
		slog.Warn("Interceptor.lookup: cache read failed", "partition", partition, "key", key, "error", err)
		return nil
	}
	return hit
}

// store logs write errors; the response is still returned.
func (i *Interceptor) store(ctx context.Context, partition string, req *http.Request, resp *http.Response, body []byte) {
	header := resp.Header.Clone()
	header.Del(CacheHeader)
	err := i.cache.Put(ctx, partition, store.CachedResponse{
		Key:        store.RequestKey(req.URL),
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
	})
	if err != nil {
		slog.Warn("Interceptor.store: cache write failed", "partition", partition, "path", req.URL.Path, "error", err)
	}
}

// CacheURL fetches rawURL and stores a successful response in the dynamic
// partition of the active version. URLs outside the origin are skipped.
func (i *Interceptor) CacheURL(ctx context.Context, rawURL string) error {
	v := i.active.Load()
	if v == nil {
		return fmt.Errorf("cache %s: no active cache version", rawURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("cache %s: %w", rawURL, err)
	}
	if i.origin != nil {
		u = i.origin.ResolveReference(u)
		// Partitions are keyed by path and only origin traffic is served from them.
		if !sameOrigin(u, i.origin) {
			slog.Debug("Interceptor.CacheURL: skipping URL outside the origin", "url", rawURL)
			return nil
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("cache %s: %w", rawURL, err)
	}
	resp, err := i.next.RoundTrip(req)
	if err != nil {
		return fmt.Errorf("cache %s: %w", rawURL, err)
	}
	body, err := readBody(resp)
	if err != nil {
		return fmt.Errorf("cache %s: %w", rawURL, err)
	}
	if !isSuccess(resp.StatusCode) {
		return fmt.Errorf("cache %s: status %d", rawURL, resp.StatusCode)
	}
	i.store(ctx, v.names.Dynamic, req, resp, body)
	return nil
}

// Handler returns a reverse proxy to upstream that routes every request
// through the interceptor.
func (i *Interceptor) Handler(upstream *url.URL) http.Handler {
	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.Transport = i
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		slog.Warn("Interceptor.Handler: upstream unavailable", "path", r.URL.Path, "error", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}
	return proxy
}

func sameOrigin(u, origin *url.URL) bool {
	return strings.EqualFold(u.Scheme, origin.Scheme) && strings.EqualFold(u.Host, origin.Host)
}

func isSuccess(code int) bool {
	return code >= 200 && code <= 299
}

// readBody buffers resp.Body and replaces it with an in-memory reader.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return body, nil
}

func toResponse(req *http.Request, c *store.CachedResponse, role string) *http.Response {
	header := c.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set(CacheHeader, role)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", c.StatusCode, http.StatusText(c.StatusCode)),
		StatusCode:    c.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(c.Body)),
		ContentLength: int64(len(c.Body)),
		Request:       req,
	}
}
