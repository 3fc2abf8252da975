package connectivity

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Prober derives the online state from periodic HEAD requests to a health URL.
// Any answer below 500 counts as online; transport errors and 5xx count as
// offline.
type Prober struct {
	monitor  *Monitor
	url      string
	interval time.Duration
	client   *http.Client
}

// NewProber creates a prober feeding m. A non-positive interval defaults to 15s.
func NewProber(m *Monitor, healthURL string, interval time.Duration, client *http.Client) *Prober {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Prober{monitor: m, url: healthURL, interval: interval, client: client}
}

// Probe performs one check and feeds the result to the monitor.
func (p *Prober) Probe(ctx context.Context) bool {
	online := p.check(ctx)
	p.monitor.Set(online)
	return online
}

func (p *Prober) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		slog.Error("Prober.check: bad health URL", "url", p.url, "error", err)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		slog.Debug("Prober.check: backend unreachable", "url", p.url, "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < http.StatusInternalServerError
}

// Run probes immediately and then on every interval until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	slog.Info("Prober.Run: starting", "url", p.url, "interval", p.interval)
	p.Probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Prober.Run: stopping")
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
