// Package signal carries control messages from the application to the cache
// lifecycle and interceptor. Delivery is fire-and-forget and FIFO per sender.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"
)

// MessageType names a control message.
type MessageType string

const (
	// SkipWaiting asks a waiting cache version to activate immediately.
	SkipWaiting MessageType = "SKIP_WAITING"
	// CacheURLs asks for a list of URLs to be fetched into the dynamic partition.
	CacheURLs MessageType = "CACHE_URLS"
)

var (
	ErrUnknownMessage = errors.New("unknown message type")
	ErrNoURLs         = errors.New("CACHE_URLS message without urls")
)

// Message is the wire form: {"type":"SKIP_WAITING"} or
// {"type":"CACHE_URLS","urls":[...]}.
type Message struct {
	Type MessageType `json:"type"`
	URLs []string    `json:"urls,omitempty"`
}

// Validate checks the message against the contract.
func (m Message) Validate() error {
	switch m.Type {
	case SkipWaiting:
		return nil
	case CacheURLs:
		if len(m.URLs) == 0 {
			return ErrNoURLs
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
}

// ParseMessage decodes and validates a JSON control message.
func ParseMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Channel is the sender side. Posting never blocks; when the buffer is full
// the message is dropped and logged.
type Channel struct {
	ch chan Message
}

// NewChannel creates a channel buffering up to size messages.
func NewChannel(size int) *Channel {
	if size <= 0 {
		size = 64
	}
	return &Channel{ch: make(chan Message, size)}
}

// Post enqueues msg and reports whether it was accepted.
func (c *Channel) Post(msg Message) bool {
	select {
	case c.ch <- msg:
		return true
	default:
		slog.Warn("Channel.Post: buffer full, dropping message", "type", msg.Type)
		return false
	}
}

// RequestImmediateActivation asks a waiting update to take over now.
func (c *Channel) RequestImmediateActivation() {
	c.Post(Message{Type: SkipWaiting})
}

// RequestCacheURLs asks for urls to be cached in the dynamic partition.
func (c *Channel) RequestCacheURLs(urls []string) {
	if len(urls) == 0 {
		return
	}
	c.Post(Message{Type: CacheURLs, URLs: append([]string(nil), urls...)})
}

// Activator handles SKIP_WAITING.
type Activator interface {
	SkipWaiting(ctx context.Context) error
}

// URLCacher handles each URL of CACHE_URLS.
type URLCacher interface {
	CacheURL(ctx context.Context, rawURL string) error
}

// Worker is the receiving side. It handles messages one at a time in
// arrival order.
type Worker struct {
	ch        *Channel
	activator Activator
	cacher    URLCacher
	limiter   *rate.Limiter
}

// NewWorker creates a worker. URL fetches are throttled to perSecond with
// the given burst; a non-positive perSecond disables throttling.
func NewWorker(ch *Channel, activator Activator, cacher URLCacher, perSecond float64, burst int) *Worker {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Worker{ch: ch, activator: activator, cacher: cacher, limiter: rate.NewLimiter(limit, burst)}
}

// Run handles messages until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("Worker.Run: listening for control messages")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Worker.Run: stopping")
			return
		case msg := <-w.ch.ch:
			w.Handle(ctx, msg)
		}
	}
}

// Handle processes one message. Failures are logged; there is no acknowledgment.
func (w *Worker) Handle(ctx context.Context, msg Message) {
	switch msg.Type {
	case SkipWaiting:
		if err := w.activator.SkipWaiting(ctx); err != nil {
			slog.Error("Worker.Handle: activation failed", "error", err)
		}
	case CacheURLs:
		cached := 0
		for _, u := range msg.URLs {
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
			if err := w.cacher.CacheURL(ctx, u); err != nil {
				slog.Warn("Worker.Handle: failed to cache URL", "url", u, "error", err)
				continue
			}
			cached++
		}
		slog.Debug("Worker.Handle: cached URLs", "requested", len(msg.URLs), "cached", cached)
	default:
		slog.Warn("Worker.Handle: ignoring unknown message", "type", msg.Type)
	}
}
