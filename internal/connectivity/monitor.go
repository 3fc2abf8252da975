// Package connectivity tracks whether the backend is reachable and triggers
// replay of captured actions when it becomes reachable again.
package connectivity

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tonytanb/makeriess-marketplace-sub000/internal/metrics"
)

// Replayer starts a replay of pending actions without blocking.
type Replayer interface {
	TriggerReplay()
}

// Monitor is the single source of truth for the online state. Observers are
// notified exactly once per genuine change.
type Monitor struct {
	mu       sync.Mutex
	online   bool
	subs     []func(online bool)
	replayer Replayer
}

// NewMonitor creates a monitor with the given initial state.
func NewMonitor(initial bool) *Monitor {
	metrics.SetOnline(initial)
	return &Monitor{online: initial}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetReplayer registers the replay triggered on every transition to online.
func (m *Monitor) SetReplayer(r Replayer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replayer = r
}

// Subscribe registers fn to be called on every transition. Callbacks run on
// the goroutine that called Set and must not block.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Set feeds a runtime connectivity signal. Repeating the current state is a
// no-op. It reports whether the state changed.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	subs := append([]func(bool){}, m.subs...)
	replayer := m.replayer
	m.mu.Unlock()

	metrics.SetOnline(online)
	slog.Info("Monitor.Set: connectivity changed", "online", online)

	for _, fn := range subs {
		fn(online)
	}
	if online && replayer != nil {
		replayer.TriggerReplay()
	}
	return true
}

// Start performs the initial-load trigger: if already online, pending actions
// from an earlier run are replayed.
func (m *Monitor) Start(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	m.mu.Lock()
	online, replayer := m.online, m.replayer
	m.mu.Unlock()
	if online && replayer != nil {
		slog.Debug("Monitor.Start: online at startup, triggering replay")
		replayer.TriggerReplay()
	}
}
