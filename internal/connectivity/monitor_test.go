package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type countingReplayer struct{ n int }

func (c *countingReplayer) TriggerReplay() { c.n++ }

func TestMonitor_TransitionsFireOnce(t *testing.T) {
	m := NewMonitor(false)
	r := &countingReplayer{}
	m.SetReplayer(r)

	var events []bool
	m.Subscribe(func(online bool) { events = append(events, online) })

	signals := []bool{false, true, true, true, false, false, true}
	for _, s := range signals {
		m.Set(s)
	}

	want := []bool{true, false, true}
	if len(events) != len(want) {
		t.Fatalf("expected %d transitions, got %d (%v)", len(want), len(events), events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("transition %d: got %v, want %v", i, events[i], want[i])
		}
	}
	if r.n != 2 {
		t.Errorf("expected 2 replays (one per online transition), got %d", r.n)
	}
	if !m.Online() {
		t.Error("expected monitor to end online")
	}
}

func TestMonitor_SetReportsChange(t *testing.T) {
	m := NewMonitor(true)
	if m.Set(true) {
		t.Error("repeating the current state must not report a change")
	}
	if !m.Set(false) {
		t.Error("expected change to offline")
	}
}

func TestMonitor_StartTriggersInitialReplay(t *testing.T) {
	tests := []struct {
		name    string
		initial bool
		want    int
	}{
		{"online at startup", true, 1},
		{"offline at startup", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(tt.initial)
			r := &countingReplayer{}
			m.SetReplayer(r)
			m.Start(context.Background())
			if r.n != tt.want {
				t.Errorf("expected %d replays, got %d", tt.want, r.n)
			}
		})
	}
}

func TestProber(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNoContent)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.WriteHeader(int(status.Load()))
	}))

	m := NewMonitor(false)
	r := &countingReplayer{}
	m.SetReplayer(r)
	p := NewProber(m, srv.URL+"/healthz", 0, srv.Client())
	ctx := context.Background()

	if !p.Probe(ctx) || !m.Online() {
		t.Fatal("expected online after healthy probe")
	}
	status.Store(http.StatusServiceUnavailable)
	if p.Probe(ctx) || m.Online() {
		t.Fatal("expected offline after 503")
	}
	status.Store(http.StatusOK)
	p.Probe(ctx)
	srv.Close()
	if p.Probe(ctx) || m.Online() {
		t.Fatal("expected offline once the backend is unreachable")
	}
	if r.n != 2 {
		t.Errorf("expected 2 replays, got %d", r.n)
	}
}
