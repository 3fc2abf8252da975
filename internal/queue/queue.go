// Package queue captures mutations made while offline and replays them to the
// backend once connectivity returns.
//
// Delivery is at-least-once. Each record carries an idempotency key sent with
// every attempt, and a replay pass claims a record before posting it so that
// overlapping passes skip records already in flight.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/metrics"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/models"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/store"
)

// OnlineReporter reports the current connectivity state.
type OnlineReporter interface {
	Online() bool
}

type alwaysOffline struct{}

func (alwaysOffline) Online() bool { return false }

// ReplayResult summarizes one replay pass.
type ReplayResult struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// SubmitResult reports how Submit handled a mutation.
type SubmitResult struct {
	Delivered bool  `json:"delivered"`
	QueuedID  int64 `json:"queuedId,omitempty"`
}

// Queue bridges user mutations, the durable action log and the backend.
type Queue struct {
	log            store.ActionLog
	deliverer      Deliverer
	conn           OnlineReporter
	policy         RetryPolicy
	interval       time.Duration
	staleThreshold time.Duration
	now            func() time.Time

	// mu orders wg.Add in TriggerReplay against Close.
	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithConnectivity sets the source of the online state. Without it the queue
// assumes it is offline and never triggers replay on its own.
func WithConnectivity(c OnlineReporter) Option {
	return func(q *Queue) { q.conn = c }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(q *Queue) { q.policy = p }
}

// WithReplayInterval enables periodic replay from Run.
func WithReplayInterval(d time.Duration) Option {
	return func(q *Queue) { q.interval = d }
}

// WithStaleThreshold sets how long a claim may be held before another pass
// may take the record over.
func WithStaleThreshold(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.staleThreshold = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a Queue over the given action log and deliverer.
func New(log store.ActionLog, deliverer Deliverer, opts ...Option) *Queue {
	q := &Queue{
		log:            log,
		deliverer:      deliverer,
		conn:           alwaysOffline{},
		staleThreshold: 5 * time.Minute,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())
	return q
}

// Enqueue durably stores an action and returns its id. Storage failures are
// returned to the caller. If the system is online once the insert commits, a
// replay is started in the background.
func (q *Queue) Enqueue(ctx context.Context, a models.NewAction) (int64, error) {
	id, err := q.insert(ctx, a)
	if err != nil {
		return 0, err
	}
	if q.conn.Online() {
		slog.Debug("Queue.Enqueue: online after insert, triggering replay", "id", id)
		q.TriggerReplay()
	}
	return id, nil
}

func (q *Queue) insert(ctx context.Context, a models.NewAction) (int64, error) {
	if err := a.Validate(); err != nil {
		return 0, fmt.Errorf("invalid action: %w", err)
	}
	id, err := q.log.Insert(ctx, a)
	if err != nil {
		slog.Error("Queue.Enqueue: failed to persist action", "type", a.Type, "action", a.Action, "error", err)
		return 0, fmt.Errorf("enqueue %s %s: %w", a.Type, a.Action, err)
	}
	slog.Info("Queue.Enqueue: action captured", "id", id, "type", a.Type, "action", a.Action)
	return id, nil
}

// Submit is the application entry point for a mutation. Online, it delivers
// directly and falls back to the log when delivery fails; offline, it
// enqueues. The mutation is never dropped: if it cannot be delivered or
// stored, the error is returned.
func (q *Queue) Submit(ctx context.Context, a models.NewAction) (SubmitResult, error) {
	if err := a.Validate(); err != nil {
		return SubmitResult{}, fmt.Errorf("invalid action: %w", err)
	}
	if !q.conn.Online() {
		id, err := q.Enqueue(ctx, a)
		if err != nil {
			return SubmitResult{}, err
		}
		return SubmitResult{QueuedID: id}, nil
	}

	direct := models.PendingAction{
		Type:           a.Type,
		Action:         a.Action,
		Data:           a.Data,
		Timestamp:      q.now(),
		IdempotencyKey: uuid.NewString(),
	}
	err := q.deliverer.Deliver(ctx, direct)
	if err == nil {
		metrics.RecordDelivery("delivered")
		return SubmitResult{Delivered: true}, nil
	}
	slog.Warn("Queue.Submit: direct delivery failed, capturing for replay", "type", a.Type, "action", a.Action, "error", err)
	metrics.RecordDelivery("failed")

	id, err := q.insert(ctx, a)
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{QueuedID: id}, nil
}

// Replay attempts delivery of every pending action in insertion order, one at
// a time. Delivered actions are deleted; failed ones stay for the next
// trigger. A failure never stops the pass. Only a failure to read the log is
// returned as an error.
func (q *Queue) Replay(ctx context.Context) (ReplayResult, error) {
	var res ReplayResult
	pending, err := q.log.ListAll(ctx)
	if err != nil {
		slog.Error("Queue.Replay: failed to list pending actions", "error", err)
		return res, fmt.Errorf("list pending actions: %w", err)
	}
	metrics.SetQueueDepth(len(pending))
	if len(pending) == 0 {
		return res, nil
	}
	slog.Info("Queue.Replay: starting", "pending", len(pending))

	for _, a := range pending {
		if ctx.Err() != nil {
			break
		}
		now := q.now()
		if q.policy.Exhausted(a.Attempts) {
			slog.Debug("Queue.Replay: attempts exhausted, skipping", "id", a.ID, "attempts", a.Attempts)
			res.Skipped++
			metrics.RecordDelivery("skipped")
			continue
		}
		if a.NextAttemptAt != nil && now.Before(*a.NextAttemptAt) {
			res.Skipped++
			metrics.RecordDelivery("skipped")
			continue
		}

		claimed, err := q.log.ClaimAction(ctx, a.ID, now, now.Add(-q.staleThreshold))
		if err != nil {
			slog.Error("Queue.Replay: claim failed", "id", a.ID, "error", err)
			res.Failed++
			continue
		}
		if !claimed {
			slog.Debug("Queue.Replay: action in flight or gone, skipping", "id", a.ID)
			res.Skipped++
			metrics.RecordDelivery("skipped")
			continue
		}

		res.Attempted++
		if err := q.deliverer.Deliver(ctx, a); err != nil {
			res.Failed++
			metrics.RecordDelivery("failed")
			slog.Warn("Queue.Replay: delivery failed, keeping action", "id", a.ID, "attempts", a.Attempts+1, "error", err)
			next := q.policy.NextAttempt(now, a.Attempts)
			if err := q.log.ReleaseAction(ctx, a.ID, err.Error(), next); err != nil {
				slog.Error("Queue.Replay: release failed", "id", a.ID, "error", err)
			}
			continue
		}

		res.Delivered++
		metrics.RecordDelivery("delivered")
		if err := q.log.DeleteByID(ctx, a.ID); err != nil {
			// The claim goes stale and the action is sent again later.
			slog.Error("Queue.Replay: delete after delivery failed", "id", a.ID, "error", err)
		}
	}

	slog.Info("Queue.Replay: finished", "attempted", res.Attempted, "delivered", res.Delivered, "failed", res.Failed, "skipped", res.Skipped)
	return res, nil
}

// TriggerReplay starts a replay pass in the background. Overlapping passes
// are allowed.
func (q *Queue) TriggerReplay() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if _, err := q.Replay(q.ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Queue.TriggerReplay: replay failed", "error", err)
		}
	}()
}

// Wait blocks until every background replay has returned.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Close stops background replays and waits for them to return.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
}

// endOfTime is later than any claim timestamp.
var endOfTime = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// RecoverState releases every claim left behind by a previous process,
// however recent. The state directory lock means no live process holds one.
// Must be called once at startup before any replay.
func (q *Queue) RecoverState(ctx context.Context) error {
	n, err := q.log.RequeueStaleClaims(ctx, endOfTime)
	if err != nil {
		return fmt.Errorf("requeue stale claims: %w", err)
	}
	if n > 0 {
		slog.Info("Queue.RecoverState: released stale claims", "count", n)
	}
	return nil
}

// Run replays on a fixed interval while online. It blocks until the context
// is cancelled and returns immediately when no interval is configured.
func (q *Queue) Run(ctx context.Context) {
	if q.interval <= 0 {
		return
	}
	slog.Info("Queue.Run: starting periodic replay", "interval", q.interval)

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Queue.Run: stopping")
			return
		case <-ticker.C:
			if !q.conn.Online() {
				continue
			}
			if _, err := q.Replay(ctx); err != nil {
				slog.Error("Queue.Run: replay failed", "error", err)
			}
		}
	}
}

// Pending returns every stored action in insertion order.
func (q *Queue) Pending(ctx context.Context) ([]models.PendingAction, error) {
	return q.log.ListAll(ctx)
}

// Remove deletes one stored action. Removing an absent id is not an error.
func (q *Queue) Remove(ctx context.Context, id int64) error {
	return q.log.DeleteByID(ctx, id)
}

// Clear deletes every stored action.
func (q *Queue) Clear(ctx context.Context) error {
	if err := q.log.ClearAll(ctx); err != nil {
		return err
	}
	metrics.SetQueueDepth(0)
	slog.Info("Queue.Clear: pending actions cleared")
	return nil
}
