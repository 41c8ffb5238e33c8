// Package reconcile runs the background loop that replays queued writes
// once the remote store is reachable again.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tailored-agentic-units/sharedmem/observability"
)

// DefaultInterval is the pause between drain attempts.
const DefaultInterval = time.Second

// Reconciler event types.
const (
	EventStart   observability.EventType = "reconcile.start"
	EventStop    observability.EventType = "reconcile.stop"
	EventDiscard observability.EventType = "reconcile.discard"
	EventError   observability.EventType = "reconcile.error"
)

var (
	ErrAlreadyStarted = errors.New("reconciler already started")
	ErrStopped        = errors.New("reconciler stopped")
)

// Drainer is the queue the loop works on. *cache.Cache implements it.
type Drainer interface {
	DrainOnce(ctx context.Context) (succeeded, remaining int, err error)
	Len() int
}

// Reconciler drains a Drainer on a fixed interval until stopped.
type Reconciler struct {
	drainer  Drainer
	interval time.Duration
	observer observability.Observer

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
	left    int
	err     error
}

// New creates a Reconciler. A non-positive interval selects DefaultInterval
// and a nil observer discards events.
func New(drainer Drainer, interval time.Duration, observer observability.Observer) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	return &Reconciler{
		drainer:  drainer,
		interval: interval,
		observer: observer,
	}
}

// Interval returns the pause between drain attempts.
func (r *Reconciler) Interval() time.Duration {
	return r.interval
}

// Start launches the loop. It runs until Stop is called or ctx is done.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrStopped
	}
	if r.done != nil {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	observability.Emit(ctx, r.observer, EventStart, observability.LevelInfo, "reconcile.Start",
		map[string]any{"interval": r.interval.String()})

	go r.loop(loopCtx)
	return nil
}

// Stop ends the loop, waits for an in-flight pass to reach a write
// boundary, then makes one last drain attempt with ctx. It returns how many
// writes are still queued. Later calls return the first call's result.
func (r *Reconciler) Stop(ctx context.Context) (remaining int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return r.left, r.err
	}
	r.stopped = true

	if r.cancel != nil {
		r.cancel()
		select {
		case <-r.done:
		case <-ctx.Done():
			r.left, r.err = r.drainer.Len(), ctx.Err()
			return r.left, r.err
		}
	}

	succeeded, left, err := r.drainer.DrainOnce(ctx)
	r.left, r.err = left, err

	observability.Emit(ctx, r.observer, EventStop, observability.LevelInfo, "reconcile.Stop",
		map[string]any{"succeeded": succeeded, "remaining": left})
	if left > 0 {
		observability.Emit(ctx, r.observer, EventDiscard, observability.LevelWarning, "reconcile.Stop",
			map[string]any{"remaining": left})
	}

	return r.left, r.err
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.drainer.Len() == 0 {
				continue
			}
			if _, _, err := r.drainer.DrainOnce(ctx); err != nil {
				observability.Emit(ctx, r.observer, EventError, observability.LevelError, "reconcile.loop",
					map[string]any{"error": err.Error()})
			}
		}
	}
}
