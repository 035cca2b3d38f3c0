package store

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dicelobby/backend/internal/core"
	"github.com/dicelobby/backend/internal/monitoring"
)

// SaveQueue debounces snapshot saves. Handlers enqueue a cloned state after
// every mutation; bursts within the debounce window collapse into one write
// of the most recent snapshot. Save failures are logged and dropped —
// persistence never blocks or fails a handler.
type SaveQueue struct {
	store   Store
	delay   time.Duration
	timeout time.Duration
	logger  *log.Logger

	mu      sync.Mutex
	pending *core.State
	timer   *time.Timer
	closed  bool
	wg      sync.WaitGroup
}

// NewSaveQueue wraps a store with debounced, non-blocking saves.
func NewSaveQueue(s Store, delay, timeout time.Duration) *SaveQueue {
	if delay <= 0 {
		delay = 250 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &SaveQueue{
		store:   s,
		delay:   delay,
		timeout: timeout,
		logger:  log.New(log.Writer(), "[STORE] ", log.LstdFlags),
	}
}

// Enqueue records the snapshot as the pending save and arms the debounce
// timer. The snapshot must already be detached from live state (cloned
// under the catalog lock).
func (q *SaveQueue) Enqueue(state *core.State) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = state
	if q.timer == nil {
		q.wg.Add(1)
		q.timer = time.AfterFunc(q.delay, q.flush)
	}
}

// flush writes the latest pending snapshot outside any lock.
func (q *SaveQueue) flush() {
	defer q.wg.Done()

	q.mu.Lock()
	state := q.pending
	q.pending = nil
	q.timer = nil
	q.mu.Unlock()

	if state == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	if err := q.store.Save(ctx, state); err != nil {
		monitoring.SnapshotSaves.WithLabelValues("error").Inc()
		q.logger.Printf("snapshot save failed: %v", err)
		return
	}
	monitoring.SnapshotSaves.WithLabelValues("ok").Inc()
}

// Close flushes any pending snapshot synchronously and stops the queue.
func (q *SaveQueue) Close() {
	q.mu.Lock()
	q.closed = true
	state := q.pending
	q.pending = nil
	if q.timer != nil {
		if q.timer.Stop() {
			q.wg.Done()
		}
		q.timer = nil
	}
	q.mu.Unlock()

	q.wg.Wait()

	if state != nil {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		defer cancel()
		if err := q.store.Save(ctx, state); err != nil {
			q.logger.Printf("final snapshot save failed: %v", err)
		}
	}
}
