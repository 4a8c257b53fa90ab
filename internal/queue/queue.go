// Package queue captures state-changing requests issued while the host is
// disconnected, persists them, and replays them in order when connectivity
// returns. A mutation is never silently dropped: a failed replay stays
// queued for the next reconnect edge.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/harborwatch/fleetcore/internal/store"
)

// storeKey is the durable-store key holding the queue snapshot.
const storeKey = "pending-mutations"

// PendingMutation is one deferred state-changing request.
type PendingMutation struct {
	ID         string            `cbor:"id"`
	Target     string            `cbor:"target"`
	Method     string            `cbor:"method"`
	Headers    map[string]string `cbor:"headers,omitempty"`
	Body       []byte            `cbor:"body,omitempty"`
	EnqueuedAt time.Time         `cbor:"enqueued_at"`
}

// Dispatcher reissues a queued mutation against the remote endpoint. The
// request coordinator implements this with offline handling disabled so a
// replay can never re-enqueue itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, m PendingMutation) error
}

// Queue is the persisted FIFO of pending mutations. It has two states:
// idle and draining. Draining is entered on a reconnect edge and exits when
// one pass over the queue completes; items that fail the pass wait for the
// next edge rather than looping immediately.
type Queue struct {
	logger  *slog.Logger
	store   store.Store
	metrics *Metrics

	mu         sync.Mutex
	items      []PendingMutation
	draining   bool
	dispatcher Dispatcher
}

// New creates a Queue over the given store, restoring any persisted items.
// A nil store disables persistence (tests only; production always persists).
func New(s store.Store, metrics *Metrics, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		logger:  logger,
		store:   s,
		metrics: metrics,
	}
	q.load()
	q.observeDepth()
	return q
}

// SetDispatcher wires the replay target. Must be called before the first
// reconnect edge; enqueueing works without it.
func (q *Queue) SetDispatcher(d Dispatcher) {
	q.mu.Lock()
	q.dispatcher = d
	q.mu.Unlock()
}

// Enqueue appends a mutation and persists the queue. The mutation's ID and
// enqueue timestamp are assigned here.
func (q *Queue) Enqueue(ctx context.Context, m PendingMutation) PendingMutation {
	m.ID = uuid.New().String()
	m.EnqueuedAt = time.Now().UTC()

	q.mu.Lock()
	q.items = append(q.items, m)
	q.persistLocked(ctx)
	depth := len(q.items)
	q.mu.Unlock()

	q.logger.Info("mutation queued for replay",
		slog.String("id", m.ID),
		slog.String("method", m.Method),
		slog.String("target", m.Target),
		slog.Int("depth", depth))
	q.observeDepth()
	return m
}

// PendingCount reports the number of mutations awaiting replay.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns a copy of the queued mutations in FIFO order.
func (q *Queue) Pending() []PendingMutation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]PendingMutation, len(q.items))
	copy(out, q.items)
	return out
}

// Replay drains the queue once, in enqueue order. A mutation leaves the
// queue, and the snapshot is persisted, only after its dispatch succeeds, so
// a crash mid-drain never loses undispatched work. Failed mutations stay in
// place and wait for the next reconnect edge. A replay already in progress
// makes this call a no-op.
func (q *Queue) Replay(ctx context.Context) {
	q.mu.Lock()
	if q.draining || len(q.items) == 0 || q.dispatcher == nil {
		q.mu.Unlock()
		return
	}
	q.draining = true
	batch := make([]PendingMutation, len(q.items))
	copy(batch, q.items)
	dispatcher := q.dispatcher
	q.mu.Unlock()

	q.logger.Info("replaying queued mutations", slog.Int("count", len(batch)))

	for _, m := range batch {
		if err := dispatcher.Dispatch(ctx, m); err != nil {
			// Never removed, so the persisted snapshot still carries it.
			q.logger.Warn("mutation replay failed, keeping queued",
				slog.String("id", m.ID),
				slog.String("target", m.Target),
				slog.String("error", err.Error()))
			if q.metrics != nil {
				q.metrics.IncReplayFailures()
			}
			continue
		}

		if q.metrics != nil {
			q.metrics.IncReplayed()
		}
		q.mu.Lock()
		q.removeLocked(m.ID)
		q.persistLocked(ctx)
		q.mu.Unlock()
	}

	q.mu.Lock()
	q.draining = false
	remaining := len(q.items)
	q.mu.Unlock()

	q.logger.Info("replay pass complete", slog.Int("remaining", remaining))
	q.observeDepth()
}

// removeLocked deletes the item with the given ID, preserving FIFO order of
// the rest. Callers must hold the mutex.
func (q *Queue) removeLocked(id string) {
	for i, m := range q.items {
		if m.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

// load restores the persisted queue snapshot.
func (q *Queue) load() {
	if q.store == nil {
		return
	}

	data, ok, err := q.store.Get(context.Background(), storeKey)
	if err != nil {
		q.logger.Warn("failed to load mutation queue, starting empty", "error", err)
		return
	}
	if !ok {
		return
	}

	var items []PendingMutation
	if err := cbor.Unmarshal(data, &items); err != nil {
		q.logger.Warn("failed to decode mutation queue, starting empty", "error", err)
		return
	}
	q.items = items
}

// persistLocked writes the queue through the store. Callers must hold the
// mutex. Failures are logged and swallowed; the in-memory queue stays
// authoritative for this process's lifetime.
func (q *Queue) persistLocked(ctx context.Context) {
	if q.store == nil {
		return
	}

	data, err := cbor.Marshal(q.items)
	if err != nil {
		q.logger.Warn("failed to encode mutation queue", "error", err)
		return
	}
	if err := q.store.Set(ctx, storeKey, data); err != nil {
		q.logger.Warn("failed to persist mutation queue", "error", err)
	}
}

func (q *Queue) observeDepth() {
	if q.metrics != nil {
		q.metrics.SetDepth(float64(q.PendingCount()))
	}
}
