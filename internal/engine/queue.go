package engine

import (
	"sync"

	"github.com/roach88/facet/internal/entity"
)

// task is one scheduled recomputation.
type task struct {
	TenantID string
	Dep      entity.Dep
}

// workQueue is a thread-safe FIFO of pending recomputations with
// per-item de-duplication: enqueuing a property already waiting is a
// no-op, so a burst of mutations to one source schedules its dependents
// once.
//
// The queue is unbounded so staleness cascades can schedule arbitrarily
// many recomputations without blocking the writer that triggered them.
//
// The signal channel enables context-aware waiting in the Run loop.
type workQueue struct {
	mu     sync.Mutex
	tasks  []task
	queued map[task]bool
	closed bool
	signal chan struct{} // Signals task availability (buffered, size 1)
}

func newWorkQueue() *workQueue {
	return &workQueue{
		tasks:  make([]task, 0, 64),
		queued: make(map[task]bool),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue schedules a task unless it is already waiting.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *workQueue) Enqueue(t task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.queued[t] {
		return true
	}

	q.tasks = append(q.tasks, t)
	q.queued[t] = true

	// Non-blocking send - buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (task{}, false) if the queue is empty.
func (q *workQueue) TryDequeue() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return task{}, false
	}

	t := q.tasks[0]
	delete(q.queued, t)

	if len(q.tasks) == 1 {
		// Last element - reset to empty slice, keep capacity
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}

	return t, true
}

// Wait returns a channel that signals when tasks may be available.
// Use with select for context-aware waiting.
func (q *workQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Closed reports whether the queue has been closed.
func (q *workQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more tasks will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *workQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// entityLockSet hands out one mutex per (tenant, entity), created on
// first use, so pool workers never recompute properties of the same
// entity concurrently. Locks live for the orchestrator's lifetime; the
// set grows with the number of distinct entities touched by background
// work, which is bounded by the store.
type entityLockSet struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newEntityLockSet() *entityLockSet {
	return &entityLockSet{locks: make(map[string]*sync.Mutex)}
}

func (s *entityLockSet) acquire(tenantID, entityID string) *sync.Mutex {
	key := tenantID + "/" + entityID
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[key] = l
	return l
}
