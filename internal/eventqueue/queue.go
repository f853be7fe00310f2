package eventqueue

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/lfq"
)

// Queue is the spec's lock-free event queue (§4.1), backed by
// lfq.NewMPSC[Event]. lfq's MPSC is itself non-blocking on both ends
// (ErrWouldBlock on full/empty) — Queue layers the spec's required
// semantics on top: post never fails after startup, and the consumer
// blocks on a counting semaphore between drain attempts instead of
// spinning.
type Queue struct {
	ring *lfq.MPSC[Event]
	sem  chan struct{}

	overflowMu sync.Mutex
	overflow   []Event

	logger *slog.Logger

	overflowActive atomic.Bool
	overflowTotal  atomic.Uint64
}

// New creates a queue with the given primary-ring capacity (rounded up to
// the next power of two by lfq). The semaphore is sized to the same
// capacity; overflow items still post to it non-blockingly so a burst past
// capacity cannot deadlock a producer.
func New(capacity int, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		ring:   lfq.NewMPSC[Event](capacity),
		sem:    make(chan struct{}, capacity),
		logger: logger,
	}
}

// Post enqueues an event. Never blocks, never fails: on ring exhaustion it
// falls back to a mutex-guarded overflow slice and logs a warning once per
// overflow episode rather than once per event.
func (q *Queue) Post(e Event) {
	if err := q.ring.Enqueue(&e); err == nil {
		q.wake()
		return
	}

	q.overflowMu.Lock()
	q.overflow = append(q.overflow, e)
	q.overflowMu.Unlock()
	q.overflowTotal.Add(1)

	if !q.overflowActive.Swap(true) {
		q.logger.Warn("eventqueue: primary ring exhausted, spilling to overflow",
			slog.Int("ring_capacity", q.ring.Cap()))
	}
	q.wake()
}

// wake posts to the counting semaphore without blocking. Every successful
// Post (ring or overflow) calls it exactly once, but the semaphore is
// capped at ring capacity, so while more events than that are pending it
// undercounts them (and can reach zero before the overflow is drained).
// The dispatcher drains until DrainOne reports empty before it waits, so
// a short count never strands an event.
func (q *Queue) wake() {
	select {
	case q.sem <- struct{}{}:
	default:
	}
}

// DrainOne returns the next event, trying the primary ring first and the
// overflow slice second. The ok result is false if both are empty. Each
// returned event takes one semaphore token, if one is available.
func (q *Queue) DrainOne() (Event, bool) {
	if e, err := q.ring.Dequeue(); err == nil {
		select {
		case <-q.sem:
		default:
		}
		return e, true
	}

	q.overflowMu.Lock()
	if len(q.overflow) > 0 {
		e := q.overflow[0]
		q.overflow = q.overflow[1:]
		if len(q.overflow) == 0 {
			q.overflow = nil
			q.overflowActive.Store(false)
		}
		q.overflowMu.Unlock()
		select {
		case <-q.sem:
		default:
		}
		return e, true
	}
	q.overflowMu.Unlock()

	return Event{}, false
}

// Wait blocks until DrainOne is likely to return an event, or until stop is
// closed. Called by the dispatcher between drain attempts once DrainOne
// has reported empty.
func (q *Queue) Wait(stop <-chan struct{}) {
	select {
	case <-q.sem:
	case <-stop:
	}
}

// Quiescent reports whether the queue currently has no events pending in
// either the ring or the overflow slice. Nothing on the hot path calls it;
// the queue has no reset entrypoint.
func (q *Queue) Quiescent() bool {
	q.overflowMu.Lock()
	overflowEmpty := len(q.overflow) == 0
	q.overflowMu.Unlock()
	return overflowEmpty && len(q.sem) == 0
}

// OverflowTotal returns the lifetime count of events that spilled to the
// overflow slice, surfaced in the debug dashboard and structured logs.
func (q *Queue) OverflowTotal() uint64 {
	return q.overflowTotal.Load()
}

// Cap returns the primary ring's effective capacity.
func (q *Queue) Cap() int {
	return q.ring.Cap()
}

// Depth estimates the number of events currently pending, for the debug
// dashboard's landing page. Reads the semaphore's buffered length, the
// same approximation Quiescent uses. The semaphore is capped at ring
// capacity, so while the overflow slice is in use Depth undercounts and
// can read zero before all pending events are drained.
func (q *Queue) Depth() int {
	return len(q.sem)
}
