package events

import "context"

// Queue is a bounded, single-consumer event channel owned by a per-request
// pipeline driver. Producers (stage fan-out goroutines) deliver events
// non-blockingly with respect to cancellation: a producer never blocks
// forever on a slow or absent consumer.
type Queue struct {
	ch     chan Event
	closed chan struct{}
}

// NewQueue creates a queue. Callers size the capacity proportional to the
// panel so one chunk of buffering exists per in-flight member.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:     make(chan Event, capacity),
		closed: make(chan struct{}),
	}
}

// Publish enqueues an event. It blocks if the queue is full (backpressure),
// but returns immediately without enqueueing if the queue has been closed or
// ctx is cancelled — a producer must never block forever behind a consumer
// that will never resume.
func (q *Queue) Publish(ctx context.Context, ev Event) {
	select {
	case q.ch <- ev:
	case <-q.closed:
	case <-ctx.Done():
	}
}

// Poll performs one non-blocking receive, returning ok=false if nothing is
// currently queued. Used by the driver's poll-drain loop.
func (q *Queue) Poll() (Event, bool) {
	select {
	case ev := <-q.ch:
		return ev, true
	default:
		return Event{}, false
	}
}

// Drain pulls every event currently buffered, without blocking.
func (q *Queue) Drain() []Event {
	var out []Event
	for {
		ev, ok := q.Poll()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

// Close marks the queue closed, unblocking any pending Publish calls. Safe
// to call once; callers own not calling it twice (the driver closes it
// exactly once per request at DONE/ERROR/Cancelled).
func (q *Queue) Close() {
	close(q.closed)
}
