package bus

import (
	"context"
	"sync"

	"github.com/yanun0323/errors"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// queue is a bounded, non-blocking event queue drained by the dispatch loop.
// mu keeps close from racing an in-flight push: a send on a closed channel
// panics, so close waits until no push holds the read lock.
type queue struct {
	ch     chan Event
	mu     sync.RWMutex
	closed bool
}

func newQueue(capacity int) *queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &queue{ch: make(chan Event, capacity)}
}

// tryPush enqueues an event without blocking.
func (q *queue) tryPush(e Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *queue) depth() int {
	return len(q.ch)
}

// close stops the queue from accepting new events.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// run consumes events until the context is done or the queue is closed.
func (q *queue) run(ctx context.Context, handler func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-q.ch:
			if !ok {
				return
			}
			handler(e)
		}
	}
}
