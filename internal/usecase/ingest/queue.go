package ingest

import (
	"context"
	"sync"

	"regwatch/internal/domain/entity"
	"regwatch/internal/observability/metrics"
)

// Queue is the bounded item queue shared by pollers and processing workers.
// Push blocks while the queue is full so slow processing throttles polling.
type Queue struct {
	ch        chan *entity.DiscoveredItem
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue creates a queue holding at most size items.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{
		ch:   make(chan *entity.DiscoveredItem, size),
		done: make(chan struct{}),
	}
}

// Push enqueues item, blocking until there is room, ctx ends or the queue closes.
func (q *Queue) Push(ctx context.Context, item *entity.DiscoveredItem) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- item:
		metrics.QueueDepth.Set(float64(len(q.ch)))
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop dequeues the oldest item, blocking until one is available.
func (q *Queue) Pop(ctx context.Context) (*entity.DiscoveredItem, error) {
	select {
	case item := <-q.ch:
		metrics.QueueDepth.Set(float64(len(q.ch)))
		return item, nil
	case <-q.done:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue bound.
func (q *Queue) Cap() int { return cap(q.ch) }

// Close wakes all blocked callers. Queued items stay pending in storage and
// are re-queued on the next start.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
