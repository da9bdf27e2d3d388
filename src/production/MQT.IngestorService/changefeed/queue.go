package changefeed

import (
	"context"
	"errors"
	"sync"

	config "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Config"
	metrics "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Models"
)

var (
	ErrQueueFull   = errors.New("change event queue full")
	ErrQueueClosed = errors.New("change event queue closed")
)

// EventQueue is the FIFO between the listener and the reconciler.
// Capacity 0 means unbounded; otherwise a full queue either blocks the
// producer or drops the newest event, depending on policy.
type EventQueue struct {
	capacity int
	drop     bool
	metrics  *metrics.BridgeMetrics

	mu       sync.Mutex
	items    []mqtmodels.TopicSubscriptionChangeEvent
	closed   bool
	notEmpty chan struct{}
	notFull  chan struct{}
	done     chan struct{}
}

func NewEventQueue(capacity int, policy string, m *metrics.BridgeMetrics) *EventQueue {
	if capacity < 0 {
		capacity = 0
	}
	return &EventQueue{
		capacity: capacity,
		drop:     policy == config.QueuePolicyDrop,
		metrics:  m,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Push appends ev. It returns ErrQueueFull when the drop policy discards it.
func (q *EventQueue) Push(ctx context.Context, ev mqtmodels.TopicSubscriptionChangeEvent) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if q.capacity == 0 || len(q.items) < q.capacity {
			q.items = append(q.items, ev)
			q.metrics.SetQueueDepth(len(q.items))
			q.mu.Unlock()
			signal(q.notEmpty)
			return nil
		}
		q.mu.Unlock()

		if q.drop {
			q.metrics.IncQueueDrop()
			return ErrQueueFull
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
		case <-q.notFull:
		}
	}
}

// Pop removes the oldest event, waiting while the queue is empty.
func (q *EventQueue) Pop(ctx context.Context) (mqtmodels.TopicSubscriptionChangeEvent, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = mqtmodels.TopicSubscriptionChangeEvent{}
			q.items = q.items[1:]
			q.metrics.SetQueueDepth(len(q.items))
			q.mu.Unlock()
			signal(q.notFull)
			return ev, nil
		}
		if q.closed {
			q.mu.Unlock()
			return mqtmodels.TopicSubscriptionChangeEvent{}, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return mqtmodels.TopicSubscriptionChangeEvent{}, ctx.Err()
		case <-q.done:
		case <-q.notEmpty:
		}
	}
}

func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further pushes. Events already queued can still be popped.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
