package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryItem is one queued payload with its visibility deadline.
type memoryItem struct {
	id        string
	payload   []byte
	visibleAt time.Time
	attempts  int
}

// MemoryQueue is an in-process queue for tests and single-process runs.
// Nothing survives a restart.
//
// Each topic keeps its items in a slice; a buffered signal channel (size 1)
// wakes Dequeue callers when something is enqueued or released, so waits are
// context-aware rather than sleep loops.
type MemoryQueue struct {
	opts Options
	now  func() time.Time

	mu     sync.Mutex
	topics map[string][]*memoryItem
	signal map[string]chan struct{}
	closed bool
	done   chan struct{}
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{
		opts:   opts.withDefaults(),
		now:    time.Now,
		topics: make(map[string][]*memoryItem),
		signal: make(map[string]chan struct{}),
		done:   make(chan struct{}),
	}
}

// signalLocked returns the topic's signal channel. Caller holds q.mu.
func (q *MemoryQueue) signalLocked(topic string) chan struct{} {
	ch, ok := q.signal[topic]
	if !ok {
		ch = make(chan struct{}, 1)
		q.signal[topic] = ch
	}
	return ch
}

// notifyLocked wakes one waiter on topic. Non-blocking: the buffer of 1
// coalesces multiple signals.
func (q *MemoryQueue) notifyLocked(topic string) {
	select {
	case q.signalLocked(topic) <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, topic string, payload []byte, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if topic == "" {
		return ErrInvalidInput
	}

	q.topics[topic] = append(q.topics[topic], &memoryItem{
		id:        uuid.Must(uuid.NewV7()).String(),
		payload:   append([]byte(nil), payload...),
		visibleAt: q.now().Add(delay),
	})
	q.notifyLocked(topic)
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, topic string) (*Delivery, error) {
	for {
		d, wait, signal, err := q.tryDequeue(topic)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.done:
			timer.Stop()
			return nil, ErrClosed
		case <-signal:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// tryDequeue leases the first visible item. When none is visible it returns
// how long to wait before the next one could be.
func (q *MemoryQueue) tryDequeue(topic string) (*Delivery, time.Duration, <-chan struct{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, 0, nil, ErrClosed
	}

	now := q.now()
	wait := q.opts.PollInterval
	for _, item := range q.topics[topic] {
		if !item.visibleAt.After(now) {
			item.attempts++
			item.visibleAt = now.Add(q.opts.LeaseTimeout)
			return &Delivery{
				ID:      item.id,
				Topic:   topic,
				Payload: append([]byte(nil), item.payload...),
				Attempt: item.attempts,
			}, 0, nil, nil
		}
		if until := item.visibleAt.Sub(now); until < wait {
			wait = until
		}
	}
	return nil, wait, q.signalLocked(topic), nil
}

func (q *MemoryQueue) Ack(_ context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.topics[d.Topic]
	for i, item := range items {
		if item.id == d.ID {
			// Nil the slot so the payload can be collected.
			items[i] = nil
			q.topics[d.Topic] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("ack %s: %w", d.ID, ErrUnknownDelivery)
}

func (q *MemoryQueue) Nack(_ context.Context, d *Delivery, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.topics[d.Topic] {
		if item.id == d.ID {
			item.visibleAt = q.now().Add(delay)
			q.notifyLocked(d.Topic)
			return nil
		}
	}
	return fmt.Errorf("nack %s: %w", d.ID, ErrUnknownDelivery)
}

func (q *MemoryQueue) Depth(_ context.Context, topic string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.topics[topic]), nil
}

// Close wakes every blocked Dequeue with ErrClosed.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}
