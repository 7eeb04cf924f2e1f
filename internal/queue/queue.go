// Package queue provides the durable work queue the pipeline stages read
// from and write to.
//
// Delivery is at-least-once with visibility-timeout leases: Dequeue hides an
// item for the lease duration, Ack deletes it, Nack makes it visible again
// after a delay. An item whose lease expires without Ack is redelivered.
// Per-topic ordering is not guaranteed.
//
// Backends are selected by DSN (see Open): memory://, sqlite:///path and
// postgres://.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("queue closed")

	// ErrUnknownDelivery is returned when acking or nacking an item that is
	// no longer queued, typically because another consumer already acked a
	// redelivered copy.
	ErrUnknownDelivery = errors.New("unknown delivery")

	// ErrInvalidInput is returned for empty topics or malformed DSNs.
	ErrInvalidInput = errors.New("invalid input")
)

// Delivery is one leased item.
type Delivery struct {
	ID      string
	Topic   string
	Payload []byte

	// Attempt counts deliveries of this item, starting at 1.
	Attempt int
}

// Queue is the durable queue contract.
type Queue interface {
	// Enqueue adds payload to topic, invisible until delay has elapsed.
	Enqueue(ctx context.Context, topic string, payload []byte, delay time.Duration) error

	// Dequeue blocks until an item on topic is visible, leases it and
	// returns it. Returns ctx.Err() on cancellation and ErrClosed once the
	// queue is closed.
	Dequeue(ctx context.Context, topic string) (*Delivery, error)

	// Ack removes a delivered item.
	Ack(ctx context.Context, d *Delivery) error

	// Nack releases a delivered item to become visible again after delay.
	Nack(ctx context.Context, d *Delivery, delay time.Duration) error

	// Depth counts items on topic, leased or not.
	Depth(ctx context.Context, topic string) (int, error)

	Close() error
}

// Options tune lease and polling behaviour. Zero values take defaults.
type Options struct {
	// LeaseTimeout is how long a dequeued item stays hidden without Ack.
	LeaseTimeout time.Duration

	// PollInterval bounds how long Dequeue sleeps between checks for
	// delayed or lease-expired items.
	PollInterval time.Duration
}

const (
	defaultLeaseTimeout = 30 * time.Second
	defaultPollInterval = 50 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.LeaseTimeout <= 0 {
		o.LeaseTimeout = defaultLeaseTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	return o
}
