package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOpts = Options{LeaseTimeout: 50 * time.Millisecond, PollInterval: 5 * time.Millisecond}

type queueFactory func(t *testing.T) Queue

func backends() map[string]queueFactory {
	return map[string]queueFactory{
		"memory": func(t *testing.T) Queue {
			q := NewMemoryQueue(testOpts)
			t.Cleanup(func() { _ = q.Close() })
			return q
		},
		"sqlite": func(t *testing.T) Queue {
			q, err := NewSQLiteQueue(filepath.Join(t.TempDir(), "queue.db"), testOpts)
			require.NoError(t, err)
			t.Cleanup(func() { _ = q.Close() })
			return q
		},
	}
}

func dequeueWithin(t *testing.T, q Queue, topic string, d time.Duration) (*Delivery, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return q.Dequeue(ctx, topic)
}

func TestQueue_EnqueueDequeueAck(t *testing.T) {
	for name, newQueue := range backends() {
		t.Run(name, func(t *testing.T) {
			q := newQueue(t)
			ctx := context.Background()

			require.NoError(t, q.Enqueue(ctx, "canon.intake", []byte("a"), 0))

			d, err := dequeueWithin(t, q, "canon.intake", time.Second)
			require.NoError(t, err)
			assert.Equal(t, "canon.intake", d.Topic)
			assert.Equal(t, []byte("a"), d.Payload)
			assert.Equal(t, 1, d.Attempt)
			assert.NotEmpty(t, d.ID)

			depth, err := q.Depth(ctx, "canon.intake")
			require.NoError(t, err)
			assert.Equal(t, 1, depth, "leased items still count toward depth")

			require.NoError(t, q.Ack(ctx, d))

			depth, err = q.Depth(ctx, "canon.intake")
			require.NoError(t, err)
			assert.Equal(t, 0, depth)
		})
	}
}

func TestQueue_TopicsAreIsolated(t *testing.T) {
	for name, newQueue := range backends() {
		t.Run(name, func(t *testing.T) {
			q := newQueue(t)
			require.NoError(t, q.Enqueue(context.Background(), "canon.key", []byte("k"), 0))

			_, err := dequeueWithin(t, q, "canon.associate", 30*time.Millisecond)
			assert.ErrorIs(t, err, context.DeadlineExceeded)

			d, err := dequeueWithin(t, q, "canon.key", time.Second)
			require.NoError(t, err)
			assert.Equal(t, []byte("k"), d.Payload)
		})
	}
}

func TestQueue_DelayedItemInvisibleUntilDue(t *testing.T) {
	for name, newQueue := range backends() {
		t.Run(name, func(t *testing.T) {
			q := newQueue(t)
			require.NoError(t, q.Enqueue(context.Background(), "t", []byte("later"), 80*time.Millisecond))

			_, err := dequeueWithin(t, q, "t", 20*time.Millisecond)
			assert.ErrorIs(t, err, context.DeadlineExceeded)

			d, err := dequeueWithin(t, q, "t", time.Second)
			require.NoError(t, err)
			assert.Equal(t, []byte("later"), d.Payload)
		})
	}
}

func TestQueue_NackRedelivers(t *testing.T) {
	for name, newQueue := range backends() {
		t.Run(name, func(t *testing.T) {
			q := newQueue(t)
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, "t", []byte("x"), 0))

			first, err := dequeueWithin(t, q, "t", time.Second)
			require.NoError(t, err)
			require.NoError(t, q.Nack(ctx, first, 0))

			second, err := dequeueWithin(t, q, "t", time.Second)
			require.NoError(t, err)
			assert.Equal(t, first.ID, second.ID)
			assert.Equal(t, 2, second.Attempt)
		})
	}
}

func TestQueue_ExpiredLeaseRedelivers(t *testing.T) {
	for name, newQueue := range backends() {
		t.Run(name, func(t *testing.T) {
			q := newQueue(t)
			require.NoError(t, q.Enqueue(context.Background(), "t", []byte("x"), 0))

			first, err := dequeueWithin(t, q, "t", time.Second)
			require.NoError(t, err)

			// Not acked: visible again once the lease runs out.
			second, err := dequeueWithin(t, q, "t", time.Second)
			require.NoError(t, err)
			assert.Equal(t, first.ID, second.ID)
			assert.Equal(t, 2, second.Attempt)
		})
	}
}

func TestQueue_AckUnknownDelivery(t *testing.T) {
	for name, newQueue := range backends() {
		t.Run(name, func(t *testing.T) {
			q := newQueue(t)
			ctx := context.Background()
			require.NoError(t, q.Enqueue(ctx, "t", []byte("x"), 0))

			d, err := dequeueWithin(t, q, "t", time.Second)
			require.NoError(t, err)
			require.NoError(t, q.Ack(ctx, d))

			assert.ErrorIs(t, q.Ack(ctx, d), ErrUnknownDelivery)
			assert.ErrorIs(t, q.Nack(ctx, d, 0), ErrUnknownDelivery)
		})
	}
}

func TestQueue_CloseUnblocksDequeue(t *testing.T) {
	for name, newQueue := range backends() {
		t.Run(name, func(t *testing.T) {
			q := newQueue(t)

			errCh := make(chan error, 1)
			go func() {
				_, err := q.Dequeue(context.Background(), "t")
				errCh <- err
			}()

			time.Sleep(20 * time.Millisecond)
			require.NoError(t, q.Close())

			select {
			case err := <-errCh:
				assert.ErrorIs(t, err, ErrClosed)
			case <-time.After(time.Second):
				t.Fatal("Dequeue did not return after Close")
			}

			assert.ErrorIs(t, q.Enqueue(context.Background(), "t", []byte("x"), 0), ErrClosed)
		})
	}
}

func TestQueue_EmptyTopicRejected(t *testing.T) {
	for name, newQueue := range backends() {
		t.Run(name, func(t *testing.T) {
			q := newQueue(t)
			err := q.Enqueue(context.Background(), "", []byte("x"), 0)
			assert.True(t, errors.Is(err, ErrInvalidInput))
		})
	}
}

func TestSQLiteQueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	q, err := NewSQLiteQueue(path, testOpts)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, "t", []byte("durable"), 0))
	require.NoError(t, q.Close())

	q, err = NewSQLiteQueue(path, testOpts)
	require.NoError(t, err)
	defer q.Close()

	d, err := dequeueWithin(t, q, "t", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), d.Payload)
}

func TestPostgresQueue_Integration(t *testing.T) {
	dsn := os.Getenv("CANON_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CANON_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	q, err := NewPostgresQueue(dsn, testOpts)
	require.NoError(t, err)
	defer q.Close()

	topic := "canon.test." + time.Now().Format("150405.000000000")
	require.NoError(t, q.Enqueue(ctx, topic, []byte("pg"), 0))

	d, err := dequeueWithin(t, q, topic, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("pg"), d.Payload)
	require.NoError(t, q.Ack(ctx, d))
}
