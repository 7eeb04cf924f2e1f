package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/queue"
)

// ReinjectStore is the parked-record surface Reinject needs.
type ReinjectStore interface {
	GetParked(ctx context.Context, id string) (ir.ParkedRecord, error)
	MarkReinjected(ctx context.Context, id string, at time.Time) (bool, error)
	ClearReinjected(ctx context.Context, id string) error
}

// Reinject hands a parked item back to the stage it was parked on, with
// attempts reset and its generation bumped so a second park is a new row.
//
// The row is marked first so concurrent operators re-enqueue at most once;
// a failed enqueue clears the mark again.
func Reinject(ctx context.Context, q queue.Queue, parked ReinjectStore, id string, at time.Time) (ir.ParkedRecord, error) {
	p, err := parked.GetParked(ctx, id)
	if err != nil {
		return ir.ParkedRecord{}, fmt.Errorf("reinject %s: %w", id, err)
	}
	if p.ReinjectedAt != nil {
		return p, fmt.Errorf("reinject %s: %w", id, ErrAlreadyReinjected)
	}

	item, err := DecodeItem(p.Item)
	if err != nil {
		return p, fmt.Errorf("reinject %s: %w", id, err)
	}
	item.Attempts = 0
	item.Generation++
	item.Trail = append(item.Trail, p.Stage+": reinjected")
	payload, err := EncodeItem(item)
	if err != nil {
		return p, fmt.Errorf("reinject %s: %w", id, err)
	}

	ok, err := parked.MarkReinjected(ctx, id, at)
	if err != nil {
		return p, fmt.Errorf("reinject %s: %w", id, err)
	}
	if !ok {
		return p, fmt.Errorf("reinject %s: %w", id, ErrAlreadyReinjected)
	}

	if err := q.Enqueue(ctx, Topic(p.Stage), payload, 0); err != nil {
		if clearErr := parked.ClearReinjected(ctx, id); clearErr != nil {
			return p, fmt.Errorf("reinject %s: enqueue: %w (clear mark: %v)", id, err, clearErr)
		}
		return p, fmt.Errorf("reinject %s: enqueue: %w", id, err)
	}

	p.ReinjectedAt = &at
	return p, nil
}
