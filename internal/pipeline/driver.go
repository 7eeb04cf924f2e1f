package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/queue"
)

const tracerName = "github.com/roach88/canon/internal/pipeline"

// DefaultMaxAttempts bounds Retry actions that do not set MaxAttempts.
const DefaultMaxAttempts = 5

// ParkStore persists parked items.
type ParkStore interface {
	PutParked(ctx context.Context, p ir.ParkedRecord) (bool, error)
}

// DriverConfig configures one stage's driver.
type DriverConfig struct {
	Stage        string
	Queue        queue.Queue
	Interceptors []Interceptor
	Parked       ParkStore

	// Workers is the number of concurrent consumers (default 1).
	Workers int

	Backoff     Backoff
	MaxAttempts int

	// OnComplete runs for items that advance past the last stage.
	OnComplete func(ctx context.Context, item *WorkItem) error

	Clock  ir.Clock
	Logger *slog.Logger
	Tracer trace.Tracer
}

// Driver consumes one stage's topic and routes every item by the action
// its interceptors return.
type Driver struct {
	cfg  DriverConfig
	next string // "" after the last stage
}

// NewDriver validates cfg and fills defaults.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if !IsStage(cfg.Stage) {
		return nil, fmt.Errorf("new driver: unknown stage %q", cfg.Stage)
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("new driver %s: queue is required", cfg.Stage)
	}
	if cfg.Parked == nil {
		return nil, fmt.Errorf("new driver %s: park store is required", cfg.Stage)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Clock == nil {
		cfg.Clock = ir.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("stage", cfg.Stage)
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}

	next, _ := NextStage(cfg.Stage)
	return &Driver{cfg: cfg, next: next}, nil
}

// Stage returns the stage this driver runs.
func (d *Driver) Stage() string { return d.cfg.Stage }

// Run consumes the stage topic with the configured number of workers until
// ctx is cancelled or the queue is closed.
func (d *Driver) Run(ctx context.Context) error {
	d.cfg.Logger.Info("stage driver starting", "workers", d.cfg.Workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			return d.work(ctx)
		})
	}
	err := g.Wait()

	d.cfg.Logger.Info("stage driver stopped")
	return err
}

func (d *Driver) work(ctx context.Context) error {
	topic := Topic(d.cfg.Stage)
	for {
		delivery, err := d.cfg.Queue.Dequeue(ctx, topic)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			d.cfg.Logger.Error("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.cfg.Backoff.Base):
			}
			continue
		}

		if err := d.Process(ctx, delivery); err != nil {
			d.cfg.Logger.Error("process failed",
				"delivery_id", delivery.ID,
				"attempt", delivery.Attempt,
				"error", err)
		}
	}
}

// Process handles one delivery: decode, run the stage, route, ack.
// A routing failure nacks the delivery for redelivery with backoff.
func (d *Driver) Process(ctx context.Context, delivery *queue.Delivery) error {
	item, err := DecodeItem(delivery.Payload)
	if err != nil {
		return d.parkUndecodable(ctx, delivery, err)
	}

	ctx, span := d.cfg.Tracer.Start(ctx, "stage."+d.cfg.Stage,
		trace.WithAttributes(
			attribute.String("canon.stage", d.cfg.Stage),
			attribute.String("canon.record_id", item.Record.ID),
			attribute.Int("canon.delivery_attempt", delivery.Attempt),
		))
	defer span.End()

	action := RunStage(ctx, d.cfg.Interceptors, item)
	span.SetAttributes(attribute.String("canon.action", ActionName(action)))

	if err := d.route(ctx, item, action); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if nackErr := d.cfg.Queue.Nack(ctx, delivery, d.cfg.Backoff.Delay(delivery.Attempt)); nackErr != nil {
			d.cfg.Logger.Warn("nack failed", "delivery_id", delivery.ID, "error", nackErr)
		}
		return err
	}

	if err := d.cfg.Queue.Ack(ctx, delivery); err != nil {
		// Redelivery is harmless: every stage is idempotent per record.
		return &StageError{Stage: d.cfg.Stage, RecordID: item.Record.ID, Op: "ack", Err: err}
	}
	return nil
}

// route applies an action. Exhaustive over the six variants.
func (d *Driver) route(ctx context.Context, item *WorkItem, action Action) error {
	switch a := action.(type) {
	case Continue:
		return d.advance(ctx, a.Item)

	case Skip:
		next := a.Item.Clone()
		next.Trail = append(next.Trail, d.note("skip", a.Reason))
		return d.advance(ctx, next)

	case Transform:
		next := a.Transformed.Clone()
		if a.Original != a.Transformed {
			orig := a.Original.Record
			next.Original = &orig
		}
		next.Trail = append(next.Trail, d.note("transform", a.Reason))
		return d.advance(ctx, next)

	case Defer:
		d.cfg.Logger.Debug("deferring item",
			"record_id", a.Item.Record.ID, "delay", a.Delay, "reason", a.Reason)
		return d.enqueue(ctx, d.cfg.Stage, a.Item, a.Delay)

	case Retry:
		next := a.Item.Clone()
		next.Attempts++
		limit := a.MaxAttempts
		if limit <= 0 {
			limit = d.cfg.MaxAttempts
		}
		if next.Attempts >= limit {
			return d.park(ctx, next, ir.ParkRetryExhausted, ir.Object{
				"reason":       ir.String(a.Reason),
				"attempts":     ir.Int(next.Attempts),
				"max_attempts": ir.Int(limit),
			})
		}
		delay := d.cfg.Backoff.Delay(next.Attempts)
		d.cfg.Logger.Info("retrying item",
			"record_id", next.Record.ID,
			"attempt", next.Attempts,
			"max_attempts", limit,
			"delay", delay,
			"reason", a.Reason)
		return d.enqueue(ctx, d.cfg.Stage, next, delay)

	case Park:
		return d.park(ctx, a.Item, a.ReasonCode, a.Evidence)

	default:
		panic(fmt.Sprintf("pipeline: unhandled action %T", action))
	}
}

func (d *Driver) note(kind, reason string) string {
	if reason == "" {
		return d.cfg.Stage + ": " + kind
	}
	return d.cfg.Stage + ": " + kind + ": " + reason
}

// advance hands the item to the next stage, or completes it.
func (d *Driver) advance(ctx context.Context, item *WorkItem) error {
	item.Attempts = 0
	if d.next == "" {
		if d.cfg.OnComplete == nil {
			return nil
		}
		if err := d.cfg.OnComplete(ctx, item); err != nil {
			return &StageError{Stage: d.cfg.Stage, RecordID: item.Record.ID, Op: "complete", Err: err}
		}
		return nil
	}
	return d.enqueue(ctx, d.next, item, 0)
}

func (d *Driver) enqueue(ctx context.Context, stage string, item *WorkItem, delay time.Duration) error {
	payload, err := EncodeItem(item)
	if err != nil {
		return &StageError{Stage: d.cfg.Stage, RecordID: item.Record.ID, Op: "encode", Err: err}
	}
	if err := d.cfg.Queue.Enqueue(ctx, Topic(stage), payload, delay); err != nil {
		return &StageError{Stage: d.cfg.Stage, RecordID: item.Record.ID, Op: "enqueue " + stage, Err: err}
	}
	return nil
}

// park writes the item to the holding area for this stage. Idempotent per
// (record, stage, generation).
func (d *Driver) park(ctx context.Context, item *WorkItem, code string, evidence ir.Object) error {
	payload, err := EncodeItem(item)
	if err != nil {
		return &StageError{Stage: d.cfg.Stage, RecordID: item.Record.ID, Op: "encode", Err: err}
	}
	if evidence == nil {
		evidence = ir.Object{}
	}
	p := ir.ParkedRecord{
		ID:         ir.ParkedID(item.Record.ID, d.cfg.Stage, item.Generation),
		RecordID:   item.Record.ID,
		Model:      item.Record.Model,
		Stage:      d.cfg.Stage,
		ReasonCode: code,
		Evidence:   evidence,
		Item:       payload,
		Attempts:   item.Attempts,
		ParkedAt:   d.cfg.Clock.Now(),
	}
	if _, err := d.cfg.Parked.PutParked(ctx, p); err != nil {
		return &StageError{Stage: d.cfg.Stage, RecordID: item.Record.ID, Op: "park", Err: err}
	}

	d.cfg.Logger.Warn("item parked",
		"event", "parked",
		"parked_id", p.ID,
		"record_id", p.RecordID,
		"reason_code", code)
	return nil
}

// parkUndecodable parks a payload that is not a work item. It keeps the raw
// bytes so an operator can inspect them.
func (d *Driver) parkUndecodable(ctx context.Context, delivery *queue.Delivery, cause error) error {
	recordID := "undecodable:" + delivery.ID
	p := ir.ParkedRecord{
		ID:         ir.ParkedID(recordID, d.cfg.Stage, 0),
		RecordID:   recordID,
		Stage:      d.cfg.Stage,
		ReasonCode: ir.ParkInvalidRecord,
		Evidence:   ir.Object{"error": ir.String(cause.Error())},
		Item:       delivery.Payload,
		ParkedAt:   d.cfg.Clock.Now(),
	}
	if _, err := d.cfg.Parked.PutParked(ctx, p); err != nil {
		_ = d.cfg.Queue.Nack(ctx, delivery, d.cfg.Backoff.Delay(delivery.Attempt))
		return &StageError{Stage: d.cfg.Stage, Op: "park undecodable", Err: err}
	}
	if err := d.cfg.Queue.Ack(ctx, delivery); err != nil {
		return &StageError{Stage: d.cfg.Stage, Op: "ack", Err: err}
	}
	return nil
}
