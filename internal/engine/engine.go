package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/materialize"
	"github.com/roach88/canon/internal/pipeline"
	"github.com/roach88/canon/internal/queue"
	"github.com/roach88/canon/internal/registry"
	"github.com/roach88/canon/internal/resolve"
	"github.com/roach88/canon/internal/runtime"
	"github.com/roach88/canon/internal/stages"
	"github.com/roach88/canon/internal/store"
)

const tracerName = "github.com/roach88/canon/internal/engine"

// Config wires an Engine. Store, Queue and Registry are required.
type Config struct {
	Registry *registry.Registry
	Store    *store.Store
	Queue    queue.Queue

	// Workers is the number of consumers per stage (default 1).
	Workers int

	// Backoff and MaxAttempts bound stage retries.
	Backoff     pipeline.Backoff
	MaxAttempts int

	// ScheduleInterval is the scheduler's sweep period.
	ScheduleInterval time.Duration

	// PollInterval and BatchSize tune the projection worker.
	PollInterval time.Duration
	BatchSize    int

	MaxTaskAttempts int

	// NoRejectionEvents stops the associate stage from publishing rejection
	// events on pipeline.RejectionsTopic. Rejections are still stored and
	// parked. Set it when nothing consumes the topic.
	NoRejectionEvents bool

	// IDs mints canonical reference ids (default UUIDv7).
	IDs ir.IDGenerator

	Clock  ir.Clock
	Logger *slog.Logger
	Tracer trace.Tracer
}

// Engine is a wired canon process.
type Engine struct {
	cfg       Config
	runtime   *runtime.Runtime
	drivers   []*pipeline.Driver
	scheduler *runtime.Scheduler
	worker    *runtime.Worker
}

// New wires the drivers and the projection runtime. Nothing runs until
// Run or Drain is called.
func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, errors.New("new engine: registry is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("new engine: store is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("new engine: queue is required")
	}
	if cfg.IDs == nil {
		cfg.IDs = ir.UUIDv7Generator{}
	}
	if cfg.Clock == nil {
		cfg.Clock = ir.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}

	opts := cfg.Registry.MaterializeOptions()
	opts.Logger = cfg.Logger
	opts.Tracer = cfg.Tracer
	mat := materialize.New(opts)

	rt, err := runtime.New(runtime.Config{
		Store:           cfg.Store,
		Models:          cfg.Registry,
		Materializer:    mat,
		MaxTaskAttempts: cfg.MaxTaskAttempts,
		Clock:           cfg.Clock,
		Logger:          cfg.Logger,
		Tracer:          cfg.Tracer,
	})
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}

	scheduler := rt.NewScheduler(cfg.ScheduleInterval)

	var events queue.Queue
	if !cfg.NoRejectionEvents {
		events = cfg.Queue
	}

	builtin := stages.Builtin(stages.Deps{
		Models:     cfg.Registry,
		Schemas:    cfg.Registry,
		Records:    cfg.Store,
		Accepted:   cfg.Store,
		Rejections: cfg.Store,
		Resolver: resolve.New(cfg.Store,
			resolve.WithIDGenerator(cfg.IDs),
			resolve.WithClock(cfg.Clock),
			resolve.WithLogger(cfg.Logger)),
		Events:    events,
		Scheduler: rt,
		Sweeps:    scheduler,
		Clock:     cfg.Clock,
		Logger:    cfg.Logger,
	})

	e := &Engine{
		cfg:       cfg,
		runtime:   rt,
		scheduler: scheduler,
		worker:    rt.NewWorker(cfg.PollInterval, cfg.BatchSize),
	}

	// Built-ins run first; registered interceptors see their output.
	for _, stage := range pipeline.Stages {
		interceptors := append(builtin[stage], cfg.Registry.Interceptors(stage)...)
		d, err := pipeline.NewDriver(pipeline.DriverConfig{
			Stage:        stage,
			Queue:        cfg.Queue,
			Interceptors: interceptors,
			Parked:       cfg.Store,
			Workers:      cfg.Workers,
			Backoff:      cfg.Backoff,
			MaxAttempts:  cfg.MaxAttempts,
			Clock:        cfg.Clock,
			Logger:       cfg.Logger,
			Tracer:       cfg.Tracer,
		})
		if err != nil {
			return nil, fmt.Errorf("new engine: %w", err)
		}
		e.drivers = append(e.drivers, d)
	}

	return e, nil
}

// Runtime exposes the projection runtime for operator commands.
func (e *Engine) Runtime() *runtime.Runtime { return e.runtime }

// Store returns the engine's document store.
func (e *Engine) Store() *store.Store { return e.cfg.Store }

// Queue returns the engine's queue.
func (e *Engine) Queue() queue.Queue { return e.cfg.Queue }

// Ingest submits a record to the intake stage. A record without an id gets
// the content-derived one. Returns the record id.
//
// Envelope validation happens in the intake stage, not here: an invalid
// record is accepted onto the queue and parked there.
func (e *Engine) Ingest(ctx context.Context, rec ir.Record) (string, error) {
	if rec.ID == "" {
		id, err := ir.RecordID(rec.SourceID, rec.Model, rec.Payload, ir.FormatTime(rec.OccurredAt))
		if err != nil {
			return "", fmt.Errorf("ingest: %w", err)
		}
		rec.ID = id
	}

	payload, err := pipeline.EncodeItem(&pipeline.WorkItem{Record: rec})
	if err != nil {
		return "", fmt.Errorf("ingest %s: %w", rec.ID, err)
	}
	if err := e.cfg.Queue.Enqueue(ctx, pipeline.Topic(pipeline.StageIntake), payload, 0); err != nil {
		return "", fmt.Errorf("ingest %s: %w", rec.ID, err)
	}

	e.cfg.Logger.Debug("record ingested",
		"record_id", rec.ID,
		"model", rec.Model,
		"source_id", rec.SourceID)
	return rec.ID, nil
}

// Reinject sends a parked item back to the stage that parked it.
func (e *Engine) Reinject(ctx context.Context, parkedID string) (ir.ParkedRecord, error) {
	return pipeline.Reinject(ctx, e.cfg.Queue, e.cfg.Store, parkedID, e.cfg.Clock.Now())
}

// Run starts every stage driver, the scheduler, the projection worker and
// the registered orchestrators, and blocks until ctx is cancelled or one of
// them fails.
func (e *Engine) Run(ctx context.Context) error {
	e.cfg.Logger.Info("engine starting",
		"models", len(e.cfg.Registry.Models()),
		"workers_per_stage", max(e.cfg.Workers, 1))

	g, ctx := errgroup.WithContext(ctx)
	for _, d := range e.drivers {
		g.Go(func() error {
			if err := d.Run(ctx); err != nil {
				return fmt.Errorf("stage %s: %w", d.Stage(), err)
			}
			return nil
		})
	}

	orchestrators := append([]registry.Orchestrator{e.scheduler, e.worker}, e.cfg.Registry.Orchestrators()...)
	for _, o := range orchestrators {
		g.Go(func() error {
			err := o.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("orchestrator %s: %w", o.Name(), err)
			}
			return nil
		})
	}

	err := g.Wait()
	e.cfg.Logger.Info("engine stopped")
	return err
}
