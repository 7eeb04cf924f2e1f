package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/materialize"
	"github.com/roach88/canon/internal/query"
)

const tracerName = "github.com/roach88/canon/internal/runtime"

// DefaultMaxTaskAttempts bounds how often a failing projection task is retried.
const DefaultMaxTaskAttempts = 3

// Store is the document-store surface the runtime needs.
type Store interface {
	GetReference(ctx context.Context, id string) (ir.CanonicalReference, error)
	QueryReferences(ctx context.Context, filter query.Predicate, limit int) ([]ir.CanonicalReference, error)
	ClearProjectionFlag(ctx context.Context, id string, version int64) (bool, error)
	PutTask(ctx context.Context, task ir.ProjectionTask) (bool, error)
	QueryTasks(ctx context.Context, filter query.Predicate, limit int) ([]ir.ProjectionTask, error)
	CompleteTask(ctx context.Context, id string, at time.Time) error
	FailTask(ctx context.Context, id string, cause string, maxAttempts int, at time.Time) (ir.TaskStatus, error)
	ReadHistory(ctx context.Context, referenceID string, upToVersion int64) ([]ir.FieldValue, error)
	PutProjection(ctx context.Context, p ir.Projection) (bool, error)
}

// Catalog lists the registered models.
type Catalog interface {
	Models() []ir.ModelSpec
	Model(name string) (ir.ModelSpec, bool)
}

// Config wires a Runtime.
type Config struct {
	Store        Store
	Models       Catalog
	Materializer *materialize.Engine

	// MaxTaskAttempts bounds retries of a failing task (default 3).
	MaxTaskAttempts int

	Clock  ir.Clock
	Logger *slog.Logger
	Tracer trace.Tracer
}

// Runtime is the Projection/Replay runtime.
//
// Thread-safety: all methods are safe for concurrent use; idempotency comes
// from the store's content-addressed task ids.
type Runtime struct {
	cfg  Config
	wake chan struct{} // signalled when new tasks exist
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Runtime, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("new runtime: store is required")
	}
	if cfg.Models == nil {
		return nil, fmt.Errorf("new runtime: model catalog is required")
	}
	if cfg.Materializer == nil {
		return nil, fmt.Errorf("new runtime: materializer is required")
	}
	if cfg.MaxTaskAttempts <= 0 {
		cfg.MaxTaskAttempts = DefaultMaxTaskAttempts
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
	return &Runtime{cfg: cfg, wake: make(chan struct{}, 1)}, nil
}

// Window bounds Replay on a reference's updated_at. Zero ends are open.
type Window struct {
	From  time.Time // inclusive
	Until time.Time // exclusive
}

// Report counts the outcome of a scheduling operation.
type Report struct {
	// Scanned is the number of references considered.
	Scanned int

	// Scheduled is the number of tasks created.
	Scheduled int

	// Existing is the number of tasks that were already present.
	Existing int

	// Failed is the number of references whose scheduling failed.
	Failed int
}

func (r *Report) add(o Report) {
	r.Scanned += o.Scanned
	r.Scheduled += o.Scheduled
	r.Existing += o.Existing
	r.Failed += o.Failed
}

// views returns the views scheduled for a model; unregistered models get
// the defaults.
func (r *Runtime) views(model string) []string {
	if spec, ok := r.cfg.Models.Model(model); ok {
		return spec.ViewNames()
	}
	return ir.DefaultViews
}

// signal wakes the worker without blocking.
func (r *Runtime) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}
