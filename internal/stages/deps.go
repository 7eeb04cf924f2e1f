package stages

import (
	"context"
	"log/slog"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/pipeline"
	"github.com/roach88/canon/internal/queue"
	"github.com/roach88/canon/internal/resolve"
)

// ModelLookup finds registered models by name.
type ModelLookup interface {
	Model(name string) (ir.ModelSpec, bool)
}

// PayloadValidator checks a payload against the model's declared schema.
// Models without a schema always pass.
type PayloadValidator interface {
	ValidatePayload(model string, payload ir.Object) error
}

// RecordStore persists intake envelopes.
type RecordStore interface {
	PutRecord(ctx context.Context, rec ir.Record) (bool, error)
}

// AcceptedRecords answers whether a record was already bound.
type AcceptedRecords interface {
	AcceptedRecord(ctx context.Context, recordID string) (referenceID string, version int64, found bool, err error)
}

// RejectionStore persists resolution rejections.
type RejectionStore interface {
	PutRejection(ctx context.Context, r ir.Rejection) (int64, error)
}

// ProjectionScheduler creates projection tasks for a reference.
type ProjectionScheduler interface {
	ScheduleReference(ctx context.Context, referenceID string) (int, error)
}

// SweepRequester asks the projection scheduler for a prompt sweep.
type SweepRequester interface {
	Notify()
}

// Deps bundles everything the built-in interceptors need.
type Deps struct {
	Models     ModelLookup
	Schemas    PayloadValidator // optional
	Records    RecordStore
	Accepted   AcceptedRecords
	Rejections RejectionStore
	Resolver   *resolve.Resolver
	Events     queue.Queue // rejection events; optional
	Scheduler  ProjectionScheduler
	Sweeps     SweepRequester // optional
	Clock      ir.Clock
	Logger     *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = ir.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// Builtin returns the built-in interceptors keyed by stage.
func Builtin(d Deps) map[string][]pipeline.Interceptor {
	d = d.withDefaults()
	return map[string][]pipeline.Interceptor{
		pipeline.StageIntake:      {NewIntake(d)},
		pipeline.StageStandardize: {Standardize{}},
		pipeline.StageKey:         {NewKey(d.Models)},
		pipeline.StageAssociate:   {NewAssociate(d)},
		pipeline.StageProject:     {NewProject(d.Scheduler, d.Sweeps, d.Logger)},
	}
}
