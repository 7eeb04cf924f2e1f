package stages

import (
	"context"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/pipeline"
)

// Intake validates the envelope and persists the record for audit.
//
// Invalid envelopes and payloads park with INVALID_RECORD; records naming an
// unregistered model park with UNKNOWN_MODEL. Persistence faults retry.
type Intake struct {
	deps Deps
}

// NewIntake creates the intake interceptor.
func NewIntake(d Deps) *Intake {
	return &Intake{deps: d.withDefaults()}
}

func (*Intake) Name() string { return "intake.envelope" }

func (i *Intake) Intercept(ctx context.Context, item *pipeline.WorkItem) pipeline.Action {
	rec := item.Record

	if err := rec.Validate(); err != nil {
		return pipeline.Park{
			ReasonCode: ir.ParkInvalidRecord,
			Evidence:   ir.Object{"error": ir.String(err.Error())},
		}
	}

	if _, ok := i.deps.Models.Model(rec.Model); !ok {
		return pipeline.Park{
			ReasonCode: ir.ParkUnknownModel,
			Evidence:   ir.Object{"model": ir.String(rec.Model)},
		}
	}

	if i.deps.Schemas != nil {
		if err := i.deps.Schemas.ValidatePayload(rec.Model, rec.Payload); err != nil {
			return pipeline.Park{
				ReasonCode: ir.ParkInvalidRecord,
				Evidence: ir.Object{
					"error": ir.String(err.Error()),
					"model": ir.String(rec.Model),
				},
			}
		}
	}

	next := item
	if rec.ReceivedAt.IsZero() {
		next = item.Clone()
		next.Record.ReceivedAt = i.deps.Clock.Now()
	}

	inserted, err := i.deps.Records.PutRecord(ctx, next.Record)
	if err != nil {
		return pipeline.Retry{Reason: err.Error()}
	}
	if !inserted {
		i.deps.Logger.Debug("record redelivered",
			"event", "record_redelivered",
			"record_id", rec.ID)
	}

	return pipeline.Continue{Item: next}
}
