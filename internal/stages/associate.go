package stages

import (
	"context"
	"errors"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/pipeline"
	"github.com/roach88/canon/internal/resolve"
)

// Associate resolves the item's keys to a canonical reference.
//
// A record already bound by an earlier delivery keeps its first outcome.
// Rejections are terminal: they are stored, published on the rejections
// topic and parked under their reason code. Storage faults retry.
type Associate struct {
	deps Deps
}

// NewAssociate creates the association interceptor.
func NewAssociate(d Deps) *Associate {
	return &Associate{deps: d.withDefaults()}
}

func (*Associate) Name() string { return "associate.resolve" }

func (a *Associate) Intercept(ctx context.Context, item *pipeline.WorkItem) pipeline.Action {
	rec := item.Record

	refID, version, found, err := a.deps.Accepted.AcceptedRecord(ctx, rec.ID)
	if err != nil {
		return pipeline.Retry{Reason: err.Error()}
	}
	if found {
		a.deps.Logger.Debug("record already associated",
			"event", "associate_redelivered",
			"record_id", rec.ID,
			"reference_id", refID)
		next := item.Clone()
		next.ReferenceID = refID
		next.Version = version
		return pipeline.Continue{Item: next}
	}

	res, err := a.deps.Resolver.Resolve(ctx, resolve.Input{
		Record:      rec,
		Keys:        item.Keys,
		BusinessKey: item.BusinessKey,
		Fields:      ir.Flatten(rec.Payload),
	})

	var rej *resolve.RejectionError
	if errors.As(err, &rej) {
		if err := a.reject(ctx, rec, rej); err != nil {
			return pipeline.Retry{Reason: err.Error()}
		}
		return pipeline.Park{
			ReasonCode: string(rej.Code),
			Evidence:   rej.Evidence,
		}
	}
	if err != nil {
		return pipeline.Retry{Reason: err.Error()}
	}

	next := item.Clone()
	next.ReferenceID = res.ReferenceID
	next.Version = res.Version
	return pipeline.Continue{Item: next}
}

func (a *Associate) reject(ctx context.Context, rec ir.Record, rej *resolve.RejectionError) error {
	r := ir.Rejection{
		Code:     rej.Code,
		RecordID: rec.ID,
		Model:    rec.Model,
		Stage:    pipeline.StageAssociate,
		Evidence: rej.Evidence,
		At:       a.deps.Clock.Now(),
	}
	seq, err := a.deps.Rejections.PutRejection(ctx, r)
	if err != nil {
		return err
	}
	r.Seq = seq

	a.deps.Logger.Warn("record rejected",
		"event", "record_rejected",
		"record_id", rec.ID,
		"model", rec.Model,
		"reason_code", string(rej.Code))

	if a.deps.Events == nil {
		return nil
	}
	payload, err := EncodeRejectionEvent(r)
	if err != nil {
		return err
	}
	return a.deps.Events.Enqueue(ctx, pipeline.RejectionsTopic, payload, 0)
}
