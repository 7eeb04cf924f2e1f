package stages

import (
	"context"
	"log/slog"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/pipeline"
)

// Project asks the runtime to schedule projection tasks for the item's
// reference. A scheduling fault retries and requests a sweep; the reference
// keeps its requires_projection flag either way, so the sweep catches up.
type Project struct {
	scheduler ProjectionScheduler
	sweeps    SweepRequester
	logger    *slog.Logger
}

// NewProject creates the projection scheduling interceptor. sweeps may be
// nil.
func NewProject(s ProjectionScheduler, sweeps SweepRequester, logger *slog.Logger) *Project {
	if logger == nil {
		logger = slog.Default()
	}
	return &Project{scheduler: s, sweeps: sweeps, logger: logger}
}

func (*Project) Name() string { return "project.schedule" }

func (p *Project) Intercept(ctx context.Context, item *pipeline.WorkItem) pipeline.Action {
	if item.ReferenceID == "" {
		return pipeline.Park{
			ReasonCode: ir.ParkInvalidRecord,
			Evidence:   ir.Object{"error": ir.String("item reached project without a reference")},
		}
	}

	n, err := p.scheduler.ScheduleReference(ctx, item.ReferenceID)
	if err != nil {
		p.logger.Warn("projection scheduling failed",
			"event", "schedule_failed",
			"record_id", item.Record.ID,
			"reference_id", item.ReferenceID,
			"error", err)
		if p.sweeps != nil {
			p.sweeps.Notify()
		}
		return pipeline.Retry{Reason: err.Error()}
	}
	p.logger.Debug("projection scheduled",
		"record_id", item.Record.ID,
		"reference_id", item.ReferenceID,
		"version", item.Version,
		"tasks", n)
	return pipeline.Continue{Item: item}
}
