package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/query"
	"github.com/roach88/canon/internal/store"
)

// Schedule creates a task for every view of ref at its current version and
// clears requires_projection if all of them succeed and the version has not
// moved. Any task write failure is returned and leaves the flag set.
func (r *Runtime) Schedule(ctx context.Context, ref ir.CanonicalReference) (Report, error) {
	report := Report{Scanned: 1}
	now := r.cfg.Clock.Now()

	for _, view := range r.views(ref.Model) {
		inserted, err := r.cfg.Store.PutTask(ctx, ir.NewProjectionTask(ref.ID, ref.Version, view, now))
		if err != nil {
			r.cfg.Logger.Error("projection scheduling failed",
				"event", "schedule_failed",
				"reference_id", ref.ID,
				"version", ref.Version,
				"view", view,
				"error", err)
			report.Failed = 1
			return report, fmt.Errorf("schedule %s/%s@%d: %w", ref.ID, view, ref.Version, err)
		}
		if inserted {
			report.Scheduled++
		} else {
			report.Existing++
		}
	}

	if report.Scheduled > 0 {
		r.signal()
	}

	if !ref.RequiresProjection {
		return report, nil
	}
	cleared, err := r.cfg.Store.ClearProjectionFlag(ctx, ref.ID, ref.Version)
	if err != nil {
		r.cfg.Logger.Error("clearing projection flag failed",
			"event", "schedule_failed",
			"reference_id", ref.ID,
			"error", err)
		report.Failed = 1
		return report, fmt.Errorf("schedule %s: %w", ref.ID, err)
	}
	if !cleared {
		r.cfg.Logger.Debug("reference moved during scheduling",
			"event", "schedule_version_moved",
			"reference_id", ref.ID,
			"version", ref.Version)
	}
	return report, nil
}

// ScheduleReference loads a reference and schedules it. Retired references
// are skipped. Returns the number of tasks created.
func (r *Runtime) ScheduleReference(ctx context.Context, referenceID string) (int, error) {
	ref, err := r.cfg.Store.GetReference(ctx, referenceID)
	if err != nil {
		return 0, fmt.Errorf("schedule reference: %w", err)
	}
	if ref.Retired {
		return 0, nil
	}
	report, err := r.Schedule(ctx, ref)
	return report.Scheduled, err
}

// Replay schedules every flagged, non-retired reference of every registered
// model, optionally windowed on updated_at.
//
// Per-reference failures are counted in Report.Failed and do not stop the
// replay. A query failure or cancellation stops it and returns the partial
// report with the error.
func (r *Runtime) Replay(ctx context.Context, w Window) (Report, error) {
	var report Report

	for _, model := range r.cfg.Models.Models() {
		refs, err := r.cfg.Store.QueryReferences(ctx, replayFilter(model.Name, w), 0)
		if err != nil {
			return report, fmt.Errorf("replay %s: %w", model.Name, err)
		}

		for _, ref := range refs {
			if err := ctx.Err(); err != nil {
				return report, fmt.Errorf("replay cancelled: %w", err)
			}
			res, _ := r.Schedule(ctx, ref)
			report.add(res)
		}
	}

	r.cfg.Logger.Info("replay finished",
		"scanned", report.Scanned,
		"scheduled", report.Scheduled,
		"existing", report.Existing,
		"failed", report.Failed)
	return report, nil
}

func replayFilter(model string, w Window) query.Predicate {
	preds := []query.Predicate{
		query.Equals{Field: "model", Value: ir.String(model)},
		query.Equals{Field: "requires_projection", Value: ir.Bool(true)},
		query.Equals{Field: "retired", Value: ir.Bool(false)},
	}
	if !w.From.IsZero() {
		preds = append(preds, query.AtLeast{Field: "updated_at", Value: store.TimeValue(w.From)})
	}
	if !w.Until.IsZero() {
		preds = append(preds, query.Before{Field: "updated_at", Value: store.TimeValue(w.Until)})
	}
	return query.Where(preds...)
}

// DefaultView is what Reproject schedules when no view is named.
const DefaultView = ir.ViewCanonical

// ErrUnknownView is returned by Reproject for a view the model does not
// produce.
var ErrUnknownView = errors.New("unknown view")

// Reproject schedules exactly one task for a reference's current version.
// Calling it again for the same version is a no-op (Report.Existing == 1).
// The projection flag is left alone: other views may still be pending.
func (r *Runtime) Reproject(ctx context.Context, referenceID, view string) (Report, error) {
	if view == "" {
		view = DefaultView
	}

	ref, err := r.cfg.Store.GetReference(ctx, referenceID)
	if err != nil {
		return Report{}, fmt.Errorf("reproject: %w", err)
	}
	if !containsView(r.views(ref.Model), view) {
		return Report{}, fmt.Errorf("reproject %s: %w: %s", referenceID, ErrUnknownView, view)
	}

	report := Report{Scanned: 1}
	inserted, err := r.cfg.Store.PutTask(ctx, ir.NewProjectionTask(ref.ID, ref.Version, view, r.cfg.Clock.Now()))
	if err != nil {
		report.Failed = 1
		return report, fmt.Errorf("reproject %s/%s: %w", referenceID, view, err)
	}
	if inserted {
		report.Scheduled = 1
		r.signal()
	} else {
		report.Existing = 1
	}
	return report, nil
}

func containsView(views []string, view string) bool {
	for _, v := range views {
		if v == view {
			return true
		}
	}
	return false
}
