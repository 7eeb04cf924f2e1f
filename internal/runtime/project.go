package runtime

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/materialize"
	"github.com/roach88/canon/internal/query"
)

// ProcessPending runs up to limit pending tasks in creation order and
// returns how many it attempted. Task failures are recorded on the task,
// not returned; only a failure to list tasks is an error.
func (r *Runtime) ProcessPending(ctx context.Context, limit int) (int, error) {
	tasks, err := r.cfg.Store.QueryTasks(ctx,
		query.Equals{Field: "status", Value: ir.String(string(ir.TaskPending))}, limit)
	if err != nil {
		return 0, fmt.Errorf("process pending: %w", err)
	}

	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		r.RunTask(ctx, task)
	}
	return len(tasks), nil
}

// RunTask materializes one task's view and records the outcome on the task.
// Returns the task status after the attempt.
func (r *Runtime) RunTask(ctx context.Context, task ir.ProjectionTask) ir.TaskStatus {
	ctx, span := r.cfg.Tracer.Start(ctx, "runtime.task")
	defer span.End()
	span.SetAttributes(
		attribute.String("canon.reference_id", task.ReferenceID),
		attribute.Int64("canon.version", task.Version),
		attribute.String("canon.view", task.View),
	)

	err := r.project(ctx, task)
	if err == nil {
		if err := r.cfg.Store.CompleteTask(ctx, task.ID, r.cfg.Clock.Now()); err != nil {
			span.RecordError(err)
			r.cfg.Logger.Error("completing task failed",
				"event", "task_complete_failed",
				"task_id", task.ID,
				"error", err)
			return ir.TaskPending
		}
		return ir.TaskDone
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	status, ferr := r.cfg.Store.FailTask(ctx, task.ID, err.Error(), r.cfg.MaxTaskAttempts, r.cfg.Clock.Now())
	if ferr != nil {
		r.cfg.Logger.Error("recording task failure failed",
			"event", "task_fail_failed",
			"task_id", task.ID,
			"error", ferr)
		return ir.TaskPending
	}
	r.cfg.Logger.Warn("projection task failed",
		"event", "task_failed",
		"task_id", task.ID,
		"reference_id", task.ReferenceID,
		"view", task.View,
		"status", string(status),
		"error", err)
	return status
}

func (r *Runtime) project(ctx context.Context, task ir.ProjectionTask) error {
	ref, err := r.cfg.Store.GetReference(ctx, task.ReferenceID)
	if err != nil {
		return err
	}

	history, err := r.cfg.Store.ReadHistory(ctx, ref.ID, task.Version)
	if err != nil {
		return err
	}

	result, err := r.cfg.Materializer.Materialize(ctx, ref.Model, history)
	if err != nil {
		return err
	}

	var doc ir.Object
	switch task.View {
	case ir.ViewCanonical:
		doc = CanonicalDocument(ref, task.Version, result)
	case ir.ViewLineage:
		doc = LineageDocument(ref, task.Version, result, history)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownView, task.View)
	}

	data, err := ir.MarshalCanonical(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", task.View, err)
	}

	written, err := r.cfg.Store.PutProjection(ctx, ir.Projection{
		ReferenceID:    ref.ID,
		View:           task.View,
		Version:        task.Version,
		Document:       data,
		MaterializedAt: r.cfg.Clock.Now(),
	})
	if err != nil {
		return err
	}
	if !written {
		r.cfg.Logger.Debug("stale projection skipped",
			"reference_id", ref.ID,
			"view", task.View,
			"version", task.Version)
	}
	return nil
}

// CanonicalDocument is the Canonical view: the reference envelope plus the
// materialized fields as a nested document.
func CanonicalDocument(ref ir.CanonicalReference, version int64, result materialize.Result) ir.Object {
	return ir.Object{
		"reference_id": ir.String(ref.ID),
		"model":        ir.String(ref.Model),
		"version":      ir.Int(version),
		"business_key": businessKey(ref),
		"fields":       result.Document(),
	}
}

// LineageDocument is the Lineage view: per field, the winning value, the
// policy that chose it and every contribution in arrival order.
func LineageDocument(ref ir.CanonicalReference, version int64, result materialize.Result, history []ir.FieldValue) ir.Object {
	doc := materialize.Lineage(result, history)
	doc["reference_id"] = ir.String(ref.ID)
	doc["version"] = ir.Int(version)
	doc["business_key"] = businessKey(ref)
	return doc
}

func businessKey(ref ir.CanonicalReference) ir.Value {
	if ref.BusinessKey == "" {
		return ir.Null{}
	}
	return ir.String(ref.BusinessKey)
}
