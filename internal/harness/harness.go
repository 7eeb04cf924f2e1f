package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/canon/internal/compiler"
	"github.com/roach88/canon/internal/engine"
	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/pipeline"
	"github.com/roach88/canon/internal/query"
	"github.com/roach88/canon/internal/queue"
	"github.com/roach88/canon/internal/registry"
	"github.com/roach88/canon/internal/store"
	"github.com/roach88/canon/internal/testutil"
)

// DefaultTimeout bounds one scenario run.
const DefaultTimeout = 30 * time.Second

// Harness runs one scenario against a private engine.
type Harness struct {
	engine *engine.Engine
	store  *store.Store
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh temporary database for isolation.
// Execution flow:
//  1. Compile the scenario's models into a registry
//  2. Ingest every record and drain the engine
//  3. Reinject requested parked records and drain again
//  4. Collect the trace and canonical projections
//  5. Evaluate assertions
//
// A returned error means the scenario could not run; assertion failures
// are reported on the Result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	reg, err := buildRegistry(scenario.Models)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "canon-harness-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "canon.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	q := queue.NewMemoryQueue(queue.Options{PollInterval: time.Millisecond})
	defer q.Close()

	eng, err := engine.New(engine.Config{
		Registry:    reg,
		Store:       st,
		Queue:       q,
		Backoff:     pipeline.Backoff{Base: time.Millisecond, Max: 10 * time.Millisecond},
		MaxAttempts: pipeline.DefaultMaxAttempts,
		IDs:         testutil.NewSequentialGenerator("ref"),
		Clock:       testutil.NewStepClock(testutil.Epoch, time.Second),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	h := &Harness{engine: eng, store: st}

	if err := h.ingest(ctx, scenario.Records); err != nil {
		return nil, err
	}
	if err := h.reinject(ctx, scenario.Reinject); err != nil {
		return nil, err
	}

	result := NewResult()
	if err := h.collect(ctx, scenario.Records, result); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(ctx, st, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func buildRegistry(dir string) (*registry.Registry, error) {
	loaded, errs := compiler.LoadModels(dir, compiler.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to load models: %w", errors.Join(errs...))
	}
	b := registry.NewBuilder()
	for _, spec := range loaded.Models {
		b.Model(spec)
	}
	reg, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}
	return reg, nil
}

func (h *Harness) ingest(ctx context.Context, steps []RecordStep) error {
	for i, step := range steps {
		obj, err := ir.ObjectFromAny(step.Payload)
		if err != nil {
			return fmt.Errorf("records[%d]: payload: %w", i, err)
		}

		occurred := step.OccurredAt
		if occurred.IsZero() {
			occurred = testutil.Epoch
		}
		rec := ir.Record{
			ID:         step.ID,
			SourceID:   step.Source,
			Model:      step.Model,
			OccurredAt: occurred,
			Payload:    obj,
		}
		if _, err := h.engine.Ingest(ctx, rec); err != nil {
			return fmt.Errorf("records[%d]: %w", i, err)
		}
	}

	if _, err := h.engine.Drain(ctx); err != nil {
		return fmt.Errorf("failed to drain engine: %w", err)
	}
	return nil
}

func (h *Harness) reinject(ctx context.Context, recordIDs []string) error {
	if len(recordIDs) == 0 {
		return nil
	}
	for _, id := range recordIDs {
		parked, err := h.latestParked(ctx, id)
		if err != nil {
			return err
		}
		if parked == nil {
			return fmt.Errorf("reinject %s: record is not parked", id)
		}
		if _, err := h.engine.Reinject(ctx, parked.ID); err != nil {
			return err
		}
	}

	if _, err := h.engine.Drain(ctx); err != nil {
		return fmt.Errorf("failed to drain engine: %w", err)
	}
	return nil
}

// latestParked returns the newest parked entry for a record, or nil.
func (h *Harness) latestParked(ctx context.Context, recordID string) (*ir.ParkedRecord, error) {
	parked, err := h.store.QueryParked(ctx, query.Equals{Field: "record_id", Value: ir.String(recordID)}, 0)
	if err != nil {
		return nil, fmt.Errorf("query parked %s: %w", recordID, err)
	}
	if len(parked) == 0 {
		return nil, nil
	}
	return &parked[len(parked)-1], nil
}

// collect builds the trace and reads every reference's Canonical projection.
func (h *Harness) collect(ctx context.Context, steps []RecordStep, result *Result) error {
	for _, step := range steps {
		ev := TraceEvent{RecordID: step.ID, Outcome: OutcomePending}

		refID, version, found, err := h.store.AcceptedRecord(ctx, step.ID)
		if err != nil {
			return fmt.Errorf("trace %s: %w", step.ID, err)
		}
		if found {
			ev.Outcome = OutcomeAccepted
			ev.ReferenceID = refID
			ev.Version = version
		} else {
			parked, err := h.latestParked(ctx, step.ID)
			if err != nil {
				return err
			}
			if parked != nil {
				ev.Outcome = OutcomeParked
				ev.Stage = parked.Stage
				ev.Reason = parked.ReasonCode
			}
		}
		result.Trace = append(result.Trace, ev)
	}

	refs, err := h.store.QueryReferences(ctx, nil, 0)
	if err != nil {
		return fmt.Errorf("query references: %w", err)
	}
	for _, ref := range refs {
		p, err := h.store.ReadProjection(ctx, ref.ID, ir.ViewCanonical)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read projection %s: %w", ref.ID, err)
		}
		doc, err := ir.UnmarshalValue(p.Document)
		if err != nil {
			return fmt.Errorf("decode projection %s: %w", ref.ID, err)
		}
		result.Projections[ref.ID] = doc
	}
	return nil
}
