package engine

import (
	"context"
	"fmt"

	"github.com/roach88/canon/internal/pipeline"
	"github.com/roach88/canon/internal/runtime"
)

// DrainReport counts the work a Drain performed.
type DrainReport struct {
	// Deliveries is the number of queue items processed, per stage.
	Deliveries map[string]int

	// Tasks is the number of projection task attempts.
	Tasks int

	// Swept is the sum of the scheduler sweeps Drain ran.
	Swept runtime.Report
}

// Drain processes queued items stage by stage, then pending projection
// tasks, until a full pass finds nothing to do. It must not run alongside
// Run on the same queue.
//
// Delayed items (retries, defers) are waited for, so ctx should carry a
// deadline.
func (e *Engine) Drain(ctx context.Context) (DrainReport, error) {
	report := DrainReport{Deliveries: make(map[string]int, len(e.drivers))}
	batch := max(e.cfg.BatchSize, runtime.DefaultBatchSize)

	for {
		progressed := false
		for _, d := range e.drivers {
			n, err := e.drainStage(ctx, d)
			report.Deliveries[d.Stage()] += n
			if err != nil {
				return report, err
			}
			progressed = progressed || n > 0
		}

		n, err := e.runtime.ProcessPending(ctx, batch)
		report.Tasks += n
		if err != nil {
			return report, fmt.Errorf("drain: %w", err)
		}
		progressed = progressed || n > 0

		// Mirrors the scheduler: flagged references whose tasks were never
		// created get them now.
		swept, err := e.runtime.Replay(ctx, runtime.Window{})
		report.Swept.Scanned += swept.Scanned
		report.Swept.Scheduled += swept.Scheduled
		report.Swept.Existing += swept.Existing
		report.Swept.Failed += swept.Failed
		if err != nil {
			return report, fmt.Errorf("drain: %w", err)
		}
		progressed = progressed || swept.Scheduled > 0

		if !progressed {
			return report, nil
		}
	}
}

// drainStage processes one stage's topic until it is empty.
func (e *Engine) drainStage(ctx context.Context, d *pipeline.Driver) (int, error) {
	topic := pipeline.Topic(d.Stage())
	n := 0
	for {
		depth, err := e.cfg.Queue.Depth(ctx, topic)
		if err != nil {
			return n, fmt.Errorf("drain %s: %w", d.Stage(), err)
		}
		if depth == 0 {
			return n, nil
		}

		delivery, err := e.cfg.Queue.Dequeue(ctx, topic)
		if err != nil {
			return n, fmt.Errorf("drain %s: %w", d.Stage(), err)
		}
		if err := d.Process(ctx, delivery); err != nil {
			e.cfg.Logger.Error("process failed",
				"stage", d.Stage(),
				"delivery_id", delivery.ID,
				"attempt", delivery.Attempt,
				"error", err)
		}
		n++
	}
}
