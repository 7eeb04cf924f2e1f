package runtime

import (
	"context"
	"time"
)

// Default orchestrator settings.
const (
	DefaultSweepInterval = 30 * time.Second
	DefaultPollInterval  = time.Second
	DefaultBatchSize     = 64
)

// Scheduler periodically replays flagged references so nothing whose
// scheduling failed stays unprojected. It owns its ticker; Notify requests
// an immediate sweep.
type Scheduler struct {
	rt       *Runtime
	interval time.Duration
	notify   chan struct{}
	swept    chan Report // optional observer, for tests
}

// NewScheduler creates a scheduler sweeping every interval (default 30s).
func (r *Runtime) NewScheduler(interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Scheduler{rt: r, interval: interval, notify: make(chan struct{}, 1)}
}

func (*Scheduler) Name() string { return "scheduler" }

// Notify requests a sweep without blocking. Repeated notifications before
// the sweep runs collapse into one.
func (s *Scheduler) Notify() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Run sweeps once immediately, then on every tick and notification, until
// ctx is cancelled. Always returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-s.notify:
		}
		s.sweep(ctx)
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	report, err := s.rt.Replay(ctx, Window{})
	if err != nil && ctx.Err() == nil {
		s.rt.cfg.Logger.Error("scheduler sweep failed",
			"event", "sweep_failed",
			"error", err)
	}
	if s.swept != nil {
		select {
		case s.swept <- report:
		case <-ctx.Done():
		}
	}
}

// Worker drains pending projection tasks. It wakes on its poll interval and
// whenever the runtime creates tasks.
type Worker struct {
	rt       *Runtime
	interval time.Duration
	batch    int
}

// NewWorker creates a projection worker.
// Zero values take DefaultPollInterval and DefaultBatchSize.
func (r *Runtime) NewWorker(interval time.Duration, batch int) *Worker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &Worker{rt: r, interval: interval, batch: batch}
}

func (*Worker) Name() string { return "projection-worker" }

// Run processes tasks until ctx is cancelled. Always returns nil.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		n, err := w.rt.ProcessPending(ctx, w.batch)
		if err != nil && ctx.Err() == nil {
			w.rt.cfg.Logger.Error("projection worker failed",
				"event", "worker_failed",
				"error", err)
		}
		// A full batch means more may be waiting.
		if n == w.batch && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-w.rt.wake:
		}
	}
}
