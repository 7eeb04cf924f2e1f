package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/canon/internal/compiler"
	"github.com/roach88/canon/internal/engine"
	"github.com/roach88/canon/internal/pipeline"
	"github.com/roach88/canon/internal/queue"
	"github.com/roach88/canon/internal/registry"
	"github.com/roach88/canon/internal/store"
)

// process is an opened store, queue and engine. Close releases them in
// reverse order.
type process struct {
	store  *store.Store
	queue  queue.Queue
	engine *engine.Engine
}

func (p *process) Close() error {
	var errs []error
	if p.queue != nil {
		errs = append(errs, p.queue.Close())
	}
	if p.store != nil {
		errs = append(errs, p.store.Close())
	}
	return errors.Join(errs...)
}

// loadRegistry compiles every model under dir into a registry. A file that
// fails to compile is logged and skipped; the load fails only when no model
// survives.
func loadRegistry(dir string, logger *slog.Logger) (*registry.Registry, error) {
	loaded, errs := compiler.LoadModels(dir, compiler.LoadModeCollectAll)
	if loaded == nil || len(loaded.Models) == 0 {
		return nil, errors.Join(errs...)
	}
	for _, err := range errs {
		logger.Warn("model definition error", "event", "model_load_error", "error", err)
	}
	for _, file := range loaded.Skipped {
		logger.Warn("skipped model file", "event", "model_file_skipped", "file", file)
	}
	b := registry.NewBuilder()
	for _, spec := range loaded.Models {
		b.Model(spec)
	}
	return b.Build()
}

// openStore opens an existing document store. Read-only commands use it so
// that a mistyped --db does not silently create an empty database.
func openStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database not found: %s", path)
	}
	return store.Open(path)
}

// openProcess wires the models, store and queue named by opts into an
// engine.
func openProcess(opts *RootOptions) (*process, error) {
	reg, err := loadRegistry(opts.ModelsDir, opts.logger())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load models", err)
	}

	p := &process{}
	p.store, err = store.Open(opts.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	p.queue, err = queue.Open(opts.QueueDSN, queue.Options{LeaseTimeout: opts.Config.LeaseTimeout})
	if err != nil {
		_ = p.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open queue", err)
	}

	p.engine, err = engine.New(engineConfig(opts, reg, p.store, p.queue))
	if err != nil {
		_ = p.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	return p, nil
}

// engineConfig maps the environment configuration onto an engine. Nothing
// consumes rejection events from an in-process queue, so they are not
// published there.
func engineConfig(opts *RootOptions, reg *registry.Registry, st *store.Store, q queue.Queue) engine.Config {
	cfg := opts.Config
	return engine.Config{
		Registry: reg,
		Store:    st,
		Queue:    q,
		Workers:  cfg.StageWorkers,
		Backoff: pipeline.Backoff{
			Base: cfg.RetryBaseDelay,
			Max:  cfg.RetryMaxDelay,
		},
		MaxAttempts:       cfg.MaxRetryAttempts,
		ScheduleInterval:  cfg.ScheduleInterval,
		NoRejectionEvents: isMemoryQueue(opts.QueueDSN),
		Logger:            opts.logger(),
	}
}

// isMemoryQueue reports whether dsn names the in-process queue, whose
// items are lost when the command exits.
func isMemoryQueue(dsn string) bool {
	switch dsn {
	case "memory://", "mem://", "inmem://":
		return true
	}
	return false
}
