// Package engine hosts a canon process.
//
// The engine wires a frozen registry to a document store and a durable
// queue: one stage driver per pipeline stage, the projection runtime, and
// every registered orchestrator. Run starts them all in one errgroup and
// returns when the context is cancelled or any of them fails.
//
// ARCHITECTURE:
//
// Records enter through Ingest, which enqueues them on the intake topic.
// Each stage driver consumes its own topic with a configurable number of
// workers and forwards items to the next stage's topic. The project stage
// creates projection tasks; the projection worker materializes them and
// the scheduler sweeps for references whose tasks were never created.
//
// Drain is the synchronous counterpart of Run: it processes every queued
// item and pending task in the calling goroutine, which is what scenario
// tests and one-shot CLI commands use.
package engine
