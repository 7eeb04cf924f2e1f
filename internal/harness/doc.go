// Package harness runs YAML conformance scenarios against a real engine.
//
// A scenario names a directory of CUE model definitions and a list of
// records. Run compiles the models, ingests the records into an engine
// backed by a fresh SQLite store and an in-memory queue, drains it, and then
// evaluates the scenario's assertions against the store.
//
// Runs are deterministic: reference ids come from a sequential generator
// ("ref-0001", "ref-0002", ...) and time from a step clock, so the trace and
// the canonical projections can be compared against golden files.
package harness
