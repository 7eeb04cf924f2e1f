// Package store provides SQLite-backed durable storage for canon entities.
//
// Tables:
//   - records: immutable intake envelopes, kept for audit and replay
//   - key_index: aggregation key -> canonical reference (one owner per key)
//   - canonical_references: identity, version, projection flag
//   - field_history: append-only per-field contributions
//   - projection_tasks: deduplicated materialization work
//   - projections: materialized view documents
//   - rejections, parked_records: operator-facing holding areas
//
// # Critical Patterns
//
// Key ownership is compare-and-set: key_index has PRIMARY KEY(namespace,
// value) and claims use INSERT ... ON CONFLICT DO NOTHING inside the same
// transaction as the field append (see Bind). A lost race rolls back.
//
// Arrival order is a seq column, never a timestamp. Every listing ends with
// a binary-collated tiebreaker so replays read identical order.
//
// Projection tasks are content-addressed (ir.ProjectionTaskID); creating the
// same (reference, version, view) twice is a no-op.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
