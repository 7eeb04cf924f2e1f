// Package runtime schedules and runs projection work.
//
// # Scheduling
//
// A reference whose history changed carries requires_projection. Scheduling
// creates one projection task per configured view for the reference's
// current version. Task ids are content-addressed from
//
//	(reference_id, version, view_name)
//
// so scheduling the same triple twice is a no-op at the store, whether the
// second call comes from live traffic, a replay or an operator reproject.
//
// The flag is cleared only after every view was scheduled, and only if the
// reference is still at the version that was scheduled (compare-and-clear).
// A failure anywhere leaves the flag set for the next sweep.
//
// # Replay
//
// Replay walks every registered model's flagged references, optionally
// windowed on updated_at, and schedules them. It reports counts scheduled,
// not completed; completion is visible in projection state. Cancellation is
// checked between references, and since scheduling is purely additive a
// cancelled replay never leaves a reference half-written.
//
// # Orchestrators
//
// Scheduler and Worker are long-running loops that own their timers and
// talk to the rest of the process through channels:
//
//	Scheduler  sweeps flagged references every interval and on Notify
//	Worker     claims pending tasks, materializes, writes projections
package runtime
