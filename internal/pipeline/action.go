package pipeline

import (
	"time"

	"github.com/roach88/canon/internal/ir"
)

// Action is the outcome of one interceptor.
//
// Sealed: Continue, Skip, Defer, Retry, Park and Transform are the only
// variants, and every driver switch over them must be exhaustive.
//
// A nil Item means "the item the interceptor was given".
type Action interface {
	action()

	// ShouldStop is true for every variant except Continue.
	ShouldStop() bool

	// ShouldContinueToNextStage is true for Continue, Skip and Transform.
	ShouldContinueToNextStage() bool
}

// Continue proceeds with the (possibly same) item.
type Continue struct {
	Item *WorkItem
}

// Skip bypasses the rest of this stage but still advances.
type Skip struct {
	Item   *WorkItem
	Reason string
}

// Defer re-enqueues the item on this stage after Delay.
type Defer struct {
	Item   *WorkItem
	Delay  time.Duration
	Reason string
}

// Retry re-enqueues the item on this stage with backoff. MaxAttempts counts
// total attempts at the stage, the first delivery included: the item is
// parked with RETRY_EXHAUSTED when its MaxAttempts-th attempt asks for a
// retry, after MaxAttempts-1 re-enqueues. Zero MaxAttempts uses the driver
// default.
type Retry struct {
	Item        *WorkItem
	MaxAttempts int
	Reason      string
}

// Park moves the item to manual resolution.
type Park struct {
	Item       *WorkItem
	ReasonCode string
	Evidence   ir.Object
}

// Transform replaces Original with Transformed and advances. Original is
// kept on the transformed item for audit.
type Transform struct {
	Original    *WorkItem
	Transformed *WorkItem
	Reason      string
}

func (Continue) action()  {}
func (Skip) action()      {}
func (Defer) action()     {}
func (Retry) action()     {}
func (Park) action()      {}
func (Transform) action() {}

func (Continue) ShouldStop() bool  { return false }
func (Skip) ShouldStop() bool      { return true }
func (Defer) ShouldStop() bool     { return true }
func (Retry) ShouldStop() bool     { return true }
func (Park) ShouldStop() bool      { return true }
func (Transform) ShouldStop() bool { return true }

func (Continue) ShouldContinueToNextStage() bool  { return true }
func (Skip) ShouldContinueToNextStage() bool      { return true }
func (Defer) ShouldContinueToNextStage() bool     { return false }
func (Retry) ShouldContinueToNextStage() bool     { return false }
func (Park) ShouldContinueToNextStage() bool      { return false }
func (Transform) ShouldContinueToNextStage() bool { return true }

// ActionName returns the variant name, for logs and traces.
func ActionName(a Action) string {
	switch a.(type) {
	case Continue:
		return "continue"
	case Skip:
		return "skip"
	case Defer:
		return "defer"
	case Retry:
		return "retry"
	case Park:
		return "park"
	case Transform:
		return "transform"
	default:
		return "unknown"
	}
}
