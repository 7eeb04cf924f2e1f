package harness

import "github.com/roach88/canon/internal/ir"

// Record outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeParked   = "parked"
	OutcomePending  = "pending"
)

// TraceEvent is the final outcome of one scenario record.
type TraceEvent struct {
	RecordID    string `json:"record_id"`
	Outcome     string `json:"outcome"`
	ReferenceID string `json:"reference_id,omitempty"`
	Version     int64  `json:"version,omitempty"`
	Stage       string `json:"stage,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace has one event per scenario record, in scenario order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Projections maps reference id to its Canonical document.
	Projections map[string]ir.Value `json:"projections"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:        true,
		Trace:       []TraceEvent{},
		Errors:      []string{},
		Projections: make(map[string]ir.Value),
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Event returns the trace event for a record.
func (r *Result) Event(recordID string) (TraceEvent, bool) {
	for _, ev := range r.Trace {
		if ev.RecordID == recordID {
			return ev, true
		}
	}
	return TraceEvent{}, false
}
