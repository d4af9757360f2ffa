package harness

import (
	"github.com/roach88/tandem/internal/engine"
)

// TraceEvent records one executed step.
type TraceEvent struct {
	Step   int    `json:"step"`
	Op     string `json:"op"`
	Record string `json:"record,omitempty"`
	Field  string `json:"field,omitempty"`
	Member string `json:"member,omitempty"`

	// Error is the engine error code the step returned, if any.
	Error string `json:"error,omitempty"`

	// Members are the keys a fetch returned.
	Members []string `json:"members,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success: every step matched its
	// expectation, symmetry held after every step, and every assertion passed.
	Pass bool `json:"pass"`

	// Trace contains every executed step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the engine snapshot after the flow.
	State engine.Snapshot `json:"state"`
}

// NewResult creates a new passing result.
// Used as the starting point for scenario execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an executed step to the trace.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
