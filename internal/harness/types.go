package harness

// TraceEvent records the outcome of one flow step.
type TraceEvent struct {
	Step        int    `json:"step"`
	Op          string `json:"op"`
	Ref         string `json:"ref,omitempty"`
	Outcome     string `json:"outcome"`
	BroadcastID string `json:"broadcast_id,omitempty"`
}

// AuditEvent is a lifecycle event the engine emitted during the run.
type AuditEvent struct {
	Event string `json:"event"`
	Ref   string `json:"ref"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per flow step, in order.
	Trace []TraceEvent `json:"trace"`

	// Audit holds engine lifecycle events with ids resolved to refs.
	Audit []AuditEvent `json:"audit"`

	// Broadcasts counts calls that reached the chain adapter.
	Broadcasts int `json:"broadcasts"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Audit:  []AuditEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step outcome.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
