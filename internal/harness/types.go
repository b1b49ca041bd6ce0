package harness

// TraceEvent is a ledger event rewritten for reading: addresses become actor
// names and stream ids become the names scenarios saved them under.
type TraceEvent struct {
	Seq    int64             `json:"seq"`
	Kind   string            `json:"kind"`
	Stream string            `json:"stream,omitempty"`
	At     int64             `json:"at"` // seconds since the scenario start
	Attrs  map[string]string `json:"attrs,omitempty"`
}

// StepOutcome records what one step did.
type StepOutcome struct {
	Index  int            `json:"index"`
	Op     string         `json:"op"`
	Error  string         `json:"error,omitempty"` // engine error code
	Result map[string]any `json:"result,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	Steps  []StepOutcome `json:"steps"`
	Trace  []TraceEvent  `json:"trace"`
	Errors []string      `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepOutcome{},
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
