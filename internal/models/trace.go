package models

// Trace is a normalized execution trace: one correlation id and its runs in
// the order the tracing service returned them.
type Trace struct {
	TraceID string `json:"trace_id"`
	Runs    []Run  `json:"runs"`
}

// Run is one step of a trace. ParentRunID references another run in the same
// trace; it does not imply ownership.
type Run struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	RunType     string         `json:"run_type"`
	Inputs      map[string]any `json:"inputs"`
	Outputs     map[string]any `json:"outputs"`
	Error       *string        `json:"error"`
	StartTime   *string        `json:"start_time"`
	EndTime     *string        `json:"end_time"`
	ParentRunID *string        `json:"parent_run_id"`
}
