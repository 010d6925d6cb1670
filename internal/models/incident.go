package models

import (
	"math"
	"time"
)

// IncidentStatus tracks how far an incident has progressed through the pipeline.
type IncidentStatus string

const (
	StatusDetected IncidentStatus = "detected"
	StatusAnalyzed IncidentStatus = "analyzed"
	StatusResolved IncidentStatus = "resolved"
)

// Rank orders statuses so transitions can be checked for forward movement.
func (s IncidentStatus) Rank() int {
	switch s {
	case StatusDetected:
		return 1
	case StatusAnalyzed:
		return 2
	case StatusResolved:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is a known status.
func (s IncidentStatus) Valid() bool { return s.Rank() > 0 }

// Incident is the tracked record of one detected failure.
type Incident struct {
	ID                string         `json:"id"`
	TraceID           string         `json:"trace_id"`
	ErrorType         string         `json:"error_type"`
	ErrorMessage      string         `json:"error_message"`
	Diagnosis         *string        `json:"diagnosis"`
	ConfidenceScore   *float64       `json:"confidence_score"`
	RootCause         *string        `json:"root_cause,omitempty"`
	ErrorCategory     *string        `json:"error_category,omitempty"`
	SuggestedFix      *string        `json:"suggested_fix,omitempty"`
	GitHubIssueURL    *string        `json:"github_issue_url"`
	LangSmithTraceURL *string        `json:"langsmith_trace_url"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	Status            IncidentStatus `json:"status"`
}

// Clone returns a deep copy so callers never share pointers with the store.
func (i Incident) Clone() Incident {
	out := i
	out.Diagnosis = cloneString(i.Diagnosis)
	out.RootCause = cloneString(i.RootCause)
	out.ErrorCategory = cloneString(i.ErrorCategory)
	out.SuggestedFix = cloneString(i.SuggestedFix)
	out.GitHubIssueURL = cloneString(i.GitHubIssueURL)
	out.LangSmithTraceURL = cloneString(i.LangSmithTraceURL)
	if i.ConfidenceScore != nil {
		v := *i.ConfidenceScore
		out.ConfidenceScore = &v
	}
	return out
}

// IncidentUpdate carries a point update; nil fields are left untouched.
type IncidentUpdate struct {
	Diagnosis       *string
	ConfidenceScore *float64
	RootCause       *string
	ErrorCategory   *string
	SuggestedFix    *string
	GitHubIssueURL  *string
	Status          *IncidentStatus
}

// DiagnosisResult is the structured output of root-cause analysis.
type DiagnosisResult struct {
	Diagnosis       string  `json:"diagnosis"`
	ConfidenceScore float64 `json:"confidence_score"`
	RootCause       string  `json:"root_cause"`
	ErrorCategory   string  `json:"error_category"`
	SuggestedFix    string  `json:"suggested_fix"`
}

// NeutralConfidence stands in for a confidence score that is missing or not a number.
const NeutralConfidence = 0.5

// ClampConfidence bounds v to [0,1]. NaN maps to NeutralConfidence.
func ClampConfidence(v float64) float64 {
	if math.IsNaN(v) {
		return NeutralConfidence
	}
	return math.Max(0, math.Min(1, v))
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
