package models

import "time"

// WebhookEvent is the payload LangSmith posts when a run finishes.
type WebhookEvent struct {
	TraceID     string         `json:"trace_id"`
	RunID       string         `json:"run_id"`
	ProjectName string         `json:"project_name"`
	Status      string         `json:"status"`
	Error       map[string]any `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// EventStatusError marks a webhook event describing a failed run.
const EventStatusError = "error"

// AckStatus distinguishes accepted events from ignored ones.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted"
	AckIgnored  AckStatus = "ignored"
)

// WebhookAck is returned to the sender immediately.
type WebhookAck struct {
	Status  AckStatus `json:"status"`
	TraceID string    `json:"trace_id,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// FailurePattern aggregates incidents sharing an error type and category.
type FailurePattern struct {
	ErrorType      string    `json:"error_type"`
	ErrorCategory  string    `json:"error_category"`
	Occurrences    int       `json:"occurrences"`
	Analyzed       int       `json:"analyzed"`
	MeanConfidence float64   `json:"mean_confidence"`
	LastSeen       time.Time `json:"last_seen"`
	TraceIDs       []string  `json:"trace_ids"`
}
