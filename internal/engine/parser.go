package engine

import (
	"strconv"
	"strings"

	"github.com/miradorstack/mirador-aha/internal/models"
)

const (
	labelDiagnosis     = "DIAGNOSIS:"
	labelConfidence    = "CONFIDENCE:"
	labelRootCause     = "ROOT CAUSE:"
	labelErrorCategory = "ERROR CATEGORY:"
	labelSuggestedFix  = "SUGGESTED FIX:"

	DefaultDiagnosis     = "Analysis completed"
	DefaultRootCause     = "Root cause analysis incomplete"
	DefaultErrorCategory = "unknown"
	DefaultSuggestedFix  = "No specific fix suggested"
	DefaultConfidence    = models.NeutralConfidence

	FallbackDiagnosis     = "Failed to analyze trace - see raw error data"
	FallbackConfidence    = 0.1
	FallbackErrorCategory = "analysis_failure"
	FallbackSuggestedFix  = "Manual investigation required"
)

// ParseDiagnosis extracts the five labelled fields from model output.
//
// Parsing is best-effort and lossy: a line counts only when, after trimming,
// it starts with an exact (case-sensitive) label. Other lines are ignored,
// a repeated label keeps its last value, and missing fields receive
// defaults. Partial output is accepted, never rejected.
func ParseDiagnosis(text string) models.DiagnosisResult {
	var res models.DiagnosisResult
	confidence := DefaultConfidence

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, labelDiagnosis):
			res.Diagnosis = value(line, labelDiagnosis)
		case strings.HasPrefix(line, labelConfidence):
			confidence = parseConfidence(value(line, labelConfidence))
		case strings.HasPrefix(line, labelRootCause):
			res.RootCause = value(line, labelRootCause)
		case strings.HasPrefix(line, labelErrorCategory):
			res.ErrorCategory = value(line, labelErrorCategory)
		case strings.HasPrefix(line, labelSuggestedFix):
			res.SuggestedFix = value(line, labelSuggestedFix)
		}
	}

	res.ConfidenceScore = confidence
	return finalize(res)
}

// Fallback is the result used whenever a diagnosis cannot be computed.
func Fallback(err error) models.DiagnosisResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return models.DiagnosisResult{
		Diagnosis:       FallbackDiagnosis,
		ConfidenceScore: FallbackConfidence,
		RootCause:       "LLM analysis failed: " + msg,
		ErrorCategory:   FallbackErrorCategory,
		SuggestedFix:    FallbackSuggestedFix,
	}
}

func finalize(res models.DiagnosisResult) models.DiagnosisResult {
	res.ConfidenceScore = models.ClampConfidence(res.ConfidenceScore)
	if res.Diagnosis == "" {
		res.Diagnosis = DefaultDiagnosis
	}
	if res.RootCause == "" {
		res.RootCause = DefaultRootCause
	}
	if res.ErrorCategory == "" {
		res.ErrorCategory = DefaultErrorCategory
	}
	if res.SuggestedFix == "" {
		res.SuggestedFix = DefaultSuggestedFix
	}
	return res
}

func value(line, label string) string {
	return strings.TrimSpace(strings.TrimPrefix(line, label))
}

func parseConfidence(raw string) float64 {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return DefaultConfidence
	}
	return f
}
