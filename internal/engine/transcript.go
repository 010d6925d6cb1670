package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/miradorstack/mirador-aha/internal/extractors"
	"github.com/miradorstack/mirador-aha/internal/models"
)

// RenderTranscript formats a trace as the plain-text block the model reads.
// Output is deterministic for a given trace: maps are rendered as JSON, whose
// encoder sorts keys.
func RenderTranscript(trace *models.Trace) string {
	var b strings.Builder
	if trace == nil {
		b.WriteString("Trace ID: unknown\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Trace ID: %s\n", trace.TraceID)
	for i, run := range trace.Runs {
		fmt.Fprintf(&b, "\n=== RUN %d: %s ===\n", i+1, run.Name)
		fmt.Fprintf(&b, "Type: %s\n", run.RunType)
		fmt.Fprintf(&b, "Inputs: %s\n", renderMap(run.Inputs))
		fmt.Fprintf(&b, "Outputs: %s\n", renderMap(run.Outputs))
		if run.Error != nil {
			fmt.Fprintf(&b, "ERROR: %s\n", *run.Error)
		}
		fmt.Fprintf(&b, "Duration: %s to %s\n", deref(run.StartTime), deref(run.EndTime))
	}
	return b.String()
}

// RenderSignals summarises extractor output; empty when nothing was flagged.
func RenderSignals(signals []extractors.RunSignal) string {
	if len(signals) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("RUN SIGNALS:\n")
	for _, s := range signals {
		switch s.Kind {
		case extractors.SignalError:
			fmt.Fprintf(&b, "- run %d (%s) failed\n", s.Index+1, s.Run.Name)
		case extractors.SignalSlow:
			fmt.Fprintf(&b, "- run %d (%s) took %s, %.1f standard deviations above the other runs\n",
				s.Index+1, s.Run.Name, s.Duration, s.Score)
		}
	}
	return b.String()
}

func renderMap(m map[string]any) string {
	if m == nil {
		return "{}"
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return fmt.Sprintf("%v", m)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func deref(s *string) string {
	if s == nil {
		return "None"
	}
	return *s
}
