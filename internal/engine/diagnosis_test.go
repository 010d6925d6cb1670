package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-aha/internal/llm"
	"github.com/miradorstack/mirador-aha/internal/models"
	"github.com/miradorstack/mirador-aha/internal/utils"
)

type fakeGenerator struct {
	text    string
	err     error
	panicOn bool
	prompts []string
	reqs    []llm.Request
}

func (f *fakeGenerator) Generate(ctx context.Context, req llm.Request) (string, string, error) {
	if f.panicOn {
		panic("provider exploded")
	}
	f.prompts = append(f.prompts, req.Prompt)
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return "", "fake", f.err
	}
	return f.text, "fake", nil
}

func sampleTrace() *models.Trace {
	errText := "JSONDecodeError: Expecting value: line 1 column 1 (char 0)"
	start := "2024-05-01T12:00:00Z"
	end := "2024-05-01T12:00:03Z"
	return &models.Trace{
		TraceID: "T1",
		Runs: []models.Run{
			{
				ID:        "r1",
				Name:      "ResearchAgent",
				RunType:   "chain",
				Inputs:    map[string]any{"topic": "go", "depth": 2},
				Outputs:   map[string]any{"raw": "```json"},
				Error:     &errText,
				StartTime: &start,
				EndTime:   &end,
			},
		},
	}
}

const wellFormed = `DIAGNOSIS: Agent output was not valid JSON
CONFIDENCE: 0.8
ROOT CAUSE: Markdown fences around the payload
ERROR CATEGORY: parsing_error
SUGGESTED FIX: Strip fences`

func TestRenderTranscript(t *testing.T) {
	got := RenderTranscript(sampleTrace())
	want := "Trace ID: T1\n" +
		"\n=== RUN 1: ResearchAgent ===\n" +
		"Type: chain\n" +
		"Inputs: {\"depth\":2,\"topic\":\"go\"}\n" +
		"Outputs: {\"raw\":\"```json\"}\n" +
		"ERROR: JSONDecodeError: Expecting value: line 1 column 1 (char 0)\n" +
		"Duration: 2024-05-01T12:00:00Z to 2024-05-01T12:00:03Z\n"
	assert.Equal(t, want, got)

	assert.Equal(t, "Trace ID: unknown\n", RenderTranscript(nil))

	noErr := &models.Trace{TraceID: "T2", Runs: []models.Run{{Name: "x"}}}
	out := RenderTranscript(noErr)
	assert.NotContains(t, out, "ERROR:")
	assert.Contains(t, out, "Inputs: {}")
	assert.Contains(t, out, "Duration: None to None")
}

func TestRenderTranscriptKeepsMarkupLiteral(t *testing.T) {
	tr := &models.Trace{TraceID: "T3", Runs: []models.Run{{
		Name:    "Coder",
		Inputs:  map[string]any{"q": "if a < b && c > d"},
		Outputs: map[string]any{"html": "<div>"},
	}}}
	out := RenderTranscript(tr)
	assert.Contains(t, out, `Inputs: {"q":"if a < b && c > d"}`+"\n")
	assert.Contains(t, out, `Outputs: {"html":"<div>"}`+"\n")
	assert.NotContains(t, out, `\u003c`)
	assert.NotContains(t, out, `\u0026`)
}

func TestAnalyzeParsesProviderOutput(t *testing.T) {
	gen := &fakeGenerator{text: wellFormed}
	engine := NewDiagnosisEngine(utils.DiscardLogger(), gen, nil, DiagnosisOptions{Temperature: 0.1, MaxTokens: 1000})

	got := engine.Analyze(context.Background(), sampleTrace(), []string{"Strip markdown fences before decoding"})
	assert.Equal(t, "Agent output was not valid JSON", got.Diagnosis)
	assert.InDelta(t, 0.8, got.ConfidenceScore, 1e-9)
	assert.Equal(t, "parsing_error", got.ErrorCategory)

	require.Len(t, gen.prompts, 1)
	prompt := gen.prompts[0]
	assert.Contains(t, prompt, "TRACE DATA:\nTrace ID: T1")
	assert.Contains(t, prompt, "RUN SIGNALS:\n- run 1 (ResearchAgent) failed")
	assert.Contains(t, prompt, "KNOWN FAILURE HINTS:\n- Strip markdown fences before decoding")
	for _, label := range []string{"DIAGNOSIS:", "CONFIDENCE:", "ROOT CAUSE:", "ERROR CATEGORY:", "SUGGESTED FIX:"} {
		assert.Contains(t, prompt, label)
	}
	assert.InDelta(t, 0.1, gen.reqs[0].Temperature, 1e-9)
	assert.Equal(t, 1000, gen.reqs[0].MaxTokens)
}

func TestAnalyzeNeverReturnsEmptyFields(t *testing.T) {
	inputs := map[string]*fakeGenerator{
		"garbage":      {text: "I could not tell."},
		"provider err": {err: errors.New("503 upstream")},
		"no provider":  {err: llm.ErrNoProvider},
		"panic":        {panicOn: true},
	}
	traces := []*models.Trace{nil, {TraceID: "empty"}, sampleTrace()}

	for name, gen := range inputs {
		for _, trace := range traces {
			engine := NewDiagnosisEngine(utils.DiscardLogger(), gen, nil, DiagnosisOptions{})
			got := engine.Analyze(context.Background(), trace, nil)
			assert.NotEmpty(t, got.Diagnosis, name)
			assert.NotEmpty(t, got.RootCause, name)
			assert.NotEmpty(t, got.ErrorCategory, name)
			assert.NotEmpty(t, got.SuggestedFix, name)
			assert.GreaterOrEqual(t, got.ConfidenceScore, 0.0, name)
			assert.LessOrEqual(t, got.ConfidenceScore, 1.0, name)
		}
	}
}

func TestAnalyzeFallbackOnProviderError(t *testing.T) {
	engine := NewDiagnosisEngine(utils.DiscardLogger(), &fakeGenerator{err: errors.New("fake: timeout")}, nil, DiagnosisOptions{})
	got := engine.Analyze(context.Background(), sampleTrace(), nil)
	assert.Equal(t, FallbackConfidence, got.ConfidenceScore)
	assert.Equal(t, FallbackErrorCategory, got.ErrorCategory)
	assert.Equal(t, "LLM analysis failed: fake: timeout", got.RootCause)
}

func TestAnalyzeWithoutGenerator(t *testing.T) {
	engine := NewDiagnosisEngine(utils.DiscardLogger(), nil, nil, DiagnosisOptions{})
	got := engine.Analyze(context.Background(), sampleTrace(), nil)
	assert.Equal(t, FallbackErrorCategory, got.ErrorCategory)
	assert.True(t, strings.HasSuffix(got.RootCause, llm.ErrNoProvider.Error()))

	var chain *llm.Chain
	engine = NewDiagnosisEngine(utils.DiscardLogger(), chain, nil, DiagnosisOptions{})
	got = engine.Analyze(context.Background(), sampleTrace(), nil)
	assert.Equal(t, FallbackErrorCategory, got.ErrorCategory)
}

func TestAnalyzeRecoversPanic(t *testing.T) {
	engine := NewDiagnosisEngine(utils.DiscardLogger(), &fakeGenerator{panicOn: true}, nil, DiagnosisOptions{})
	got := engine.Analyze(context.Background(), sampleTrace(), nil)
	assert.Equal(t, FallbackErrorCategory, got.ErrorCategory)
	assert.Contains(t, got.RootCause, "provider exploded")
}
