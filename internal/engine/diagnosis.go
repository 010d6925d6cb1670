package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/miradorstack/mirador-aha/internal/extractors"
	"github.com/miradorstack/mirador-aha/internal/llm"
	"github.com/miradorstack/mirador-aha/internal/metrics"
	"github.com/miradorstack/mirador-aha/internal/models"
)

const promptTemplate = `You are an expert AI system diagnostician specializing in multi-agent system failures.
Analyze the following execution trace and provide a detailed diagnosis.

TRACE DATA:
%s
%s
Please provide your analysis in the following format:

DIAGNOSIS: [Brief summary of what went wrong]
CONFIDENCE: [0.0-1.0 confidence score]
ROOT CAUSE: [Detailed explanation of the underlying issue]
ERROR CATEGORY: [Classification: parsing_error, api_failure, timeout, logic_error, etc.]
SUGGESTED FIX: [Specific actionable fix]

Focus on:
1. Agent interaction patterns
2. Data flow issues
3. API call failures
4. Parsing/validation errors
5. Timeout or performance issues

Be specific and actionable in your recommendations.
`

// Generator produces text from the first configured provider. *llm.Chain
// satisfies it.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (text, provider string, err error)
}

// DiagnosisOptions are the sampling parameters sent with every prompt.
type DiagnosisOptions struct {
	Temperature float64
	MaxTokens   int
}

// DiagnosisEngine asks a language model for a structured diagnosis of a trace.
type DiagnosisEngine struct {
	generator Generator
	extractor *extractors.RunExtractor
	opts      DiagnosisOptions
	logger    *slog.Logger
}

// NewDiagnosisEngine constructs an engine; a nil generator makes every
// diagnosis fall back.
func NewDiagnosisEngine(logger *slog.Logger, generator Generator, extractor *extractors.RunExtractor, opts DiagnosisOptions) *DiagnosisEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if extractor == nil {
		extractor = extractors.NewRunExtractor()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1000
	}
	return &DiagnosisEngine{generator: generator, extractor: extractor, opts: opts, logger: logger}
}

// BuildPrompt renders the full prompt for trace with optional hints.
func (e *DiagnosisEngine) BuildPrompt(trace *models.Trace, hints []string) string {
	var extra strings.Builder
	if trace != nil {
		if s := RenderSignals(e.extractor.Detect(trace.Runs)); s != "" {
			extra.WriteString("\n")
			extra.WriteString(s)
		}
	}
	if len(hints) > 0 {
		extra.WriteString("\nKNOWN FAILURE HINTS:\n")
		for _, h := range hints {
			fmt.Fprintf(&extra, "- %s\n", h)
		}
	}
	return fmt.Sprintf(promptTemplate, RenderTranscript(trace), extra.String())
}

// Analyze never fails: any error or panic while prompting or parsing yields
// the fallback result.
func (e *DiagnosisEngine) Analyze(ctx context.Context, trace *models.Trace, hints []string) (result models.DiagnosisResult) {
	provider := "none"
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("diagnosis panicked", slog.Any("panic", r))
			result = Fallback(fmt.Errorf("panic: %v", r))
			metrics.ObserveDiagnosis(provider, true)
		}
	}()

	traceID := "unknown"
	if trace != nil {
		traceID = trace.TraceID
	}

	if e.generator == nil {
		return e.fallback(traceID, provider, llm.ErrNoProvider)
	}

	prompt := e.BuildPrompt(trace, hints)
	text, name, err := e.generator.Generate(ctx, llm.Request{
		Prompt:      prompt,
		Temperature: e.opts.Temperature,
		MaxTokens:   e.opts.MaxTokens,
	})
	if name != "" {
		provider = name
	}
	if err != nil {
		return e.fallback(traceID, provider, err)
	}

	result = ParseDiagnosis(text)
	metrics.ObserveDiagnosis(provider, false)
	e.logger.Info("diagnosis complete",
		slog.String("trace_id", traceID),
		slog.String("provider", provider),
		slog.String("category", result.ErrorCategory),
		slog.Float64("confidence", result.ConfidenceScore),
	)
	return result
}

func (e *DiagnosisEngine) fallback(traceID, provider string, err error) models.DiagnosisResult {
	e.logger.Error("diagnosis failed, using fallback",
		slog.String("trace_id", traceID),
		slog.String("provider", provider),
		slog.Any("error", err),
	)
	metrics.ObserveDiagnosis(provider, true)
	return Fallback(err)
}
