package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/miradorstack/mirador-aha/internal/metrics"
	"github.com/miradorstack/mirador-aha/internal/models"
)

const (
	defaultErrorType    = "unknown"
	defaultErrorMessage = "No error message provided"
)

// IncidentStore is the subset of the incident store the pipeline writes to.
type IncidentStore interface {
	Create(traceID, errorType, errorMessage, traceURL string) models.Incident
	Update(id string, upd models.IncidentUpdate) (models.Incident, error)
}

// TraceFetcher returns a trace, or nil when none could be retrieved.
type TraceFetcher interface {
	FetchTrace(ctx context.Context, traceID string) *models.Trace
}

// Diagnoser produces a fully populated diagnosis for any input.
type Diagnoser interface {
	Analyze(ctx context.Context, trace *models.Trace, hints []string) models.DiagnosisResult
}

// Filer files a diagnosis, returning the ticket URL when one was created.
type Filer interface {
	FileIssue(ctx context.Context, report IssueReport) (string, bool)
}

// Pipeline runs one accepted failure event from incident creation to the
// final incident update.
type Pipeline struct {
	logger    *slog.Logger
	store     IncidentStore
	traces    TraceFetcher
	diagnoser Diagnoser
	filer     Filer
	rules     *RuleEngine
	appURL    string
	now       func() time.Time
	tracer    trace.Tracer
}

// NewPipeline wires the pipeline's collaborators. rules may be nil.
func NewPipeline(
	logger *slog.Logger,
	store IncidentStore,
	traces TraceFetcher,
	diagnoser Diagnoser,
	filer Filer,
	rules *RuleEngine,
	appURL string,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if appURL == "" {
		appURL = "https://smith.langchain.com"
	}
	return &Pipeline{
		logger:    logger,
		store:     store,
		traces:    traces,
		diagnoser: diagnoser,
		filer:     filer,
		rules:     rules,
		appURL:    strings.TrimRight(appURL, "/"),
		now:       time.Now,
		tracer:    otel.Tracer(tracerName),
	}
}

const tracerName = "github.com/miradorstack/mirador-aha/internal/engine"

// SetTracer replaces the tracer taken from the global provider at construction.
func (p *Pipeline) SetTracer(t trace.Tracer) {
	if t != nil {
		p.tracer = t
	}
}

// TraceURL is the tracing UI link for traceID.
func (p *Pipeline) TraceURL(traceID string) string {
	return p.appURL + "/trace/" + url.PathEscape(traceID)
}

// FailureDetails reads the error type and message from an event, applying
// defaults for missing or blank values.
func FailureDetails(ev models.WebhookEvent) (errorType, message string) {
	errorType = stringField(ev.Error, "type", defaultErrorType)
	message = stringField(ev.Error, "message", defaultErrorMessage)
	return errorType, message
}

// Process creates the incident, then enriches it. It returns the incident as
// last written. Retrieval misses leave the incident detected; diagnosis and
// filing failures still end in analyzed. Nothing is returned as an error and
// panics are recovered, since there is no caller left to report to.
func (p *Pipeline) Process(ctx context.Context, ev models.WebhookEvent) (inc models.Incident) {
	start := p.now()
	outcome := metrics.OutcomeFailed
	logger := p.logger.With(slog.String("trace_id", ev.TraceID))
	ctx, span := p.tracer.Start(ctx, "incident.process", trace.WithAttributes(
		attribute.String("aha.trace_id", ev.TraceID),
	))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("incident pipeline panicked", slog.Any("panic", r), slog.String("incident_id", inc.ID))
			outcome = metrics.OutcomeFailed
			span.SetStatus(codes.Error, fmt.Sprint(r))
		}
		span.SetAttributes(attribute.String("aha.outcome", outcome), attribute.String("aha.incident_id", inc.ID))
		span.End()
		metrics.ObservePipeline(p.now().Sub(start), outcome)
	}()

	errorType, message := FailureDetails(ev)
	inc = p.store.Create(ev.TraceID, errorType, message, p.TraceURL(ev.TraceID))
	logger = logger.With(slog.String("incident_id", inc.ID))
	logger.Info("incident created", slog.String("error_type", errorType))
	span.SetAttributes(attribute.String("aha.error_type", errorType))

	fetched := p.fetch(ctx, ev.TraceID)
	if fetched == nil {
		logger.Warn("no trace data; incident left detected")
		outcome = metrics.OutcomeNoTrace
		return inc
	}

	hints := p.rules.Hints(HintInput{ErrorType: errorType, ErrorMessage: message, Trace: fetched})
	diagnosis := p.analyze(ctx, fetched, hints)

	issueURL, filed := p.file(ctx, IssueReport{
		Title:     "Agent Failure: " + errorType,
		TraceID:   ev.TraceID,
		TraceURL:  p.TraceURL(ev.TraceID),
		Diagnosis: diagnosis,
		Hints:     hints,
	})

	upd := models.IncidentUpdate{
		Diagnosis:       models.Ptr(diagnosis.Diagnosis),
		ConfidenceScore: models.Ptr(diagnosis.ConfidenceScore),
		RootCause:       models.Ptr(diagnosis.RootCause),
		ErrorCategory:   models.Ptr(diagnosis.ErrorCategory),
		SuggestedFix:    models.Ptr(diagnosis.SuggestedFix),
		Status:          models.Ptr(models.StatusAnalyzed),
	}
	if filed {
		upd.GitHubIssueURL = models.Ptr(issueURL)
	}

	updated, err := p.store.Update(inc.ID, upd)
	if err != nil {
		logger.Error("incident update failed", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "incident update failed")
		return inc
	}

	outcome = metrics.OutcomeAnalyzed
	logger.Info("incident analyzed",
		slog.String("category", diagnosis.ErrorCategory),
		slog.Float64("confidence", diagnosis.ConfidenceScore),
		slog.Bool("issue_filed", filed),
	)
	return updated
}

func (p *Pipeline) fetch(ctx context.Context, traceID string) *models.Trace {
	ctx, span := p.tracer.Start(ctx, "trace.fetch")
	defer span.End()
	t := p.traces.FetchTrace(ctx, traceID)
	if t != nil {
		span.SetAttributes(attribute.Int("aha.runs", len(t.Runs)))
	}
	return t
}

func (p *Pipeline) analyze(ctx context.Context, t *models.Trace, hints []string) models.DiagnosisResult {
	ctx, span := p.tracer.Start(ctx, "diagnosis.analyze", trace.WithAttributes(attribute.Int("aha.hints", len(hints))))
	defer span.End()
	d := p.diagnoser.Analyze(ctx, t, hints)
	span.SetAttributes(
		attribute.String("aha.error_category", d.ErrorCategory),
		attribute.Float64("aha.confidence", d.ConfidenceScore),
	)
	return d
}

func (p *Pipeline) file(ctx context.Context, report IssueReport) (string, bool) {
	ctx, span := p.tracer.Start(ctx, "issue.file")
	defer span.End()
	url, filed := p.filer.FileIssue(ctx, report)
	span.SetAttributes(attribute.Bool("aha.issue_filed", filed))
	return url, filed
}

func stringField(m map[string]any, key, def string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
