package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-aha/internal/metrics"
	"github.com/miradorstack/mirador-aha/internal/models"
	"github.com/miradorstack/mirador-aha/internal/patterns"
	"github.com/miradorstack/mirador-aha/internal/store"
	"github.com/miradorstack/mirador-aha/internal/utils"
)

const ignoredReason = "not an error event"

// IncidentReader is the read side of the incident store.
type IncidentReader interface {
	Get(id string) (models.Incident, bool)
	List() []models.Incident
	Count() int
	Clear()
}

// Processor runs the incident pipeline for one accepted event.
type Processor interface {
	Process(ctx context.Context, ev models.WebhookEvent) models.Incident
}

// Scheduler hands work to the background. *Dispatcher satisfies it.
type Scheduler interface {
	Submit(job Job) bool
	Pending() int
}

// HealthStatus is the service health summary.
type HealthStatus struct {
	Status        string   `json:"status"`
	IncidentCount int      `json:"incident_count"`
	QueueDepth    int      `json:"queue_depth"`
	LLMProviders  []string `json:"llm_providers"`
	IssueFiling   bool     `json:"issue_filing"`
	PipelineP95MS int64    `json:"pipeline_p95_ms"`
}

// Capabilities describes which optional integrations are live.
type Capabilities struct {
	LLMProviders []string
	IssueFiling  bool
}

// IncidentService is the facade the HTTP and gRPC layers call into.
type IncidentService struct {
	logger    *slog.Logger
	store     IncidentReader
	pipeline  Processor
	scheduler Scheduler
	miner     *patterns.Miner
	caps      Capabilities
	latencies *utils.LatencyTracker
}

// NewIncidentService constructs the facade. miner may be nil.
func NewIncidentService(logger *slog.Logger, st IncidentReader, pipeline Processor, scheduler Scheduler, miner *patterns.Miner, caps Capabilities) *IncidentService {
	if logger == nil {
		logger = slog.Default()
	}
	if miner == nil {
		miner = patterns.NewMiner(logger, 1)
	}
	return &IncidentService{
		logger:    logger,
		store:     st,
		pipeline:  pipeline,
		scheduler: scheduler,
		miner:     miner,
		caps:      caps,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// SubmitEvent filters a webhook event and schedules the pipeline for error
// events. It returns immediately; the acknowledgement never reflects the
// pipeline's outcome.
func (s *IncidentService) SubmitEvent(ev models.WebhookEvent) models.WebhookAck {
	if ev.Status != models.EventStatusError || len(ev.Error) == 0 {
		metrics.ObserveWebhook(string(models.AckIgnored))
		s.logger.Debug("ignoring webhook event", slog.String("trace_id", ev.TraceID), slog.String("status", ev.Status))
		return models.WebhookAck{Status: models.AckIgnored, Reason: ignoredReason}
	}

	accepted := s.scheduler.Submit(func(ctx context.Context) {
		start := time.Now()
		s.pipeline.Process(ctx, ev)
		s.observeLatency(time.Since(start))
	})
	if !accepted {
		// Intake is closed during shutdown; the sender may redeliver.
		metrics.ObserveWebhook("rejected")
		s.logger.Warn("webhook event dropped during shutdown", slog.String("trace_id", ev.TraceID))
		return models.WebhookAck{Status: models.AckIgnored, TraceID: ev.TraceID, Reason: "shutting down"}
	}

	metrics.ObserveWebhook(string(models.AckAccepted))
	s.logger.Info("webhook event accepted", slog.String("trace_id", ev.TraceID))
	return models.WebhookAck{Status: models.AckAccepted, TraceID: ev.TraceID}
}

// ListIncidents returns every incident, newest first.
func (s *IncidentService) ListIncidents() []models.Incident {
	return s.store.List()
}

// GetIncident returns one incident or store.ErrIncidentNotFound.
func (s *IncidentService) GetIncident(id string) (models.Incident, error) {
	id = strings.TrimSpace(id)
	inc, ok := s.store.Get(id)
	if !ok {
		return models.Incident{}, fmt.Errorf("incident %q: %w", id, store.ErrIncidentNotFound)
	}
	return inc, nil
}

// ClearIncidents removes every incident and returns how many there were.
func (s *IncidentService) ClearIncidents() int {
	n := s.store.Count()
	s.store.Clear()
	s.logger.Info("incidents cleared", slog.Int("count", n))
	return n
}

// Patterns mines recurring failure patterns from the current incidents.
func (s *IncidentService) Patterns() []models.FailurePattern {
	return s.miner.Mine(s.store.List())
}

// Health summarises the service state.
func (s *IncidentService) Health() HealthStatus {
	providers := s.caps.LLMProviders
	if providers == nil {
		providers = []string{}
	}
	return HealthStatus{
		Status:        "healthy",
		IncidentCount: s.store.Count(),
		QueueDepth:    s.scheduler.Pending(),
		LLMProviders:  providers,
		IssueFiling:   s.caps.IssueFiling,
		PipelineP95MS: s.LatencyP95().Milliseconds(),
	}
}

// LatencyP95 returns the current p95 pipeline latency.
func (s *IncidentService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

func (s *IncidentService) observeLatency(d time.Duration) {
	s.latencies.Observe(d)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("pipeline latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
}
