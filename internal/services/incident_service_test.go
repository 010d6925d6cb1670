package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-aha/internal/engine"
	"github.com/miradorstack/mirador-aha/internal/models"
	"github.com/miradorstack/mirador-aha/internal/store"
	"github.com/miradorstack/mirador-aha/internal/utils"
)

type recordingProcessor struct {
	mu     sync.Mutex
	events []models.WebhookEvent
}

func (r *recordingProcessor) Process(ctx context.Context, ev models.WebhookEvent) models.Incident {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return models.Incident{}
}

func (r *recordingProcessor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type noTrace struct{}

func (noTrace) FetchTrace(context.Context, string) *models.Trace { return nil }

func newTestService(t *testing.T, st *store.MemoryStore, proc Processor) (*IncidentService, *Dispatcher) {
	t.Helper()
	d := NewDispatcher(utils.DiscardLogger(), 2, 8)
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return NewIncidentService(utils.DiscardLogger(), st, proc, d, nil, Capabilities{LLMProviders: []string{"openai"}}), d
}

// A non-error event is ignored and creates nothing.
func TestSubmitEventIgnoresNonErrors(t *testing.T) {
	st := store.NewMemoryStore()
	proc := &recordingProcessor{}
	svc, d := newTestService(t, st, proc)

	for _, ev := range []models.WebhookEvent{
		{TraceID: "T1", Status: "success"},
		{TraceID: "T1", Status: "success", Error: map[string]any{"type": "X"}},
		{TraceID: "T1", Status: "error"},
		{TraceID: "T1", Status: "error", Error: map[string]any{}},
	} {
		ack := svc.SubmitEvent(ev)
		assert.Equal(t, models.AckIgnored, ack.Status)
		assert.Equal(t, "not an error event", ack.Reason)
	}

	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 0, proc.count())
	assert.Empty(t, st.List())
}

func TestSubmitEventAcceptsErrors(t *testing.T) {
	proc := &recordingProcessor{}
	svc, d := newTestService(t, store.NewMemoryStore(), proc)

	ack := svc.SubmitEvent(models.WebhookEvent{
		TraceID: "T9",
		Status:  "error",
		Error:   map[string]any{"type": "TimeoutError"},
	})
	assert.Equal(t, models.AckAccepted, ack.Status)
	assert.Equal(t, "T9", ack.TraceID)

	require.NoError(t, d.Close(context.Background()))
	require.Equal(t, 1, proc.count())
	assert.Equal(t, "T9", proc.events[0].TraceID)
}

func TestSubmitEventAfterShutdown(t *testing.T) {
	proc := &recordingProcessor{}
	svc, d := newTestService(t, store.NewMemoryStore(), proc)
	require.NoError(t, d.Close(context.Background()))

	ack := svc.SubmitEvent(models.WebhookEvent{TraceID: "T1", Status: "error", Error: map[string]any{"type": "X"}})
	assert.Equal(t, models.AckIgnored, ack.Status)
	assert.Equal(t, 0, proc.count())
}

func TestSubmitEventCreatesExactlyOneIncident(t *testing.T) {
	st := store.NewMemoryStore()
	logger := utils.DiscardLogger()
	pipeline := engine.NewPipeline(logger, st, noTrace{},
		engine.NewDiagnosisEngine(logger, nil, nil, engine.DiagnosisOptions{}),
		engine.NewIssueFiler(logger, nil, nil), nil, "")
	svc, d := newTestService(t, st, pipeline)

	ack := svc.SubmitEvent(models.WebhookEvent{
		TraceID: "T1",
		Status:  "error",
		Error:   map[string]any{"type": "JSONDecodeError", "message": "bad"},
	})
	require.Equal(t, models.AckAccepted, ack.Status)
	require.NoError(t, d.Close(context.Background()))

	list := svc.ListIncidents()
	require.Len(t, list, 1)
	assert.Equal(t, models.StatusDetected, list[0].Status)
	assert.Equal(t, "T1", list[0].TraceID)
	assert.Equal(t, 1, svc.latencies.Count())
}

func TestGetAndClearIncidents(t *testing.T) {
	st := store.NewMemoryStore()
	svc, _ := newTestService(t, st, &recordingProcessor{})
	inc := st.Create("T1", "X", "m", "u")

	got, err := svc.GetIncident(inc.ID)
	require.NoError(t, err)
	assert.Equal(t, inc.ID, got.ID)

	_, err = svc.GetIncident("missing")
	assert.ErrorIs(t, err, store.ErrIncidentNotFound)

	assert.Equal(t, 1, svc.ClearIncidents())
	assert.Empty(t, svc.ListIncidents())
	assert.Equal(t, 0, svc.ClearIncidents())
}

func TestHealthAndPatterns(t *testing.T) {
	st := store.NewMemoryStore()
	svc, _ := newTestService(t, st, &recordingProcessor{})
	st.Create("T1", "JSONDecodeError", "m", "u")
	st.Create("T2", "JSONDecodeError", "m", "u")

	health := svc.Health()
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 2, health.IncidentCount)
	assert.Equal(t, []string{"openai"}, health.LLMProviders)
	assert.False(t, health.IssueFiling)

	patterns := svc.Patterns()
	require.Len(t, patterns, 1)
	assert.Equal(t, 2, patterns[0].Occurrences)
	assert.Equal(t, "unanalyzed", patterns[0].ErrorCategory)
}
