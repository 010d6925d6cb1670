package api

import (
	"context"
	"sync"
	"testing"

	"github.com/miradorstack/mirador-aha/internal/models"
	"github.com/miradorstack/mirador-aha/internal/services"
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

type fixture struct {
	store      *store.MemoryStore
	processor  *recordingProcessor
	dispatcher *services.Dispatcher
	service    *services.IncidentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	proc := &recordingProcessor{}
	d := services.NewDispatcher(utils.DiscardLogger(), 1, 4)
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	svc := services.NewIncidentService(utils.DiscardLogger(), st, proc, d, nil, services.Capabilities{})
	return &fixture{store: st, processor: proc, dispatcher: d, service: svc}
}
