package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-aha/internal/models"
)

var (
	// ErrIncidentNotFound is returned when an update targets an unknown id.
	ErrIncidentNotFound = errors.New("incident not found")
	// ErrInvalidTransition is returned when an update would move status backwards.
	ErrInvalidTransition = errors.New("invalid status transition")
)

type entry struct {
	incident models.Incident
	seq      uint64
}

// MemoryStore keeps incidents in process memory for the lifetime of the service.
type MemoryStore struct {
	mu        sync.RWMutex
	incidents map[string]*entry
	seq       uint64
	now       func() time.Time
	newID     func() string
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		incidents: make(map[string]*entry),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.NewString() },
	}
}

// Create records a new incident in the detected state and returns a copy.
func (s *MemoryStore) Create(traceID, errorType, errorMessage, traceURL string) models.Incident {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	for _, exists := s.incidents[id]; exists; _, exists = s.incidents[id] {
		id = s.newID()
	}

	now := s.now()
	incident := models.Incident{
		ID:           id,
		TraceID:      traceID,
		ErrorType:    errorType,
		ErrorMessage: errorMessage,
		CreatedAt:    now,
		UpdatedAt:    now,
		Status:       models.StatusDetected,
	}
	if traceURL != "" {
		incident.LangSmithTraceURL = models.Ptr(traceURL)
	}

	s.seq++
	s.incidents[id] = &entry{incident: incident, seq: s.seq}
	return incident.Clone()
}

// Update applies the non-nil fields of upd to the incident identified by id.
func (s *MemoryStore) Update(id string, upd models.IncidentUpdate) (models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.incidents[id]
	if !ok {
		return models.Incident{}, fmt.Errorf("update %s: %w", id, ErrIncidentNotFound)
	}

	if upd.Status != nil {
		next := *upd.Status
		if !next.Valid() || next.Rank() < e.incident.Status.Rank() {
			return e.incident.Clone(), fmt.Errorf("update %s: %s -> %s: %w", id, e.incident.Status, next, ErrInvalidTransition)
		}
	}

	inc := &e.incident
	if upd.Diagnosis != nil {
		inc.Diagnosis = models.Ptr(*upd.Diagnosis)
	}
	if upd.ConfidenceScore != nil {
		inc.ConfidenceScore = models.Ptr(models.ClampConfidence(*upd.ConfidenceScore))
	}
	if upd.RootCause != nil {
		inc.RootCause = models.Ptr(*upd.RootCause)
	}
	if upd.ErrorCategory != nil {
		inc.ErrorCategory = models.Ptr(*upd.ErrorCategory)
	}
	if upd.SuggestedFix != nil {
		inc.SuggestedFix = models.Ptr(*upd.SuggestedFix)
	}
	if upd.GitHubIssueURL != nil {
		inc.GitHubIssueURL = models.Ptr(*upd.GitHubIssueURL)
	}
	if upd.Status != nil {
		inc.Status = *upd.Status
	}
	inc.UpdatedAt = s.now()

	return inc.Clone(), nil
}

// Get returns a copy of the incident with the given id.
func (s *MemoryStore) Get(id string) (models.Incident, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.incidents[id]
	if !ok {
		return models.Incident{}, false
	}
	return e.incident.Clone(), true
}

// List returns all incidents, newest first. Incidents created at the same
// instant are ordered by insertion, latest insertion first.
func (s *MemoryStore) List() []models.Incident {
	s.mu.RLock()
	snapshot := make([]entry, 0, len(s.incidents))
	for _, e := range s.incidents {
		snapshot = append(snapshot, entry{incident: e.incident.Clone(), seq: e.seq})
	}
	s.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool {
		a, b := snapshot[i], snapshot[j]
		if !a.incident.CreatedAt.Equal(b.incident.CreatedAt) {
			return a.incident.CreatedAt.After(b.incident.CreatedAt)
		}
		return a.seq > b.seq
	})

	out := make([]models.Incident, 0, len(snapshot))
	for _, e := range snapshot {
		out = append(out, e.incident)
	}
	return out
}

// Count returns the number of stored incidents.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.incidents)
}

// Clear removes every incident. Intended for demo resets.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = make(map[string]*entry)
}
