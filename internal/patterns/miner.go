package patterns

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-aha/internal/models"
)

const (
	pendingCategory = "unanalyzed"
	maxTraceIDs     = 5
)

// Miner groups incidents into recurring failure patterns keyed by error type
// and diagnosed category.
type Miner struct {
	minOccurrences int
	logger         *slog.Logger
}

// NewMiner constructs a Miner. Patterns seen fewer than minOccurrences times
// are dropped; values below 1 keep everything.
func NewMiner(logger *slog.Logger, minOccurrences int) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	if minOccurrences < 1 {
		minOccurrences = 1
	}
	return &Miner{minOccurrences: minOccurrences, logger: logger}
}

// Mine aggregates incidents, most frequent pattern first. Incidents without a
// diagnosis are grouped under the "unanalyzed" category.
func (m *Miner) Mine(incidents []models.Incident) []models.FailurePattern {
	if len(incidents) == 0 {
		return nil
	}

	stats := make(map[patternKey]*aggregate)
	for _, inc := range incidents {
		agg := ensureAggregate(stats, keyFor(inc))
		agg.count++
		if inc.CreatedAt.After(agg.lastSeen) {
			agg.lastSeen = inc.CreatedAt
		}
		if inc.ConfidenceScore != nil {
			agg.analyzed++
			agg.confidenceSum += *inc.ConfidenceScore
		}
		agg.traces = append(agg.traces, traceRef{id: inc.TraceID, at: inc.CreatedAt})
	}

	patterns := make([]models.FailurePattern, 0, len(stats))
	for key, agg := range stats {
		if agg.count < m.minOccurrences {
			continue
		}
		pattern := models.FailurePattern{
			ErrorType:     key.errorType,
			ErrorCategory: key.category,
			Occurrences:   agg.count,
			Analyzed:      agg.analyzed,
			LastSeen:      agg.lastSeen,
			TraceIDs:      agg.recentTraces(maxTraceIDs),
		}
		if agg.analyzed > 0 {
			pattern.MeanConfidence = agg.confidenceSum / float64(agg.analyzed)
		}
		patterns = append(patterns, pattern)
	}

	sort.Slice(patterns, func(i, j int) bool {
		a, b := patterns[i], patterns[j]
		if a.Occurrences != b.Occurrences {
			return a.Occurrences > b.Occurrences
		}
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		if a.ErrorType != b.ErrorType {
			return a.ErrorType < b.ErrorType
		}
		return a.ErrorCategory < b.ErrorCategory
	})

	m.logger.Debug("mined failure patterns", slog.Int("incidents", len(incidents)), slog.Int("patterns", len(patterns)))
	return patterns
}

type patternKey struct {
	errorType string
	category  string
}

type traceRef struct {
	id string
	at time.Time
}

type aggregate struct {
	count         int
	analyzed      int
	confidenceSum float64
	lastSeen      time.Time
	traces        []traceRef
}

func keyFor(inc models.Incident) patternKey {
	errorType := strings.TrimSpace(inc.ErrorType)
	if errorType == "" {
		errorType = "unknown"
	}
	category := pendingCategory
	if inc.ErrorCategory != nil && strings.TrimSpace(*inc.ErrorCategory) != "" {
		category = strings.ToLower(strings.TrimSpace(*inc.ErrorCategory))
	}
	return patternKey{errorType: errorType, category: category}
}

func ensureAggregate(m map[patternKey]*aggregate, key patternKey) *aggregate {
	agg, ok := m[key]
	if !ok {
		agg = &aggregate{}
		m[key] = agg
	}
	return agg
}

// recentTraces returns up to limit distinct trace ids, newest first.
func (agg *aggregate) recentTraces(limit int) []string {
	refs := append([]traceRef(nil), agg.traces...)
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].at.After(refs[j].at) })
	seen := make(map[string]struct{}, len(refs))
	out := make([]string, 0, limit)
	for _, ref := range refs {
		if _, ok := seen[ref.id]; ok || ref.id == "" {
			continue
		}
		seen[ref.id] = struct{}{}
		out = append(out, ref.id)
		if len(out) == limit {
			break
		}
	}
	return out
}
