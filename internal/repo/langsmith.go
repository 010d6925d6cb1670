package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/miradorstack/mirador-aha/internal/cache"
	"github.com/miradorstack/mirador-aha/internal/metrics"
	"github.com/miradorstack/mirador-aha/internal/models"
	"github.com/miradorstack/mirador-aha/internal/utils"
)

const runsQueryPath = "/api/v1/runs/query"

// LangSmithConfig configures the trace retriever.
type LangSmithConfig struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	PageSize int
	MaxPages int
	CacheTTL time.Duration
}

// LangSmithClient fetches the runs of a trace from the LangSmith API.
type LangSmithClient struct {
	client   jsonClient
	cache    cache.Provider
	cacheTTL time.Duration
	pageSize int
	maxPages int
	logger   *slog.Logger
}

// NewLangSmithClient constructs a trace retriever. cacheProvider may be nil.
func NewLangSmithClient(cfg LangSmithConfig, cacheProvider cache.Provider, logger *slog.Logger) *LangSmithClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	headers := make(http.Header)
	headers.Set("Accept", "application/json")
	if cfg.APIKey != "" {
		headers.Set("x-api-key", cfg.APIKey)
	}
	return &LangSmithClient{
		client: jsonClient{
			name:       "langsmith",
			baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
			headers:    headers,
			httpClient: &http.Client{Timeout: cfg.Timeout},
		},
		cache:    cacheProvider,
		cacheTTL: cfg.CacheTTL,
		pageSize: cfg.PageSize,
		maxPages: cfg.MaxPages,
		logger:   logger,
	}
}

type runsQueryRequest struct {
	Trace  string `json:"trace"`
	Limit  int    `json:"limit"`
	Cursor string `json:"cursor,omitempty"`
}

type runsQueryResponse struct {
	Runs    []langsmithRun    `json:"runs"`
	Cursors map[string]string `json:"cursors"`
}

type langsmithRun struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	RunType     string         `json:"run_type"`
	Inputs      map[string]any `json:"inputs"`
	Outputs     map[string]any `json:"outputs"`
	Error       *string        `json:"error"`
	StartTime   *string        `json:"start_time"`
	EndTime     *string        `json:"end_time"`
	ParentRunID *string        `json:"parent_run_id"`
}

// ListRuns returns every run recorded for traceID, in the order LangSmith
// returned them. Errors are returned unchanged; see FetchTrace for the
// lenient variant.
func (c *LangSmithClient) ListRuns(ctx context.Context, traceID string) ([]models.Run, error) {
	if c == nil {
		return nil, errors.New("langsmith client not initialised")
	}
	if strings.TrimSpace(traceID) == "" {
		return nil, errors.New("trace id is required")
	}

	var runs []models.Run
	cursor := ""
	for page := 0; page < c.maxPages; page++ {
		var resp runsQueryResponse
		req := runsQueryRequest{Trace: traceID, Limit: c.pageSize, Cursor: cursor}
		if err := c.client.do(ctx, http.MethodPost, runsQueryPath, req, &resp, http.StatusOK); err != nil {
			return nil, fmt.Errorf("query runs for trace %s: %w", traceID, err)
		}
		for _, r := range resp.Runs {
			runs = append(runs, normalizeRun(r))
		}
		cursor = resp.Cursors["next"]
		if cursor == "" {
			return runs, nil
		}
	}
	c.logger.Warn("trace truncated at page limit", slog.String("trace_id", traceID), slog.Int("runs", len(runs)))
	return runs, nil
}

// FetchTrace returns the normalized trace, or nil when there is nothing to
// diagnose: no runs yet, or the lookup failed. Failures are logged, never
// returned, and never retried here.
func (c *LangSmithClient) FetchTrace(ctx context.Context, traceID string) *models.Trace {
	if trace, ok := c.cached(ctx, traceID); ok {
		return trace
	}

	c.logger.Info("fetching trace", slog.String("trace_id", traceID))
	runs, err := c.ListRuns(ctx, traceID)
	if err != nil {
		c.logger.Error("trace fetch failed", slog.String("trace_id", traceID), slog.Any("error", err))
		return nil
	}
	if len(runs) == 0 {
		c.logger.Warn("no runs found for trace", slog.String("trace_id", traceID))
		return nil
	}

	trace := &models.Trace{TraceID: traceID, Runs: runs}
	c.store(ctx, trace)
	c.logger.Info("fetched trace", slog.String("trace_id", traceID), slog.Int("runs", len(runs)))
	return trace
}

func (c *LangSmithClient) cached(ctx context.Context, traceID string) (*models.Trace, bool) {
	trace, err := cache.GetJSON[models.Trace](ctx, c.cache, traceCacheKey(traceID))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn("trace cache read failed", slog.String("trace_id", traceID), slog.Any("error", err))
		}
		metrics.ObserveTraceCache(false)
		return nil, false
	}
	if len(trace.Runs) == 0 {
		metrics.ObserveTraceCache(false)
		return nil, false
	}
	metrics.ObserveTraceCache(true)
	return &trace, true
}

func (c *LangSmithClient) store(ctx context.Context, trace *models.Trace) {
	if c.cacheTTL <= 0 {
		return
	}
	if err := cache.SetJSON(ctx, c.cache, traceCacheKey(trace.TraceID), trace, c.cacheTTL); err != nil {
		c.logger.Warn("trace cache write failed", slog.String("trace_id", trace.TraceID), slog.Any("error", err))
	}
}

func traceCacheKey(traceID string) string {
	return "trace:" + traceID
}

func normalizeRun(r langsmithRun) models.Run {
	run := models.Run{
		ID:          r.ID,
		Name:        r.Name,
		RunType:     r.RunType,
		Inputs:      r.Inputs,
		Outputs:     r.Outputs,
		StartTime:   utils.NormalizeTimestamp(r.StartTime),
		EndTime:     utils.NormalizeTimestamp(r.EndTime),
		ParentRunID: nonEmpty(r.ParentRunID),
		Error:       nonEmpty(r.Error),
	}
	return run
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := *s
	return &v
}
