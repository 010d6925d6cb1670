package repo

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-aha/internal/cache"
	"github.com/miradorstack/mirador-aha/internal/utils"
)

func newTestLangSmith(rt roundTripFunc, provider cache.Provider) *LangSmithClient {
	c := NewLangSmithClient(LangSmithConfig{
		BaseURL:  "https://api.smith.example",
		APIKey:   "ls-key",
		Timeout:  time.Second,
		CacheTTL: time.Minute,
	}, provider, utils.DiscardLogger())
	c.client.httpClient = newTestClient(rt)
	return c
}

func TestFetchTraceNormalizesRuns(t *testing.T) {
	client := newTestLangSmith(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/api/v1/runs/query", req.URL.Path)
		assert.Equal(t, "ls-key", req.Header.Get("x-api-key"))
		var body runsQueryRequest
		decodeBody(t, req, &body)
		assert.Equal(t, "T1", body.Trace)

		return jsonResponse(t, http.StatusOK, map[string]any{
			"runs": []map[string]any{
				{
					"id":         "r1",
					"name":       "ResearchAgent",
					"run_type":   "chain",
					"inputs":     map[string]any{"query": "x"},
					"outputs":    nil,
					"error":      "JSONDecodeError: Expecting value",
					"start_time": "2024-05-01T12:00:00.123456",
					"end_time":   nil,
				},
				{
					"id":            "r2",
					"name":          "ChatOpenAI",
					"run_type":      "llm",
					"error":         "",
					"start_time":    "2024-05-01T12:00:01+00:00",
					"end_time":      "2024-05-01T12:00:02Z",
					"parent_run_id": "r1",
				},
			},
		}), nil
	}, nil)

	trace := client.FetchTrace(context.Background(), "T1")
	require.NotNil(t, trace)
	require.Len(t, trace.Runs, 2)

	first := trace.Runs[0]
	assert.Equal(t, "ResearchAgent", first.Name)
	require.NotNil(t, first.Error)
	assert.Equal(t, "JSONDecodeError: Expecting value", *first.Error)
	require.NotNil(t, first.StartTime)
	assert.Equal(t, "2024-05-01T12:00:00.123456Z", *first.StartTime)
	assert.Nil(t, first.EndTime, "absent timestamps stay absent")
	assert.Nil(t, first.ParentRunID)

	second := trace.Runs[1]
	assert.Nil(t, second.Error, "empty error text is treated as no error")
	require.NotNil(t, second.ParentRunID)
	assert.Equal(t, "r1", *second.ParentRunID)
	assert.Equal(t, "2024-05-01T12:00:01Z", *second.StartTime)
}

func TestFetchTraceFollowsCursor(t *testing.T) {
	calls := 0
	client := newTestLangSmith(func(req *http.Request) (*http.Response, error) {
		calls++
		var body runsQueryRequest
		decodeBody(t, req, &body)
		if body.Cursor == "" {
			return jsonResponse(t, http.StatusOK, map[string]any{
				"runs":    []map[string]any{{"id": "r1"}},
				"cursors": map[string]string{"next": "page-2"},
			}), nil
		}
		assert.Equal(t, "page-2", body.Cursor)
		return jsonResponse(t, http.StatusOK, map[string]any{
			"runs":    []map[string]any{{"id": "r2"}},
			"cursors": map[string]any{"next": nil},
		}), nil
	}, nil)

	trace := client.FetchTrace(context.Background(), "T1")
	require.NotNil(t, trace)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "r1", trace.Runs[0].ID)
	assert.Equal(t, "r2", trace.Runs[1].ID)
}

func TestFetchTraceEmptyIsAbsentAndNotCached(t *testing.T) {
	calls := 0
	provider := cache.NewLRUProvider(8, time.Minute)
	client := newTestLangSmith(func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(t, http.StatusOK, map[string]any{"runs": []any{}}), nil
	}, provider)

	assert.Nil(t, client.FetchTrace(context.Background(), "T1"))
	assert.Nil(t, client.FetchTrace(context.Background(), "T1"))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, provider.Len())
}

func TestFetchTraceErrorsAreAbsent(t *testing.T) {
	client := newTestLangSmith(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}, nil)
	assert.Nil(t, client.FetchTrace(context.Background(), "T1"))

	client = newTestLangSmith(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusUnauthorized, map[string]string{"detail": "bad key"}), nil
	}, nil)
	assert.Nil(t, client.FetchTrace(context.Background(), "T1"))

	_, err := client.ListRuns(context.Background(), "T1")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, utils.StatusCode(err))
}

func TestFetchTraceUsesCache(t *testing.T) {
	hits := 0
	provider := cache.NewLRUProvider(8, time.Minute)
	client := newTestLangSmith(func(req *http.Request) (*http.Response, error) {
		hits++
		return jsonResponse(t, http.StatusOK, map[string]any{
			"runs": []map[string]any{{"id": "r1", "name": "agent"}},
		}), nil
	}, provider)

	first := client.FetchTrace(context.Background(), "T1")
	require.NotNil(t, first)
	second := client.FetchTrace(context.Background(), "T1")
	require.NotNil(t, second)

	assert.Equal(t, 1, hits, "second lookup should be served from cache")
	assert.Equal(t, first.Runs[0].Name, second.Runs[0].Name)
}

func TestListRunsRequiresTraceID(t *testing.T) {
	client := newTestLangSmith(func(req *http.Request) (*http.Response, error) {
		t.Fatal("unexpected request")
		return nil, nil
	}, nil)
	_, err := client.ListRuns(context.Background(), " ")
	assert.Error(t, err)
}
