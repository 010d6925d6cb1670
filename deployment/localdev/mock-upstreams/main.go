// Command mock-upstreams stands in for LangSmith, GitHub and an OpenAI-compatible
// endpoint so the engine can run end to end without credentials.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/miradorstack/mirador-aha/internal/utils"
)

type run struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	RunType     string         `json:"run_type"`
	Inputs      map[string]any `json:"inputs"`
	Outputs     map[string]any `json:"outputs"`
	Error       *string        `json:"error"`
	StartTime   string         `json:"start_time"`
	EndTime     string         `json:"end_time"`
	ParentRunID *string        `json:"parent_run_id"`
}

const cannedDiagnosis = `Diagnosis: The payments tool timed out while the agent waited on an upstream call.
Root Cause: The tool call has no retry budget and the upstream exceeded its 30s deadline.
Error Category: network
Suggested Fix: Add bounded retries with backoff around the payments tool.
Confidence: 0.82`

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	logger := utils.NewLogger("info", false).With(slog.String("component", "mock-upstreams"))
	var issueNumber atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /api/v1/runs/query", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Trace string `json:"trace"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if strings.HasPrefix(req.Trace, "missing") {
			writeJSON(w, http.StatusOK, map[string]any{"runs": []run{}, "cursors": map[string]string{}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": sampleRuns(req.Trace), "cursors": map[string]string{}})
	})

	mux.HandleFunc("GET /repos/{owner}/{repo}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"full_name": r.PathValue("owner") + "/" + r.PathValue("repo"),
		})
	})

	mux.HandleFunc("POST /repos/{owner}/{repo}/issues", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Validation Failed"})
			return
		}
		n := issueNumber.Add(1)
		writeJSON(w, http.StatusCreated, map[string]any{
			"number":   n,
			"state":    "open",
			"html_url": "https://github.com/" + r.PathValue("owner") + "/" + r.PathValue("repo") + "/issues/" + strconv.FormatInt(n, 10),
		})
	})

	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": cannedDiagnosis}},
			},
		})
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("listening", slog.String("address", *addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.Any("error", err))
	}
}

func sampleRuns(traceID string) []run {
	now := time.Now().UTC()
	stamp := func(d time.Duration) string { return now.Add(d).Format(time.RFC3339Nano) }
	root := traceID
	timeout := "TimeoutError: payments tool exceeded 30s deadline"
	return []run{
		{
			ID: traceID, Name: "checkout-agent", RunType: "chain",
			Inputs:    map[string]any{"question": "refund order 1234"},
			StartTime: stamp(-40 * time.Second), EndTime: stamp(-2 * time.Second),
			Error: &timeout,
		},
		{
			ID: traceID + "-llm", Name: "ChatOpenAI", RunType: "llm",
			Inputs:    map[string]any{"messages": []string{"refund order 1234"}},
			Outputs:   map[string]any{"tool_call": "payments.refund"},
			StartTime: stamp(-40 * time.Second), EndTime: stamp(-38 * time.Second),
			ParentRunID: &root,
		},
		{
			ID: traceID + "-tool", Name: "payments.refund", RunType: "tool",
			Inputs:    map[string]any{"order_id": "1234"},
			StartTime: stamp(-37 * time.Second), EndTime: stamp(-3 * time.Second),
			Error: &timeout, ParentRunID: &root,
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
