package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/miradorstack/mirador-aha/internal/models"
	"github.com/miradorstack/mirador-aha/internal/services"
	"github.com/miradorstack/mirador-aha/internal/store"
)

const maxWebhookBody = 1 << 20

// HTTPOptions configures the REST surface.
type HTTPOptions struct {
	Version        string
	Debug          bool
	AllowedOrigins []string
}

type httpAPI struct {
	svc    *services.IncidentService
	opts   HTTPOptions
	logger *slog.Logger
}

// NewHTTPHandler builds the webhook and dashboard routes with CORS applied.
func NewHTTPHandler(logger *slog.Logger, svc *services.IncidentService, opts HTTPOptions) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	h := &httpAPI{svc: svc, opts: opts, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.root)
	mux.HandleFunc("POST /webhook/langsmith", h.webhook)
	mux.HandleFunc("GET /api/incidents", h.listIncidents)
	mux.HandleFunc("GET /api/incidents/{id}", h.getIncident)
	mux.HandleFunc("DELETE /api/incidents", h.clearIncidents)
	mux.HandleFunc("GET /api/health", h.health)
	mux.HandleFunc("GET /api/patterns", h.patterns)

	return h.logRequests(cors(opts.AllowedOrigins, mux))
}

func (h *httpAPI) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "AHA Backend is running",
		"version":    h.opts.Version,
		"debug_mode": h.opts.Debug,
	})
}

func (h *httpAPI) webhook(w http.ResponseWriter, r *http.Request) {
	var ev models.WebhookEvent
	dec := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody))
	if err := dec.Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload: "+err.Error())
		return
	}
	if strings.TrimSpace(ev.TraceID) == "" {
		writeError(w, http.StatusBadRequest, "trace_id is required")
		return
	}
	h.logger.Info("received webhook", slog.String("trace_id", ev.TraceID), slog.String("status", ev.Status))
	writeJSON(w, http.StatusOK, h.svc.SubmitEvent(ev))
}

func (h *httpAPI) listIncidents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ListIncidents())
}

func (h *httpAPI) getIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.svc.GetIncident(r.PathValue("id"))
	if errors.Is(err, store.ErrIncidentNotFound) {
		writeError(w, http.StatusNotFound, "Incident not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *httpAPI) clearIncidents(w http.ResponseWriter, r *http.Request) {
	n := h.svc.ClearIncidents()
	writeJSON(w, http.StatusOK, map[string]any{"message": "All incidents cleared", "cleared": n})
}

func (h *httpAPI) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Health())
}

func (h *httpAPI) patterns(w http.ResponseWriter, r *http.Request) {
	patterns := h.svc.Patterns()
	if patterns == nil {
		patterns = []models.FailurePattern{}
	}
	writeJSON(w, http.StatusOK, patterns)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// cors allows credentialed requests from the listed origins ("*" allows any).
func cors(allowed []string, next http.Handler) http.Handler {
	origins := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			wildcard = true
		}
		origins[o] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		_, ok := origins[origin]
		if origin != "" && (ok || wildcard) {
			hdr := w.Header()
			hdr.Set("Access-Control-Allow-Origin", origin)
			hdr.Set("Access-Control-Allow-Credentials", "true")
			hdr.Add("Vary", "Origin")
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				hdr.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
					hdr.Set("Access-Control-Allow-Headers", reqHeaders)
				}
				hdr.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *httpAPI) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
