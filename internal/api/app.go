package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentsh/shellgate/internal/auth"
	"github.com/agentsh/shellgate/internal/config"
	"github.com/agentsh/shellgate/internal/metrics"
	"github.com/agentsh/shellgate/internal/session"
	"github.com/agentsh/shellgate/internal/store"
	"github.com/agentsh/shellgate/pkg/types"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/propagation"
)

type App struct {
	cfg      *config.Config
	sessions *session.Manager
	events   store.EventStore
	outputs  store.OutputStore

	apiKeyAuth *auth.APIKeyAuth
	metrics    *metrics.Collector
	logger     *slog.Logger

	maxBody int64
}

// Options holds the collaborators of an App. Events, Outputs, APIKeys and
// Metrics are optional.
type Options struct {
	Config   *config.Config
	Sessions *session.Manager
	Events   store.EventStore
	Outputs  store.OutputStore
	APIKeys  *auth.APIKeyAuth
	Metrics  *metrics.Collector
	Logger   *slog.Logger
}

func NewApp(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var maxBody int64
	if opts.Config.Server.HTTP.MaxRequestSize != "" {
		// validateConfig has already accepted the value.
		maxBody, _ = config.ParseByteSize(opts.Config.Server.HTTP.MaxRequestSize)
	}
	return &App{
		cfg:        opts.Config,
		sessions:   opts.Sessions,
		events:     opts.Events,
		outputs:    opts.Outputs,
		apiKeyAuth: opts.APIKeys,
		metrics:    opts.Metrics,
		logger:     logger,
		maxBody:    maxBody,
	}
}

func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(a.metricsMiddleware)
	r.Use(traceMiddleware)

	r.Get(a.cfg.Health.Path, func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ok\n") })
	r.Get(a.cfg.Health.ReadinessPath, func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ready\n") })
	if a.cfg.Metrics.Enabled && a.metrics != nil {
		r.Method(http.MethodGet, a.cfg.Metrics.Path, a.metrics.Handler(metrics.HandlerOptions{SessionCount: a.sessions.Count}))
	}

	r.Group(func(r chi.Router) {
		r.Use(a.authMiddleware)
		r.Use(a.bodyLimitMiddleware)

		r.Get(a.cfg.Server.HTTP.GatewayPath, a.gatewayStatus)
		r.Post(a.cfg.Server.HTTP.GatewayPath, a.gatewayAction)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/sessions", a.listSessions)
			r.Get("/sessions/{id}", a.getSession)
			r.Get("/sessions/{id}/history", a.sessionHistory)
			r.Get("/sessions/{id}/output/{cmdID}", a.getOutputChunk)
		})
	})

	return r
}

func (a *App) authMiddleware(next http.Handler) http.Handler {
	if a.cfg.Development.DisableAuth || strings.EqualFold(a.cfg.Auth.Type, "none") {
		return next
	}
	if strings.EqualFold(a.cfg.Auth.Type, "api_key") {
		if a.apiKeyAuth == nil {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, http.StatusServiceUnavailable, "api key auth enabled but keys not loaded")
			})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(a.apiKeyAuth.HeaderName())
			id, ok := a.apiKeyAuth.KeyID(key)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			a.logger.Debug("request authenticated", "key_id", id, "path", r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusUnauthorized, "unsupported auth type")
	})
}

func (a *App) bodyLimitMiddleware(next http.Handler) http.Handler {
	if a.maxBody <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, a.maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

// traceMiddleware puts an inbound W3C traceparent into the request context so
// events recorded while serving the request carry its trace id.
func traceMiddleware(next http.Handler) http.Handler {
	prop := propagation.TraceContext{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(p)
}

func (a *App) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		if a.metrics != nil {
			a.metrics.IncHTTP(rec.status)
		}
		a.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration_ms", time.Since(start).Milliseconds())
	})
}

func (a *App) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.sessions.List())
}

func (a *App) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, msgInvalidSession)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// sessionHistory serves audit events for a session. Destroyed sessions keep
// their history, so the id is not checked against the live registry.
func (a *App) sessionHistory(w http.ResponseWriter, r *http.Request) {
	if a.events == nil {
		writeError(w, http.StatusNotFound, "event history not enabled")
		return
	}
	q, err := parseEventQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q.SessionID = chi.URLParam(r, "id")
	evs, err := a.events.QueryEvents(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if evs == nil {
		evs = []types.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

func (a *App) getOutputChunk(w http.ResponseWriter, r *http.Request) {
	if a.outputs == nil {
		writeError(w, http.StatusNotFound, "output storage not enabled")
		return
	}
	cmdID := chi.URLParam(r, "cmdID")
	stream := r.URL.Query().Get("stream")
	if stream == "" {
		stream = "stdout"
	}
	if stream != "stdout" && stream != "stderr" {
		writeError(w, http.StatusBadRequest, "stream must be stdout or stderr")
		return
	}
	offset, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)

	chunk, total, truncated, err := a.outputs.ReadOutputChunk(r.Context(), cmdID, stream, offset, limit)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "output not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if offset < 0 {
		offset = 0
	}
	writeJSON(w, http.StatusOK, types.OutputChunk{
		CommandID:  cmdID,
		Stream:     stream,
		Offset:     offset,
		Data:       string(chunk),
		TotalBytes: total,
		Truncated:  truncated,
		HasMore:    offset+int64(len(chunk)) < total,
	})
}

func parseEventQuery(r *http.Request) (types.EventQuery, error) {
	v := r.URL.Query()
	var q types.EventQuery
	q.CommandID = v.Get("command_id")
	if t := v.Get("type"); t != "" {
		q.Types = strings.Split(t, ",")
	}
	q.TextLike = v.Get("text_like")
	if l := v.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return q, fmt.Errorf("limit: must be a non-negative integer")
		}
		q.Limit = n
	}
	q.Offset, _ = strconv.Atoi(v.Get("offset"))
	q.Asc = v.Get("order") == "asc" || v.Get("asc") == "true"

	if since := v.Get("since"); since != "" {
		t, err := parseTimeOrAgo(since)
		if err != nil {
			return q, fmt.Errorf("since: %w", err)
		}
		q.Since = &t
	}
	if until := v.Get("until"); until != "" {
		t, err := parseTimeOrAgo(until)
		if err != nil {
			return q, fmt.Errorf("until: %w", err)
		}
		q.Until = &t
	}
	return q, nil
}

// parseTimeOrAgo accepts RFC 3339 or a duration meaning "that long ago".
func parseTimeOrAgo(s string) (time.Time, error) {
	if !strings.Contains(s, "T") {
		if d, err := time.ParseDuration(s); err == nil {
			return time.Now().UTC().Add(-d), nil
		}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s))
}
