// Package httpapi exposes the monitoring engine over HTTP.
//
// Routes:
//
//	POST /v1/monitor/start          start a session
//	POST /v1/monitor/stop           stop the session, returning the recorded one
//	GET  /v1/monitor/status         lifecycle state, elapsed time, bark count
//	GET  /v1/waveform?n=50          newest volume samples, oldest first
//	GET  /v1/settings               current user settings
//	PUT  /v1/settings               replace user settings
//	PUT  /v1/settings/sensitivity   change only the sensitivity
//	GET  /v1/sessions?period=all    training sessions, newest first
//	GET  /v1/barks?limit=100        newest retained bark events
//	GET  /v1/stats?period=week      training statistics
//	DELETE /v1/data                 delete all barks, sessions and settings
//	GET  /v1/stream                 WebSocket stream of levels, barks and state
//	GET  /metrics                   Prometheus scrape endpoint
//
// Errors are JSON objects of the form {"error": "..."}.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/cratequiet/internal/health"
	"github.com/MrWong99/cratequiet/internal/monitor"
	"github.com/MrWong99/cratequiet/internal/observe"
	"github.com/MrWong99/cratequiet/internal/stats"
	"github.com/MrWong99/cratequiet/pkg/audio"
	"github.com/MrWong99/cratequiet/pkg/store"
)

const (
	defaultBarkLimit    = 100
	defaultStreamBuffer = 32
	defaultWriteTimeout = 5 * time.Second

	// maxBodyBytes bounds request bodies; settings payloads are tiny.
	maxBodyBytes = 64 << 10
)

// errBadRequest marks client input errors.
var errBadRequest = errors.New("bad request")

// Monitor is the engine surface the API drives. [*monitor.Controller]
// implements it.
type Monitor interface {
	Start(ctx context.Context) (string, error)
	Stop(ctx context.Context) (store.TrainingSession, bool, error)
	Status() monitor.Status
	Waveform(n int) []float64
	Settings(ctx context.Context) store.UserSettings
	UpdateSettings(ctx context.Context, s store.UserSettings) error
	UpdateSensitivity(ctx context.Context, n int) error
	Subscribe(buf int) *monitor.Subscription
	Reset(ctx context.Context) error
}

// History reads persisted events. The event log implements it.
type History interface {
	BarkEvents(ctx context.Context, limit int) ([]store.BarkEvent, error)
	Sessions(ctx context.Context) ([]store.TrainingSession, error)
}

// Option configures a [Server].
type Option func(*Server)

// WithHealth mounts /healthz and /readyz from h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics records request durations into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler overrides the /metrics handler. Pass nil to disable the
// route. Default: [promhttp.Handler].
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithClock overrides the time source used for statistics periods.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStreamBuffer sets the per-connection subscription buffer. Default: 32.
func WithStreamBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.streamBuffer = n
		}
	}
}

// WithOriginPatterns allows cross-origin WebSocket clients whose Origin host
// matches one of the patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// Server serves the control API.
type Server struct {
	mon  Monitor
	hist History

	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	now            func() time.Time
	streamBuffer   int
	writeTimeout   time.Duration
	originPatterns []string
}

// New returns a Server for mon and hist.
func New(mon Monitor, hist History, opts ...Option) *Server {
	s := &Server{
		mon:            mon,
		hist:           hist,
		metricsHandler: promhttp.Handler(),
		now:            time.Now,
		streamBuffer:   defaultStreamBuffer,
		writeTimeout:   defaultWriteTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/monitor/start", s.handleStart)
	mux.HandleFunc("POST /v1/monitor/stop", s.handleStop)
	mux.HandleFunc("GET /v1/monitor/status", s.handleStatus)
	mux.HandleFunc("GET /v1/waveform", s.handleWaveform)
	mux.HandleFunc("GET /v1/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /v1/settings", s.handlePutSettings)
	mux.HandleFunc("PUT /v1/settings/sensitivity", s.handlePutSensitivity)
	mux.HandleFunc("GET /v1/sessions", s.handleSessions)
	mux.HandleFunc("GET /v1/barks", s.handleBarks)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("DELETE /v1/data", s.handleReset)
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	if s.health != nil {
		s.health.Register(mux)
	}
	return observe.Middleware(s.metrics)(mux)
}

type startResponse struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, err := s.mon.Start(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{SessionID: id})
}

type stopResponse struct {
	// Recorded is false when the session was discarded for being shorter
	// than one second, or when no session was running.
	Recorded bool                   `json:"recorded"`
	Session  *store.TrainingSession `json:"session,omitempty"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ts, ok, err := s.mon.Stop(r.Context())
	if err != nil {
		// The session is recorded even when releasing the source failed.
		observe.Logger(r.Context()).Warn("httpapi: stop", "err", err)
	}
	resp := stopResponse{Recorded: ok}
	if ok {
		resp.Session = &ts
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.mon.Reset(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.mon.Status())
}

type waveformResponse struct {
	Samples []float64 `json:"samples"`
}

func (s *Server) handleWaveform(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r, "n", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	samples := s.mon.Waveform(n)
	if samples == nil {
		samples = []float64{}
	}
	writeJSON(w, http.StatusOK, waveformResponse{Samples: samples})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mon.Settings(r.Context()))
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var us store.UserSettings
	if err := decodeJSON(w, r, &us); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.mon.UpdateSettings(r.Context(), us); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, us)
}

type sensitivityRequest struct {
	Sensitivity *int `json:"sensitivity"`
}

func (s *Server) handlePutSensitivity(w http.ResponseWriter, r *http.Request) {
	var req sensitivityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Sensitivity == nil {
		writeError(w, r, fmt.Errorf("%w: sensitivity is required", errBadRequest))
		return
	}
	if err := s.mon.UpdateSensitivity(r.Context(), *req.Sensitivity); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.mon.Settings(r.Context()))
}

type sessionsResponse struct {
	Period   stats.Period            `json:"period"`
	Sessions []store.TrainingSession `json:"sessions"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	p := stats.All
	if q := r.URL.Query().Get("period"); q != "" {
		var err error
		if p, err = stats.ParsePeriod(q); err != nil {
			writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
			return
		}
	}
	all, err := s.hist.Sessions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	sessions := stats.Filter(all, p, s.now())
	if sessions == nil {
		sessions = []store.TrainingSession{}
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Period: p, Sessions: sessions})
}

type barksResponse struct {
	Events []store.BarkEvent `json:"events"`
}

func (s *Server) handleBarks(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultBarkLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit <= 0 {
		writeError(w, r, fmt.Errorf("%w: limit must be positive", errBadRequest))
		return
	}
	events, err := s.hist.BarkEvents(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if events == nil {
		events = []store.BarkEvent{}
	}
	writeJSON(w, http.StatusOK, barksResponse{Events: events})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	p, err := stats.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	rep, err := stats.Build(r.Context(), s.hist, p, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	q := r.URL.Query().Get(name)
	if q == "" {
		return def, nil
	}
	n, err := strconv.Atoi(q)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errBadRequest, name)
	}
	return n, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %w", errBadRequest, err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, store.ErrInvalidSettings):
		return http.StatusBadRequest
	case errors.Is(err, monitor.ErrAlreadyCapturing):
		return http.StatusConflict
	case errors.Is(err, audio.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, audio.ErrDeviceBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	observe.Logger(r.Context()).Log(r.Context(), level, "httpapi: request failed",
		"path", r.URL.Path,
		"status", status,
		"err", err,
	)
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("httpapi: write response", "err", err)
	}
}
