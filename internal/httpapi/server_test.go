package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/cratequiet/internal/eventlog"
	"github.com/MrWong99/cratequiet/internal/health"
	"github.com/MrWong99/cratequiet/internal/httpapi"
	"github.com/MrWong99/cratequiet/internal/monitor"
	"github.com/MrWong99/cratequiet/internal/observe"
	"github.com/MrWong99/cratequiet/pkg/audio"
	audiomock "github.com/MrWong99/cratequiet/pkg/audio/mock"
	"github.com/MrWong99/cratequiet/pkg/classifier"
	classifiermock "github.com/MrWong99/cratequiet/pkg/classifier/mock"
	"github.com/MrWong99/cratequiet/pkg/store"
	"github.com/MrWong99/cratequiet/pkg/store/memstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type nopResponder struct{}

func (nopResponder) Dispatch(store.BarkEvent, store.UserSettings, bool) bool { return true }
func (nopResponder) CancelPending()                                          {}

type harness struct {
	clock *fakeClock
	src   *audiomock.Source
	log   *eventlog.Log
	ctrl  *monitor.Controller
	srv   *httptest.Server
}

// newHarness wires a controller over an in-memory event log. The classifier
// reports barks for the first `barks` ticks and silence afterwards.
func newHarness(t *testing.T, barks int, opts ...httpapi.Option) *harness {
	t.Helper()

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	results := make([]classifier.Result, barks)
	for i := range results {
		results[i] = classifier.Result{IsBark: true, Confidence: 0.9}
	}

	h := &harness{
		clock: &fakeClock{now: time.Date(2026, 6, 10, 20, 0, 0, 0, time.UTC)},
		src:   &audiomock.Source{Default: audio.Sample{Volume: 42, Frequency: 1200}},
	}
	h.log = eventlog.New(memstore.New(), eventlog.Config{}, eventlog.WithMetrics(m))
	t.Cleanup(func() { _ = h.log.Close(context.Background()) })

	h.ctrl = monitor.New(h.src, h.log, nopResponder{},
		monitor.WithConfig(monitor.Config{SampleInterval: time.Millisecond}),
		monitor.WithClassifier(&classifiermock.Classifier{
			Results: results,
			Default: classifier.Result{Confidence: 0.1},
		}),
		monitor.WithClock(h.clock.Now),
		monitor.WithMetrics(m),
	)
	t.Cleanup(func() { _, _, _ = h.ctrl.Stop(context.Background()) })

	opts = append([]httpapi.Option{
		httpapi.WithMetrics(m),
		httpapi.WithClock(h.clock.Now),
	}, opts...)
	h.srv = httptest.NewServer(httpapi.New(h.ctrl, h.log, opts...).Handler())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := h.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, buf.Bytes()
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return v
}

func (h *harness) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.log.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type statusBody struct {
	State     string `json:"state"`
	SessionID string `json:"session_id"`
	Barks     int    `json:"barks"`
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 3)

	code, body := h.do(t, http.MethodPost, "/v1/monitor/start", "")
	if code != http.StatusCreated {
		t.Fatalf("start: status %d, body %s", code, body)
	}
	id := decode[struct {
		SessionID string `json:"session_id"`
	}](t, body).SessionID
	if id == "" {
		t.Fatal("start: empty session_id")
	}

	code, body = h.do(t, http.MethodPost, "/v1/monitor/start", "")
	if code != http.StatusConflict {
		t.Errorf("second start: status %d, want 409 (%s)", code, body)
	}

	waitFor(t, "three barks", func() bool { return h.ctrl.Status().Barks == 3 })
	code, body = h.do(t, http.MethodGet, "/v1/monitor/status", "")
	st := decode[statusBody](t, body)
	if code != http.StatusOK || st.State != "capturing" || st.SessionID != id || st.Barks != 3 {
		t.Errorf("status: %d %+v", code, st)
	}

	h.clock.Advance(30 * time.Second)
	code, body = h.do(t, http.MethodPost, "/v1/monitor/stop", "")
	if code != http.StatusOK {
		t.Fatalf("stop: status %d, body %s", code, body)
	}
	stop := decode[struct {
		Recorded bool                   `json:"recorded"`
		Session  *store.TrainingSession `json:"session"`
	}](t, body)
	if !stop.Recorded || stop.Session == nil {
		t.Fatalf("stop: %s", body)
	}
	if stop.Session.ID != id || stop.Session.DurationSeconds != 30 || stop.Session.BarksDetected != 3 || stop.Session.Success {
		t.Errorf("session = %+v", *stop.Session)
	}

	h.flush(t)
	_, body = h.do(t, http.MethodGet, "/v1/sessions", "")
	sessions := decode[struct {
		Period   string                  `json:"period"`
		Sessions []store.TrainingSession `json:"sessions"`
	}](t, body)
	if sessions.Period != "all" || len(sessions.Sessions) != 1 || sessions.Sessions[0].ID != id {
		t.Errorf("sessions = %s", body)
	}

	_, body = h.do(t, http.MethodGet, "/v1/barks?limit=2", "")
	barks := decode[struct {
		Events []store.BarkEvent `json:"events"`
	}](t, body)
	if len(barks.Events) != 2 {
		t.Errorf("barks with limit 2 = %d events", len(barks.Events))
	}

	code, body = h.do(t, http.MethodGet, "/v1/stats?period=all", "")
	if code != http.StatusOK {
		t.Fatalf("stats: status %d, body %s", code, body)
	}
	type report struct {
		Summary struct {
			TotalSessions int `json:"total_sessions"`
			SuccessRate   int `json:"success_rate"`
			TotalBarks    int `json:"total_barks"`
		} `json:"summary"`
		RecentBarks int `json:"recent_barks"`
	}
	rep := decode[report](t, body)
	if rep.Summary.TotalSessions != 1 || rep.Summary.SuccessRate != 0 || rep.Summary.TotalBarks != 3 || rep.RecentBarks != 3 {
		t.Errorf("stats = %s", body)
	}

	code, body = h.do(t, http.MethodPost, "/v1/monitor/stop", "")
	if code != http.StatusOK || !strings.Contains(string(body), `"recorded":false`) {
		t.Errorf("stop while idle: %d %s", code, body)
	}
}

func TestResetData(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 2)

	if code, body := h.do(t, http.MethodPut, "/v1/settings/sensitivity", `{"sensitivity":3}`); code != http.StatusOK {
		t.Fatalf("sensitivity: %d %s", code, body)
	}
	if code, body := h.do(t, http.MethodPost, "/v1/monitor/start", ""); code != http.StatusCreated {
		t.Fatalf("start: %d %s", code, body)
	}
	waitFor(t, "two barks", func() bool { return h.ctrl.Status().Barks == 2 })

	if code, body := h.do(t, http.MethodDelete, "/v1/data", ""); code != http.StatusConflict {
		t.Errorf("reset while capturing: status %d, want 409 (%s)", code, body)
	}

	h.clock.Advance(5 * time.Second)
	h.do(t, http.MethodPost, "/v1/monitor/stop", "")
	if code, body := h.do(t, http.MethodDelete, "/v1/data", ""); code != http.StatusNoContent {
		t.Fatalf("reset: status %d, body %s", code, body)
	}

	_, body := h.do(t, http.MethodGet, "/v1/sessions", "")
	if sessions := decode[struct {
		Sessions []store.TrainingSession `json:"sessions"`
	}](t, body).Sessions; len(sessions) != 0 {
		t.Errorf("sessions after reset = %s", body)
	}
	_, body = h.do(t, http.MethodGet, "/v1/barks", "")
	if events := decode[struct {
		Events []store.BarkEvent `json:"events"`
	}](t, body).Events; len(events) != 0 {
		t.Errorf("barks after reset = %s", body)
	}
	_, body = h.do(t, http.MethodGet, "/v1/settings", "")
	if got := decode[store.UserSettings](t, body); got != store.DefaultSettings() {
		t.Errorf("settings after reset = %s", body)
	}
}

func TestStop_ShortSessionNotRecorded(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)

	if code, body := h.do(t, http.MethodPost, "/v1/monitor/start", ""); code != http.StatusCreated {
		t.Fatalf("start: %d %s", code, body)
	}
	_, body := h.do(t, http.MethodPost, "/v1/monitor/stop", "")
	if strings.Contains(string(body), `"session"`) || !strings.Contains(string(body), `"recorded":false`) {
		t.Errorf("stop body = %s", body)
	}
}

func TestStart_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(*audiomock.Source)
		want  int
	}{
		{"permission refused", func(s *audiomock.Source) { s.DenyPermission = true }, http.StatusForbidden},
		{"device busy", func(s *audiomock.Source) { s.StartCaptureError = audio.ErrDeviceBusy }, http.StatusServiceUnavailable},
		{"unknown failure", func(s *audiomock.Source) { s.StartCaptureError = errors.New("boom") }, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, 0)
			tt.setup(h.src)
			code, body := h.do(t, http.MethodPost, "/v1/monitor/start", "")
			if code != tt.want {
				t.Errorf("status %d, want %d (%s)", code, tt.want, body)
			}
			if !strings.Contains(string(body), `"error"`) {
				t.Errorf("body %s lacks error field", body)
			}
			if h.ctrl.Status().State != monitor.Idle {
				t.Error("controller left idle after failed start")
			}
		})
	}
}

func TestSettings(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)

	code, body := h.do(t, http.MethodGet, "/v1/settings", "")
	if code != http.StatusOK || decode[store.UserSettings](t, body) != store.DefaultSettings() {
		t.Fatalf("default settings: %d %s", code, body)
	}

	put := `{"sensitivity":8,"vibration_enabled":false,"sound_response_enabled":true,"response_volume":0.3,"dog_name":"Rex"}`
	if code, body := h.do(t, http.MethodPut, "/v1/settings", put); code != http.StatusOK {
		t.Fatalf("put settings: %d %s", code, body)
	}
	_, body = h.do(t, http.MethodGet, "/v1/settings", "")
	got := decode[store.UserSettings](t, body)
	want := store.UserSettings{Sensitivity: 8, SoundResponseEnabled: true, ResponseVolume: 0.3, DogName: "Rex"}
	if got != want {
		t.Errorf("settings = %+v, want %+v", got, want)
	}

	code, body = h.do(t, http.MethodPut, "/v1/settings/sensitivity", `{"sensitivity":2}`)
	if code != http.StatusOK || decode[store.UserSettings](t, body).Sensitivity != 2 {
		t.Errorf("put sensitivity: %d %s", code, body)
	}
	if got := h.ctrl.Settings(context.Background()); got.Sensitivity != 2 || got.DogName != "Rex" {
		t.Errorf("controller settings = %+v", got)
	}

	h.flush(t)
	stored, err := h.log.Settings(context.Background())
	if err != nil || stored.Sensitivity != 2 {
		t.Errorf("persisted settings = %+v, %v", stored, err)
	}
}

func TestBadRequests(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)

	tests := []struct {
		method, path, body string
	}{
		{http.MethodPut, "/v1/settings", `{"sensitivity":11,"response_volume":0.5}`},
		{http.MethodPut, "/v1/settings", `{"sensitivity":5,"loudness":3}`},
		{http.MethodPut, "/v1/settings", `not json`},
		{http.MethodPut, "/v1/settings/sensitivity", `{}`},
		{http.MethodPut, "/v1/settings/sensitivity", `{"sensitivity":0}`},
		{http.MethodGet, "/v1/waveform?n=abc", ""},
		{http.MethodGet, "/v1/barks?limit=0", ""},
		{http.MethodGet, "/v1/barks?limit=x", ""},
		{http.MethodGet, "/v1/stats?period=year", ""},
		{http.MethodGet, "/v1/sessions?period=decade", ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s %s", tt.method, tt.path, tt.body), func(t *testing.T) {
			code, body := h.do(t, tt.method, tt.path, tt.body)
			if code != http.StatusBadRequest {
				t.Errorf("status %d, want 400 (%s)", code, body)
			}
		})
	}

	if got := h.ctrl.Settings(context.Background()); got != store.DefaultSettings() {
		t.Errorf("rejected updates changed settings: %+v", got)
	}
}

func TestWaveform(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0)

	_, body := h.do(t, http.MethodGet, "/v1/waveform", "")
	if got := string(body); !strings.Contains(got, `"samples":[]`) {
		t.Errorf("idle waveform = %s", got)
	}

	if code, _ := h.do(t, http.MethodPost, "/v1/monitor/start", ""); code != http.StatusCreated {
		t.Fatal("start failed")
	}
	waitFor(t, "ten samples", func() bool { return len(h.ctrl.Waveform(10)) == 10 })

	_, body = h.do(t, http.MethodGet, "/v1/waveform?n=10", "")
	wf := decode[struct {
		Samples []float64 `json:"samples"`
	}](t, body)
	if len(wf.Samples) != 10 {
		t.Fatalf("samples = %d, want 10", len(wf.Samples))
	}
	for _, v := range wf.Samples {
		if v != 42 {
			t.Errorf("sample %v, want 42", v)
		}
	}
}

func TestOperationalRoutes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0, httpapi.WithHealth(health.New(health.Flag("eventlog", func() bool { return false }))))

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if code, body := h.do(t, http.MethodGet, path, ""); code != http.StatusOK {
			t.Errorf("%s: status %d (%s)", path, code, body)
		}
	}
	if code, _ := h.do(t, http.MethodGet, "/v1/monitor/start", ""); code != http.StatusMethodNotAllowed {
		t.Errorf("GET start: status %d, want 405", code)
	}
}
