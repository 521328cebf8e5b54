package monitor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/cratequiet/internal/monitor"
	"github.com/MrWong99/cratequiet/internal/observe"
	"github.com/MrWong99/cratequiet/pkg/audio"
	"github.com/MrWong99/cratequiet/pkg/classifier"
	"github.com/MrWong99/cratequiet/pkg/store"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// fakeClock is a manually advanced wall clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 18, 30, 0, 0, time.UTC)}
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

// fakeLog is a synchronous in-memory monitor.EventLog.
type fakeLog struct {
	mu       sync.Mutex
	barks    []store.BarkEvent
	sessions []store.TrainingSession
	settings *store.UserSettings
	readErr  error
	writeErr error
}

func (l *fakeLog) AppendBarkEvent(ev store.BarkEvent) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.barks = append(l.barks, ev)
	return true
}

func (l *fakeLog) AppendSession(s store.TrainingSession) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions = append(l.sessions, s)
	return true
}

func (l *fakeLog) Settings(context.Context) (store.UserSettings, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return store.DefaultSettings(), l.readErr
	}
	if l.settings == nil {
		return store.DefaultSettings(), nil
	}
	return *l.settings, nil
}

func (l *fakeLog) WriteSettings(_ context.Context, s store.UserSettings) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	l.settings = &s
	return nil
}

func (l *fakeLog) Reset(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	l.barks = nil
	l.sessions = nil
	l.settings = nil
	return nil
}

func (l *fakeLog) Sessions() []store.TrainingSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]store.TrainingSession{}, l.sessions...)
}

func (l *fakeLog) BarkCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.barks)
}

// fakeResponder records dispatches.
type fakeResponder struct {
	mu        sync.Mutex
	strong    []bool
	settings  []store.UserSettings
	cancelled int
}

func (r *fakeResponder) Dispatch(_ store.BarkEvent, s store.UserSettings, strong bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strong = append(r.strong, strong)
	r.settings = append(r.settings, s)
	return true
}

func (r *fakeResponder) CancelPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled++
}

func (r *fakeResponder) Strong() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool{}, r.strong...)
}

func (r *fakeResponder) Cancelled() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// scriptSource yields Samples once and then reports ErrNotCapturing, so every
// tick after the script is a dropped tick.
type scriptSource struct {
	mu        sync.Mutex
	Samples   []audio.Sample
	pos       int
	capturing bool
}

func (s *scriptSource) RequestPermission(context.Context) (bool, error) { return true, nil }

func (s *scriptSource) StartCapture(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capturing = true
	return nil
}

func (s *scriptSource) NextSample(context.Context) (audio.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.capturing || s.pos >= len(s.Samples) {
		return audio.Sample{}, audio.ErrNotCapturing
	}
	smp := s.Samples[s.pos]
	s.pos++
	return smp, nil
}

func (s *scriptSource) StopCapture(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capturing = false
	return nil
}

func (s *scriptSource) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos >= len(s.Samples)
}

var errBoom = errors.New("boom")

func barkResults(n int) []classifier.Result {
	out := make([]classifier.Result, n)
	for i := range out {
		out[i] = classifier.Result{IsBark: true, Confidence: 0.9}
	}
	return out
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// fastConfig ticks every millisecond.
var fastConfig = monitor.Config{SampleInterval: time.Millisecond}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
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

// stopOnCleanup stops c when the test ends so no loop outlives it.
func stopOnCleanup(t *testing.T, c *monitor.Controller) {
	t.Helper()
	t.Cleanup(func() { _, _, _ = c.Stop(context.Background()) })
}
