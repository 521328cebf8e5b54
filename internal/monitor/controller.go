// Package monitor implements the session controller of the bark monitoring
// engine.
//
// A [Controller] owns the Idle/Capturing lifecycle. Start opens the audio
// source and launches one sampling goroutine; that goroutine is the only
// writer of the per-session state (the run), the waveform buffer and the
// bark counter. Every tick it reads one sample, updates the waveform,
// classifies, publishes a level update and, for accepted barks, logs the
// event, notifies subscribers and hands the bark to the responder.
//
// Stop cancels the loop, waits for an in-flight tick, releases the source and
// records a training session when the session lasted at least one second.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/cratequiet/internal/observe"
	"github.com/MrWong99/cratequiet/internal/waveform"
	"github.com/MrWong99/cratequiet/pkg/audio"
	"github.com/MrWong99/cratequiet/pkg/classifier"
	"github.com/MrWong99/cratequiet/pkg/store"
)

// ErrAlreadyCapturing is returned by [Controller.Start] while a session is
// running. The running session is unaffected.
var ErrAlreadyCapturing = errors.New("monitor: already capturing")

// State is the controller lifecycle state.
type State int

const (
	Idle State = iota
	Capturing
)

// String returns "idle" or "capturing".
func (s State) String() string {
	if s == Capturing {
		return "capturing"
	}
	return "idle"
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = Idle
	case "capturing":
		*s = Capturing
	default:
		return fmt.Errorf("monitor: unknown state %q", b)
	}
	return nil
}

// EventLog is the persistence side used by the controller. Appends must not
// block.
type EventLog interface {
	AppendBarkEvent(ev store.BarkEvent) bool
	AppendSession(s store.TrainingSession) bool
	Settings(ctx context.Context) (store.UserSettings, error)
	WriteSettings(ctx context.Context, s store.UserSettings) error
	Reset(ctx context.Context) error
}

// Responder turns accepted barks into feedback. Dispatch must not block.
type Responder interface {
	Dispatch(ev store.BarkEvent, s store.UserSettings, strong bool) bool
	CancelPending()
}

// Config tunes the sampling loop.
type Config struct {
	// SampleInterval is the tick period. Default: 100ms.
	SampleInterval time.Duration `yaml:"sample_interval"`

	// AcceptConfidence is the confidence a bark candidate must exceed.
	// Default: 0.6.
	AcceptConfidence float64 `yaml:"accept_confidence"`

	// StrongEvery flags every n-th bark of a session as strong. Default: 5.
	StrongEvery int `yaml:"strong_every"`

	// WaveformCapacity is the number of volume samples kept. Default: 100.
	WaveformCapacity int `yaml:"waveform_capacity"`

	// WaveformDisplay is the window returned by Waveform(0). Default: 50.
	WaveformDisplay int `yaml:"waveform_display"`

	// BarkDuration is the duration stamped on every bark event. Default: 1s.
	BarkDuration time.Duration `yaml:"bark_duration"`
}

func (c Config) withDefaults() Config {
	if c.SampleInterval <= 0 {
		c.SampleInterval = 100 * time.Millisecond
	}
	if c.AcceptConfidence <= 0 {
		c.AcceptConfidence = 0.6
	}
	if c.StrongEvery <= 0 {
		c.StrongEvery = 5
	}
	if c.WaveformCapacity <= 0 {
		c.WaveformCapacity = waveform.DefaultCapacity
	}
	if c.WaveformDisplay <= 0 {
		c.WaveformDisplay = waveform.DisplayWindow
	}
	if c.BarkDuration <= 0 {
		c.BarkDuration = time.Second
	}
	return c
}

// Option configures a [Controller].
type Option func(*Controller)

// WithConfig sets the loop configuration.
func WithConfig(cfg Config) Option {
	return func(c *Controller) { c.cfg = cfg }
}

// WithClassifier sets the initial classifier. Default: [classifier.NewThreshold].
func WithClassifier(cl classifier.Classifier) Option {
	return func(c *Controller) {
		if cl != nil {
			c.classifier.Store(&classifierBox{cl})
		}
	}
}

// WithClock overrides the wall clock used for session timing and event
// timestamps. The tick period always uses real time.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithMetrics overrides the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

type classifierBox struct{ classifier.Classifier }

// run is the state of one capturing session. Everything but barks is fixed
// at Start; barks is written only by the sampling goroutine.
type run struct {
	id        string
	startedAt time.Time
	barks     atomic.Int64
	cancel    context.CancelFunc
	done      chan struct{}
}

// Status is a point-in-time view of the controller.
type Status struct {
	State     State         `json:"state"`
	SessionID string        `json:"session_id,omitempty"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Barks     int           `json:"barks"`
}

// Controller runs monitoring sessions. All methods are safe for concurrent
// use.
type Controller struct {
	src     audio.Source
	log     EventLog
	resp    Responder
	cfg     Config
	now     func() time.Time
	metrics *observe.Metrics
	wave    *waveform.Buffer

	classifier atomic.Pointer[classifierBox]
	settings   atomic.Pointer[store.UserSettings]

	// lifecycle serialises Start, Stop and Reset.
	lifecycle sync.Mutex

	mu  sync.RWMutex
	cur *run

	subMu sync.Mutex
	subs  map[*Subscription]struct{}
}

// New creates an idle controller.
func New(src audio.Source, log EventLog, resp Responder, opts ...Option) *Controller {
	c := &Controller{
		src:  src,
		log:  log,
		resp: resp,
		now:  time.Now,
		subs: make(map[*Subscription]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.cfg = c.cfg.withDefaults()
	if c.classifier.Load() == nil {
		c.classifier.Store(&classifierBox{classifier.NewThreshold()})
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.wave = waveform.New(c.cfg.WaveformCapacity)
	return c
}

// Start begins a monitoring session. It returns [ErrAlreadyCapturing] while
// a session runs, and errors wrapping [audio.ErrPermissionDenied] or
// [audio.ErrDeviceBusy] when the source cannot be opened; in every error case
// the controller state is unchanged.
//
// The sampling loop outlives ctx; only [Controller.Stop] ends it.
func (c *Controller) Start(ctx context.Context) (string, error) {
	ctx, span := observe.StartSpan(ctx, "monitor.Start")
	defer span.End()
	log := observe.Logger(ctx)

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.current() != nil {
		return "", ErrAlreadyCapturing
	}

	settings, err := c.log.Settings(ctx)
	switch cur := c.settings.Load(); {
	case err != nil && cur != nil:
		settings = *cur
		log.Warn("monitor: keeping in-memory settings", "err", err)
	case err != nil:
		log.Warn("monitor: using default settings", "err", err)
	}
	c.settings.Store(&settings)

	granted, err := c.src.RequestPermission(ctx)
	if err != nil {
		return "", fmt.Errorf("monitor: request permission: %w", err)
	}
	if !granted {
		return "", fmt.Errorf("monitor: request permission: %w", audio.ErrPermissionDenied)
	}
	if err := c.src.StartCapture(ctx); err != nil {
		return "", fmt.Errorf("monitor: start capture: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		_ = c.src.StopCapture(ctx)
		return "", fmt.Errorf("monitor: session id: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:        id.String(),
		startedAt: c.now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	c.wave.Reset()

	c.mu.Lock()
	c.cur = r
	c.mu.Unlock()

	ctx = observe.WithSession(ctx, r.id)
	c.metrics.ActiveSessions.Add(ctx, 1)
	c.publishState(StateChange{State: Capturing, SessionID: r.id, At: r.startedAt})
	observe.Logger(ctx).Info("session started",
		"sensitivity", settings.Sensitivity,
		"interval", c.cfg.SampleInterval,
	)

	go c.loop(loopCtx, r)
	return r.id, nil
}

// Stop ends the running session. It is a no-op returning false while idle.
// When the session lasted at least one whole second the recorded
// [store.TrainingSession] is returned with true; shorter sessions are
// discarded. An error is returned only when releasing the source failed, and
// the session is recorded regardless.
func (c *Controller) Stop(ctx context.Context) (store.TrainingSession, bool, error) {
	ctx, span := observe.StartSpan(ctx, "monitor.Stop")
	defer span.End()

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	r := c.current()
	if r == nil {
		return store.TrainingSession{}, false, nil
	}

	r.cancel()
	<-r.done
	stoppedAt := c.now()
	ctx = observe.WithSession(ctx, r.id)
	log := observe.Logger(ctx)

	c.mu.Lock()
	c.cur = nil
	c.mu.Unlock()

	c.resp.CancelPending()

	var stopErr error
	if err := c.src.StopCapture(ctx); err != nil {
		stopErr = fmt.Errorf("monitor: stop capture: %w", err)
		log.Warn("monitor: failed to release audio source", "err", err)
	}
	c.metrics.ActiveSessions.Add(ctx, -1)

	barks := int(r.barks.Load())
	elapsed := stoppedAt.Sub(r.startedAt)
	secs := int64(elapsed / time.Second)
	span.SetAttributes(
		attribute.Int64("duration_seconds", secs),
		attribute.Int("barks", barks),
	)

	if secs <= 0 {
		c.metrics.RecordSession(ctx, "discarded")
		c.publishState(StateChange{State: Idle, SessionID: r.id, At: stoppedAt, Barks: barks, Elapsed: elapsed})
		log.Info("session discarded", "barks", barks)
		return store.TrainingSession{}, false, stopErr
	}

	ts := store.TrainingSession{
		ID:              r.id,
		Date:            r.startedAt,
		DurationSeconds: secs,
		BarksDetected:   barks,
		Success:         barks == 0,
	}
	c.log.AppendSession(ts)

	outcome := "barked"
	if ts.Success {
		outcome = "success"
	}
	c.metrics.RecordSession(ctx, outcome)
	c.publishState(StateChange{State: Idle, SessionID: r.id, At: stoppedAt, Barks: barks, Elapsed: elapsed, Session: &ts})
	log.Info("session stopped",
		"duration_seconds", secs,
		"barks", barks,
		"success", ts.Success,
	)
	return ts, true, stopErr
}

func (c *Controller) current() *run {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur
}

func (c *Controller) loop(ctx context.Context, r *run) {
	defer close(r.done)

	t := time.NewTicker(c.cfg.SampleInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.tick(ctx, r)
		}
	}
}

func (c *Controller) tick(ctx context.Context, r *run) {
	start := time.Now()

	readCtx, cancel := context.WithTimeout(ctx, c.cfg.SampleInterval)
	sample, err := c.src.NextSample(readCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordTick(ctx, observe.StatusDropped, 0)
		slog.Debug("monitor: dropped tick", "session_id", r.id, "err", err)
		return
	}

	settings := *c.settings.Load()
	c.wave.Push(sample.Volume)

	res := c.classifier.Load().Classify(sample, settings.Sensitivity)
	c.metrics.Confidence.Record(ctx, res.Confidence)
	accepted := res.IsBark && res.Confidence > c.cfg.AcceptConfidence

	at := sample.CapturedAt
	if at.IsZero() {
		at = c.now()
	}
	c.publishLevel(Level{Volume: sample.Volume, BarkFlash: accepted, At: at})

	if accepted {
		ev := store.BarkEvent{
			Timestamp:  c.now(),
			Volume:     sample.Volume,
			Duration:   c.cfg.BarkDuration,
			Confidence: res.Confidence,
		}
		c.log.AppendBarkEvent(ev)
		n := r.barks.Add(1)
		strong := n%int64(c.cfg.StrongEvery) == 0

		c.metrics.Barks.Add(ctx, 1)
		c.publishBark(BarkNotification{SessionID: r.id, Event: ev, Count: int(n), Strong: strong})
		c.resp.Dispatch(ev, settings, strong)
		slog.Debug("bark detected",
			"session_id", r.id,
			"count", n,
			"volume", sample.Volume,
			"confidence", res.Confidence,
			"strong", strong,
		)
	}

	c.metrics.RecordTick(ctx, observe.StatusOK, time.Since(start).Seconds())
}

// Reset deletes every recorded bark, session and the stored settings. It
// returns [ErrAlreadyCapturing] while a session runs. After a successful
// reset the next [Controller.Settings] call reloads the defaults.
func (c *Controller) Reset(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "monitor.Reset")
	defer span.End()

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.current() != nil {
		return ErrAlreadyCapturing
	}
	if err := c.log.Reset(ctx); err != nil {
		return fmt.Errorf("monitor: reset: %w", err)
	}
	c.settings.Store(nil)
	c.wave.Reset()
	observe.Logger(ctx).Info("all data cleared")
	return nil
}

// Settings returns the settings the loop is using, loading them from the
// event log when no session has run yet.
func (c *Controller) Settings(ctx context.Context) store.UserSettings {
	if s := c.settings.Load(); s != nil {
		return *s
	}
	s, err := c.log.Settings(ctx)
	if err != nil {
		slog.Warn("monitor: using default settings", "err", err)
	}
	c.settings.CompareAndSwap(nil, &s)
	return *c.settings.Load()
}

// UpdateSettings validates s, applies it from the next tick and persists it.
// Invalid settings are rejected with an error wrapping
// [store.ErrInvalidSettings] and change nothing. A persistence failure is
// returned after s has already been applied in memory.
func (c *Controller) UpdateSettings(ctx context.Context, s store.UserSettings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("monitor: update settings: %w", err)
	}
	c.settings.Store(&s)
	if err := c.log.WriteSettings(ctx, s); err != nil {
		return fmt.Errorf("monitor: persist settings: %w", err)
	}
	slog.Info("settings updated", "sensitivity", s.Sensitivity,
		"vibration", s.VibrationEnabled, "sound", s.SoundResponseEnabled)
	return nil
}

// UpdateSensitivity changes only the sensitivity. See [Controller.UpdateSettings].
func (c *Controller) UpdateSensitivity(ctx context.Context, n int) error {
	s := c.Settings(ctx)
	s.Sensitivity = n
	return c.UpdateSettings(ctx, s)
}

// SetClassifier swaps the classifier. The next tick uses cl.
func (c *Controller) SetClassifier(cl classifier.Classifier) {
	if cl == nil {
		return
	}
	c.classifier.Store(&classifierBox{cl})
}

// Waveform returns the newest n volume samples, oldest first. A
// non-positive n returns the display window.
func (c *Controller) Waveform(n int) []float64 {
	if n <= 0 {
		n = c.cfg.WaveformDisplay
	}
	return c.wave.Tail(n)
}

// Status reports the current state.
func (c *Controller) Status() Status {
	r := c.current()
	if r == nil {
		return Status{State: Idle}
	}
	return Status{
		State:     Capturing,
		SessionID: r.id,
		StartedAt: r.startedAt,
		Elapsed:   c.now().Sub(r.startedAt),
		Barks:     int(r.barks.Load()),
	}
}

// Config returns the effective loop configuration.
func (c *Controller) Config() Config {
	return c.cfg
}
