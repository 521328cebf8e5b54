// Package eventlog records bark events, training sessions and user settings
// on top of a [store.Store].
//
// Bark events and sessions go through a bounded asynchronous writer so the
// sampling loop never waits on storage. After every bark append the writer
// trims the bark log to the retention cap. A full queue or a failed write is
// logged and counted; it never reaches the caller. An optional
// [store.Archive] receives an untrimmed copy of every record.
//
// Settings reads and writes are synchronous because they happen on user
// request rather than on the sampling path.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/cratequiet/internal/observe"
	"github.com/MrWong99/cratequiet/pkg/store"
)

// ErrStorage wraps every error returned by the underlying store.
var ErrStorage = errors.New("eventlog: storage failure")

// ErrClosed is returned by operations on a closed [Log].
var ErrClosed = errors.New("eventlog: closed")

// Record kinds used in logs and metrics.
const (
	kindBark     = "bark"
	kindSession  = "session"
	kindSettings = "settings"
	kindTrim     = "trim"
	kindReset    = "reset"
	kindArchive  = "archive"
)

// Config tunes the writer.
type Config struct {
	// Retention is the number of bark events kept. Default: [store.RetentionLimit].
	Retention int `yaml:"retention"`

	// QueueSize bounds pending writes. Default: 64.
	QueueSize int `yaml:"queue_size"`

	// WriteTimeout bounds every store call. Default: 5s.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

func (c Config) withDefaults() Config {
	if c.Retention <= 0 {
		c.Retention = store.RetentionLimit
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

// Option configures a [Log].
type Option func(*Log)

// WithArchive mirrors every bark event and session into a.
func WithArchive(a store.Archive) Option {
	return func(l *Log) { l.archive = a }
}

// WithMetrics overrides the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Log) { l.metrics = m }
}

// WithDefaults sets the settings returned while the store holds none.
// Default: [store.DefaultSettings].
func WithDefaults(s store.UserSettings) Option {
	return func(l *Log) { l.defaults = s }
}

type job struct {
	bark    *store.BarkEvent
	session *store.TrainingSession
	flushed chan struct{}
}

// Log is the engine's event log. All methods are safe for concurrent use.
type Log struct {
	st       store.Store
	archive  store.Archive
	cfg      Config
	metrics  *observe.Metrics
	defaults store.UserSettings

	mu     sync.RWMutex
	closed bool
	queue  chan job
	done   chan struct{}

	degraded atomic.Bool
}

// New starts a log writing to st.
func New(st store.Store, cfg Config, opts ...Option) *Log {
	cfg = cfg.withDefaults()
	l := &Log{
		st:       st,
		cfg:      cfg,
		defaults: store.DefaultSettings(),
		queue:    make(chan job, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	go l.writer()
	return l
}

// AppendBarkEvent queues ev for persistence and reports whether it was
// accepted.
func (l *Log) AppendBarkEvent(ev store.BarkEvent) bool {
	return l.enqueue(job{bark: &ev}, kindBark)
}

// AppendSession queues s for persistence and reports whether it was accepted.
func (l *Log) AppendSession(s store.TrainingSession) bool {
	return l.enqueue(job{session: &s}, kindSession)
}

func (l *Log) enqueue(j job, kind string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	select {
	case l.queue <- j:
		return true
	default:
		l.metrics.RecordWrite(context.Background(), kind, observe.StatusDropped)
		slog.Warn("eventlog: write queue full, dropping record",
			"kind", kind,
			"err", fmt.Errorf("%w: queue full", ErrStorage),
		)
		return false
	}
}

// Flush waits until every record queued before the call has been written.
func (l *Log) Flush(ctx context.Context) error {
	ch := make(chan struct{})
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrClosed
	}
	select {
	case l.queue <- job{flushed: ch}:
		l.mu.RUnlock()
	case <-ctx.Done():
		l.mu.RUnlock()
		return fmt.Errorf("eventlog: flush: %w", ctx.Err())
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("eventlog: flush: %w", ctx.Err())
	}
}

// Settings returns the stored settings, or the configured defaults when none
// exist. On a storage error the defaults are returned together with an error
// wrapping [ErrStorage] so callers can carry on.
func (l *Log) Settings(ctx context.Context) (store.UserSettings, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.WriteTimeout)
	defer cancel()

	s, err := l.st.ReadSettings(ctx)
	switch {
	case err == nil:
		return s, nil
	case errors.Is(err, store.ErrNotFound):
		return l.defaults, nil
	default:
		l.degraded.Store(true)
		return l.defaults, fmt.Errorf("%w: read settings: %w", ErrStorage, err)
	}
}

// WriteSettings validates and persists s. Invalid settings are rejected with
// an error wrapping [store.ErrInvalidSettings]; backend failures wrap
// [ErrStorage].
func (l *Log) WriteSettings(ctx context.Context, s store.UserSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, l.cfg.WriteTimeout)
	defer cancel()

	if err := l.st.WriteSettings(ctx, s); err != nil {
		l.degraded.Store(true)
		l.metrics.RecordWrite(ctx, kindSettings, observe.StatusError)
		return fmt.Errorf("%w: write settings: %w", ErrStorage, err)
	}
	l.degraded.Store(false)
	l.metrics.RecordWrite(ctx, kindSettings, observe.StatusOK)
	return nil
}

// Reset waits for queued records to be written and then deletes all bark
// events, sessions and stored settings. The archive keeps its copy.
func (l *Log) Reset(ctx context.Context) error {
	if err := l.Flush(ctx); err != nil {
		return fmt.Errorf("eventlog: reset: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, l.cfg.WriteTimeout)
	defer cancel()

	if !l.record(ctx, kindReset, l.st.Reset(ctx)) {
		return fmt.Errorf("%w: reset", ErrStorage)
	}
	slog.Info("eventlog: all data cleared")
	return nil
}

// BarkEvents returns the newest limit bark events, oldest first.
func (l *Log) BarkEvents(ctx context.Context, limit int) ([]store.BarkEvent, error) {
	evs, err := l.st.BarkEvents(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list bark events: %w", ErrStorage, err)
	}
	return evs, nil
}

// Sessions returns every stored training session in append order.
func (l *Log) Sessions(ctx context.Context) ([]store.TrainingSession, error) {
	ss, err := l.st.Sessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %w", ErrStorage, err)
	}
	return ss, nil
}

// Degraded reports whether the most recent store operation failed.
func (l *Log) Degraded() bool {
	return l.degraded.Load()
}

// Close stops accepting records and waits until the queue is drained or ctx
// is done. It does not close the underlying store.
func (l *Log) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("eventlog: close: %w", ctx.Err())
	}
}

func (l *Log) writer() {
	defer close(l.done)
	for j := range l.queue {
		switch {
		case j.flushed != nil:
			close(j.flushed)
		case j.bark != nil:
			l.writeBark(*j.bark)
		case j.session != nil:
			l.writeSession(*j.session)
		}
	}
}

func (l *Log) writeBark(ev store.BarkEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
	defer cancel()

	if !l.record(ctx, kindBark, l.st.AppendBarkEvent(ctx, ev)) {
		return
	}
	removed, err := l.st.TrimBarkEvents(ctx, l.cfg.Retention)
	if l.record(ctx, kindTrim, err) && removed > 0 {
		slog.Debug("eventlog: trimmed bark log", "removed", removed, "keep", l.cfg.Retention)
	}
	if l.archive != nil {
		l.record(ctx, kindArchive, l.archive.ArchiveBarkEvent(ctx, ev))
	}
}

func (l *Log) writeSession(s store.TrainingSession) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
	defer cancel()

	if !l.record(ctx, kindSession, l.st.AppendSession(ctx, s)) {
		return
	}
	if l.archive != nil {
		l.record(ctx, kindArchive, l.archive.ArchiveSession(ctx, s))
	}
}

// record logs and counts the outcome of one write and reports success.
func (l *Log) record(ctx context.Context, kind string, err error) bool {
	if err != nil {
		if kind != kindArchive {
			l.degraded.Store(true)
		}
		l.metrics.RecordWrite(ctx, kind, observe.StatusError)
		slog.Warn("eventlog: write failed",
			"kind", kind,
			"err", fmt.Errorf("%w: %w", ErrStorage, err),
		)
		return false
	}
	if kind != kindArchive {
		l.degraded.Store(false)
	}
	l.metrics.RecordWrite(ctx, kind, observe.StatusOK)
	return true
}
