// Package response turns accepted barks into haptic and acoustic feedback.
//
// A [Dispatcher] owns one worker goroutine fed by a bounded queue. The
// sampling loop hands it a bark with [Dispatcher.Dispatch] and never waits:
// when the queue is full the response is dropped. Each response expands into
// a [Plan] of steps; immediate steps run on the worker, delayed steps run on
// cancellable timers so that [Dispatcher.CancelPending] can silence every
// outstanding step when a session stops.
package response

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/cratequiet/internal/observe"
	"github.com/MrWong99/cratequiet/pkg/feedback"
	"github.com/MrWong99/cratequiet/pkg/store"
)

// ErrClosed is returned by [Dispatcher.Close] on a second call.
var ErrClosed = errors.New("response: dispatcher closed")

// Config tunes the response schedule and the worker.
type Config struct {
	// SecondaryDelay is the offset of the light follow-up pulse. Default: 200ms.
	SecondaryDelay time.Duration `yaml:"secondary_delay"`

	// SoundDelay is the offset of the heavy pulse and sound. Default: 100ms.
	SoundDelay time.Duration `yaml:"sound_delay"`

	// SoundFollowupDelay is the offset of the medium pulse after the sound.
	// Default: 300ms.
	SoundFollowupDelay time.Duration `yaml:"sound_followup_delay"`

	// QueueSize bounds the number of responses waiting for the worker.
	// Default: 16.
	QueueSize int `yaml:"queue_size"`

	// SinkTimeout bounds every sink call. Default: 1s.
	SinkTimeout time.Duration `yaml:"sink_timeout"`
}

// DefaultConfig returns the reference schedule.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.SecondaryDelay <= 0 {
		c.SecondaryDelay = 200 * time.Millisecond
	}
	if c.SoundDelay <= 0 {
		c.SoundDelay = 100 * time.Millisecond
	}
	if c.SoundFollowupDelay <= 0 {
		c.SoundFollowupDelay = 300 * time.Millisecond
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = time.Second
	}
	return c
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithMetrics overrides the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

type request struct {
	ctx   context.Context // generation at dispatch time
	at    time.Time
	event store.BarkEvent
	steps []Step
}

// Dispatcher schedules feedback for accepted barks. All methods are safe for
// concurrent use.
type Dispatcher struct {
	sink    feedback.Sink
	cfg     Config
	metrics *observe.Metrics

	mu        sync.RWMutex
	closed    bool
	queue     chan request
	gen       context.Context
	cancelGen context.CancelFunc

	timers sync.WaitGroup
	done   chan struct{}
}

// New starts a dispatcher driving sink.
func New(sink feedback.Sink, cfg Config, opts ...Option) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		sink:  sink,
		cfg:   cfg,
		queue: make(chan request, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	d.gen, d.cancelGen = context.WithCancel(context.Background())
	go d.worker()
	return d
}

// Dispatch schedules the response to ev under settings s. It never blocks
// and reports whether the response was queued.
func (d *Dispatcher) Dispatch(ev store.BarkEvent, s store.UserSettings, strong bool) bool {
	steps := Plan(s, strong, d.cfg)
	if len(steps) == 0 {
		return true
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- request{ctx: d.gen, at: time.Now(), event: ev, steps: steps}:
		d.metrics.RecordDispatch(context.Background(), observe.StatusOK)
		return true
	default:
		d.metrics.RecordDispatch(context.Background(), observe.StatusDropped)
		slog.Warn("response: queue full, dropping response",
			"bark_at", ev.Timestamp,
			"queue_size", d.cfg.QueueSize,
		)
		return false
	}
}

// CancelPending discards queued responses and stops every delayed step that
// has not fired yet. Responses dispatched afterwards are unaffected.
func (d *Dispatcher) CancelPending() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelGen()
	d.gen, d.cancelGen = context.WithCancel(context.Background())
}

// Close stops accepting responses, cancels everything pending and waits for
// the worker and any in-flight sink call to finish, or for ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.closed = true
	d.cancelGen()
	close(d.queue)
	d.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		<-d.done
		d.timers.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("response: close: %w", ctx.Err())
	}
}

func (d *Dispatcher) worker() {
	defer close(d.done)
	for req := range d.queue {
		if req.ctx.Err() != nil {
			continue
		}
		for _, st := range req.steps {
			wait := time.Until(req.at.Add(st.At))
			if st.At == 0 || wait <= 0 {
				d.execute(req.ctx, st)
				continue
			}
			d.timers.Add(1)
			go d.delayed(req.ctx, wait, st)
		}
	}
}

func (d *Dispatcher) delayed(ctx context.Context, wait time.Duration, st Step) {
	defer d.timers.Done()
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
		d.execute(ctx, st)
	}
}

func (d *Dispatcher) execute(ctx context.Context, st Step) {
	if ctx.Err() != nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.SinkTimeout)
	defer cancel()

	var err error
	switch st.Action {
	case ActionPlay:
		err = d.sink.PlayResponse(callCtx, st.Volume)
	default:
		err = d.sink.Pulse(callCtx, st.Intensity)
	}
	if err == nil {
		return
	}
	// Cancellation by CancelPending or Close is not a sink failure.
	if ctx.Err() != nil {
		return
	}
	d.metrics.RecordSinkError(context.Background(), st.Action.String())
	slog.Warn("response: sink call failed",
		"action", st.Action.String(),
		"intensity", st.Intensity.String(),
		"err", fmt.Errorf("%w: %w", feedback.ErrSink, err),
	)
}
