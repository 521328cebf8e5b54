// Package mock provides a recording [feedback.Sink] for unit tests.
//
// Every call is appended to Calls with the time it arrived, so tests can
// assert both the order of pulses and the delays between them.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/cratequiet/pkg/feedback"
)

// Kind distinguishes the two sink operations.
type Kind int

const (
	KindPulse Kind = iota
	KindPlay
)

// Call records one sink invocation.
type Call struct {
	Kind      Kind
	Intensity feedback.Intensity // KindPulse only
	Volume    float64            // KindPlay only
	At        time.Time
}

// Sink is a mock implementation of [feedback.Sink].
type Sink struct {
	mu sync.Mutex

	// PulseErr is returned by Pulse.
	PulseErr error

	// PlayErr is returned by PlayResponse.
	PlayErr error

	// Delay makes every call block for the given duration or until ctx is done.
	Delay time.Duration

	// Calls records every call in arrival order, including failed ones.
	Calls []Call

	// OnCall, if set, is invoked after a call is recorded.
	OnCall func(Call)
}

func (s *Sink) record(ctx context.Context, c Call) error {
	s.mu.Lock()
	delay := s.Delay
	s.mu.Unlock()
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	c.At = time.Now()
	s.mu.Lock()
	s.Calls = append(s.Calls, c)
	hook := s.OnCall
	var err error
	if c.Kind == KindPulse {
		err = s.PulseErr
	} else {
		err = s.PlayErr
	}
	s.mu.Unlock()
	if hook != nil {
		hook(c)
	}
	return err
}

// Pulse implements [feedback.Sink].
func (s *Sink) Pulse(ctx context.Context, intensity feedback.Intensity) error {
	return s.record(ctx, Call{Kind: KindPulse, Intensity: intensity})
}

// PlayResponse implements [feedback.Sink].
func (s *Sink) PlayResponse(ctx context.Context, volume float64) error {
	return s.record(ctx, Call{Kind: KindPlay, Volume: volume})
}

// Snapshot returns a copy of Calls.
func (s *Sink) Snapshot() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call{}, s.Calls...)
}

// Pulses returns the intensities of every recorded pulse in order.
func (s *Sink) Pulses() []feedback.Intensity {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []feedback.Intensity
	for _, c := range s.Calls {
		if c.Kind == KindPulse {
			out = append(out, c.Intensity)
		}
	}
	return out
}

// CallCount returns the number of recorded calls.
func (s *Sink) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// SetErrors replaces PulseErr and PlayErr under the lock.
func (s *Sink) SetErrors(pulse, play error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PulseErr = pulse
	s.PlayErr = play
}

// Reset clears recorded calls.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = nil
}

// Ensure Sink implements feedback.Sink at compile time.
var _ feedback.Sink = (*Sink)(nil)
