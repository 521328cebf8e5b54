// Package simulated provides an [audio.Source] that synthesises samples
// instead of reading a device. Volume is uniform over [0, 100) and frequency
// is uniform over the canine band [800, 2000) Hz, so roughly half of all
// samples at default sensitivity qualify as barks.
//
// It is the default source for demos, development without a microphone, and
// soak tests of the engine.
package simulated

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/cratequiet/pkg/audio"
)

const (
	defaultMinFrequency = 800.0
	defaultMaxFrequency = 2000.0
	defaultMaxVolume    = 100.0
)

// Option configures a [Source].
type Option func(*Source)

// WithRand sets the randomness source. Use a seeded generator for
// reproducible runs.
func WithRand(r *rand.Rand) Option {
	return func(s *Source) {
		if r != nil {
			s.rng = r
		}
	}
}

// WithFrequencyRange overrides the generated frequency band.
func WithFrequencyRange(minHz, maxHz float64) Option {
	return func(s *Source) {
		if minHz >= 0 && maxHz > minHz {
			s.minFreq = minHz
			s.maxFreq = maxHz
		}
	}
}

// WithDenyPermission makes RequestPermission refuse access, which is useful
// for exercising the permission-denied path end to end.
func WithDenyPermission(deny bool) Option {
	return func(s *Source) { s.deny = deny }
}

// Source is a random [audio.Source]. It is safe for concurrent use.
type Source struct {
	minFreq float64
	maxFreq float64
	deny    bool

	mu        sync.Mutex
	rng       *rand.Rand
	capturing bool
}

// New returns a simulated source.
func New(opts ...Option) *Source {
	s := &Source{
		minFreq: defaultMinFrequency,
		maxFreq: defaultMaxFrequency,
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6261726b)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RequestPermission implements [audio.Source].
func (s *Source) RequestPermission(_ context.Context) (bool, error) {
	return !s.deny, nil
}

// StartCapture implements [audio.Source].
func (s *Source) StartCapture(_ context.Context) error {
	if s.deny {
		return audio.ErrPermissionDenied
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capturing = true
	return nil
}

// NextSample implements [audio.Source].
func (s *Source) NextSample(ctx context.Context) (audio.Sample, error) {
	if err := ctx.Err(); err != nil {
		return audio.Sample{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.capturing {
		return audio.Sample{}, audio.ErrNotCapturing
	}
	return audio.Sample{
		Volume:     s.rng.Float64() * defaultMaxVolume,
		Frequency:  s.minFreq + s.rng.Float64()*(s.maxFreq-s.minFreq),
		CapturedAt: time.Now(),
	}, nil
}

// StopCapture implements [audio.Source].
func (s *Source) StopCapture(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capturing = false
	return nil
}

var _ audio.Source = (*Source)(nil)
