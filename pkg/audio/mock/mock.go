// Package mock provides an in-memory implementation of [audio.Source] for
// unit tests.
//
// The mock is safe for concurrent use. It records every method call so that
// tests can assert on call counts, and it exposes exported fields that the
// test sets to control return values.
//
// Typical usage:
//
//	src := &mock.Source{
//	    Samples: []audio.Sample{{Volume: 90, Frequency: 1000}},
//	    Default: audio.Sample{Volume: 5, Frequency: 100},
//	}
//	ctrl := monitor.New(src, ...)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/cratequiet/pkg/audio"
)

// Source is a mock implementation of [audio.Source].
// Set the exported fields before use; inspect the CallCount* fields after.
type Source struct {
	mu sync.Mutex

	// DenyPermission makes RequestPermission report a refusal.
	DenyPermission bool

	// PermissionError is returned by RequestPermission.
	PermissionError error

	// StartCaptureError is returned by StartCapture.
	StartCaptureError error

	// StopCaptureError is returned by StopCapture.
	StopCaptureError error

	// NextSampleError, if non-nil, is returned by every NextSample call
	// instead of a sample.
	NextSampleError error

	// NextSampleDelay makes NextSample block for the given duration (or
	// until its context is done) before answering.
	NextSampleDelay time.Duration

	// Samples are returned by NextSample in order. Once exhausted, Default is
	// returned for every further call.
	Samples []audio.Sample

	// Default is returned once Samples is exhausted.
	Default audio.Sample

	// Now stamps CapturedAt when the scripted sample has a zero time.
	// Defaults to time.Now.
	Now func() time.Time

	// CallCountRequestPermission records how many times RequestPermission was called.
	CallCountRequestPermission int

	// CallCountStartCapture records how many times StartCapture was called.
	CallCountStartCapture int

	// CallCountNextSample records how many times NextSample was called.
	CallCountNextSample int

	// CallCountStopCapture records how many times StopCapture was called.
	CallCountStopCapture int

	capturing bool
	pos       int
}

// RequestPermission implements [audio.Source].
func (s *Source) RequestPermission(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountRequestPermission++
	if s.PermissionError != nil {
		return false, s.PermissionError
	}
	return !s.DenyPermission, nil
}

// StartCapture implements [audio.Source]. Returns StartCaptureError.
func (s *Source) StartCapture(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStartCapture++
	if s.StartCaptureError != nil {
		return s.StartCaptureError
	}
	s.capturing = true
	return nil
}

// NextSample implements [audio.Source]. It returns the next scripted sample,
// honouring NextSampleDelay and NextSampleError.
func (s *Source) NextSample(ctx context.Context) (audio.Sample, error) {
	s.mu.Lock()
	s.CallCountNextSample++
	delay := s.NextSampleDelay
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return audio.Sample{}, ctx.Err()
		case <-t.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.NextSampleError != nil {
		return audio.Sample{}, s.NextSampleError
	}
	if !s.capturing {
		return audio.Sample{}, audio.ErrNotCapturing
	}

	sample := s.Default
	if s.pos < len(s.Samples) {
		sample = s.Samples[s.pos]
		s.pos++
	}
	if sample.CapturedAt.IsZero() {
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		sample.CapturedAt = now()
	}
	return sample, nil
}

// StopCapture implements [audio.Source]. Returns StopCaptureError.
func (s *Source) StopCapture(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStopCapture++
	s.capturing = false
	return s.StopCaptureError
}

// Consumed reports how many scripted Samples have been handed out.
func (s *Source) Consumed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Capturing reports whether StartCapture succeeded without a later StopCapture.
func (s *Source) Capturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)
