package resilience

import (
	"context"

	"github.com/MrWong99/cratequiet/pkg/feedback"
)

// SinkFallback implements [feedback.Sink] with failover across several sinks,
// each behind its own circuit breaker. A single-entry SinkFallback is simply
// a breaker-protected sink.
type SinkFallback struct {
	group *FallbackGroup[feedback.Sink]
}

// Compile-time interface assertion.
var _ feedback.Sink = (*SinkFallback)(nil)

// NewSinkFallback creates a [SinkFallback] with primary as the preferred sink.
func NewSinkFallback(primary feedback.Sink, primaryName string, cfg FallbackConfig) *SinkFallback {
	return &SinkFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional sink.
func (f *SinkFallback) AddFallback(name string, sink feedback.Sink) {
	f.group.AddFallback(name, sink)
}

// Pulse sends the pulse to the first healthy sink.
func (f *SinkFallback) Pulse(ctx context.Context, intensity feedback.Intensity) error {
	return f.group.Execute(func(s feedback.Sink) error {
		return s.Pulse(ctx, intensity)
	})
}

// PlayResponse plays the response on the first healthy sink.
func (f *SinkFallback) PlayResponse(ctx context.Context, volume float64) error {
	return f.group.Execute(func(s feedback.Sink) error {
		return s.PlayResponse(ctx, volume)
	})
}

// States reports the breaker state of each sink.
func (f *SinkFallback) States() []EntryState { return f.group.States() }

// Healthy reports whether at least one sink is accepting calls.
func (f *SinkFallback) Healthy() bool { return f.group.Healthy() }
