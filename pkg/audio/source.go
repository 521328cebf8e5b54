// Package audio defines the Audio Source contract consumed by the bark
// monitoring engine.
//
// A [Source] wraps a capture device (a microphone, a simulated generator, a
// remote sensor) and yields one analysed [Sample] per sampling tick. The
// engine pulls samples; sources never push. Implementations are provided by
// adapter packages (audio/capture, audio/simulated) and test doubles live in
// audio/mock.
//
// This package lives under pkg/ because third-party capture adapters are
// expected to implement [Source].
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied is returned when the platform refuses access to the
// capture device. The engine surfaces it to the caller of Start unchanged.
var ErrPermissionDenied = errors.New("audio: permission denied")

// ErrDeviceBusy is returned when the capture device exists but cannot be
// opened, typically because another process holds it.
var ErrDeviceBusy = errors.New("audio: device busy")

// ErrNotCapturing is returned by [Source.NextSample] when no capture is
// running.
var ErrNotCapturing = errors.New("audio: not capturing")

// Sample is one analysed window of captured audio.
type Sample struct {
	// Volume is the perceived loudness on a 0–100 scale.
	Volume float64

	// Frequency is the dominant frequency of the window in Hz.
	Frequency float64

	// CapturedAt is the wall-clock time the window closed.
	CapturedAt time.Time
}

// Source is the capture side of the engine.
//
// The engine calls RequestPermission and StartCapture once per monitoring
// session, NextSample once per sampling tick, and StopCapture when the
// session ends. NextSample must honour ctx: the engine bounds every read by
// the sampling period and drops the tick when the deadline passes.
//
// Implementations must be safe for concurrent use; StopCapture may race with
// an in-flight NextSample.
type Source interface {
	// RequestPermission asks the platform for capture access. It returns
	// false (and a nil error) when the user refused.
	RequestPermission(ctx context.Context) (bool, error)

	// StartCapture opens the device and begins buffering audio. It returns
	// an error wrapping [ErrPermissionDenied] or [ErrDeviceBusy] when the
	// device cannot be opened.
	StartCapture(ctx context.Context) error

	// NextSample returns the analysis of the audio captured since the
	// previous call. Returns [ErrNotCapturing] when capture is not running.
	NextSample(ctx context.Context) (Sample, error)

	// StopCapture releases the device. Calling it while not capturing is a
	// no-op that returns nil.
	StopCapture(ctx context.Context) error
}
