// Package feedback defines the Feedback Sink contract: the device side that
// turns a detected bark into a haptic pulse or an audible response.
//
// Sinks are driven by the response dispatcher, never by the sampling loop
// directly. Every call carries a context with a short deadline; a sink that
// cannot finish in time should return the context error.
//
// Adapters: logsink (headless), mqtt (networked collar or speaker), speaker
// (local tone playback). Test doubles live in feedback/mock.
package feedback

import (
	"context"
	"errors"
	"fmt"
)

// ErrSink marks a failed sink call. Dispatchers wrap sink errors with it so
// callers can tell feedback failures from other errors.
var ErrSink = errors.New("feedback: sink failure")

// Intensity is the strength of a haptic pulse.
type Intensity int

const (
	// Low is the lightest tap.
	Low Intensity = iota
	Medium
	Heavy
)

// Light is an alias for [Low].
const Light = Low

// String returns the lowercase name used in logs and device payloads.
func (i Intensity) String() string {
	switch i {
	case Low:
		return "light"
	case Medium:
		return "medium"
	case Heavy:
		return "heavy"
	default:
		return fmt.Sprintf("intensity(%d)", int(i))
	}
}

// ParseIntensity is the inverse of [Intensity.String]. "low" is accepted as
// well as "light".
func ParseIntensity(s string) (Intensity, error) {
	switch s {
	case "light", "low":
		return Low, nil
	case "medium":
		return Medium, nil
	case "heavy":
		return Heavy, nil
	default:
		return 0, fmt.Errorf("feedback: unknown intensity %q", s)
	}
}

// Sink delivers feedback to the dog.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Pulse emits one haptic pulse.
	Pulse(ctx context.Context, intensity Intensity) error

	// PlayResponse plays the corrective sound at volume in [0, 1].
	PlayResponse(ctx context.Context, volume float64) error
}
