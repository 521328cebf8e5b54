//go:build !cgo

package speaker

import (
	"context"
	"errors"

	"github.com/MrWong99/cratequiet/pkg/feedback"
)

// ErrUnsupported is returned by [New] in builds without cgo.
var ErrUnsupported = errors.New("speaker: audio playback requires cgo")

// Sink is unavailable without cgo.
type Sink struct{}

// New always fails with [ErrUnsupported].
func New() (*Sink, error) { return nil, ErrUnsupported }

// Pulse implements [feedback.Sink].
func (*Sink) Pulse(context.Context, feedback.Intensity) error { return ErrUnsupported }

// PlayResponse implements [feedback.Sink].
func (*Sink) PlayResponse(context.Context, float64) error { return ErrUnsupported }

// Close is a no-op.
func (*Sink) Close() error { return nil }

var _ feedback.Sink = (*Sink)(nil)
