//go:build !cgo

package capture

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/cratequiet/pkg/audio"
)

// DefaultSampleRate is the capture rate used when none is configured.
const DefaultSampleRate = 16000

// ErrUnsupported is returned by every operation in builds without cgo.
var ErrUnsupported = errors.New("capture: microphone capture requires cgo")

// Config selects the device and format.
type Config struct {
	SampleRate int
	Channels   int
	MaxWindow  time.Duration
}

// Source is unavailable without cgo; every call fails.
type Source struct{}

// New returns a Source whose operations all return [ErrUnsupported].
func New(Config) *Source { return &Source{} }

// RequestPermission implements [audio.Source].
func (*Source) RequestPermission(context.Context) (bool, error) { return false, ErrUnsupported }

// StartCapture implements [audio.Source].
func (*Source) StartCapture(context.Context) error { return ErrUnsupported }

// NextSample implements [audio.Source].
func (*Source) NextSample(context.Context) (audio.Sample, error) {
	return audio.Sample{}, audio.ErrNotCapturing
}

// StopCapture implements [audio.Source].
func (*Source) StopCapture(context.Context) error { return nil }

// Close is a no-op.
func (*Source) Close() error { return nil }

var _ audio.Source = (*Source)(nil)
