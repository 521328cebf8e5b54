//go:build cgo

package speaker

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/cratequiet/pkg/feedback"
)

// Sink plays feedback through the default output device. Calls are
// serialised; a call waits for the previous tone to finish.
type Sink struct {
	playMu sync.Mutex

	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// New allocates the audio context.
func New() (*Sink, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("speaker: init context: %w", err)
	}
	return &Sink{ctx: ctx}, nil
}

// Pulse implements [feedback.Sink].
func (s *Sink) Pulse(ctx context.Context, intensity feedback.Intensity) error {
	return s.play(ctx, PulseTone(intensity).PCM())
}

// PlayResponse implements [feedback.Sink].
func (s *Sink) PlayResponse(ctx context.Context, volume float64) error {
	return s.play(ctx, ResponseTone(volume).PCM())
}

func (s *Sink) play(ctx context.Context, pcm []byte) error {
	s.playMu.Lock()
	defer s.playMu.Unlock()

	s.mu.Lock()
	actx := s.ctx
	s.mu.Unlock()
	if actx == nil {
		return fmt.Errorf("speaker: closed")
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = SampleRate

	done := make(chan struct{})
	var once sync.Once
	var pos int
	var posMu sync.Mutex
	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			posMu.Lock()
			n := copy(out, pcm[pos:])
			pos += n
			finished := pos >= len(pcm)
			posMu.Unlock()
			clear(out[n:])
			if finished {
				once.Do(func() { close(done) })
			}
		},
	}

	dev, err := malgo.InitDevice(actx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("speaker: init device: %w", err)
	}
	defer dev.Uninit()
	if err := dev.Start(); err != nil {
		return fmt.Errorf("speaker: start device: %w", err)
	}

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}
	if err := dev.Stop(); err != nil && waitErr == nil {
		waitErr = fmt.Errorf("speaker: stop device: %w", err)
	}
	return waitErr
}

// Close releases the audio context.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return nil
	}
	_ = s.ctx.Uninit()
	s.ctx.Free()
	s.ctx = nil
	return nil
}

var _ feedback.Sink = (*Sink)(nil)
