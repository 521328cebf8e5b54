//go:build cgo

package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/cratequiet/pkg/audio"
)

// DefaultSampleRate is the capture rate used when none is configured.
const DefaultSampleRate = 16000

// Config selects the device and format.
type Config struct {
	// SampleRate in Hz. Default: 16000.
	SampleRate int

	// Channels captured from the device. Multi-channel input is downmixed to
	// mono before analysis. Default: 1.
	Channels int

	// MaxWindow caps how much audio one sample may cover. Older audio is
	// discarded. Default: 1s.
	MaxWindow time.Duration
}

// Source is a microphone-backed [audio.Source].
type Source struct {
	cfg Config

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	pcm    []byte
}

// New returns an unopened Source. The audio context is allocated lazily on
// the first RequestPermission or StartCapture.
func New(cfg Config) *Source {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = time.Second
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &Source{cfg: cfg}
}

func (s *Source) ensureContext() error {
	if s.ctx != nil {
		return nil
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("capture: init context: %w", err)
	}
	s.ctx = ctx
	return nil
}

// RequestPermission implements [audio.Source]. Permission is considered
// granted when at least one capture device is visible to the process.
func (s *Source) RequestPermission(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureContext(); err != nil {
		return false, err
	}
	devices, err := s.ctx.Devices(malgo.Capture)
	if err != nil {
		return false, fmt.Errorf("capture: list devices: %w", err)
	}
	return len(devices) > 0, nil
}

// StartCapture implements [audio.Source].
func (s *Source) StartCapture(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device != nil {
		return nil
	}
	if err := s.ensureContext(); err != nil {
		return errors.Join(audio.ErrPermissionDenied, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(s.cfg.Channels)
	deviceConfig.SampleRate = uint32(s.cfg.SampleRate)

	maxBytes := int(s.cfg.MaxWindow.Seconds()*float64(s.cfg.SampleRate)) * 2 * s.cfg.Channels
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			s.mu.Lock()
			s.pcm = append(s.pcm, in...)
			if over := len(s.pcm) - maxBytes; over > 0 {
				s.pcm = s.pcm[over:]
			}
			s.mu.Unlock()
		},
	}

	dev, err := malgo.InitDevice(s.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("capture: init device: %w: %w", audio.ErrDeviceBusy, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("capture: start device: %w: %w", audio.ErrDeviceBusy, err)
	}
	s.device = dev
	s.pcm = s.pcm[:0]
	return nil
}

// NextSample implements [audio.Source].
func (s *Source) NextSample(ctx context.Context) (audio.Sample, error) {
	if err := ctx.Err(); err != nil {
		return audio.Sample{}, err
	}
	s.mu.Lock()
	if s.device == nil {
		s.mu.Unlock()
		return audio.Sample{}, audio.ErrNotCapturing
	}
	pcm := s.pcm
	s.pcm = nil
	s.mu.Unlock()

	vol, freq := Analyze(audio.Downmix(pcm, s.cfg.Channels), s.cfg.SampleRate)
	return audio.Sample{Volume: vol, Frequency: freq, CapturedAt: time.Now()}, nil
}

// StopCapture implements [audio.Source].
func (s *Source) StopCapture(_ context.Context) error {
	s.mu.Lock()
	dev := s.device
	s.device = nil
	s.pcm = nil
	s.mu.Unlock()
	if dev == nil {
		return nil
	}
	// Stop blocks until the callback returns, so it must run without s.mu.
	if err := dev.Stop(); err != nil {
		dev.Uninit()
		return fmt.Errorf("capture: stop device: %w", err)
	}
	dev.Uninit()
	return nil
}

// Close releases the audio context. The Source must not be used afterwards.
func (s *Source) Close() error {
	_ = s.StopCapture(context.Background())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
		s.ctx = nil
	}
	return nil
}

var _ audio.Source = (*Source)(nil)
