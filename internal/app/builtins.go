package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/cratequiet/internal/config"
	"github.com/MrWong99/cratequiet/pkg/audio"
	"github.com/MrWong99/cratequiet/pkg/audio/capture"
	"github.com/MrWong99/cratequiet/pkg/audio/simulated"
	"github.com/MrWong99/cratequiet/pkg/classifier"
	"github.com/MrWong99/cratequiet/pkg/feedback"
	"github.com/MrWong99/cratequiet/pkg/feedback/logsink"
	"github.com/MrWong99/cratequiet/pkg/feedback/speaker"
)

// RegisterBuiltins registers the providers that need no application state:
//
//	audio:      simulated, microphone
//	feedback:   log, speaker
//	classifier: threshold
//
// The "mqtt" feedback sink is registered by [New] once the broker connection
// exists.
func RegisterBuiltins(reg *config.Registry) {
	reg.RegisterAudio("simulated", func(e config.ProviderEntry) (audio.Source, error) {
		opts := []simulated.Option{simulated.WithDenyPermission(e.Bool("deny_permission", false))}
		if lo, hi := e.Float("min_frequency", 0), e.Float("max_frequency", 0); hi > 0 {
			opts = append(opts, simulated.WithFrequencyRange(lo, hi))
		}
		return simulated.New(opts...), nil
	})
	reg.RegisterAudio("microphone", func(e config.ProviderEntry) (audio.Source, error) {
		return capture.New(capture.Config{
			SampleRate: e.Int("sample_rate", capture.DefaultSampleRate),
			Channels:   e.Int("channels", 1),
			MaxWindow:  time.Duration(e.Int("max_window_ms", 0)) * time.Millisecond,
		}), nil
	})

	reg.RegisterFeedback("log", func(e config.ProviderEntry) (feedback.Sink, error) {
		var level slog.Level
		if err := level.UnmarshalText([]byte(e.String("level", "info"))); err != nil {
			return nil, fmt.Errorf("log sink: %w", err)
		}
		return logsink.New(slog.Default().With("component", "feedback"), level), nil
	})
	reg.RegisterFeedback("speaker", func(config.ProviderEntry) (feedback.Sink, error) {
		s, err := speaker.New()
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	reg.RegisterClassifier("threshold", func(c config.ClassifierConfig) (classifier.Classifier, error) {
		var opts []classifier.ThresholdOption
		if c.BaseThreshold > 0 {
			opts = append(opts, classifier.WithBaseThreshold(c.BaseThreshold))
		}
		if c.ScaleFactor > 0 {
			opts = append(opts, classifier.WithScaleFactor(c.ScaleFactor))
		}
		if c.MaxFrequency > 0 {
			opts = append(opts, classifier.WithBand(c.MinFrequency, c.MaxFrequency))
		}
		return classifier.NewThreshold(opts...), nil
	})
}
