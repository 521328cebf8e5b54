// Package logsink provides a [feedback.Sink] that only logs. It is the
// fallback of last resort for headless deployments without an attached
// collar or speaker.
package logsink

import (
	"context"
	"log/slog"

	"github.com/MrWong99/cratequiet/pkg/feedback"
)

// Sink writes one structured log record per feedback action.
type Sink struct {
	logger *slog.Logger
	level  slog.Level
}

// New returns a Sink that logs to logger at level. A nil logger uses
// [slog.Default].
func New(logger *slog.Logger, level slog.Level) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{logger: logger, level: level}
}

// Pulse implements [feedback.Sink].
func (s *Sink) Pulse(ctx context.Context, intensity feedback.Intensity) error {
	s.logger.Log(ctx, s.level, "feedback pulse", "intensity", intensity.String())
	return nil
}

// PlayResponse implements [feedback.Sink].
func (s *Sink) PlayResponse(ctx context.Context, volume float64) error {
	s.logger.Log(ctx, s.level, "feedback sound", "volume", volume)
	return nil
}

var _ feedback.Sink = (*Sink)(nil)
