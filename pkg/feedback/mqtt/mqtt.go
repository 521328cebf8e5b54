// Package mqtt provides a [feedback.Sink] that forwards feedback commands to
// a networked collar or speaker over MQTT.
//
// Commands are JSON objects published to "<prefix>/feedback":
//
//	{"action":"pulse","intensity":"heavy","sent_at":"..."}
//	{"action":"play","volume":0.7,"sent_at":"..."}
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrWong99/cratequiet/pkg/feedback"
)

// Publisher is the subset of an MQTT connection the sink needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, retained bool, payload []byte) error
}

// Command is the wire format of one feedback command.
type Command struct {
	Action    string    `json:"action"`
	Intensity string    `json:"intensity,omitempty"`
	Volume    *float64  `json:"volume,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// Sink publishes feedback commands.
type Sink struct {
	pub   Publisher
	topic string
	now   func() time.Time
}

// New returns a Sink that publishes to prefix + "/feedback".
func New(pub Publisher, prefix string) *Sink {
	return &Sink{pub: pub, topic: prefix + "/feedback", now: time.Now}
}

// Topic returns the command topic.
func (s *Sink) Topic() string { return s.topic }

// Pulse implements [feedback.Sink].
func (s *Sink) Pulse(ctx context.Context, intensity feedback.Intensity) error {
	return s.send(ctx, Command{Action: "pulse", Intensity: intensity.String()})
}

// PlayResponse implements [feedback.Sink].
func (s *Sink) PlayResponse(ctx context.Context, volume float64) error {
	return s.send(ctx, Command{Action: "play", Volume: &volume})
}

func (s *Sink) send(ctx context.Context, cmd Command) error {
	cmd.SentAt = s.now().UTC()
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("mqtt sink: marshal: %w", err)
	}
	if err := s.pub.Publish(ctx, s.topic, false, payload); err != nil {
		return fmt.Errorf("mqtt sink: %s: %w", cmd.Action, err)
	}
	return nil
}

var _ feedback.Sink = (*Sink)(nil)
