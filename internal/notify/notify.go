// Package notify publishes monitoring events to MQTT so that home automation
// and companion devices can follow a session live.
//
// Topics, relative to the configured prefix:
//
//	<prefix>/barks     one message per accepted bark
//	<prefix>/sessions  one message per recorded training session
//	<prefix>/state     retained lifecycle state ("idle" or "capturing")
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/cratequiet/internal/monitor"
)

// Publisher is the subset of an MQTT connection the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, retained bool, payload []byte) error
}

// Notifier forwards a controller subscription to MQTT.
type Notifier struct {
	pub     Publisher
	prefix  string
	timeout time.Duration
}

// New returns a notifier publishing under prefix. Each publish is bounded by
// timeout; a non-positive timeout means 5s.
func New(pub Publisher, prefix string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{pub: pub, prefix: prefix, timeout: timeout}
}

// Topic returns the full topic for suffix.
func (n *Notifier) Topic(suffix string) string {
	return n.prefix + "/" + suffix
}

// Run publishes updates from sub until ctx is done or the subscription is
// closed. Level updates are not forwarded. Publish failures are logged and
// skipped.
func (n *Notifier) Run(ctx context.Context, sub *monitor.Subscription) error {
	// Announce the idle state so retained subscribers start from a known value.
	n.publish(ctx, "state", true, stateMessage{State: monitor.Idle, At: time.Now().UTC()})

	barks, states := sub.Barks, sub.States
	for barks != nil || states != nil {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-barks:
			if !ok {
				barks = nil
				continue
			}
			n.publish(ctx, "barks", false, b)
		case sc, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			n.publish(ctx, "state", true, stateMessage{State: sc.State, SessionID: sc.SessionID, At: sc.At})
			if sc.Session != nil {
				n.publish(ctx, "sessions", false, sc.Session)
			}
		}
	}
	return nil
}

type stateMessage struct {
	State     monitor.State `json:"state"`
	SessionID string        `json:"session_id,omitempty"`
	At        time.Time     `json:"at"`
}

func (n *Notifier) publish(ctx context.Context, suffix string, retained bool, v any) {
	topic := n.Topic(suffix)
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("notify: marshal failed", "topic", topic, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.pub.Publish(ctx, topic, retained, payload); err != nil {
		slog.Warn("notify: publish failed", "topic", topic, "err", fmt.Errorf("notify: %w", err))
	}
}
