// Package mqttconn manages the MQTT broker connection shared by the MQTT
// feedback sink and the event notifier.
package mqttconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// ErrNotConnected is returned by Publish while the client is offline.
var ErrNotConnected = errors.New("mqttconn: not connected")

// Config holds the broker connection settings.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// QoS for every publish. Default: 1.
	QoS byte

	// ConnectTimeout bounds the initial connect. Default: 10s.
	ConnectTimeout time.Duration

	// WillTopic, when set, receives WillPayload (retained) if the connection
	// drops without a clean disconnect.
	WillTopic   string
	WillPayload string
}

// Conn is a connected MQTT client. Safe for concurrent use.
type Conn struct {
	client paho.Client
	qos    byte
}

// Connect dials the broker. Reconnects after the first successful connect are
// handled by the client in the background.
func Connect(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqttconn: invalid qos %d", cfg.QoS)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	qos := cfg.QoS
	if qos == 0 {
		qos = 1
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetOnConnectHandler(func(paho.Client) {
		slog.Info("mqtt connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		slog.Warn("mqtt connection lost", "broker", cfg.Broker, "err", err)
	})
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	if cfg.WillTopic != "" {
		opts.SetWill(cfg.WillTopic, cfg.WillPayload, qos, true)
	}

	client := paho.NewClient(opts)
	if err := wait(ctx, client.Connect(), cfg.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("mqttconn: connect %s: %w", cfg.Broker, err)
	}
	return &Conn{client: client, qos: qos}, nil
}

// Publish sends payload to topic and waits for the broker acknowledgement or
// ctx cancellation.
func (c *Conn) Publish(ctx context.Context, topic string, retained bool, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	if err := wait(ctx, c.client.Publish(topic, c.qos, retained, payload), 0); err != nil {
		return fmt.Errorf("mqttconn: publish %s: %w", topic, err)
	}
	return nil
}

// Connected reports whether the connection is currently open.
func (c *Conn) Connected() bool {
	return c.client.IsConnectionOpen()
}

// Check implements a readiness probe.
func (c *Conn) Check(_ context.Context) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	return nil
}

// Close disconnects, allowing 250 ms for in-flight work.
func (c *Conn) Close() error {
	c.client.Disconnect(250)
	return nil
}

func wait(ctx context.Context, tok paho.Token, timeout time.Duration) error {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer:
		return context.DeadlineExceeded
	}
}
