package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/cratequiet/internal/monitor"
	"github.com/MrWong99/cratequiet/internal/notify"
	"github.com/MrWong99/cratequiet/internal/observe"
	audiomock "github.com/MrWong99/cratequiet/pkg/audio/mock"
	"github.com/MrWong99/cratequiet/pkg/classifier"
	classifiermock "github.com/MrWong99/cratequiet/pkg/classifier/mock"
	"github.com/MrWong99/cratequiet/pkg/store"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type message struct {
	Topic    string
	Retained bool
	Payload  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, retained bool, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, message{Topic: topic, Retained: retained, Payload: payload})
	return p.err
}

func (p *fakePublisher) On(topic string) []message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []message
	for _, m := range p.msgs {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type nopLog struct{}

func (nopLog) AppendBarkEvent(store.BarkEvent) bool                    { return true }
func (nopLog) AppendSession(store.TrainingSession) bool                { return true }
func (nopLog) WriteSettings(context.Context, store.UserSettings) error { return nil }
func (nopLog) Reset(context.Context) error                              { return nil }
func (nopLog) Settings(context.Context) (store.UserSettings, error) {
	return store.DefaultSettings(), nil
}

type nopResponder struct{}

func (nopResponder) Dispatch(store.BarkEvent, store.UserSettings, bool) bool { return true }
func (nopResponder) CancelPending()                                          {}

func newController(t *testing.T, now func() time.Time) *monitor.Controller {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	return monitor.New(&audiomock.Source{}, nopLog{}, nopResponder{},
		monitor.WithConfig(monitor.Config{SampleInterval: time.Millisecond}),
		monitor.WithClassifier(&classifiermock.Classifier{
			Results: []classifier.Result{{IsBark: true, Confidence: 0.9}, {IsBark: true, Confidence: 0.9}},
			Default: classifier.Result{Confidence: 0.1},
		}),
		monitor.WithClock(now),
		monitor.WithMetrics(m),
	)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNotifier_PublishesSessionLifecycle(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		now = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	ctrl := newController(t, clock)
	pub := &fakePublisher{}
	n := notify.New(pub, "cratequiet/kitchen", time.Second)

	sub := ctrl.Subscribe(64)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx, sub) }()

	if _, err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "two barks", func() bool { return len(pub.On("cratequiet/kitchen/barks")) == 2 })
	mu.Lock()
	now = now.Add(10 * time.Second)
	mu.Unlock()
	if _, _, err := ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitFor(t, "session", func() bool { return len(pub.On("cratequiet/kitchen/sessions")) == 1 })
	cancel()
	<-done

	states := pub.On("cratequiet/kitchen/state")
	if len(states) != 3 {
		t.Fatalf("state messages = %d, want 3 (initial idle, capturing, idle)", len(states))
	}
	for _, m := range states {
		if !m.Retained {
			t.Error("state message not retained")
		}
	}
	var st struct {
		State     string `json:"state"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(states[1].Payload, &st); err != nil {
		t.Fatal(err)
	}
	if st.State != "capturing" || st.SessionID == "" {
		t.Errorf("capturing message = %+v", st)
	}

	var ts store.TrainingSession
	if err := json.Unmarshal(pub.On("cratequiet/kitchen/sessions")[0].Payload, &ts); err != nil {
		t.Fatal(err)
	}
	if ts.BarksDetected != 2 || ts.DurationSeconds != 10 || ts.ID != st.SessionID {
		t.Errorf("session payload = %+v", ts)
	}

	var bark monitor.BarkNotification
	if err := json.Unmarshal(pub.On("cratequiet/kitchen/barks")[1].Payload, &bark); err != nil {
		t.Fatal(err)
	}
	if bark.Count != 2 || bark.Event.Confidence != 0.9 {
		t.Errorf("bark payload = %+v", bark)
	}
}

func TestNotifier_PublishErrorsAreSkipped(t *testing.T) {
	t.Parallel()

	ctrl := newController(t, time.Now)
	pub := &fakePublisher{err: errors.New("broker gone")}
	n := notify.New(pub, "dog", 0)

	sub := ctrl.Subscribe(8)
	done := make(chan error, 1)
	go func() { done <- n.Run(context.Background(), sub) }()

	if _, err := ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "bark attempts", func() bool { return len(pub.On("dog/barks")) >= 1 })
	ctrl.Stop(context.Background())

	sub.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil after the subscription closed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the subscription closed")
	}
}

func TestNotifier_Topic(t *testing.T) {
	t.Parallel()
	if got := notify.New(nil, "a/b", 0).Topic("state"); got != "a/b/state" {
		t.Errorf("Topic = %q", got)
	}
}
