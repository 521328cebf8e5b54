package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/cratequiet/pkg/feedback"
	feedbackmock "github.com/MrWong99/cratequiet/pkg/feedback/mock"
)

func TestSinkFallback_PrimarySuccess(t *testing.T) {
	primary := &feedbackmock.Sink{}
	secondary := &feedbackmock.Sink{}
	fb := NewSinkFallback(primary, "collar", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
	fb.AddFallback("speaker", secondary)

	if err := fb.Pulse(context.Background(), feedback.Heavy); err != nil {
		t.Fatalf("Pulse: %v", err)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 0 {
		t.Fatalf("calls primary=%d secondary=%d, want 1/0", primary.CallCount(), secondary.CallCount())
	}
}

func TestSinkFallback_Failover(t *testing.T) {
	primary := &feedbackmock.Sink{PulseErr: errors.New("collar offline"), PlayErr: errors.New("collar offline")}
	secondary := &feedbackmock.Sink{}
	fb := NewSinkFallback(primary, "collar", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
	fb.AddFallback("speaker", secondary)

	ctx := context.Background()
	if err := fb.PlayResponse(ctx, 0.5); err != nil {
		t.Fatalf("PlayResponse: %v", err)
	}
	calls := secondary.Snapshot()
	if len(calls) != 1 || calls[0].Kind != feedbackmock.KindPlay || calls[0].Volume != 0.5 {
		t.Fatalf("secondary calls = %+v", calls)
	}
}

func TestSinkFallback_BreakerSkipsDeadSink(t *testing.T) {
	primary := &feedbackmock.Sink{PulseErr: errors.New("collar offline")}
	secondary := &feedbackmock.Sink{}
	fb := NewSinkFallback(primary, "collar", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}})
	fb.AddFallback("speaker", secondary)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := fb.Pulse(ctx, feedback.Medium); err != nil {
			t.Fatalf("Pulse #%d: %v", i, err)
		}
	}
	if got := primary.CallCount(); got != 2 {
		t.Errorf("primary called %d times, want 2 before the breaker opened", got)
	}
	if got := secondary.CallCount(); got != 5 {
		t.Errorf("secondary called %d times, want 5", got)
	}
	if st := fb.States(); st[0].State != StateOpen || st[1].State != StateClosed {
		t.Errorf("states = %+v", st)
	}
	if !fb.Healthy() {
		t.Error("fallback with a closed secondary should be healthy")
	}
}

func TestSinkFallback_AllFail(t *testing.T) {
	boom := errors.New("boom")
	fb := NewSinkFallback(&feedbackmock.Sink{PulseErr: boom}, "only", FallbackConfig{})
	err := fb.Pulse(context.Background(), feedback.Low)
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping boom", err)
	}
}
