package monitor

import (
	"sync"
	"time"

	"github.com/MrWong99/cratequiet/pkg/store"
)

// Level is one audio-level update, published every processed tick.
type Level struct {
	Volume float64 `json:"volume"`

	// BarkFlash is set on the tick that accepted a bark.
	BarkFlash bool      `json:"bark_flash"`
	At        time.Time `json:"at"`
}

// BarkNotification announces an accepted bark.
type BarkNotification struct {
	SessionID string          `json:"session_id"`
	Event     store.BarkEvent `json:"event"`

	// Count is the bark's 1-based position within its session.
	Count int `json:"count"`

	// Strong is set on every StrongEvery-th bark of a session.
	Strong bool `json:"strong"`
}

// StateChange announces a lifecycle transition.
type StateChange struct {
	State     State     `json:"state"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`

	// Barks and Elapsed describe the session at the transition. Both are
	// zero on a transition to Capturing.
	Barks   int           `json:"barks"`
	Elapsed time.Duration `json:"elapsed_ns"`

	// Session is the recorded session on a transition to Idle, nil when the
	// session was discarded or on a transition to Capturing.
	Session *store.TrainingSession `json:"session,omitempty"`
}

// Subscription receives controller updates. Delivery never blocks the
// sampling loop: when a channel is full the update is dropped for this
// subscriber.
type Subscription struct {
	Levels <-chan Level
	Barks  <-chan BarkNotification
	States <-chan StateChange

	levels chan Level
	barks  chan BarkNotification
	states chan StateChange

	c    *Controller
	once sync.Once
}

// Close unregisters the subscription and closes its channels.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.c.subMu.Lock()
		delete(s.c.subs, s)
		s.c.subMu.Unlock()
		close(s.levels)
		close(s.barks)
		close(s.states)
	})
}

// Subscribe registers a new observer whose channels hold up to buf pending
// updates each.
func (c *Controller) Subscribe(buf int) *Subscription {
	if buf < 0 {
		buf = 0
	}
	s := &Subscription{
		levels: make(chan Level, buf),
		barks:  make(chan BarkNotification, buf),
		states: make(chan StateChange, buf),
		c:      c,
	}
	s.Levels, s.Barks, s.States = s.levels, s.barks, s.states

	c.subMu.Lock()
	c.subs[s] = struct{}{}
	c.subMu.Unlock()
	return s
}

func (c *Controller) publishLevel(l Level) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for s := range c.subs {
		select {
		case s.levels <- l:
		default:
		}
	}
}

func (c *Controller) publishBark(b BarkNotification) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for s := range c.subs {
		select {
		case s.barks <- b:
		default:
		}
	}
}

func (c *Controller) publishState(sc StateChange) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for s := range c.subs {
		select {
		case s.states <- sc:
		default:
		}
	}
}
