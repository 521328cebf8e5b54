package response

import (
	"slices"
	"time"

	"github.com/MrWong99/cratequiet/pkg/feedback"
	"github.com/MrWong99/cratequiet/pkg/store"
)

// Action selects the sink operation of a [Step].
type Action int

const (
	ActionPulse Action = iota
	ActionPlay
)

// String returns "pulse" or "play".
func (a Action) String() string {
	if a == ActionPlay {
		return "play"
	}
	return "pulse"
}

// Step is one scheduled sink call, At after the bark was dispatched.
type Step struct {
	At        time.Duration
	Action    Action
	Intensity feedback.Intensity // ActionPulse only
	Volume    float64            // ActionPlay only
}

// Plan returns the feedback schedule for one accepted bark, ordered by At.
// Steps with equal offsets keep the order vibration, sound, strong.
//
//   - vibration: Medium at 0, Light at SecondaryDelay
//   - sound: Heavy and PlayResponse at SoundDelay, Medium at SoundFollowupDelay
//   - strong: an extra Heavy at 0
//
// The strong pulse does not depend on the vibration setting.
func Plan(s store.UserSettings, strong bool, cfg Config) []Step {
	cfg = cfg.withDefaults()

	var steps []Step
	if s.VibrationEnabled {
		steps = append(steps,
			Step{At: 0, Action: ActionPulse, Intensity: feedback.Medium},
			Step{At: cfg.SecondaryDelay, Action: ActionPulse, Intensity: feedback.Light},
		)
	}
	if s.SoundResponseEnabled {
		steps = append(steps,
			Step{At: cfg.SoundDelay, Action: ActionPulse, Intensity: feedback.Heavy},
			Step{At: cfg.SoundDelay, Action: ActionPlay, Volume: s.ResponseVolume},
			Step{At: cfg.SoundFollowupDelay, Action: ActionPulse, Intensity: feedback.Medium},
		)
	}
	if strong {
		steps = append(steps, Step{At: 0, Action: ActionPulse, Intensity: feedback.Heavy})
	}

	slices.SortStableFunc(steps, func(a, b Step) int {
		switch {
		case a.At < b.At:
			return -1
		case a.At > b.At:
			return 1
		}
		return 0
	})
	return steps
}
