package store

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// RetentionLimit is the maximum number of bark events the engine keeps.
const RetentionLimit = 1000

// BarkEvent is an accepted bark detection. Events are immutable once created.
type BarkEvent struct {
	Timestamp  time.Time     `json:"timestamp"`
	Volume     float64       `json:"volume"`
	Duration   time.Duration `json:"duration_ns"`
	Confidence float64       `json:"confidence"`
}

// TrainingSession is the record of one finished monitoring session.
type TrainingSession struct {
	// ID is unique and derived from the session's start time.
	ID string `json:"id"`

	// Date is the session's start time.
	Date time.Time `json:"date"`

	// DurationSeconds is the whole-second wall-clock length of the session.
	DurationSeconds int64 `json:"duration_seconds"`

	BarksDetected int  `json:"barks_detected"`
	Success       bool `json:"success"`

	Notes  string   `json:"notes,omitempty"`
	Photos []string `json:"photos,omitempty"`
}

// UserSettings are the user-adjustable engine parameters.
type UserSettings struct {
	// Sensitivity in [1, 10]; higher detects quieter barks.
	Sensitivity int `json:"sensitivity" yaml:"sensitivity"`

	VibrationEnabled     bool `json:"vibration_enabled" yaml:"vibration_enabled"`
	SoundResponseEnabled bool `json:"sound_response_enabled" yaml:"sound_response_enabled"`

	// ResponseVolume in [0, 1].
	ResponseVolume float64 `json:"response_volume" yaml:"response_volume"`

	DogName      string `json:"dog_name,omitempty" yaml:"dog_name"`
	TrainingGoal string `json:"training_goal,omitempty" yaml:"training_goal"`
}

// DefaultSettings returns the settings used when none have been stored.
func DefaultSettings() UserSettings {
	return UserSettings{
		Sensitivity:          5,
		VibrationEnabled:     true,
		SoundResponseEnabled: true,
		ResponseVolume:       0.7,
	}
}

// Validate reports every range violation in s. The returned error wraps
// [ErrInvalidSettings].
func (s UserSettings) Validate() error {
	var errs []error
	if s.Sensitivity < 1 || s.Sensitivity > 10 {
		errs = append(errs, fmt.Errorf("sensitivity %d out of range [1, 10]", s.Sensitivity))
	}
	if math.IsNaN(s.ResponseVolume) || s.ResponseVolume < 0 || s.ResponseVolume > 1 {
		errs = append(errs, fmt.Errorf("response volume %g out of range [0, 1]", s.ResponseVolume))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
}
