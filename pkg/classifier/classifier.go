// Package classifier defines the bark classification step of the monitoring
// engine and ships the threshold reference implementation.
//
// A [Classifier] inspects a single analysed [audio.Sample] and decides whether
// it looks like a bark. Classification is synchronous and must not block: the
// engine calls Classify once per sampling tick on its sampling goroutine.
//
// The engine accepts a bark only when the result's IsBark gate is set AND its
// Confidence exceeds the acceptance threshold (0.6 by default). The gate and
// the confidence are therefore independent signals and implementations should
// set both.
//
// Implementations must be safe for concurrent use, since the engine may swap
// classifiers while a tick is running.
package classifier

import (
	"github.com/MrWong99/cratequiet/pkg/audio"
)

// Result is the outcome of classifying one sample.
type Result struct {
	// IsBark is the candidate gate.
	IsBark bool

	// Confidence is the classifier's certainty in the range [0.0, 1.0].
	Confidence float64

	// Volume echoes the classified sample's volume.
	Volume float64

	// Frequency echoes the classified sample's frequency in Hz.
	Frequency float64
}

// Classifier decides whether a sample is a bark.
type Classifier interface {
	// Classify returns the classification of sample under the given
	// sensitivity (1 = least sensitive, 10 = most sensitive). Out-of-range
	// sensitivities are clamped.
	Classify(sample audio.Sample, sensitivity int) Result
}

// Func adapts an ordinary function to the [Classifier] interface.
type Func func(sample audio.Sample, sensitivity int) Result

// Classify calls f(sample, sensitivity).
func (f Func) Classify(sample audio.Sample, sensitivity int) Result {
	return f(sample, sensitivity)
}

// ClampSensitivity forces s into the valid range [1, 10].
func ClampSensitivity(s int) int {
	switch {
	case s < MinSensitivity:
		return MinSensitivity
	case s > MaxSensitivity:
		return MaxSensitivity
	default:
		return s
	}
}

const (
	// MinSensitivity is the least sensitive setting.
	MinSensitivity = 1

	// MaxSensitivity is the most sensitive setting.
	MaxSensitivity = 10
)
