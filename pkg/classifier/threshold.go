package classifier

import (
	"math/rand/v2"

	"github.com/MrWong99/cratequiet/pkg/audio"
)

// Reference parameters of the threshold classifier.
const (
	DefaultBaseThreshold = 50.0
	DefaultScaleFactor   = 8.0
	DefaultMinFrequency  = 500.0
	DefaultMaxFrequency  = 2000.0
)

// Confidence bands. Candidates land in [candidateFloor, 1.0), everything else
// in [0, rejectSpan).
const (
	candidateFloor = 0.7
	candidateSpan  = 0.3
	rejectSpan     = 0.3
)

// Threshold is the reference [Classifier]: a volume threshold derived from
// sensitivity combined with a canine frequency band.
//
// A sample is a candidate when its volume exceeds
// max(BaseThreshold, (10 - sensitivity) * ScaleFactor) and its frequency lies
// in [MinFrequency, MaxFrequency]. The confidence is drawn from Rand so tests
// can pin it.
//
// The zero value is not usable; construct with [NewThreshold].
type Threshold struct {
	BaseThreshold float64
	ScaleFactor   float64
	MinFrequency  float64
	MaxFrequency  float64

	// Rand returns a value in [0, 1). It must be safe for concurrent use.
	Rand func() float64
}

// ThresholdOption configures a [Threshold].
type ThresholdOption func(*Threshold)

// WithBaseThreshold sets the volume floor below which nothing is a candidate.
func WithBaseThreshold(v float64) ThresholdOption {
	return func(t *Threshold) { t.BaseThreshold = v }
}

// WithScaleFactor sets how much each step of sensitivity lowers the threshold.
func WithScaleFactor(v float64) ThresholdOption {
	return func(t *Threshold) { t.ScaleFactor = v }
}

// WithBand sets the accepted frequency band in Hz (inclusive).
func WithBand(minHz, maxHz float64) ThresholdOption {
	return func(t *Threshold) {
		t.MinFrequency = minHz
		t.MaxFrequency = maxHz
	}
}

// WithRand injects the randomness source used for confidence scores.
func WithRand(r func() float64) ThresholdOption {
	return func(t *Threshold) {
		if r != nil {
			t.Rand = r
		}
	}
}

// NewThreshold returns a threshold classifier with the reference parameters,
// overridden by opts.
func NewThreshold(opts ...ThresholdOption) *Threshold {
	t := &Threshold{
		BaseThreshold: DefaultBaseThreshold,
		ScaleFactor:   DefaultScaleFactor,
		MinFrequency:  DefaultMinFrequency,
		MaxFrequency:  DefaultMaxFrequency,
		Rand:          rand.Float64,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// VolumeThreshold returns the volume a sample must exceed at sensitivity s.
// The result is non-increasing in s.
func (t *Threshold) VolumeThreshold(s int) float64 {
	s = ClampSensitivity(s)
	return max(t.BaseThreshold, float64(MaxSensitivity-s)*t.ScaleFactor)
}

// InBand reports whether hz lies within the accepted frequency band.
func (t *Threshold) InBand(hz float64) bool {
	return hz >= t.MinFrequency && hz <= t.MaxFrequency
}

// Classify implements [Classifier].
func (t *Threshold) Classify(sample audio.Sample, sensitivity int) Result {
	candidate := sample.Volume > t.VolumeThreshold(sensitivity) && t.InBand(sample.Frequency)

	r := t.Rand()
	conf := r * rejectSpan
	if candidate {
		conf = candidateFloor + r*candidateSpan
	}
	return Result{
		IsBark:     candidate,
		Confidence: conf,
		Volume:     sample.Volume,
		Frequency:  sample.Frequency,
	}
}

var _ Classifier = (*Threshold)(nil)
