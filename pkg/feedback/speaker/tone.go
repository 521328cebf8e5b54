package speaker

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/MrWong99/cratequiet/pkg/feedback"
)

// SampleRate of every generated tone.
const SampleRate = 44100

// Tone describes a decaying sine burst.
type Tone struct {
	Frequency float64
	Duration  time.Duration
	Volume    float64 // 0–1
	Decay     float64 // envelope exp(-t*Decay)
}

// PCM renders the tone as signed 16-bit little-endian mono at [SampleRate].
func (t Tone) PCM() []byte {
	n := int(float64(SampleRate) * t.Duration.Seconds())
	vol := min(max(t.Volume, 0), 1)
	buf := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		x := float64(i) / SampleRate
		envelope := math.Exp(-x * t.Decay)
		s := int16(math.Sin(2*math.Pi*t.Frequency*x) * 32767 * vol * envelope)
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	return buf
}

// PulseTone maps a haptic intensity to an audible tick for setups without a
// vibrating collar. Heavier pulses are lower, longer and louder.
func PulseTone(i feedback.Intensity) Tone {
	switch i {
	case feedback.Heavy:
		return Tone{Frequency: 700, Duration: 80 * time.Millisecond, Volume: 0.8, Decay: 30}
	case feedback.Medium:
		return Tone{Frequency: 900, Duration: 50 * time.Millisecond, Volume: 0.6, Decay: 40}
	default:
		return Tone{Frequency: 1200, Duration: 30 * time.Millisecond, Volume: 0.5, Decay: 60}
	}
}

// ResponseTone is the corrective sound played at the given volume.
func ResponseTone(volume float64) Tone {
	return Tone{Frequency: 2500, Duration: 400 * time.Millisecond, Volume: volume, Decay: 4}
}
