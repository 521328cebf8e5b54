package capture_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/cratequiet/pkg/audio/capture"
)

func sine(sampleRate int, freq, amplitude float64, seconds float64) []byte {
	n := int(float64(sampleRate) * seconds)
	buf := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		// Phase offset keeps samples off exact zero.
		v := int16(math.Sin(2*math.Pi*freq*t+0.1) * 32767 * amplitude)
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
	}
	return buf
}

func TestAnalyze_Frequency(t *testing.T) {
	t.Parallel()

	for _, freq := range []float64{300, 800, 1200, 2000} {
		_, got := capture.Analyze(sine(16000, freq, 0.5, 0.1), 16000)
		if math.Abs(got-freq) > freq*0.05 {
			t.Errorf("frequency of %v Hz sine = %v", freq, got)
		}
	}
}

func TestAnalyze_VolumeOrdering(t *testing.T) {
	t.Parallel()

	quiet, _ := capture.Analyze(sine(16000, 1000, 0.01, 0.1), 16000)
	loud, _ := capture.Analyze(sine(16000, 1000, 0.9, 0.1), 16000)
	if !(loud > quiet) {
		t.Errorf("loud %v should exceed quiet %v", loud, quiet)
	}
	if loud > 100 || quiet < 0 {
		t.Errorf("volume out of [0,100]: quiet=%v loud=%v", quiet, loud)
	}
}

func TestAnalyze_Silence(t *testing.T) {
	t.Parallel()

	vol, freq := capture.Analyze(make([]byte, 3200), 16000)
	if vol != 0 || freq != 0 {
		t.Errorf("silence = (%v, %v), want (0, 0)", vol, freq)
	}
	vol, freq = capture.Analyze(nil, 16000)
	if vol != 0 || freq != 0 {
		t.Errorf("empty = (%v, %v), want (0, 0)", vol, freq)
	}
}
