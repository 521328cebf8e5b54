package capture

import (
	"encoding/binary"
	"math"
)

// Analyze computes the volume (0–100) and dominant frequency (Hz) of a block
// of signed 16-bit little-endian mono PCM.
//
// Volume maps RMS level in dBFS onto 0–100 so that full-scale input reads 100
// and -100 dBFS or quieter reads 0. Frequency is estimated from the
// zero-crossing rate, which is adequate for the single dominant tone of a
// bark and much cheaper than an FFT.
func Analyze(pcm []byte, sampleRate int) (volume, frequency float64) {
	n := len(pcm) / 2
	if n == 0 || sampleRate <= 0 {
		return 0, 0
	}

	var (
		sumSq     float64
		crossings int
		prev      int16
	)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		f := float64(s)
		sumSq += f * f
		if i > 0 && (prev < 0) != (s < 0) {
			crossings++
		}
		prev = s
	}

	rms := math.Sqrt(sumSq / float64(n))
	if rms > 0 {
		dbfs := 20 * math.Log10(rms/32768)
		volume = min(max(dbfs+100, 0), 100)
	}

	seconds := float64(n) / float64(sampleRate)
	frequency = float64(crossings) / 2 / seconds
	return volume, frequency
}
