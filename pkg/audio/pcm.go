package audio

// Downmix averages interleaved little-endian int16 PCM with the given channel
// count into mono. A trailing partial frame is dropped. One channel (or
// fewer) returns pcm unchanged.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * 2
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		base := i * frameBytes
		for c := range channels {
			sum += int32(int16(pcm[base+c*2]) | int16(pcm[base+c*2+1])<<8)
		}
		// The mean of int16 values always fits in int16.
		avg := int16(sum / int32(channels))
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}
