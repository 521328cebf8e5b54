// Package speaker provides a [feedback.Sink] that plays synthesised tones on
// the local output device via malgo. Haptic pulses become short ticks of
// increasing weight; the corrective response is a longer high tone.
//
// Tone synthesis is pure Go. Playback needs cgo; other builds get a stub
// whose New returns ErrUnsupported.
package speaker
