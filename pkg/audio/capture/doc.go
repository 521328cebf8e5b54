// Package capture implements [audio.Source] on top of the system microphone
// using miniaudio (via malgo). Each NextSample call analyses the PCM captured
// since the previous call.
//
// Builds without cgo get a stub whose operations fail with ErrUnsupported.
package capture
