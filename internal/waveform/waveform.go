// Package waveform holds the rolling volume history shown as the live
// waveform while a monitoring session is running.
//
// The [Buffer] is a fixed-capacity ring: Push overwrites the oldest sample
// once full and never allocates. Snapshot and Tail return copies ordered
// oldest to newest so readers never observe a partially written ring.
package waveform

import "sync"

// Reference sizes for the live waveform.
const (
	DefaultCapacity = 100
	DisplayWindow   = 50
)

// Buffer is a fixed-capacity FIFO of volume samples. It is safe for
// concurrent use by one writer and any number of readers.
type Buffer struct {
	mu    sync.Mutex
	buf   []float64
	pos   int // next write index
	count int
}

// New returns a buffer holding at most capacity samples. A non-positive
// capacity falls back to [DefaultCapacity].
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{buf: make([]float64, capacity)}
}

// Push appends v, evicting the oldest sample when the buffer is full.
func (b *Buffer) Push(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf[b.pos] = v
	b.pos = (b.pos + 1) % len(b.buf)
	if b.count < len(b.buf) {
		b.count++
	}
}

// Snapshot returns every stored sample, oldest first.
func (b *Buffer) Snapshot() []float64 {
	return b.Tail(-1)
}

// Tail returns the newest n samples, oldest first. A negative n or one larger
// than the stored count returns everything.
func (b *Buffer) Tail(n int) []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n < 0 || n > b.count {
		n = b.count
	}
	out := make([]float64, n)
	if n == 0 {
		return out
	}

	start := (b.pos - n + len(b.buf)) % len(b.buf)
	if start+n <= len(b.buf) {
		copy(out, b.buf[start:start+n])
	} else {
		first := copy(out, b.buf[start:])
		copy(out[first:], b.buf[:n-first])
	}
	return out
}

// Len returns the number of stored samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Reset empties the buffer without releasing its storage.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pos = 0
	b.count = 0
}
