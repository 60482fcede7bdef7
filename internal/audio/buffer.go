package audio

import "sync"

// FrameBuffer accumulates captured samples between flushes.
//
// The capture callback only calls Append; the flush path calls Swap and, when the
// write fails, Restore. The lock is held only for the slice operation.
type FrameBuffer struct {
	mu      sync.Mutex
	samples []int16
}

// Append copies samples onto the end of the buffer.
func (b *FrameBuffer) Append(samples []int16) {
	if len(samples) == 0 {
		return
	}
	b.mu.Lock()
	b.samples = append(b.samples, samples...)
	b.mu.Unlock()
}

// Swap returns everything buffered so far and leaves the buffer empty.
func (b *FrameBuffer) Swap() []int16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.samples
	b.samples = nil
	return out
}

// Restore puts previously swapped samples back in front of anything appended since.
func (b *FrameBuffer) Restore(samples []int16) {
	if len(samples) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]int16, 0, len(samples)+len(b.samples))
	merged = append(merged, samples...)
	merged = append(merged, b.samples...)
	b.samples = merged
}

// Reset drops all buffered samples.
func (b *FrameBuffer) Reset() {
	b.mu.Lock()
	b.samples = nil
	b.mu.Unlock()
}

// Len returns the number of buffered samples (not frames).
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}
