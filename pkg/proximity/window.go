package proximity

import "sync"

// DefaultWindowSize is how many samples the smoothing window keeps.
const DefaultWindowSize = 50

// Window keeps the most recent distance samples in arrival order.
// Safe for concurrent use.
type Window struct {
	mu      sync.RWMutex
	size    int
	samples []int
	sum     int
}

// NewWindow creates a window holding at most size samples.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{size: size, samples: make([]int, 0, size)}
}

// Push appends a sample, evicting the oldest when full.
func (w *Window) Push(v int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.samples) == w.size {
		w.sum -= w.samples[0]
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:w.size-1]
	}
	w.samples = append(w.samples, v)
	w.sum += v
}

// Mean returns the average of the held samples, 0 when empty.
func (w *Window) Mean() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.samples) == 0 {
		return 0
	}
	return float64(w.sum) / float64(len(w.samples))
}

// Len returns how many samples are held.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.samples)
}

// Samples returns a copy, oldest first.
func (w *Window) Samples() []int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]int, len(w.samples))
	copy(out, w.samples)
	return out
}
