package sheetbatch

import (
	"sync"
	"time"
)

// windowHistorySize bounds the controller's duration history.
const windowHistorySize = 1000

// WindowController tunes the batch collection window from observed
// drain sizes. It is a hysteresis controller: small drains grow the
// window to improve the merge ratio, large drains shrink it to bound
// latency, and counts inside the dead band leave it unchanged. Every
// adjustment is O(1).
type WindowController struct {
	mu sync.Mutex

	current   time.Duration
	min       time.Duration
	max       time.Duration
	low       int
	high      int
	growth    float64
	shrink    float64

	// Ring buffer of past window durations, reporting only.
	history [windowHistorySize]time.Duration
	head    int
	count   int
}

// NewWindowController creates a controller clamped to [cfg.WindowMin,
// cfg.WindowMax], starting at the minimum.
func NewWindowController(cfg Config) *WindowController {
	return &WindowController{
		current: cfg.WindowMin,
		min:     cfg.WindowMin,
		max:     cfg.WindowMax,
		low:     cfg.WindowLowThreshold,
		high:    cfg.WindowHighThreshold,
		growth:  cfg.WindowGrowthFactor,
		shrink:  cfg.WindowShrinkFactor,
	}
}

// Adjust feeds one observed drain size into the controller. Counts
// below the low threshold grow the window, counts above the high
// threshold shrink it, anything else is a no-op. The clamp is applied
// unconditionally, so misconfigured thresholds (low >= high) cannot
// push the window out of bounds.
func (w *WindowController) Adjust(observed int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case observed < w.low:
		w.current = time.Duration(float64(w.current) * w.growth)
	case observed > w.high:
		w.current = time.Duration(float64(w.current) * w.shrink)
	}

	if w.current > w.max {
		w.current = w.max
	}
	if w.current < w.min {
		w.current = w.min
	}

	w.history[w.head] = w.current
	w.head = (w.head + 1) % windowHistorySize
	if w.count < windowHistorySize {
		w.count++
	}
}

// Current returns the current collection window.
func (w *WindowController) Current() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Average returns the mean of the recorded history, or the current
// window when no adjustments have been recorded yet.
func (w *WindowController) Average() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count == 0 {
		return w.current
	}
	var sum time.Duration
	for i := 0; i < w.count; i++ {
		sum += w.history[i]
	}
	return sum / time.Duration(w.count)
}

// Reset returns the window to its minimum and clears the history.
func (w *WindowController) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = w.min
	w.head = 0
	w.count = 0
}
