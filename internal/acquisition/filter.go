// internal/acquisition/filter.go
package acquisition

import (
	"math"
)

// FilterTaps is the moving-average window length.
const FilterTaps = 3

// MovingAverage is a fixed-window mean over the last FilterTaps inputs.
// Unfilled taps count as zero, so the first outputs ramp up from zero.
type MovingAverage struct {
	window [FilterTaps]int32
	next   int
	sum    int64
}

// Push adds x, drops the oldest input and returns the rounded mean.
func (m *MovingAverage) Push(x int32) int32 {
	oldest := m.window[m.next]
	m.window[m.next] = x
	m.next = (m.next + 1) % FilterTaps
	m.sum += int64(x) - int64(oldest)
	return m.Value()
}

// Value returns the current mean rounded to the nearest integer.
func (m *MovingAverage) Value() int32 {
	return int32(math.Round(float64(m.sum) / FilterTaps))
}

// Reset clears the window.
func (m *MovingAverage) Reset() {
	*m = MovingAverage{}
}
