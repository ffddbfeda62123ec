package stats

import (
	"math"
)

// Converter maps a signed sample code to physical units.
type Converter interface {
	Signed(code int32) float64
}

// Summary describes a window of acquisition samples. A zero Count means the
// window held no data and every other field is meaningless.
type Summary struct {
	Count int
	Mean  float64
	Min   int16
	Max   int16
	P1    int16
	P99   int16

	// Degraded is set when the window exceeded the scratch capacity; only
	// Count, Mean, Min and Max are populated then.
	Degraded bool

	MeanMA float64
	MinMA  float64
	MaxMA  float64
	P1MA   float64
	P99MA  float64
}

// HasData reports whether the summary was computed from at least one sample.
func (s Summary) HasData() bool {
	return s.Count > 0
}

// Histogram is a bin count over [Min, Max].
type Histogram struct {
	Counts []int
	Min    int16
	Max    int16
	Total  int
}

// HasData reports whether any sample was binned.
func (h Histogram) HasData() bool {
	return h.Total > 0
}

// Engine computes summaries using preallocated scratch space. It is not safe
// for concurrent use.
type Engine struct {
	scratch []int16
	conv    Converter
}

// NewEngine creates an engine able to compute percentiles over windows of up
// to capacity samples. conv may be nil, in which case the mA fields stay zero.
func NewEngine(capacity int, conv Converter) *Engine {
	if capacity < 0 {
		capacity = 0
	}
	return &Engine{
		scratch: make([]int16, 0, capacity),
		conv:    conv,
	}
}

// Capacity returns the largest window that still gets percentiles.
func (e *Engine) Capacity() int {
	return cap(e.scratch)
}

// Summarize computes mean, extremes and the 1st/99th percentiles of samples.
// samples is never reordered; selection runs on a scratch copy.
func (e *Engine) Summarize(samples []int16) Summary {
	n := len(samples)
	if n == 0 {
		return Summary{}
	}

	lo, hi := samples[0], samples[0]
	var sum int64
	for _, v := range samples {
		sum += int64(v)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	s := Summary{
		Count: n,
		Mean:  float64(sum) / float64(n),
		Min:   lo,
		Max:   hi,
	}

	if n > cap(e.scratch) {
		s.Degraded = true
	} else {
		buf := e.scratch[:n]
		copy(buf, samples)
		// errors are impossible here: buf is non-empty and ranks are clamped
		s.P1, _ = Percentile(buf, 1)
		s.P99, _ = Percentile(buf, 99)
	}

	if e.conv != nil {
		s.MeanMA = e.conv.Signed(int32(math.Round(s.Mean)))
		s.MinMA = e.conv.Signed(int32(s.Min))
		s.MaxMA = e.conv.Signed(int32(s.Max))
		if !s.Degraded {
			s.P1MA = e.conv.Signed(int32(s.P1))
			s.P99MA = e.conv.Signed(int32(s.P99))
		}
	}
	return s
}

// Histogram bins samples into counts, whose length sets the bin count.
// Each sample lands in the bin proportional to its position in [min, max].
// When every sample is equal they all land in the middle bin.
func (e *Engine) Histogram(samples []int16, counts []int) Histogram {
	for i := range counts {
		counts[i] = 0
	}
	h := Histogram{Counts: counts}
	bins := len(counts)
	if len(samples) == 0 || bins == 0 {
		return h
	}

	lo, hi := samples[0], samples[0]
	for _, v := range samples {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	h.Min, h.Max, h.Total = lo, hi, len(samples)

	if lo == hi {
		counts[bins/2] = len(samples)
		return h
	}

	span := int64(hi) - int64(lo)
	for _, v := range samples {
		idx := int((int64(v) - int64(lo)) * int64(bins) / span)
		if idx >= bins {
			idx = bins - 1
		}
		counts[idx]++
	}
	return h
}
