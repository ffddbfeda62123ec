// internal/waveform/generate.go
package waveform

import (
	"math"
	"math/rand/v2"

	"github.com/chewxy/math32"
)

// Sine frequency limits in Hz.
const (
	MinFrequency = 0.5
	MaxFrequency = 640.0
)

// Default noise band in Hz.
const (
	NoiseLowHz  = 100.0
	NoiseHighHz = 640.0
)

// SnapFrequency clamps hz to [MinFrequency, MaxFrequency] and rounds it to
// the nearest whole number of cycles per loop (at least one), so the loop
// boundary is phase-continuous.
func SnapFrequency(hz float64, loop Loop) float64 {
	if hz < MinFrequency {
		hz = MinFrequency
	}
	if hz > MaxFrequency {
		hz = MaxFrequency
	}
	fund := loop.Fundamental()
	n := math.Round(hz / fund)
	if n < 1 {
		n = 1
	}
	return n * fund
}

// DC fills dst with the constant full-scale value.
func DC(dst []int16) {
	for i := range dst {
		dst[i] = FullScale
	}
}

// Sine fills dst with a full-scale sine at hz using a phase accumulator.
func Sine(dst []int16, hz float64, sampleRate int) {
	const twoPi = 2 * math.Pi
	step := twoPi * hz / float64(sampleRate)
	phase := 0.0
	for i := range dst {
		dst[i] = int16(FullScale * math32.Sin(float32(phase)))
		phase += step
		if phase >= twoPi {
			phase -= twoPi
		}
	}
}

// Noise fills dst with band-limited noise: every loop harmonic inside
// [lowHz, highHz] at equal amplitude with a seeded random phase, scaled so
// the peak reaches full scale. The result repeats seamlessly over the loop.
func Noise(dst []int16, loop Loop, lowHz, highHz float64, seed uint64) {
	acc := make([]float64, len(dst))
	fund := loop.Fundamental()
	first := int(math.Ceil(lowHz / fund))
	if first < 1 {
		first = 1
	}
	last := int(math.Floor(highHz / fund))
	if nyquist := len(dst) / 2; last > nyquist {
		last = nyquist
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for k := first; k <= last; k++ {
		// rotate a unit phasor instead of calling sin for every sample
		theta := 2 * math.Pi * float64(k) / float64(len(dst))
		stepC, stepS := math.Cos(theta), math.Sin(theta)
		phi := rng.Float64() * 2 * math.Pi
		c, s := math.Cos(phi), math.Sin(phi)
		for i := range acc {
			acc[i] += c
			c, s = c*stepC-s*stepS, s*stepC+c*stepS
		}
	}

	peak := 0.0
	for _, v := range acc {
		peak = math.Max(peak, math.Abs(v))
	}
	if peak == 0 {
		clear(dst)
		return
	}
	scale := FullScale / peak
	for i, v := range acc {
		dst[i] = int16(math.Round(v * scale))
	}
}
