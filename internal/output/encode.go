// internal/output/encode.go
package output

import (
	"math"
)

// Sign channel levels.
const (
	SignPositive int16 = math.MaxInt16
	SignNegative int16 = math.MinInt16
)

// Encode splits a signed sample into the sign channel level and the
// magnitude |s|*gain, truncated and saturated to [0, 32767]. invert swaps
// the two sign levels.
func Encode(s int16, gain float64, invert bool) (sign, magnitude int16) {
	positive := s >= 0
	if invert {
		positive = !positive
	}
	sign = SignNegative
	if positive {
		sign = SignPositive
	}

	mag := int32(s)
	if mag < 0 {
		mag = -mag
	}
	return sign, scale(mag, gain)
}

// scale multiplies a non-negative magnitude by gain with truncation and
// saturation.
func scale(mag int32, gain float64) int16 {
	x := float64(mag) * gain
	if !(x > 0) {
		return 0
	}
	if x >= math.MaxInt16 {
		return math.MaxInt16
	}
	return int16(x)
}

// EncodeStereo fills dst (interleaved sign, magnitude) from mono. dst must
// hold 2*len(mono) samples.
func EncodeStereo(dst, mono []int16, gain float64, invert bool) {
	for i, s := range mono {
		dst[2*i], dst[2*i+1] = Encode(s, gain, invert)
	}
}
