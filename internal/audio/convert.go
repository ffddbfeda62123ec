// internal/audio/convert.go
package audio

import (
	"encoding/binary"

	"github.com/ColonelBlimp/stimcore/internal/acquisition"
)

// Code maps a signed 16-bit sample onto an unsigned ADC code of the given
// width: -32768 becomes 0 and 32767 becomes 2^bits-1.
func Code(s int16, bits uint) uint16 {
	return uint16((int32(s) + 32768) >> (16 - bits))
}

// decodeS16 appends little-endian 16-bit samples from data to dst.
func decodeS16(dst []int16, data []byte) []int16 {
	for i := 0; i+1 < len(data); i += 2 {
		dst = append(dst, int16(binary.LittleEndian.Uint16(data[i:])))
	}
	return dst
}

// encodeS16 writes samples into data as little-endian 16-bit values.
func encodeS16(data []byte, samples []int16) {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(s))
	}
}

// framesFromS16 converts interleaved stereo S16 capture data (left = sign,
// right = magnitude) into ADC frames.
func framesFromS16(data []byte, bits uint) []acquisition.Frame {
	const frameBytes = 2 * Channels
	frames := make([]acquisition.Frame, 0, 2*(len(data)/frameBytes))
	for i := 0; i+frameBytes <= len(data); i += frameBytes {
		left := int16(binary.LittleEndian.Uint16(data[i:]))
		right := int16(binary.LittleEndian.Uint16(data[i+2:]))
		frames = append(frames,
			acquisition.Frame{Channel: acquisition.ChannelSign, Code: Code(left, bits)},
			acquisition.Frame{Channel: acquisition.ChannelMagnitude, Code: Code(right, bits)},
		)
	}
	return frames
}
