// internal/protocol/frame.go

// Package protocol implements the framed command and telemetry link:
// 0xAA 0x55 | type | length (2 or 4 bytes, little-endian) | payload | CRC16.
// The CRC covers type, length and payload.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Frame markers.
const (
	Magic0 byte = 0xAA
	Magic1 byte = 0x55
)

var (
	// ErrLengthWidth indicates a length field other than 2 or 4 bytes
	ErrLengthWidth = errors.New("protocol: length width must be 2 or 4")
	// ErrPayloadTooLarge indicates a payload exceeding the frame limit
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
	// ErrCRCMismatch indicates a frame whose checksum did not match
	ErrCRCMismatch = errors.New("protocol: CRC mismatch")
)

// Frame is one decoded message.
type Frame struct {
	Type    byte
	Payload []byte
}

// Overhead returns the framing bytes around a payload.
func Overhead(width int) int {
	return 2 + 1 + width + 2
}

func checkWidth(width int) error {
	if width != 2 && width != 4 {
		return fmt.Errorf("%w: %d", ErrLengthWidth, width)
	}
	return nil
}

func maxLength(width int) uint64 {
	if width == 2 {
		return math.MaxUint16
	}
	return math.MaxUint32
}

// AppendFrame appends the encoded frame to dst.
func AppendFrame(dst []byte, typ byte, payload []byte, width int) ([]byte, error) {
	if err := checkWidth(width); err != nil {
		return dst, err
	}
	if uint64(len(payload)) > maxLength(width) {
		return dst, fmt.Errorf("%w: %d bytes in a %d-byte length field", ErrPayloadTooLarge, len(payload), width)
	}

	dst = append(dst, Magic0, Magic1)
	start := len(dst)
	dst = append(dst, typ)
	if width == 2 {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(len(payload)))
	} else {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	}
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return binary.LittleEndian.AppendUint16(dst, crc), nil
}
