package protocol

import (
	"fmt"
)

type rxState uint8

const (
	waitMagic0 rxState = iota
	waitMagic1
	waitType
	waitLength
	waitPayload
	waitCRC
)

// Decoder reassembles frames from a byte stream one byte at a time. After
// an error it resynchronises on the next magic marker.
type Decoder struct {
	width      int
	maxPayload int

	state   rxState
	typ     byte
	length  uint32
	got     int
	header  [5]byte
	payload []byte
	crc     uint16
}

// NewDecoder creates a decoder for the given length width that accepts
// payloads up to maxPayload bytes (zero means the field maximum).
func NewDecoder(width, maxPayload int) (*Decoder, error) {
	if err := checkWidth(width); err != nil {
		return nil, err
	}
	if maxPayload <= 0 || uint64(maxPayload) > maxLength(width) {
		maxPayload = int(min(maxLength(width), uint64(1<<31-1)))
	}
	return &Decoder{
		width:      width,
		maxPayload: maxPayload,
		payload:    make([]byte, 0, min(maxPayload, 4096)),
	}, nil
}

// Reset discards any partial frame.
func (d *Decoder) Reset() {
	d.state = waitMagic0
	d.length = 0
	d.got = 0
	d.crc = 0
	d.payload = d.payload[:0]
}

// Push consumes one byte. It returns a frame when b completes a valid one.
// The returned payload is only valid until the next call.
func (d *Decoder) Push(b byte) (Frame, bool, error) {
	switch d.state {
	case waitMagic0:
		if b == Magic0 {
			d.state = waitMagic1
		}
	case waitMagic1:
		switch b {
		case Magic1:
			d.state = waitType
		case Magic0:
			// stay: a repeated first marker may start the real frame
		default:
			d.Reset()
		}
	case waitType:
		d.typ = b
		d.header[0] = b
		d.length = 0
		d.got = 0
		d.state = waitLength
	case waitLength:
		d.header[1+d.got] = b
		d.length |= uint32(b) << (8 * d.got)
		d.got++
		if d.got < d.width {
			break
		}
		if uint64(d.length) > uint64(d.maxPayload) {
			n := d.length
			d.Reset()
			return Frame{}, false, fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, n, d.maxPayload)
		}
		d.got = 0
		d.payload = d.payload[:0]
		if d.length == 0 {
			d.state = waitCRC
		} else {
			d.state = waitPayload
		}
	case waitPayload:
		d.payload = append(d.payload, b)
		if len(d.payload) == int(d.length) {
			d.state = waitCRC
		}
	case waitCRC:
		d.crc |= uint16(b) << (8 * d.got)
		d.got++
		if d.got < 2 {
			break
		}
		want := updateCRC(updateCRC(crcInit, d.header[:1+d.width]), d.payload)
		got := d.crc
		f := Frame{Type: d.typ, Payload: d.payload}
		d.state = waitMagic0
		d.got = 0
		d.crc = 0
		if got != want {
			d.payload = d.payload[:0]
			return Frame{}, false, fmt.Errorf("%w: got %04x, want %04x", ErrCRCMismatch, got, want)
		}
		return f, true, nil
	}
	return Frame{}, false, nil
}
