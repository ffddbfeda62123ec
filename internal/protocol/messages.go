package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Device to host message types.
const (
	MsgText    byte = 0x01
	MsgADCData byte = 0x02
	MsgStatus  byte = 0x03
	MsgAck     byte = 0x04
	MsgError   byte = 0x05
)

// Host to device commands.
const (
	CmdGetADC    byte = 0x82
	CmdSetDAC    byte = 0x83
	CmdSetParams byte = 0x84
	CmdGetStatus byte = 0x85
	CmdReset     byte = 0x86
	CmdSetGain   byte = 0x88
	CmdGetGain   byte = 0x89
	CmdStart     byte = 0x8A
	CmdStop      byte = 0x8B
)

// Status error flags.
const (
	FlagUnderrun       uint8 = 1 << 0
	FlagNoData         uint8 = 1 << 1
	FlagElectrodeFault uint8 = 1 << 2
	FlagStorage        uint8 = 1 << 3
)

// statusFixedLen is the STATUS payload size before the name.
const statusFixedLen = 4 + 2 + 4 + 1 + 1 + 1 + 4 + 4

// ParamsLen is the SET_PARAMS payload size.
const ParamsLen = 1 + 4 + 4 + 2

// ErrShortPayload indicates a payload smaller than its message layout.
var ErrShortPayload = errors.New("protocol: payload too short")

// Status is the STATUS message body.
type Status struct {
	ADCSamples  uint32
	ADCRate     uint16
	Gain        float32
	ErrorFlags  uint8
	State       uint8
	Mode        uint8
	DynamicGain float32
	ElapsedS    uint32
	Name        string
}

// AppendStatus appends the STATUS payload to dst.
func AppendStatus(dst []byte, s Status) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, s.ADCSamples)
	dst = binary.LittleEndian.AppendUint16(dst, s.ADCRate)
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(s.Gain))
	dst = append(dst, s.ErrorFlags, s.State, s.Mode)
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(s.DynamicGain))
	dst = binary.LittleEndian.AppendUint32(dst, s.ElapsedS)
	return append(dst, s.Name...)
}

// ParseStatus decodes a STATUS payload.
func ParseStatus(p []byte) (Status, error) {
	if len(p) < statusFixedLen {
		return Status{}, fmt.Errorf("%w: status has %d bytes", ErrShortPayload, len(p))
	}
	le := binary.LittleEndian
	return Status{
		ADCSamples:  le.Uint32(p[0:]),
		ADCRate:     le.Uint16(p[4:]),
		Gain:        math.Float32frombits(le.Uint32(p[6:])),
		ErrorFlags:  p[10],
		State:       p[11],
		Mode:        p[12],
		DynamicGain: math.Float32frombits(le.Uint32(p[13:])),
		ElapsedS:    le.Uint32(p[17:]),
		Name:        string(p[statusFixedLen:]),
	}, nil
}

// Params is the SET_PARAMS body.
type Params struct {
	Mode        uint8
	AmplitudeMA float32
	FrequencyHz float32
	DurationMin uint16
}

// AppendParams appends the SET_PARAMS payload to dst.
func AppendParams(dst []byte, p Params) []byte {
	dst = append(dst, p.Mode)
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(p.AmplitudeMA))
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(p.FrequencyHz))
	return binary.LittleEndian.AppendUint16(dst, p.DurationMin)
}

// ParseParams decodes a SET_PARAMS payload.
func ParseParams(p []byte) (Params, error) {
	if len(p) < ParamsLen {
		return Params{}, fmt.Errorf("%w: params has %d bytes, want %d", ErrShortPayload, len(p), ParamsLen)
	}
	le := binary.LittleEndian
	return Params{
		Mode:        p[0],
		AmplitudeMA: math.Float32frombits(le.Uint32(p[1:])),
		FrequencyHz: math.Float32frombits(le.Uint32(p[5:])),
		DurationMin: le.Uint16(p[9:]),
	}, nil
}

// AppendADC appends the ADC_DATA payload: write cursor then every ring slot.
func AppendADC(dst []byte, cursor uint32, ring []int16) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, cursor)
	for _, v := range ring {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(v))
	}
	return dst
}

// ParseADC decodes an ADC_DATA payload.
func ParseADC(p []byte) (uint32, []int16, error) {
	if len(p) < 4 || (len(p)-4)%2 != 0 {
		return 0, nil, fmt.Errorf("%w: adc data has %d bytes", ErrShortPayload, len(p))
	}
	cursor := binary.LittleEndian.Uint32(p)
	ring := make([]int16, (len(p)-4)/2)
	for i := range ring {
		ring[i] = int16(binary.LittleEndian.Uint16(p[4+2*i:]))
	}
	return cursor, ring, nil
}

// ParseWaveform splits a SET_DAC payload into exactly n samples and the
// optional trailing name.
func ParseWaveform(p []byte, n int) ([]int16, string, error) {
	if len(p) < 2*n {
		return nil, "", fmt.Errorf("%w: waveform has %d bytes, want at least %d", ErrShortPayload, len(p), 2*n)
	}
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(p[2*i:]))
	}
	return samples, string(p[2*n:]), nil
}

// AppendWaveform appends a SET_DAC payload.
func AppendWaveform(dst []byte, samples []int16, name string) []byte {
	for _, v := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(v))
	}
	return append(dst, name...)
}

// Float32 decodes a little-endian float32 payload such as SET_GAIN.
func Float32(p []byte) (float32, error) {
	if len(p) < 4 {
		return 0, fmt.Errorf("%w: float32 has %d bytes", ErrShortPayload, len(p))
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(p)), nil
}

// AppendFloat32 appends a little-endian float32.
func AppendFloat32(dst []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
}
