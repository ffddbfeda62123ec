// internal/waveform/buffer.go

// Package waveform holds the mono loop signal, the generators that fill it
// and the binary preset file format.
package waveform

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// FullScale is the largest positive sample value.
const FullScale = 32767

// MaxNameLen is the longest waveform name kept, in bytes.
const MaxNameLen = 127

// CustomName is used for uploaded waveforms that carry no name.
const CustomName = "Custom preset"

var (
	// ErrLength indicates a waveform whose length differs from the loop
	ErrLength = errors.New("waveform length does not match loop")
	// ErrInvalidLoop indicates a loop with a non-positive rate or length
	ErrInvalidLoop = errors.New("loop sample rate and length must be positive")
)

// Loop describes the output sampling grid: Samples at SampleRate make up one
// period that is repeated indefinitely.
type Loop struct {
	SampleRate int
	Samples    int
}

// Validate checks the loop grid.
func (l Loop) Validate() error {
	if l.SampleRate <= 0 || l.Samples <= 0 {
		return ErrInvalidLoop
	}
	return nil
}

// Fundamental returns the frequency resolution of the loop in Hz.
func (l Loop) Fundamental() float64 {
	return float64(l.SampleRate) / float64(l.Samples)
}

// Duration returns the loop period.
func (l Loop) Duration() time.Duration {
	return time.Duration(l.Samples) * time.Second / time.Duration(l.SampleRate)
}

// Buffer is the mono loop signal. Replace is the only way to mutate it.
type Buffer struct {
	samples []int16
	name    string
}

// NewBuffer allocates a silent buffer for loop.
func NewBuffer(loop Loop) (*Buffer, error) {
	if err := loop.Validate(); err != nil {
		return nil, err
	}
	return &Buffer{samples: make([]int16, loop.Samples)}, nil
}

// Len returns the loop length in samples.
func (b *Buffer) Len() int {
	return len(b.samples)
}

// Samples returns the current signal. Callers must treat it as read-only.
func (b *Buffer) Samples() []int16 {
	return b.samples
}

// Name returns the human-readable waveform name.
func (b *Buffer) Name() string {
	return b.name
}

// Replace copies samples into the buffer. The length must match exactly.
func (b *Buffer) Replace(samples []int16, name string) error {
	if len(samples) != len(b.samples) {
		return fmt.Errorf("%w: got %d samples, want %d", ErrLength, len(samples), len(b.samples))
	}
	copy(b.samples, samples)
	b.name = TrimName(name)
	return nil
}

// Generate overwrites the buffer using gen.
func (b *Buffer) Generate(gen func(dst []int16), name string) {
	gen(b.samples)
	b.name = TrimName(name)
}

// TrimName cuts the name at the first NUL and caps it at MaxNameLen bytes.
func TrimName(name string) string {
	if i := strings.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	if len(name) > MaxNameLen {
		name = strings.ToValidUTF8(name[:MaxNameLen], "")
	}
	return name
}
