// internal/waveform/preset.go
package waveform

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	presetMagic    uint32 = 0x54535250 // "PRST" little-endian
	presetVersion  uint32 = 1
	presetNameSize        = 128
)

var (
	// ErrPresetMagic indicates the file is not a preset
	ErrPresetMagic = errors.New("preset: bad magic")
	// ErrPresetVersion indicates an unsupported preset version
	ErrPresetVersion = errors.New("preset: unsupported version")
	// ErrPresetMismatch indicates the preset was built for another loop grid
	ErrPresetMismatch = errors.New("preset: sample rate or length mismatch")
)

type presetHeader struct {
	Magic       uint32
	Version     uint32
	SampleRate  uint32
	SampleCount uint32
	LoopMS      uint32
	Name        [presetNameSize]byte
}

// Preset is a named loop waveform stored on disk.
type Preset struct {
	Name    string
	Samples []int16
}

// PresetInfo is the header of a preset file.
type PresetInfo struct {
	Name        string
	SampleRate  int
	SampleCount int
	LoopMS      int
}

// WritePreset encodes p for loop.
func WritePreset(w io.Writer, p Preset, loop Loop) error {
	if len(p.Samples) != loop.Samples {
		return fmt.Errorf("%w: got %d samples, want %d", ErrLength, len(p.Samples), loop.Samples)
	}
	hdr := presetHeader{
		Magic:       presetMagic,
		Version:     presetVersion,
		SampleRate:  uint32(loop.SampleRate),
		SampleCount: uint32(loop.Samples),
		LoopMS:      uint32(loop.Duration().Milliseconds()),
	}
	copy(hdr.Name[:], TrimName(p.Name))

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("write preset header: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, p.Samples); err != nil {
		return fmt.Errorf("write preset samples: %w", err)
	}
	return bw.Flush()
}

func readHeader(r io.Reader) (presetHeader, error) {
	var hdr presetHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return hdr, fmt.Errorf("read preset header: %w", err)
	}
	if hdr.Magic != presetMagic {
		return hdr, ErrPresetMagic
	}
	if hdr.Version != presetVersion {
		return hdr, fmt.Errorf("%w: %d", ErrPresetVersion, hdr.Version)
	}
	return hdr, nil
}

func (h presetHeader) info() PresetInfo {
	return PresetInfo{
		Name:        TrimName(string(h.Name[:])),
		SampleRate:  int(h.SampleRate),
		SampleCount: int(h.SampleCount),
		LoopMS:      int(h.LoopMS),
	}
}

// ReadPreset decodes a preset and rejects one built for a different loop.
func ReadPreset(r io.Reader, loop Loop) (*Preset, error) {
	br := bufio.NewReader(r)
	hdr, err := readHeader(br)
	if err != nil {
		return nil, err
	}
	if int(hdr.SampleRate) != loop.SampleRate || int(hdr.SampleCount) != loop.Samples {
		return nil, fmt.Errorf("%w: file %d Hz x %d, loop %d Hz x %d",
			ErrPresetMismatch, hdr.SampleRate, hdr.SampleCount, loop.SampleRate, loop.Samples)
	}

	samples := make([]int16, loop.Samples)
	if err := binary.Read(br, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("read preset samples: %w", err)
	}
	return &Preset{Name: hdr.info().Name, Samples: samples}, nil
}

// LoadPreset reads a preset file from disk.
func LoadPreset(path string, loop Loop) (*Preset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadPreset(f, loop)
}

// Inspect returns the header of a preset file without loading samples.
func Inspect(path string) (PresetInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return PresetInfo{}, err
	}
	defer f.Close()

	hdr, err := readHeader(f)
	if err != nil {
		return PresetInfo{}, err
	}
	return hdr.info(), nil
}

// SavePreset writes p to path atomically via a temporary file.
func SavePreset(path string, p Preset, loop Loop) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create preset dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".preset-*")
	if err != nil {
		return fmt.Errorf("create temp preset: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WritePreset(tmp, p, loop); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp preset: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
