// internal/dsp/goertzel.go

// Package dsp holds the signal checks run over acquisition snapshots: a
// single-bin Goertzel tone meter for tACS and the electrode fault detector.
package dsp

import (
	"errors"
	"math"
)

var (
	// ErrInvalidBlockSize indicates block size must be positive
	ErrInvalidBlockSize = errors.New("block size must be positive")
	// ErrInvalidSampleRate indicates sample rate must be positive
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrInvalidFrequency indicates frequency must be positive and below Nyquist
	ErrInvalidFrequency = errors.New("target frequency must be positive and less than Nyquist frequency")
	// ErrInsufficientSamples indicates not enough samples for the configured block size
	ErrInsufficientSamples = errors.New("insufficient samples for block size")
	// ErrConverterRequired indicates a code to mA converter is required
	ErrConverterRequired = errors.New("converter is required")
)

// GoertzelConfig holds configuration for the Goertzel algorithm.
type GoertzelConfig struct {
	// TargetFrequency is the frequency to measure in Hz
	TargetFrequency float64
	// SampleRate is the acquisition rate in Hz (from config: input_sample_rate)
	SampleRate float64
	// BlockSize is the number of samples per measurement. Using the ring
	// size makes the block span exactly one loop, so any snapped tACS
	// frequency falls on a whole bin.
	BlockSize int
}

// Goertzel computes the DFT of a single frequency bin.
type Goertzel struct {
	config      GoertzelConfig
	coefficient float64 // 2 * cos(2π * k / N)
	normalizer  float64 // 2 / N, so a pure sine returns its amplitude
}

func validate(cfg GoertzelConfig) error {
	if cfg.BlockSize <= 0 {
		return ErrInvalidBlockSize
	}
	if cfg.SampleRate <= 0 {
		return ErrInvalidSampleRate
	}
	if cfg.TargetFrequency <= 0 || cfg.TargetFrequency >= cfg.SampleRate/2 {
		return ErrInvalidFrequency
	}
	return nil
}

// NewGoertzel creates a Goertzel filter. Returns an error if the
// configuration is invalid.
func NewGoertzel(cfg GoertzelConfig) (*Goertzel, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	g := &Goertzel{config: cfg, normalizer: 2.0 / float64(cfg.BlockSize)}
	g.tune()
	return g, nil
}

func (g *Goertzel) tune() {
	omega := 2.0 * math.Pi * g.config.TargetFrequency / g.config.SampleRate
	g.coefficient = 2.0 * math.Cos(omega)
}

// Retune changes the target frequency, keeping rate and block size.
func (g *Goertzel) Retune(hz float64) error {
	cfg := g.config
	cfg.TargetFrequency = hz
	if err := validate(cfg); err != nil {
		return err
	}
	g.config = cfg
	g.tune()
	return nil
}

// Magnitude returns the amplitude of the target frequency over the first
// BlockSize samples. A pure sine of amplitude A on a bin returns A.
func (g *Goertzel) Magnitude(samples []float64) (float64, error) {
	if len(samples) < g.config.BlockSize {
		return 0, ErrInsufficientSamples
	}
	return g.computeMagnitude(samples[:g.config.BlockSize]), nil
}

func (g *Goertzel) computeMagnitude(samples []float64) float64 {
	var s0, s1, s2 float64
	coeff := g.coefficient
	for _, x := range samples {
		s0 = x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}

	// power = s1² + s2² - coefficient * s1 * s2
	power := s1*s1 + s2*s2 - coeff*s1*s2
	if power < 0 {
		power = 0
	}
	return math.Sqrt(power) * g.normalizer
}

// Config returns the current configuration.
func (g *Goertzel) Config() GoertzelConfig {
	return g.config
}

// BlockSize returns the configured block size.
func (g *Goertzel) BlockSize() int {
	return g.config.BlockSize
}

// Converter maps a signed acquisition code to mA.
type Converter interface {
	Signed(code int32) float64
}

// ToneMeter measures the tone amplitude in mA over ring snapshots.
type ToneMeter struct {
	goertzel *Goertzel
	conv     Converter
	scratch  []float64
}

// NewToneMeter creates a meter. Measurements need a full block of samples.
func NewToneMeter(cfg GoertzelConfig, conv Converter) (*ToneMeter, error) {
	if conv == nil {
		return nil, ErrConverterRequired
	}
	g, err := NewGoertzel(cfg)
	if err != nil {
		return nil, err
	}
	return &ToneMeter{goertzel: g, conv: conv, scratch: make([]float64, cfg.BlockSize)}, nil
}

// Retune changes the measured frequency.
func (m *ToneMeter) Retune(hz float64) error {
	return m.goertzel.Retune(hz)
}

// Frequency returns the measured frequency.
func (m *ToneMeter) Frequency() float64 {
	return m.goertzel.Config().TargetFrequency
}

// Measure returns the tone amplitude in mA. It returns false until the
// snapshot holds a full block.
func (m *ToneMeter) Measure(codes []int16) (float64, bool) {
	n := m.goertzel.BlockSize()
	if len(codes) < n {
		return 0, false
	}
	for i, c := range codes[:n] {
		m.scratch[i] = m.conv.Signed(int32(c))
	}
	return m.goertzel.computeMagnitude(m.scratch), true
}
