// internal/loopback/plant.go

// Package loopback simulates the actuator and the monitoring ADC: it plays
// the output queue at the output rate, turns the commanded current into
// the ADC codes a calibrated front end would report, and delivers them as
// frame batches at the input rate.
package loopback

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/ColonelBlimp/stimcore/internal/acquisition"
	"github.com/ColonelBlimp/stimcore/internal/calibration"
)

var (
	// ErrInvalidRate indicates both sample rates must be positive
	ErrInvalidRate = errors.New("loopback: sample rates must be positive")
	// ErrInvalidCodePerMA indicates the output scale must be positive
	ErrInvalidCodePerMA = errors.New("loopback: code per mA must be positive")
	// ErrSourceRequired indicates an output source is required
	ErrSourceRequired = errors.New("loopback: source is required")
	// ErrTableRequired indicates a calibration table is required
	ErrTableRequired = errors.New("loopback: calibration table is required")
)

// Source yields interleaved stereo output samples (sign, magnitude).
type Source interface {
	Read(dst []int16) int
}

// Config holds plant configuration.
type Config struct {
	OutputRate int
	InputRate  int
	CodePerMA  float64
	// NoiseCodes is the standard deviation of the ADC noise in codes
	NoiseCodes float64
	Seed       uint64
	// Contact scales the delivered current; 1 is a perfect electrode
	Contact float64
	// QueueSize is the number of batches buffered on Frames
	QueueSize int
}

// DefaultConfig matches the device rates with light ADC noise.
func DefaultConfig() Config {
	return Config{
		OutputRate: 8000,
		InputRate:  20000,
		CodePerMA:  16383.5,
		NoiseCodes: 1.5,
		Seed:       1,
		Contact:    1,
		QueueSize:  64,
	}
}

// Plant is the simulated hardware loop.
type Plant struct {
	cfg   Config
	src   Source
	table *calibration.Table
	rng   *rand.Rand

	buf  []int16
	acc  int
	open atomic.Bool

	consumed   atomic.Uint64
	underflows atomic.Uint64
	dropped    atomic.Uint64

	// Frames receives one batch per Step
	Frames chan []acquisition.Frame
}

// New creates a plant reading from src.
func New(cfg Config, src Source, table *calibration.Table) (*Plant, error) {
	if src == nil {
		return nil, ErrSourceRequired
	}
	if table == nil {
		return nil, ErrTableRequired
	}
	if cfg.OutputRate <= 0 || cfg.InputRate <= 0 {
		return nil, ErrInvalidRate
	}
	if !(cfg.CodePerMA > 0) {
		return nil, ErrInvalidCodePerMA
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Plant{
		cfg:    cfg,
		src:    src,
		table:  table,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1)),
		Frames: make(chan []acquisition.Frame, cfg.QueueSize),
	}, nil
}

// SetOpen simulates a detached electrode: no current reaches the sensor.
func (p *Plant) SetOpen(open bool) {
	p.open.Store(open)
}

// Underflows returns output frames played as silence for lack of data.
func (p *Plant) Underflows() uint64 {
	return p.underflows.Load()
}

// Dropped returns batches discarded because Frames was full.
func (p *Plant) Dropped() uint64 {
	return p.dropped.Load()
}

// Consumed returns the output frames played so far.
func (p *Plant) Consumed() uint64 {
	return p.consumed.Load()
}

// Step plays n output frames and emits the matching input frames as one
// batch. Missing output data plays as silence, as a real device would.
// It returns the number of input samples produced.
func (p *Plant) Step(n int) int {
	if n <= 0 {
		return 0
	}
	need := 2 * n
	if cap(p.buf) < need {
		p.buf = make([]int16, need)
	}
	buf := p.buf[:need]
	got := p.src.Read(buf)
	got -= got % 2
	if got < need {
		clear(buf[got:])
		p.underflows.Add(uint64((need - got) / 2))
	}
	p.consumed.Add(uint64(n))

	batch := make([]acquisition.Frame, 0, 2*(n*p.cfg.InputRate/p.cfg.OutputRate+1))
	for i := 0; i < n; i++ {
		sign, mag := p.sense(buf[2*i], buf[2*i+1])
		p.acc += p.cfg.InputRate
		for p.acc >= p.cfg.OutputRate {
			p.acc -= p.cfg.OutputRate
			batch = append(batch,
				acquisition.Frame{Channel: acquisition.ChannelSign, Code: sign},
				acquisition.Frame{Channel: acquisition.ChannelMagnitude, Code: p.noisy(mag)},
			)
		}
	}

	select {
	case p.Frames <- batch:
	default:
		p.dropped.Add(1)
	}
	return len(batch) / 2
}

// sense converts one output frame into (sign code, magnitude code) at the
// ADC, before noise.
func (p *Plant) sense(sign, magnitude int16) (uint16, float64) {
	ma := float64(magnitude) / p.cfg.CodePerMA * p.cfg.Contact
	if p.open.Load() {
		ma = 0
	}
	signCode := uint16(0)
	if sign >= 0 {
		signCode = p.table.MaxCode()
	}
	return signCode, float64(p.table.Raw(ma))
}

func (p *Plant) noisy(code float64) uint16 {
	if p.cfg.NoiseCodes > 0 {
		code += p.rng.NormFloat64() * p.cfg.NoiseCodes
	}
	code = math.Round(code)
	switch {
	case code < 0:
		return 0
	case code > float64(p.table.MaxCode()):
		return p.table.MaxCode()
	}
	return uint16(code)
}

// Run steps the plant in real time until ctx is done.
func (p *Plant) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	var played uint64
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due := uint64(now.Sub(start).Seconds() * float64(p.cfg.OutputRate))
			if due > played {
				p.Step(int(due - played))
				played = due
			}
		}
	}
}
