// internal/acquisition/pipeline.go

// Package acquisition turns paired sign/magnitude ADC frames into a filtered
// signed sample ring and answers statistical queries over it.
package acquisition

import (
	"errors"
	"log"
	"math"

	"github.com/ColonelBlimp/stimcore/internal/stats"
)

var (
	// ErrInvalidRingSize indicates the ring must hold at least one sample
	ErrInvalidRingSize = errors.New("ring size must be positive")
)

// Channel identifies one of the two ADC inputs.
type Channel uint8

const (
	// ChannelSign carries the polarity of the output stage.
	ChannelSign Channel = iota
	// ChannelMagnitude carries the unsigned current magnitude.
	ChannelMagnitude
)

// Frame is one ADC conversion result.
type Frame struct {
	Channel Channel
	Code    uint16
}

// Config holds acquisition configuration.
type Config struct {
	// RingSize is one loop period of input samples.
	RingSize int
	// SignThreshold: a sign code strictly above it means positive polarity.
	SignThreshold uint16
	// InvertPolarity flips the sign decision.
	InvertPolarity bool
}

// Counters reports ingest totals since construction.
type Counters struct {
	Samples   uint64 // paired samples written to the ring
	Discarded uint64 // frames dropped while disarmed or with an unknown channel
}

// Pipeline pairs frames, filters, and stores samples. It is owned by a single
// goroutine and is not safe for concurrent use.
type Pipeline struct {
	cfg    Config
	ring   *Ring
	filter MovingAverage
	logger *log.Logger

	enabled  bool
	sign     uint16
	mag      uint16
	haveSign bool
	haveMag  bool

	counters Counters
	window   []int16
}

// New creates a disarmed pipeline. A nil logger uses log.Default().
func New(cfg Config, logger *log.Logger) (*Pipeline, error) {
	if cfg.RingSize <= 0 {
		return nil, ErrInvalidRingSize
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{
		cfg:    cfg,
		ring:   NewRing(cfg.RingSize),
		logger: logger,
		window: make([]int16, cfg.RingSize),
	}, nil
}

// Arm clears the ring, the filter and any half-paired frame, then enables
// ingestion.
func (p *Pipeline) Arm() {
	p.ring.Reset()
	p.filter.Reset()
	p.haveSign, p.haveMag = false, false
	p.enabled = true
	p.logger.Printf("acquisition: armed (%d slot ring)", p.ring.Len())
}

// Disarm stops ingestion. Ring contents are kept for later queries.
func (p *Pipeline) Disarm() {
	if !p.enabled {
		return
	}
	p.enabled = false
	p.haveSign, p.haveMag = false, false
	p.logger.Printf("acquisition: disarmed after %d samples", p.counters.Samples)
}

// Reset disarms and refills the ring with Invalid, restarting the filter.
// Queries report no data until the next Arm writes fresh samples.
func (p *Pipeline) Reset() {
	p.Disarm()
	p.ring.Reset()
	p.filter.Reset()
}

// Enabled reports whether frames are currently accepted.
func (p *Pipeline) Enabled() bool {
	return p.enabled
}

// Ingest consumes one frame. A sample is emitted once both channels have
// been seen since the previous emission; a repeated frame on the same channel
// replaces the pending value.
func (p *Pipeline) Ingest(f Frame) {
	if !p.enabled {
		p.counters.Discarded++
		return
	}

	switch f.Channel {
	case ChannelSign:
		p.sign, p.haveSign = f.Code, true
	case ChannelMagnitude:
		p.mag, p.haveMag = f.Code, true
	default:
		p.counters.Discarded++
		return
	}
	if !p.haveSign || !p.haveMag {
		return
	}
	p.haveSign, p.haveMag = false, false

	positive := p.sign > p.cfg.SignThreshold
	if p.cfg.InvertPolarity {
		positive = !positive
	}
	v := int32(p.mag)
	if !positive {
		v = -v
	}

	p.ring.Put(clamp16(p.filter.Push(v)))
	p.counters.Samples++
}

// IngestAll consumes frames in order.
func (p *Pipeline) IngestAll(frames []Frame) {
	for _, f := range frames {
		p.Ingest(f)
	}
}

// Snapshot copies up to len(dst) most recent valid samples, oldest first.
func (p *Pipeline) Snapshot(dst []int16) int {
	return p.ring.Recent(dst)
}

// Raw copies the ring in slot order (Invalid as WireInvalid) and returns the
// write cursor.
func (p *Pipeline) Raw(dst []int16) int {
	return p.ring.Raw(dst)
}

// RingSize returns the ring capacity in samples.
func (p *Pipeline) RingSize() int {
	return p.ring.Len()
}

// Counters returns ingest totals.
func (p *Pipeline) Counters() Counters {
	return p.counters
}

// Summary computes statistics over the most recent n samples (the whole ring
// when n <= 0).
func (p *Pipeline) Summary(e *stats.Engine, n int) stats.Summary {
	return e.Summarize(p.recent(n))
}

// Histogram bins the whole ring into counts.
func (p *Pipeline) Histogram(e *stats.Engine, counts []int) stats.Histogram {
	return e.Histogram(p.recent(0), counts)
}

func (p *Pipeline) recent(n int) []int16 {
	if n <= 0 || n > len(p.window) {
		n = len(p.window)
	}
	count := p.ring.Recent(p.window[:n])
	return p.window[:count]
}

func clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
