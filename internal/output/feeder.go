// internal/output/feeder.go
package output

import (
	"errors"
	"log"
	"time"
)

var (
	// ErrSinkTimeout is returned by a Sink whose write timed out with nothing accepted
	ErrSinkTimeout = errors.New("output: sink write timed out")
	// ErrInvalidSampleRate indicates the output rate must be positive
	ErrInvalidSampleRate = errors.New("output: sample rate must be positive")
	// ErrInvalidFragment indicates the fragment must hold at least one frame
	ErrInvalidFragment = errors.New("output: fragment frames must be positive")
	// ErrInvalidRing indicates the DMA ring must hold at least one fragment
	ErrInvalidRing = errors.New("output: ring frames must be at least one fragment")
	// ErrSinkRequired indicates a sink is required
	ErrSinkRequired = errors.New("output: sink is required")
)

// Sink accepts interleaved stereo samples. Write returns how many samples
// were accepted, which may be fewer than offered.
type Sink interface {
	Write(samples []int16, timeout time.Duration) (int, error)
}

// Flusher is implemented by sinks that can drop queued content.
type Flusher interface {
	Flush()
}

// FeederConfig holds output stream configuration.
type FeederConfig struct {
	// SampleRate in stereo frames per second
	SampleRate int
	// FragmentFrames is how many frames each Feed offers
	FragmentFrames int
	// RingFrames is the sink's queue capacity; half its playtime is the
	// longest acceptable gap between feeds
	RingFrames int
	// WriteTimeout bounds each sink write; 0 means non-blocking
	WriteTimeout time.Duration
	// InvertPolarity swaps the sign channel levels
	InvertPolarity bool
}

// Feeder keeps a sink filled from a base stereo buffer, applying the live
// dynamic gain to each fragment just before it is written.
type Feeder struct {
	cfg    FeederConfig
	sink   Sink
	gain   GainSource
	logger *log.Logger

	mono       []int16
	base       []int16
	frag       []int16
	cursor     int
	staticGain float64
	silent     bool

	threshold time.Duration
	lastFeed  time.Time
	underruns uint64
	written   uint64
}

// NewFeeder creates a feeder that outputs silence until Load is called.
func NewFeeder(cfg FeederConfig, sink Sink, gain GainSource, logger *log.Logger) (*Feeder, error) {
	if sink == nil {
		return nil, ErrSinkRequired
	}
	if cfg.SampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	if cfg.FragmentFrames <= 0 {
		return nil, ErrInvalidFragment
	}
	if cfg.RingFrames < cfg.FragmentFrames {
		return nil, ErrInvalidRing
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Feeder{
		cfg:       cfg,
		sink:      sink,
		gain:      gain,
		logger:    logger,
		frag:      make([]int16, 2*cfg.FragmentFrames),
		silent:    true,
		threshold: time.Duration(cfg.RingFrames) * time.Second / time.Duration(2*cfg.SampleRate),
	}, nil
}

// Load installs a new mono waveform scaled by staticGain and rewinds the
// cursor to the start of the loop.
func (f *Feeder) Load(mono []int16, staticGain float64) {
	f.mono = append(f.mono[:0], mono...)
	f.staticGain = staticGain
	f.silent = false
	f.rebuild()
	f.cursor = 0
}

// SetStaticGain rebuilds the base buffer with a new static gain, keeping the
// current position in the loop.
func (f *Feeder) SetStaticGain(g float64) {
	f.staticGain = g
	if !f.silent {
		f.rebuild()
	}
}

// StaticGain returns the gain baked into the base buffer.
func (f *Feeder) StaticGain() float64 {
	return f.staticGain
}

func (f *Feeder) rebuild() {
	n := 2 * len(f.mono)
	if cap(f.base) < n {
		f.base = make([]int16, n)
	}
	f.base = f.base[:n]
	EncodeStereo(f.base, f.mono, f.staticGain, f.cfg.InvertPolarity)
	if f.cursor >= n {
		f.cursor = 0
	}
}

// ResetCursor restarts playback at the beginning of the loop.
func (f *Feeder) ResetCursor() {
	f.cursor = 0
}

// Cursor returns the position in the base buffer, in samples.
func (f *Feeder) Cursor() int {
	return f.cursor
}

// Underruns returns how many feed gaps exceeded half the queue playtime.
func (f *Feeder) Underruns() uint64 {
	return f.underruns
}

// Written returns the total number of frames accepted by the sink.
func (f *Feeder) Written() uint64 {
	return f.written
}

// Feed offers one fragment to the sink. A timed-out write is not an error;
// the cursor stays put and the same data is offered next time.
func (f *Feeder) Feed(now time.Time) (int, error) {
	if !f.lastFeed.IsZero() {
		if gap := now.Sub(f.lastFeed); gap > f.threshold {
			f.underruns++
			f.logger.Printf("output: underrun risk, %v since last feed (limit %v)", gap, f.threshold)
		}
	}
	f.lastFeed = now
	return f.write()
}

// Prefill writes fragments until the sink stops accepting data.
func (f *Feeder) Prefill() (int, error) {
	total := 0
	limit := f.cfg.RingFrames/f.cfg.FragmentFrames + 2
	for i := 0; i < limit; i++ {
		n, err := f.write()
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
	return total, nil
}

// Silence drops queued content where the sink allows it and writes explicit
// zeros on both channels until the next Load.
func (f *Feeder) Silence() (int, error) {
	f.silent = true
	f.base = f.base[:0]
	f.cursor = 0
	if fl, ok := f.sink.(Flusher); ok {
		fl.Flush()
	}
	return f.Prefill()
}

func (f *Feeder) fill() {
	if f.silent || len(f.base) == 0 {
		clear(f.frag)
		return
	}
	g := 0.0
	if f.gain != nil {
		g = f.gain.Load()
	}
	n := len(f.base)
	for i := 0; i < len(f.frag); i += 2 {
		j := (f.cursor + i) % n
		f.frag[i] = f.base[j]
		f.frag[i+1] = scale(int32(f.base[j+1]), g)
	}
}

func (f *Feeder) write() (int, error) {
	f.fill()
	n, err := f.sink.Write(f.frag, f.cfg.WriteTimeout)
	n &^= 1
	if n > 0 {
		f.written += uint64(n / 2)
		if len(f.base) > 0 {
			f.cursor = (f.cursor + n) % len(f.base)
		}
	}
	if errors.Is(err, ErrSinkTimeout) {
		return n, nil
	}
	return n, err
}
