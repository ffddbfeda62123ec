// internal/engine/link.go
package engine

import (
	"errors"
	"math"
	"time"

	"github.com/ColonelBlimp/stimcore/internal/protocol"
	"github.com/ColonelBlimp/stimcore/internal/session"
	"github.com/ColonelBlimp/stimcore/internal/waveform"
)

// ErrStopped indicates the engine is no longer running.
var ErrStopped = errors.New("engine: stopped")

var _ protocol.Device = (*Link)(nil)

// Link adapts the engine to protocol.Device. Each call is marshalled onto
// the engine goroutine and waits for the next tick to run it.
type Link struct {
	e *Engine
}

// Link returns a protocol.Device backed by the engine.
func (e *Engine) Link() *Link {
	return &Link{e: e}
}

// call runs fn on the engine goroutine. It reports false when the engine
// stopped before fn ran.
func (l *Link) call(fn func(now time.Time)) bool {
	done := make(chan struct{})
	select {
	case l.e.cmds <- func(now time.Time) { fn(now); close(done) }:
	case <-l.e.stopped:
		return false
	}
	select {
	case <-done:
		return true
	case <-l.e.stopped:
		return false
	}
}

// ADC returns the ring cursor and a raw copy of the ring.
func (l *Link) ADC() (uint32, []int16) {
	var cursor uint32
	var ring []int16
	l.call(func(time.Time) {
		cursor, ring = l.e.ADC()
	})
	return cursor, ring
}

func (l *Link) SetWaveform(samples []int16, name string) error {
	err := ErrStopped
	l.call(func(now time.Time) {
		err = l.e.SetWaveform(samples, name)
	})
	return err
}

func (l *Link) SetParams(p protocol.Params) error {
	err := ErrStopped
	l.call(func(now time.Time) {
		err = l.e.ApplyParams(p)
	})
	return err
}

func (l *Link) Status() protocol.Status {
	var st protocol.Status
	l.call(func(now time.Time) {
		st = l.e.protocolStatus(now, l.e.flags(l.e.lastSummary))
	})
	return st
}

func (l *Link) SetGain(g float32) float32 {
	var v float64
	l.call(func(time.Time) {
		v = l.e.machine.SetStaticGain(float64(g))
	})
	return float32(v)
}

func (l *Link) Gain() float32 {
	var v float64
	l.call(func(time.Time) {
		v = l.e.machine.StaticGain()
	})
	return float32(v)
}

func (l *Link) Start() bool {
	var ok bool
	l.call(func(now time.Time) {
		ok = l.e.StartSession(now)
	})
	return ok
}

func (l *Link) Stop() bool {
	var ok bool
	l.call(func(now time.Time) {
		ok = l.e.StopSession(now)
	})
	return ok
}

func (l *Link) Reset() {
	l.call(func(now time.Time) {
		l.e.Reset(now)
	})
}

// The methods below run on the engine goroutine.

// StartSession starts a session from Idle with the edited settings.
func (e *Engine) StartSession(now time.Time) bool {
	if !e.machine.Start(now) {
		return false
	}
	e.fault.Reset()
	s := e.machine.Editor().Settings()
	if err := e.tone.Retune(waveform.SnapFrequency(s.FrequencyHz, e.cfg.Loop)); err != nil {
		e.logger.Printf("engine: tone meter: %v", err)
	}
	e.flushTransitions()
	return true
}

// StopSession begins a fade-out.
func (e *Engine) StopSession(now time.Time) bool {
	ok := e.machine.Stop(now)
	e.flushTransitions()
	return ok
}

// Reset forces silence and Idle and clears the fault state.
func (e *Engine) Reset(now time.Time) {
	e.machine.Abort(now, "reset")
	e.fault.Reset()
	e.underrunSeen = false
	e.flushTransitions()
}

// SetWaveform installs an uploaded noise loop.
func (e *Engine) SetWaveform(samples []int16, name string) error {
	return e.machine.ReplaceWaveform(samples, name)
}

// ApplyParams stores a remote parameter update. It takes effect at the next
// start.
func (e *Engine) ApplyParams(p protocol.Params) error {
	return e.machine.Editor().Apply(session.Params{
		Mode:        session.Mode(p.Mode),
		AmplitudeMA: float64(p.AmplitudeMA),
		FrequencyHz: float64(p.FrequencyHz),
		DurationMin: int(p.DurationMin),
	})
}

// ADC returns the write cursor and a copy of the raw ring.
func (e *Engine) ADC() (uint32, []int16) {
	ring := make([]int16, e.pipe.RingSize())
	cursor := e.pipe.Raw(ring)
	return uint32(cursor), ring
}

func (e *Engine) protocolStatus(now time.Time, flags uint8) protocol.Status {
	st := e.machine.Status(now)
	return protocol.Status{
		ADCSamples:  uint32(e.lastSummary.Count),
		ADCRate:     uint16(min(e.cfg.InputRate, math.MaxUint16)),
		Gain:        float32(st.StaticGain),
		ErrorFlags:  flags,
		State:       uint8(st.State),
		Mode:        uint8(st.Mode),
		DynamicGain: float32(st.Gain),
		ElapsedS:    uint32(st.Elapsed / time.Second),
		Name:        st.Waveform,
	}
}
