// internal/session/machine.go

// Package session implements the stimulation session lifecycle: waveform
// selection, the Idle/FadeIn/Stable/FadeOut gain ramp and the scheduling of
// acquisition after output start.
package session

import (
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/ColonelBlimp/stimcore/internal/output"
	"github.com/ColonelBlimp/stimcore/internal/waveform"
)

// State is a phase of the session lifecycle.
type State uint8

const (
	Idle State = iota
	FadeIn
	Stable
	FadeOut
)

var stateNames = [...]string{"Idle", "FadeIn", "Stable", "FadeOut"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// DefaultMinFadeOut is the shortest fade-out, used when stop arrives right
// after start.
const DefaultMinFadeOut = 100 * time.Millisecond

var (
	// ErrOutputRequired indicates an output stage is required
	ErrOutputRequired = errors.New("session: output is required")
	// ErrCaptureRequired indicates an acquisition stage is required
	ErrCaptureRequired = errors.New("session: capture is required")
	// ErrGainRequired indicates a gain scalar is required
	ErrGainRequired = errors.New("session: gain is required")
)

// Output is the stereo feed the session drives.
type Output interface {
	Load(mono []int16, staticGain float64)
	SetStaticGain(g float64)
	Prefill() (int, error)
	Silence() (int, error)
}

// Capture is the acquisition gate. Reset disarms and discards every stored
// sample.
type Capture interface {
	Arm()
	Disarm()
	Reset()
}

// Transition describes a state change.
type Transition struct {
	From   State
	To     State
	At     time.Time
	Gain   float64
	Reason string
}

// TransitionCallback is invoked synchronously on every state change.
// It must be fast and non-blocking.
type TransitionCallback func(Transition)

// Config holds session machine configuration.
type Config struct {
	Loop waveform.Loop
	// CaptureDelay is how long after start acquisition is armed, skipping
	// the output start-up transient
	CaptureDelay time.Duration
	// MinFadeOut floors the fade-out duration
	MinFadeOut time.Duration
	// Noise is the tRNS waveform; nil generates band-limited noise
	Noise *waveform.Preset
	// NoiseSeed seeds the generated noise
	NoiseSeed uint64
}

// Status is a snapshot for UI and telemetry consumers.
type Status struct {
	State       State
	Mode        Mode
	Gain        float64
	StaticGain  float64
	AmplitudeMA float64
	Elapsed     time.Duration
	Remaining   time.Duration
	Waveform    string
}

// Machine is the session state machine. All methods except Gain must be
// called from one goroutine; time is always passed in.
type Machine struct {
	cfg     Config
	editor  *Editor
	out     Output
	capture Capture
	gain    *output.Gain
	buffer  *waveform.Buffer
	logger  *log.Logger

	noise     []int16
	noiseName string

	state      State
	phaseStart time.Time
	started    time.Time
	active     Settings
	fade       time.Duration
	total      time.Duration
	staticGain float64

	fadeStartGain float64
	fadeOutDur    time.Duration

	captureAt    time.Time
	captureArmed bool

	elapsed  time.Duration
	finished bool

	callbackPtr atomic.Pointer[TransitionCallback]
}

// New creates an Idle machine. The noise waveform is prepared here so that
// start never touches storage.
func New(cfg Config, settings Settings, out Output, capture Capture, gain *output.Gain, logger *log.Logger) (*Machine, error) {
	if out == nil {
		return nil, ErrOutputRequired
	}
	if capture == nil {
		return nil, ErrCaptureRequired
	}
	if gain == nil {
		return nil, ErrGainRequired
	}
	buffer, err := waveform.NewBuffer(cfg.Loop)
	if err != nil {
		return nil, err
	}
	if cfg.MinFadeOut <= 0 {
		cfg.MinFadeOut = DefaultMinFadeOut
	}
	if logger == nil {
		logger = log.Default()
	}

	m := &Machine{
		cfg:     cfg,
		editor:  NewEditor(settings, cfg.Loop),
		out:     out,
		capture: capture,
		gain:    gain,
		buffer:  buffer,
		logger:  logger,
	}

	if p := cfg.Noise; p != nil && len(p.Samples) == cfg.Loop.Samples {
		m.noise = append([]int16(nil), p.Samples...)
		m.noiseName = waveform.TrimName(p.Name)
	} else {
		m.noise = make([]int16, cfg.Loop.Samples)
		waveform.Noise(m.noise, cfg.Loop, waveform.NoiseLowHz, waveform.NoiseHighHz, cfg.NoiseSeed)
	}
	gain.Store(0)
	return m, nil
}

// SetCallback registers the transition callback; nil clears it.
func (m *Machine) SetCallback(cb TransitionCallback) {
	if cb == nil {
		m.callbackPtr.Store(nil)
	} else {
		m.callbackPtr.Store(&cb)
	}
}

// Editor returns the settings editor. Edits take effect at the next start.
func (m *Machine) Editor() *Editor {
	return m.editor
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Active reports whether a session is running.
func (m *Machine) Active() bool {
	return m.state != Idle
}

// Gain returns the dynamic gain. Safe from any goroutine.
func (m *Machine) Gain() float64 {
	return m.gain.Load()
}

// StaticGain returns the amplitude scale of the loaded waveform.
func (m *Machine) StaticGain() float64 {
	return m.staticGain
}

// Waveform returns the current waveform name.
func (m *Machine) Waveform() string {
	return m.buffer.Name()
}

// Start begins a session from Idle. It returns false in any other state.
func (m *Machine) Start(now time.Time) bool {
	if m.state != Idle {
		return false
	}

	s := m.editor.Settings()
	m.active = s
	m.fade = s.Fade()
	m.total = s.Total(s.Mode)

	m.generate(s)
	m.staticGain = StaticGain(s.For(s.Mode).AmplitudeMA, s.CodePerMA)
	m.gain.Store(0)
	m.out.Load(m.buffer.Samples(), m.staticGain)
	if _, err := m.out.Prefill(); err != nil {
		m.logger.Printf("session: prefill: %v", err)
	}

	// the previous session's samples must not show during the capture delay
	m.capture.Reset()
	m.captureAt = now.Add(m.cfg.CaptureDelay)
	m.captureArmed = false

	m.started = now
	m.elapsed = 0
	m.finished = false
	m.logger.Printf("session: start %s (%s, static gain %.3f, %v)",
		s.Mode, m.buffer.Name(), m.staticGain, m.total)
	m.enter(FadeIn, now, "start")
	m.Update(now)
	return true
}

func (m *Machine) generate(s Settings) {
	name := WaveformName(s, s.Mode, m.cfg.Loop)
	switch s.Mode {
	case ModeDC:
		m.buffer.Generate(waveform.DC, name)
	case ModeSine:
		hz := waveform.SnapFrequency(s.FrequencyHz, m.cfg.Loop)
		m.buffer.Generate(func(dst []int16) {
			waveform.Sine(dst, hz, m.cfg.Loop.SampleRate)
		}, name)
	default:
		if m.noiseName != "" {
			name = m.noiseName
		}
		// lengths always match: noise is sized from the same loop
		_ = m.buffer.Replace(m.noise, name)
	}
}

// Stop begins a fade-out from FadeIn or Stable, starting at the current
// gain. It is a no-op (false) in FadeOut and Idle.
func (m *Machine) Stop(now time.Time) bool {
	m.Update(now)

	switch m.state {
	case FadeIn:
		g := ratio(now.Sub(m.phaseStart), m.fade)
		m.beginFadeOut(now, g, "stop")
	case Stable:
		m.beginFadeOut(now, 1, "stop")
	default:
		return false
	}
	return true
}

// Abort forces Idle immediately and writes explicit silence. It is the
// reset path and the only transition that may jump the gain.
func (m *Machine) Abort(now time.Time, reason string) {
	m.gain.Store(0)
	if _, err := m.out.Silence(); err != nil {
		m.logger.Printf("session: silence: %v", err)
	}
	m.capture.Reset()
	if m.state == Idle {
		return
	}
	if m.state != FadeOut {
		m.elapsed = now.Sub(m.started)
	}
	m.finished = true
	m.enter(Idle, now, reason)
}

// Update advances the lifecycle to now and sets the dynamic gain.
func (m *Machine) Update(now time.Time) {
	if m.state == Idle {
		return
	}
	if !m.captureArmed && !now.Before(m.captureAt) {
		m.capture.Arm()
		m.captureArmed = true
	}
	for m.step(now) {
	}
}

// step applies one state's rule and reports whether it transitioned.
// Transitions are stamped at the exact boundary time so that cascaded steps
// keep the schedule.
func (m *Machine) step(now time.Time) bool {
	e := now.Sub(m.phaseStart)
	switch m.state {
	case FadeIn:
		if e >= m.fade {
			m.gain.Store(1)
			m.enter(Stable, m.phaseStart.Add(m.fade), "fade-in complete")
			return true
		}
		m.gain.Store(ratio(e, m.fade))
	case Stable:
		m.gain.Store(1)
		if stable := m.stableDuration(); e >= stable {
			m.beginFadeOut(m.phaseStart.Add(stable), 1, "duration elapsed")
			return true
		}
	case FadeOut:
		if e >= m.fadeOutDur {
			m.finish(m.phaseStart.Add(m.fadeOutDur))
			return false
		}
		m.gain.Store(m.fadeStartGain * (1 - ratio(e, m.fadeOutDur)))
	}
	return false
}

func (m *Machine) stableDuration() time.Duration {
	return max(m.total-2*m.fade, 0)
}

func (m *Machine) beginFadeOut(at time.Time, startGain float64, reason string) {
	m.fadeStartGain = startGain
	m.fadeOutDur = max(time.Duration(startGain*float64(m.fade)), m.cfg.MinFadeOut)
	m.elapsed = at.Sub(m.started)
	m.gain.Store(startGain)
	m.enter(FadeOut, at, reason)
}

func (m *Machine) finish(at time.Time) {
	m.gain.Store(0)
	if _, err := m.out.Silence(); err != nil {
		m.logger.Printf("session: silence: %v", err)
	}
	m.capture.Disarm()
	m.finished = true
	m.enter(Idle, at, "fade-out complete")
}

func (m *Machine) enter(to State, at time.Time, reason string) {
	from := m.state
	m.state = to
	m.phaseStart = at
	if cb := m.callbackPtr.Load(); cb != nil {
		(*cb)(Transition{From: from, To: to, At: at, Gain: m.gain.Load(), Reason: reason})
	}
}

// JustFinished reports, once, that a session returned to Idle.
func (m *Machine) JustFinished() bool {
	f := m.finished
	m.finished = false
	return f
}

// Elapsed returns the running session time. It freezes when fade-out starts
// and keeps the last session's value while Idle.
func (m *Machine) Elapsed(now time.Time) time.Duration {
	switch m.state {
	case FadeIn, Stable:
		return now.Sub(m.started)
	default:
		return m.elapsed
	}
}

// Status returns a consumer snapshot.
func (m *Machine) Status(now time.Time) Status {
	s := m.active
	if m.state == Idle {
		s = m.editor.Settings()
	}
	elapsed := m.Elapsed(now)
	remaining := time.Duration(0)
	if m.state == FadeIn || m.state == Stable {
		remaining = max(m.total-elapsed, 0)
	}
	return Status{
		State:       m.state,
		Mode:        s.Mode,
		Gain:        m.gain.Load(),
		StaticGain:  m.staticGain,
		AmplitudeMA: s.For(s.Mode).AmplitudeMA,
		Elapsed:     elapsed,
		Remaining:   remaining,
		Waveform:    m.buffer.Name(),
	}
}

// ReplaceWaveform installs an uploaded loop as the tRNS waveform. During a
// session it is played immediately from the start of the loop.
func (m *Machine) ReplaceWaveform(samples []int16, name string) error {
	if len(samples) != m.cfg.Loop.Samples {
		return fmt.Errorf("%w: got %d samples, want %d", waveform.ErrLength, len(samples), m.cfg.Loop.Samples)
	}
	if name == "" {
		name = waveform.CustomName
	}
	m.noise = append(m.noise[:0], samples...)
	m.noiseName = waveform.TrimName(name)

	if m.state == Idle {
		return nil
	}
	if err := m.buffer.Replace(samples, name); err != nil {
		return err
	}
	m.out.Load(m.buffer.Samples(), m.staticGain)
	if _, err := m.out.Prefill(); err != nil {
		m.logger.Printf("session: prefill: %v", err)
	}
	return nil
}

// SetStaticGain overrides the amplitude scale of the loaded waveform,
// clamped to [0, 1]. The next start recomputes it from the amplitude.
func (m *Machine) SetStaticGain(g float64) float64 {
	g = clamp(g, 0, 1)
	m.staticGain = g
	m.out.SetStaticGain(g)
	return g
}

// ratio returns e/d clamped to [0, 1].
func ratio(e, d time.Duration) float64 {
	if d <= 0 || e >= d {
		return 1
	}
	if e <= 0 {
		return 0
	}
	return float64(e) / float64(d)
}
