// internal/session/editor.go
package session

import (
	"math"

	"github.com/ColonelBlimp/stimcore/internal/waveform"
)

// Params is a remote parameter update for one mode.
type Params struct {
	Mode        Mode
	AmplitudeMA float64
	FrequencyHz float64 // only used for ModeSine
	DurationMin int
}

// Editor is the only way to change Settings. Every setter clamps its input
// to the allowed range and returns the value actually stored.
type Editor struct {
	settings Settings
	loop     waveform.Loop
	dirty    bool
}

// NewEditor starts from s, clamping any out-of-range field.
func NewEditor(s Settings, loop waveform.Loop) *Editor {
	e := &Editor{loop: loop}
	orig := s
	if !s.Mode.Valid() {
		s.Mode = ModeNoise
	}
	e.settings = s
	for _, m := range []Mode{ModeNoise, ModeDC, ModeSine} {
		d := s.For(m)
		e.SetAmplitude(m, d.AmplitudeMA)
		e.SetDuration(m, d.DurationMin)
	}
	e.SetFrequency(s.FrequencyHz)
	e.SetFadeSeconds(s.FadeSeconds)
	e.SetCodePerMA(s.CodePerMA)
	e.dirty = e.settings != orig
	return e
}

// Settings returns a copy of the current settings.
func (e *Editor) Settings() Settings {
	return e.settings
}

// Dirty reports whether settings changed since the last MarkSaved.
func (e *Editor) Dirty() bool {
	return e.dirty
}

// MarkSaved clears the dirty flag.
func (e *Editor) MarkSaved() {
	e.dirty = false
}

func (e *Editor) update(fn func(s *Settings)) {
	before := e.settings
	fn(&e.settings)
	if e.settings != before {
		e.dirty = true
	}
}

// SetMode selects the active mode. Unknown modes are ignored.
func (e *Editor) SetMode(m Mode) Mode {
	if m.Valid() {
		e.update(func(s *Settings) { s.Mode = m })
	}
	return e.settings.Mode
}

// SetAmplitude sets the amplitude of mode m in mA.
func (e *Editor) SetAmplitude(m Mode, ma float64) float64 {
	v := clamp(ma, MinAmplitudeMA, MaxAmplitudeMA)
	e.update(func(s *Settings) { s.dose(m).AmplitudeMA = v })
	return v
}

// SetDuration sets the session length of mode m in minutes.
func (e *Editor) SetDuration(m Mode, minutes int) int {
	v := min(max(minutes, MinDurationMin), MaxDurationMin)
	e.update(func(s *Settings) { s.dose(m).DurationMin = v })
	return v
}

// SetFrequency sets the tACS frequency, snapped to the loop grid.
func (e *Editor) SetFrequency(hz float64) float64 {
	if math.IsNaN(hz) {
		hz = waveform.MinFrequency
	}
	v := waveform.SnapFrequency(hz, e.loop)
	e.update(func(s *Settings) { s.FrequencyHz = v })
	return v
}

// SetFadeSeconds sets the fade ramp length.
func (e *Editor) SetFadeSeconds(sec float64) float64 {
	v := clamp(sec, MinFadeSeconds, MaxFadeSeconds)
	e.update(func(s *Settings) { s.FadeSeconds = v })
	return v
}

// SetCodePerMA sets the output calibration factor.
func (e *Editor) SetCodePerMA(c float64) float64 {
	v := clamp(c, MinCodePerMA, MaxCodePerMA)
	e.update(func(s *Settings) { s.CodePerMA = v })
	return v
}

// Apply stores a remote update and selects its mode.
func (e *Editor) Apply(p Params) error {
	if !p.Mode.Valid() {
		return ErrUnknownMode
	}
	e.SetMode(p.Mode)
	e.SetAmplitude(p.Mode, p.AmplitudeMA)
	e.SetDuration(p.Mode, p.DurationMin)
	if p.Mode == ModeSine {
		e.SetFrequency(p.FrequencyHz)
	}
	return nil
}

// clamp bounds v to [lo, hi]; NaN becomes lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
