// internal/session/settings.go
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ColonelBlimp/stimcore/internal/waveform"
)

// Mode selects the stimulation waveform.
type Mode uint8

const (
	// ModeNoise is random noise stimulation (tRNS).
	ModeNoise Mode = iota
	// ModeDC is direct current stimulation (tDCS).
	ModeDC
	// ModeSine is alternating current stimulation (tACS).
	ModeSine
)

var modeNames = [...]string{"tRNS", "tDCS", "tACS"}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return int(m) < len(modeNames)
}

// ParseMode accepts a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, uint8(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name.
func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Editor bounds.
const (
	MinAmplitudeMA   = 0.1
	MaxAmplitudeMA   = 2.0
	MinDurationMin   = 1
	MaxDurationMin   = 60
	MinFadeSeconds   = 1.0
	MaxFadeSeconds   = 30.0
	MinCodePerMA     = 1000.0
	MaxCodePerMA     = 32767.0
	DefaultCodePerMA = 16383.5
)

var (
	// ErrUnknownMode indicates a mode outside tRNS/tDCS/tACS
	ErrUnknownMode = errors.New("unknown stimulation mode")
	// ErrOutOfRange indicates a stored setting outside the editor bounds
	ErrOutOfRange = errors.New("setting out of range")
)

// ModeSettings holds the dose of one mode.
type ModeSettings struct {
	AmplitudeMA float64 `yaml:"amplitude_ma" json:"amplitude_ma"`
	DurationMin int     `yaml:"duration_min" json:"duration_min"`
}

// Settings is the persisted session configuration.
type Settings struct {
	Mode        Mode         `yaml:"mode" json:"mode"`
	Noise       ModeSettings `yaml:"trns" json:"trns"`
	DC          ModeSettings `yaml:"tdcs" json:"tdcs"`
	Sine        ModeSettings `yaml:"tacs" json:"tacs"`
	FrequencyHz float64      `yaml:"tacs_frequency_hz" json:"tacs_frequency_hz"`
	FadeSeconds float64      `yaml:"fade_seconds" json:"fade_seconds"`
	CodePerMA   float64      `yaml:"code_per_ma" json:"code_per_ma"`
}

// DefaultSettings returns the factory session settings.
func DefaultSettings() Settings {
	dose := ModeSettings{AmplitudeMA: 1.0, DurationMin: 20}
	return Settings{
		Mode:        ModeNoise,
		Noise:       dose,
		DC:          dose,
		Sine:        dose,
		FrequencyHz: 140,
		FadeSeconds: 5,
		CodePerMA:   DefaultCodePerMA,
	}
}

// For returns the dose of mode m.
func (s Settings) For(m Mode) ModeSettings {
	switch m {
	case ModeDC:
		return s.DC
	case ModeSine:
		return s.Sine
	default:
		return s.Noise
	}
}

func (s *Settings) dose(m Mode) *ModeSettings {
	switch m {
	case ModeDC:
		return &s.DC
	case ModeSine:
		return &s.Sine
	default:
		return &s.Noise
	}
}

// Fade returns the fade ramp duration.
func (s Settings) Fade() time.Duration {
	return time.Duration(s.FadeSeconds * float64(time.Second))
}

// Total returns the session length of mode m.
func (s Settings) Total(m Mode) time.Duration {
	return time.Duration(s.For(m).DurationMin) * time.Minute
}

// Validate checks every field against the editor bounds.
func (s Settings) Validate() error {
	var errs []error
	if !s.Mode.Valid() {
		errs = append(errs, fmt.Errorf("%w: %d", ErrUnknownMode, uint8(s.Mode)))
	}
	for _, m := range []Mode{ModeNoise, ModeDC, ModeSine} {
		d := s.For(m)
		if d.AmplitudeMA < MinAmplitudeMA || d.AmplitudeMA > MaxAmplitudeMA {
			errs = append(errs, fmt.Errorf("%w: %s amplitude %v mA", ErrOutOfRange, m, d.AmplitudeMA))
		}
		if d.DurationMin < MinDurationMin || d.DurationMin > MaxDurationMin {
			errs = append(errs, fmt.Errorf("%w: %s duration %d min", ErrOutOfRange, m, d.DurationMin))
		}
	}
	if s.FrequencyHz < waveform.MinFrequency || s.FrequencyHz > waveform.MaxFrequency {
		errs = append(errs, fmt.Errorf("%w: frequency %v Hz", ErrOutOfRange, s.FrequencyHz))
	}
	if s.FadeSeconds < MinFadeSeconds || s.FadeSeconds > MaxFadeSeconds {
		errs = append(errs, fmt.Errorf("%w: fade %v s", ErrOutOfRange, s.FadeSeconds))
	}
	if s.CodePerMA < MinCodePerMA || s.CodePerMA > MaxCodePerMA {
		errs = append(errs, fmt.Errorf("%w: code_per_ma %v", ErrOutOfRange, s.CodePerMA))
	}
	return errors.Join(errs...)
}

// StaticGain converts an amplitude into the output gain domain:
// amplitude*codePerMA/FullScale clamped to [0, 1].
func StaticGain(amplitudeMA, codePerMA float64) float64 {
	g := amplitudeMA * codePerMA / waveform.FullScale
	if !(g > 0) {
		return 0
	}
	if g > 1 {
		return 1
	}
	return g
}

// WaveformName describes the generated waveform of mode m.
func WaveformName(s Settings, m Mode, loop waveform.Loop) string {
	d := s.For(m)
	switch m {
	case ModeDC:
		return fmt.Sprintf("tDCS %.1fmA %dmin", d.AmplitudeMA, d.DurationMin)
	case ModeSine:
		return fmt.Sprintf("tACS %.1fHz %.1fmA", waveform.SnapFrequency(s.FrequencyHz, loop), d.AmplitudeMA)
	default:
		return fmt.Sprintf("tRNS %.0f-%.0fHz %.1fmA", waveform.NoiseLowHz, waveform.NoiseHighHz, d.AmplitudeMA)
	}
}
