// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ColonelBlimp/stimcore/internal/calibration"
	"github.com/spf13/viper"
)

const (
	AppName       = "stimcore"
	ConfigType    = "yaml"
	DefaultConfig = `# Stimulator Core Configuration

# Audio devices (use 'stimcore devices' to list them)
output_device_index: -1   # -1 for default playback device (sign/magnitude stream)
input_device_index: -1    # -1 for default capture device (monitoring ADC)

# Output stream
output_sample_rate: 8000  # Stereo frames per second
loop_seconds: 2           # Waveform loop period; ring and loop both span it
dma_buffer_count: 16      # DMA ring = count x frames
dma_buffer_frames: 512
fragment_frames: 2048     # Frames offered per feed
write_timeout: 2ms        # Feed write timeout (0 = non-blocking)
invert_polarity: false    # Swap sign channel levels (wiring dependent)

# Acquisition
input_sample_rate: 20000  # Dual-channel ADC rate in Hz
adc_bits: 12              # Raw code width
sign_threshold: 2048      # Sign code above this means positive polarity
capture_delay: 1s         # Skip the output start-up transient
frame_queue: 64           # Capture batches buffered for the engine
histogram_bins: 32

# Scheduling
tick_interval: 50ms       # Engine tick; must stay under half the DMA ring playtime
status_interval: 1s       # Statistics, fault check and STATUS period

# Session defaults (used when no session file exists)
fade_seconds: 5           # Fade in/out ramp (1-30 s)
code_per_ma: 16383.5      # Output code per mA (2 mA = full scale)

# Electrode monitor
fault_ratio: 0.3          # Fault when measured/commanded current stays below this
fault_hysteresis: 3       # Consecutive status checks to confirm a fault or recovery

# Host link
serial_port: ""           # e.g. /dev/ttyACM0; empty disables the link
serial_baud: 115200
length_width: 4           # Frame length field in bytes (2 or 4)

# Telemetry
mqtt_broker: ""           # e.g. tcp://localhost:1883; empty disables telemetry
mqtt_client_id: "stimcore"
mqtt_topic_prefix: "stimcore"

# Files (empty = config directory)
session_file: ""
preset_file: ""

# Magnitude channel calibration (raw ADC code -> mA), ascending raw codes
calibration:
  - {raw: 1046, ma: 0.1}
  - {raw: 1116, ma: 0.2}
  - {raw: 1178, ma: 0.3}
  - {raw: 1232, ma: 0.4}
  - {raw: 1282, ma: 0.5}
  - {raw: 1334, ma: 0.6}
  - {raw: 1386, ma: 0.7}
  - {raw: 1430, ma: 0.8}
  - {raw: 1476, ma: 0.9}
  - {raw: 1522, ma: 1.0}
  - {raw: 1620, ma: 1.2}
  - {raw: 1658, ma: 1.3}
  - {raw: 1746, ma: 1.5}
  - {raw: 1830, ma: 1.7}
  - {raw: 1876, ma: 1.8}
  - {raw: 1956, ma: 2.0}

# Output
debug: false              # Per-status diagnostics
`
)

// MaxRingSize bounds the acquisition ring in samples.
const MaxRingSize = 1 << 20

// CalibrationPoint is one configured calibration entry.
type CalibrationPoint struct {
	Raw uint16  `mapstructure:"raw"`
	MA  float64 `mapstructure:"ma"`
}

// Settings holds all application configuration
type Settings struct {
	// Audio devices
	OutputDeviceIndex int `mapstructure:"output_device_index"`
	InputDeviceIndex  int `mapstructure:"input_device_index"`

	// Output stream
	OutputSampleRate int           `mapstructure:"output_sample_rate"`
	LoopSeconds      int           `mapstructure:"loop_seconds"`
	DMABufferCount   int           `mapstructure:"dma_buffer_count"`
	DMABufferFrames  int           `mapstructure:"dma_buffer_frames"`
	FragmentFrames   int           `mapstructure:"fragment_frames"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	InvertPolarity   bool          `mapstructure:"invert_polarity"`

	// Acquisition
	InputSampleRate int           `mapstructure:"input_sample_rate"`
	ADCBits         int           `mapstructure:"adc_bits"`
	SignThreshold   int           `mapstructure:"sign_threshold"`
	CaptureDelay    time.Duration `mapstructure:"capture_delay"`
	FrameQueue      int           `mapstructure:"frame_queue"`
	HistogramBins   int           `mapstructure:"histogram_bins"`

	// Scheduling
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	StatusInterval time.Duration `mapstructure:"status_interval"`

	// Session defaults
	FadeSeconds float64 `mapstructure:"fade_seconds"`
	CodePerMA   float64 `mapstructure:"code_per_ma"`

	// Electrode monitor
	FaultRatio      float64 `mapstructure:"fault_ratio"`
	FaultHysteresis int     `mapstructure:"fault_hysteresis"`

	// Host link
	SerialPort  string `mapstructure:"serial_port"`
	SerialBaud  int    `mapstructure:"serial_baud"`
	LengthWidth int    `mapstructure:"length_width"`

	// Telemetry
	MQTTBroker      string `mapstructure:"mqtt_broker"`
	MQTTClientID    string `mapstructure:"mqtt_client_id"`
	MQTTTopicPrefix string `mapstructure:"mqtt_topic_prefix"`

	// Files
	SessionFile string `mapstructure:"session_file"`
	PresetFile  string `mapstructure:"preset_file"`

	Calibration []CalibrationPoint `mapstructure:"calibration"`

	// Output
	Debug bool `mapstructure:"debug"`
}

func defaultCalibration() []map[string]any {
	points := calibration.DefaultPoints()
	out := make([]map[string]any, len(points))
	for i, p := range points {
		out[i] = map[string]any{"raw": p.Raw, "ma": p.MA}
	}
	return out
}

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/stimcore/
func Init() error {
	// Set defaults
	viper.SetDefault("output_device_index", -1)
	viper.SetDefault("input_device_index", -1)
	viper.SetDefault("output_sample_rate", 8000)
	viper.SetDefault("loop_seconds", 2)
	viper.SetDefault("dma_buffer_count", 16)
	viper.SetDefault("dma_buffer_frames", 512)
	viper.SetDefault("fragment_frames", 2048)
	viper.SetDefault("write_timeout", 2*time.Millisecond)
	viper.SetDefault("invert_polarity", false)
	viper.SetDefault("input_sample_rate", 20000)
	viper.SetDefault("adc_bits", 12)
	viper.SetDefault("sign_threshold", 2048)
	viper.SetDefault("capture_delay", time.Second)
	viper.SetDefault("frame_queue", 64)
	viper.SetDefault("histogram_bins", 32)
	viper.SetDefault("tick_interval", 50*time.Millisecond)
	viper.SetDefault("status_interval", time.Second)
	viper.SetDefault("fade_seconds", 5.0)
	viper.SetDefault("code_per_ma", 16383.5)
	viper.SetDefault("fault_ratio", 0.3)
	viper.SetDefault("fault_hysteresis", 3)
	viper.SetDefault("serial_port", "")
	viper.SetDefault("serial_baud", 115200)
	viper.SetDefault("length_width", 4)
	viper.SetDefault("mqtt_broker", "")
	viper.SetDefault("mqtt_client_id", AppName)
	viper.SetDefault("mqtt_topic_prefix", AppName)
	viper.SetDefault("session_file", "")
	viper.SetDefault("preset_file", "")
	viper.SetDefault("calibration", defaultCalibration())
	viper.SetDefault("debug", false)

	viper.SetConfigType(ConfigType)

	// Priority order: current directory first, then XDG config
	viper.AddConfigPath(".")

	configDir := Dir()
	viper.AddConfigPath(configDir)

	// Try .config.yaml first (hidden file), then config.yaml
	viper.SetConfigName(".config")
	err := viper.ReadInConfig()
	if err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	// Read config file - if not found, create default in XDG config dir
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			if err = ensureConfigExists(configDir); err != nil {
				return err
			}
			if err = viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		} else {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

// Dir returns the per-user configuration directory of the application.
func Dir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, AppName)
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	// Output stream
	if s.OutputSampleRate < 1000 || s.OutputSampleRate > 192000 {
		errs = append(errs, fmt.Errorf("output_sample_rate must be between 1000 and 192000 Hz, got %d", s.OutputSampleRate))
	}
	if s.LoopSeconds < 1 || s.LoopSeconds > 10 {
		errs = append(errs, fmt.Errorf("loop_seconds must be between 1 and 10, got %d", s.LoopSeconds))
	}
	if s.DMABufferCount < 2 || s.DMABufferCount > 64 {
		errs = append(errs, fmt.Errorf("dma_buffer_count must be between 2 and 64, got %d", s.DMABufferCount))
	}
	if s.DMABufferFrames < 64 || s.DMABufferFrames > 4096 {
		errs = append(errs, fmt.Errorf("dma_buffer_frames must be between 64 and 4096, got %d", s.DMABufferFrames))
	}
	if s.FragmentFrames < 1 || s.FragmentFrames > s.RingFrames() {
		errs = append(errs, fmt.Errorf("fragment_frames must be between 1 and the DMA ring size (%d), got %d", s.RingFrames(), s.FragmentFrames))
	}
	if s.WriteTimeout < 0 || s.WriteTimeout > 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("write_timeout must be between 0 and 100ms, got %v", s.WriteTimeout))
	}

	// Acquisition
	if s.InputSampleRate < 1000 || s.InputSampleRate > 192000 {
		errs = append(errs, fmt.Errorf("input_sample_rate must be between 1000 and 192000 Hz, got %d", s.InputSampleRate))
	}
	if s.ADCBits < 8 || s.ADCBits > 16 {
		errs = append(errs, fmt.Errorf("adc_bits must be between 8 and 16, got %d", s.ADCBits))
	} else if s.SignThreshold < 0 || s.SignThreshold >= 1<<s.ADCBits {
		errs = append(errs, fmt.Errorf("sign_threshold must be between 0 and %d, got %d", 1<<s.ADCBits-1, s.SignThreshold))
	}
	if s.CaptureDelay < 0 || s.CaptureDelay > 10*time.Second {
		errs = append(errs, fmt.Errorf("capture_delay must be between 0 and 10s, got %v", s.CaptureDelay))
	}
	if s.FrameQueue < 1 || s.FrameQueue > 4096 {
		errs = append(errs, fmt.Errorf("frame_queue must be between 1 and 4096, got %d", s.FrameQueue))
	}
	if s.HistogramBins < 1 || s.HistogramBins > 1024 {
		errs = append(errs, fmt.Errorf("histogram_bins must be between 1 and 1024, got %d", s.HistogramBins))
	}

	// Ring and loop are both derived from loop_seconds so one ring spans one
	// loop; the ring must still fit a 4-byte ADC frame comfortably
	if s.RingSize() > MaxRingSize {
		errs = append(errs, fmt.Errorf("input_sample_rate x loop_seconds must not exceed %d samples, got %d", MaxRingSize, s.RingSize()))
	}

	// Scheduling
	if s.OutputSampleRate > 0 {
		limit := time.Duration(s.RingFrames()) * time.Second / time.Duration(2*s.OutputSampleRate)
		if s.TickInterval <= 0 || s.TickInterval >= limit {
			errs = append(errs, fmt.Errorf("tick_interval must be positive and below half the DMA ring playtime (%v), got %v", limit, s.TickInterval))
		}
	}
	if s.StatusInterval < s.TickInterval || s.StatusInterval > time.Minute {
		errs = append(errs, fmt.Errorf("status_interval must be between tick_interval and 1m, got %v", s.StatusInterval))
	}

	// Session defaults
	if s.FadeSeconds < 1 || s.FadeSeconds > 30 {
		errs = append(errs, fmt.Errorf("fade_seconds must be between 1 and 30, got %v", s.FadeSeconds))
	}
	if s.CodePerMA < 1000 || s.CodePerMA > 32767 {
		errs = append(errs, fmt.Errorf("code_per_ma must be between 1000 and 32767, got %v", s.CodePerMA))
	}

	// Electrode monitor
	if s.FaultRatio < 0.0 || s.FaultRatio > 1.0 {
		errs = append(errs, fmt.Errorf("fault_ratio must be between 0.0 and 1.0, got %v", s.FaultRatio))
	}
	if s.FaultHysteresis < 1 || s.FaultHysteresis > 50 {
		errs = append(errs, fmt.Errorf("fault_hysteresis must be between 1 and 50, got %d", s.FaultHysteresis))
	}

	// Host link
	if s.SerialBaud <= 0 {
		errs = append(errs, fmt.Errorf("serial_baud must be positive, got %d", s.SerialBaud))
	}
	if s.LengthWidth != 2 && s.LengthWidth != 4 {
		errs = append(errs, fmt.Errorf("length_width must be 2 or 4, got %d", s.LengthWidth))
	}

	// Calibration problems are fatal at startup
	if err := calibration.Validate(s.CalibrationPoints()); err != nil {
		errs = append(errs, fmt.Errorf("calibration: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LoopSamples is the number of output samples in one loop.
func (s *Settings) LoopSamples() int {
	return s.OutputSampleRate * s.LoopSeconds
}

// RingSize is the number of input samples in one loop.
func (s *Settings) RingSize() int {
	return s.InputSampleRate * s.LoopSeconds
}

// RingFrames is the DMA ring capacity in stereo frames.
func (s *Settings) RingFrames() int {
	return s.DMABufferCount * s.DMABufferFrames
}

// MaxCode is the largest raw ADC code.
func (s *Settings) MaxCode() uint16 {
	return uint16(1<<s.ADCBits - 1)
}

// CalibrationPoints converts the configured table.
func (s *Settings) CalibrationPoints() []calibration.Point {
	points := make([]calibration.Point, len(s.Calibration))
	for i, p := range s.Calibration {
		points[i] = calibration.Point{Raw: p.Raw, MA: p.MA}
	}
	return points
}

// SessionPath returns the session settings file.
func (s *Settings) SessionPath() string {
	if s.SessionFile != "" {
		return s.SessionFile
	}
	return filepath.Join(Dir(), "session.yaml")
}

// PresetPath returns the noise preset file.
func (s *Settings) PresetPath() string {
	if s.PresetFile != "" {
		return s.PresetFile
	}
	return filepath.Join(Dir(), "noise.prst")
}
