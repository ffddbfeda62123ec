package config

import (
	"github.com/ColonelBlimp/stimcore/internal/audio"
	"github.com/ColonelBlimp/stimcore/internal/calibration"
	"github.com/ColonelBlimp/stimcore/internal/engine"
	"github.com/ColonelBlimp/stimcore/internal/loopback"
	"github.com/ColonelBlimp/stimcore/internal/protocol"
	"github.com/ColonelBlimp/stimcore/internal/session"
	"github.com/ColonelBlimp/stimcore/internal/telemetry"
	"github.com/ColonelBlimp/stimcore/internal/waveform"
)

// Loop returns the output loop geometry.
func (s *Settings) Loop() waveform.Loop {
	return waveform.Loop{SampleRate: s.OutputSampleRate, Samples: s.LoopSamples()}
}

// Table builds the calibration table.
func (s *Settings) Table() (*calibration.Table, error) {
	return calibration.NewTable(s.CalibrationPoints(), s.MaxCode())
}

// Engine returns the scheduler configuration. noise may be nil.
func (s *Settings) Engine(noise *waveform.Preset) engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Loop = s.Loop()
	cfg.InputRate = s.InputSampleRate
	cfg.RingSize = s.RingSize()
	cfg.FragmentFrames = s.FragmentFrames
	cfg.RingFrames = s.RingFrames()
	cfg.WriteTimeout = s.WriteTimeout
	cfg.InvertPolarity = s.InvertPolarity
	cfg.SignThreshold = uint16(s.SignThreshold)
	cfg.CaptureDelay = s.CaptureDelay
	cfg.StatusInterval = s.StatusInterval
	cfg.HistogramBins = s.HistogramBins
	cfg.FaultRatio = s.FaultRatio
	cfg.FaultHysteresis = s.FaultHysteresis
	cfg.Noise = noise
	cfg.Debug = s.Debug
	return cfg
}

// SessionDefaults returns factory session settings with the configured
// device constants.
func (s *Settings) SessionDefaults() session.Settings {
	d := session.DefaultSettings()
	d.FadeSeconds = s.FadeSeconds
	d.CodePerMA = s.CodePerMA
	return d
}

// Playback returns the output device configuration.
func (s *Settings) Playback() audio.PlaybackConfig {
	return audio.PlaybackConfig{
		DeviceIndex:  s.OutputDeviceIndex,
		SampleRate:   uint32(s.OutputSampleRate),
		PeriodFrames: uint32(s.DMABufferFrames),
	}
}

// Capture returns the input device configuration.
func (s *Settings) Capture() audio.CaptureConfig {
	cfg := audio.DefaultCaptureConfig()
	cfg.DeviceIndex = s.InputDeviceIndex
	cfg.SampleRate = uint32(s.InputSampleRate)
	cfg.PeriodFrames = uint32(s.InputSampleRate / 40)
	cfg.Bits = uint(s.ADCBits)
	cfg.QueueSize = s.FrameQueue
	return cfg
}

// Plant returns the simulation plant configuration.
func (s *Settings) Plant(seed uint64) loopback.Config {
	cfg := loopback.DefaultConfig()
	cfg.OutputRate = s.OutputSampleRate
	cfg.InputRate = s.InputSampleRate
	cfg.CodePerMA = s.CodePerMA
	cfg.Seed = seed
	cfg.QueueSize = s.FrameQueue
	return cfg
}

// Protocol returns the host link configuration.
func (s *Settings) Protocol() protocol.Config {
	return protocol.Config{
		LengthWidth: s.LengthWidth,
		MaxPayload:  2*s.LoopSamples() + waveform.MaxNameLen + 1,
		LoopSamples: s.LoopSamples(),
	}
}

// Telemetry returns the broker configuration.
func (s *Settings) Telemetry() telemetry.Config {
	return telemetry.Config{
		Broker:      s.MQTTBroker,
		ClientID:    s.MQTTClientID,
		TopicPrefix: s.MQTTTopicPrefix,
	}
}
