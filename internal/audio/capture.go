// internal/audio/capture.go
package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ColonelBlimp/stimcore/internal/acquisition"
	"github.com/gen2brain/malgo"
)

// CaptureConfig holds monitoring ADC configuration.
type CaptureConfig struct {
	DeviceIndex  int    // -1 for default device
	SampleRate   uint32 // stereo frames per second
	PeriodFrames uint32 // frames per callback
	Bits         uint   // ADC code width
	QueueSize    int    // batches buffered for the consumer
}

// DefaultCaptureConfig matches the 20 kHz, 12-bit monitoring ADC.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		DeviceIndex:  -1,
		SampleRate:   20000,
		PeriodFrames: 500,
		Bits:         12,
		QueueSize:    64,
	}
}

// Capture reads the two monitoring channels (left = sign, right = magnitude)
// and delivers them as batches of ADC frames.
type Capture struct {
	config CaptureConfig

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	running atomic.Bool
	dropped atomic.Uint64

	// Frames receives one batch per device callback
	Frames chan []acquisition.Frame
}

// NewCapture creates a capture stage.
func NewCapture(cfg CaptureConfig) *Capture {
	return &Capture{
		config: cfg,
		Frames: make(chan []acquisition.Frame, cfg.QueueSize),
	}
}

// Init initializes the audio backend.
func (c *Capture) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := initContext()
	if err != nil {
		return err
	}
	c.ctx = ctx
	return nil
}

// ListDevices returns available capture devices.
func (c *Capture) ListDevices() ([]malgo.DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx == nil {
		return nil, ErrNotInitialized
	}
	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	return infos, nil
}

// onSamples converts raw capture bytes and hands them on without blocking.
func (c *Capture) onSamples(in []byte) {
	if len(in) == 0 {
		return
	}
	batch := framesFromS16(in, c.config.Bits)
	select {
	case c.Frames <- batch:
	default:
		// consumer too slow
		c.dropped.Add(1)
	}
}

// Start begins capture. The device stops when ctx is cancelled.
func (c *Capture) Start(ctx context.Context) error {
	if c.running.Load() {
		return ErrAlreadyRunning
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return ErrNotInitialized
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.SampleRate = c.config.SampleRate
	deviceConfig.PeriodSizeInFrames = c.config.PeriodFrames
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = Channels

	id, err := selectDevice(c.ctx, malgo.Capture, c.config.DeviceIndex)
	if err != nil {
		return err
	}
	deviceConfig.Capture.DeviceID = id

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, inputSamples []byte, _ uint32) {
			c.onSamples(inputSamples)
		},
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start capture device: %w", err)
	}

	c.device = device
	c.running.Store(true)

	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()
	return nil
}

// Stop halts capture.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Load() {
		return ErrNotRunning
	}
	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
	c.running.Store(false)
	return nil
}

// Close releases all capture resources and closes Frames.
func (c *Capture) Close() error {
	_ = c.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	err := freeContext(c.ctx)
	c.ctx = nil
	close(c.Frames)
	return err
}

// IsRunning returns true if capture is active.
func (c *Capture) IsRunning() bool {
	return c.running.Load()
}

// Dropped returns how many batches were discarded because Frames was full.
func (c *Capture) Dropped() uint64 {
	return c.dropped.Load()
}
