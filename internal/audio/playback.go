// internal/audio/playback.go
package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// PlaybackConfig holds output device configuration.
type PlaybackConfig struct {
	DeviceIndex  int    // -1 for default device
	SampleRate   uint32 // stereo frames per second
	PeriodFrames uint32 // frames per callback
}

// DefaultPlaybackConfig matches the 8 kHz output stream with 512-frame DMA
// buffers.
func DefaultPlaybackConfig() PlaybackConfig {
	return PlaybackConfig{
		DeviceIndex:  -1,
		SampleRate:   8000,
		PeriodFrames: 512,
	}
}

// Playback drains a Queue into a miniaudio playback device. When the queue
// runs dry the device plays silence and the shortfall is counted.
type Playback struct {
	config PlaybackConfig
	queue  *Queue

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	running atomic.Bool

	scratch    []int16
	underflows atomic.Uint64
}

// NewPlayback creates a playback stage reading from queue.
func NewPlayback(cfg PlaybackConfig, queue *Queue) *Playback {
	return &Playback{
		config: cfg,
		queue:  queue,
	}
}

// Init initializes the audio backend.
func (p *Playback) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, err := initContext()
	if err != nil {
		return err
	}
	p.ctx = ctx
	return nil
}

// ListDevices returns available playback devices.
func (p *Playback) ListDevices() ([]malgo.DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx == nil {
		return nil, ErrNotInitialized
	}
	infos, err := p.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	return infos, nil
}

// onSamples fills out from the queue, padding with zeros.
func (p *Playback) onSamples(out []byte) {
	need := len(out) / 2
	if cap(p.scratch) < need {
		p.scratch = make([]int16, need)
	}
	buf := p.scratch[:need]

	n := p.queue.Read(buf)
	if n < need {
		clear(buf[n:])
		p.underflows.Add(1)
	}
	encodeS16(out, buf)
}

// Start opens the device and begins playback. The device stops when ctx is
// cancelled.
func (p *Playback) Start(ctx context.Context) error {
	if p.running.Load() {
		return ErrAlreadyRunning
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return ErrNotInitialized
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.SampleRate = p.config.SampleRate
	deviceConfig.PeriodSizeInFrames = p.config.PeriodFrames
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = Channels

	id, err := selectDevice(p.ctx, malgo.Playback, p.config.DeviceIndex)
	if err != nil {
		return err
	}
	deviceConfig.Playback.DeviceID = id

	callbacks := malgo.DeviceCallbacks{
		Data: func(outputSamples, _ []byte, _ uint32) {
			p.onSamples(outputSamples)
		},
	}

	device, err := malgo.InitDevice(p.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("init playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start playback device: %w", err)
	}

	p.device = device
	p.running.Store(true)

	go func() {
		<-ctx.Done()
		_ = p.Stop()
	}()
	return nil
}

// Stop halts playback.
func (p *Playback) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Load() {
		return ErrNotRunning
	}
	if p.device != nil {
		_ = p.device.Stop()
		p.device.Uninit()
		p.device = nil
	}
	p.running.Store(false)
	return nil
}

// Close stops the device and releases the backend.
func (p *Playback) Close() error {
	_ = p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	err := freeContext(p.ctx)
	p.ctx = nil
	return err
}

// IsRunning returns true if playback is active.
func (p *Playback) IsRunning() bool {
	return p.running.Load()
}

// Underflows returns how many callbacks found the queue short.
func (p *Playback) Underflows() uint64 {
	return p.underflows.Load()
}
