// internal/audio/device.go

// Package audio drives the stimulator's converters through miniaudio: the
// playback device carries the sign/magnitude output stream and the capture
// device carries the two monitoring ADC channels.
package audio

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/gen2brain/malgo"
)

var (
	ErrNotInitialized = errors.New("audio device not initialized")
	ErrAlreadyRunning = errors.New("audio device already running")
	ErrNotRunning     = errors.New("audio device not running")
)

// Channels is the frame width of both streams.
const Channels = 2

func initContext() (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return ctx, nil
}

func freeContext(ctx *malgo.AllocatedContext) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Uninit(); err != nil {
		return fmt.Errorf("uninit context: %w", err)
	}
	ctx.Free()
	return nil
}

// selectDevice resolves a device index to a miniaudio device ID pointer.
// A negative index selects the backend default (nil).
func selectDevice(ctx *malgo.AllocatedContext, kind malgo.DeviceType, index int) (unsafe.Pointer, error) {
	if index < 0 {
		return nil, nil
	}
	infos, err := ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	if index >= len(infos) {
		return nil, fmt.Errorf("device index %d out of range (have %d devices)", index, len(infos))
	}
	return infos[index].ID.Pointer(), nil
}

// DeviceList holds the devices of each direction.
type DeviceList struct {
	Playback []malgo.DeviceInfo
	Capture  []malgo.DeviceInfo
}

// ListAll enumerates playback and capture devices using a temporary context.
func ListAll() (DeviceList, error) {
	ctx, err := initContext()
	if err != nil {
		return DeviceList{}, err
	}
	defer freeContext(ctx)

	var list DeviceList
	if list.Playback, err = ctx.Devices(malgo.Playback); err != nil {
		return DeviceList{}, fmt.Errorf("enumerate playback devices: %w", err)
	}
	if list.Capture, err = ctx.Devices(malgo.Capture); err != nil {
		return DeviceList{}, fmt.Errorf("enumerate capture devices: %w", err)
	}
	return list, nil
}
