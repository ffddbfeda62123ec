// internal/dsp/detector.go
package dsp

import (
	"errors"
	"sync/atomic"
	"time"
)

var (
	// ErrInvalidRatio indicates the fault ratio must be between 0 and 1
	ErrInvalidRatio = errors.New("fault ratio must be between 0.0 and 1.0")
	// ErrInvalidHysteresis indicates hysteresis must be at least one check
	ErrInvalidHysteresis = errors.New("hysteresis must be at least 1")
	// ErrInvalidMinExpected indicates the minimum expected current must be non-negative
	ErrInvalidMinExpected = errors.New("minimum expected current must be non-negative")
)

// FaultEvent reports a confirmed change of electrode state.
type FaultEvent struct {
	// Fault is true when a fault is confirmed, false on recovery
	Fault bool
	// Timestamp is when the change was confirmed
	Timestamp time.Time
	// Duration is how long the previous state lasted
	Duration time.Duration
	// MeasuredMA and ExpectedMA are the values of the confirming check
	MeasuredMA float64
	ExpectedMA float64
}

// FaultCallback is called when the electrode state changes.
// Must be non-blocking and fast.
type FaultCallback func(event FaultEvent)

// FaultConfig holds configuration for the electrode fault detector.
type FaultConfig struct {
	// Ratio is the measured/expected current below which a check fails
	// (from config: fault_ratio)
	Ratio float64
	// Hysteresis is consecutive checks required to confirm a change
	// (from config: fault_hysteresis)
	Hysteresis int
	// MinExpectedMA skips checks while the commanded current is smaller
	MinExpectedMA float64
}

// FaultDetector compares measured and commanded current and debounces the
// result with hysteresis, the way a tone detector debounces on/off.
type FaultDetector struct {
	config FaultConfig

	faultState      bool
	pendingState    bool
	hysteresisCount int
	lastTransition  time.Time
	lastRatio       float64

	callbackPtr atomic.Pointer[FaultCallback]
}

// NewFaultDetector creates a detector with no fault.
func NewFaultDetector(cfg FaultConfig) (*FaultDetector, error) {
	if cfg.Ratio < 0 || cfg.Ratio > 1 {
		return nil, ErrInvalidRatio
	}
	if cfg.Hysteresis < 1 {
		return nil, ErrInvalidHysteresis
	}
	if cfg.MinExpectedMA < 0 {
		return nil, ErrInvalidMinExpected
	}
	return &FaultDetector{config: cfg, lastRatio: 1}, nil
}

// SetCallback sets the callback for fault events; nil clears it.
func (d *FaultDetector) SetCallback(cb FaultCallback) {
	if cb == nil {
		d.callbackPtr.Store(nil)
	} else {
		d.callbackPtr.Store(&cb)
	}
}

// Check runs one comparison and returns the confirmed fault state.
// Checks with an expected current below MinExpectedMA are ignored.
func (d *FaultDetector) Check(now time.Time, measuredMA, expectedMA float64) bool {
	if expectedMA <= 0 || expectedMA < d.config.MinExpectedMA {
		return d.faultState
	}
	if measuredMA < 0 {
		measuredMA = -measuredMA
	}
	d.lastRatio = measuredMA / expectedMA
	d.updateHysteresis(now, d.lastRatio < d.config.Ratio, measuredMA, expectedMA)
	return d.faultState
}

func (d *FaultDetector) updateHysteresis(now time.Time, failing bool, measuredMA, expectedMA float64) {
	if failing == d.faultState {
		d.pendingState = d.faultState
		d.hysteresisCount = 0
		return
	}

	if failing == d.pendingState {
		d.hysteresisCount++
	} else {
		d.pendingState = failing
		d.hysteresisCount = 1
	}

	if d.hysteresisCount >= d.config.Hysteresis {
		duration := time.Duration(0)
		if !d.lastTransition.IsZero() {
			duration = now.Sub(d.lastTransition)
		}
		d.faultState = d.pendingState
		d.lastTransition = now
		d.hysteresisCount = 0

		if cb := d.callbackPtr.Load(); cb != nil {
			(*cb)(FaultEvent{
				Fault:      d.faultState,
				Timestamp:  now,
				Duration:   duration,
				MeasuredMA: measuredMA,
				ExpectedMA: expectedMA,
			})
		}
	}
}

// Fault returns the confirmed fault state.
func (d *FaultDetector) Fault() bool {
	return d.faultState
}

// LastRatio returns the measured/expected ratio of the last counted check.
func (d *FaultDetector) LastRatio() float64 {
	return d.lastRatio
}

// Reset clears all state, typically at session start.
func (d *FaultDetector) Reset() {
	d.faultState = false
	d.pendingState = false
	d.hysteresisCount = 0
	d.lastTransition = time.Time{}
	d.lastRatio = 1
}

// Config returns the current configuration.
func (d *FaultDetector) Config() FaultConfig {
	return d.config
}
