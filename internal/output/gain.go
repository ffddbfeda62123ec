// internal/output/gain.go

// Package output converts the mono loop signal into the sign-magnitude
// stereo stream and keeps the actuator's DMA queue filled.
package output

import (
	"math"
	"sync/atomic"
)

// GainSource supplies the dynamic gain applied at feed time.
type GainSource interface {
	Load() float64
}

// Gain is a float64 that one goroutine writes and any goroutine reads.
type Gain struct {
	bits atomic.Uint64
}

// Load returns the current gain.
func (g *Gain) Load() float64 {
	return math.Float64frombits(g.bits.Load())
}

// Store sets the gain.
func (g *Gain) Store(v float64) {
	g.bits.Store(math.Float64bits(v))
}
