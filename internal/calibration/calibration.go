// internal/calibration/calibration.go

// Package calibration converts raw ADC codes into physical current (mA)
// using a piecewise-linear table and a precomputed lookup table.
package calibration

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrTooFewPoints indicates the table cannot interpolate with fewer than two points
	ErrTooFewPoints = errors.New("calibration table needs at least two points")
	// ErrNotAscending indicates raw codes must be strictly increasing
	ErrNotAscending = errors.New("calibration raw codes must be strictly ascending")
	// ErrInvalidMaxCode indicates the lookup domain must be non-empty
	ErrInvalidMaxCode = errors.New("calibration max code must be positive")
)

// Point maps a raw magnitude code to a measured current in mA.
type Point struct {
	Raw uint16
	MA  float64
}

// DefaultPoints returns the factory calibration of the 12-bit magnitude channel.
func DefaultPoints() []Point {
	return []Point{
		{1046, 0.1}, {1116, 0.2}, {1178, 0.3}, {1232, 0.4},
		{1282, 0.5}, {1334, 0.6}, {1386, 0.7}, {1430, 0.8},
		{1476, 0.9}, {1522, 1.0}, {1620, 1.2}, {1658, 1.3},
		{1746, 1.5}, {1830, 1.7}, {1876, 1.8}, {1956, 2.0},
	}
}

// Validate checks that points form a usable table.
func Validate(points []Point) error {
	if len(points) < 2 {
		return ErrTooFewPoints
	}
	for i := 1; i < len(points); i++ {
		if points[i].Raw <= points[i-1].Raw {
			return fmt.Errorf("%w: point %d has raw %d after %d",
				ErrNotAscending, i, points[i].Raw, points[i-1].Raw)
		}
	}
	return nil
}

// Table holds calibration points and a lookup table covering codes 0..maxCode.
// It is immutable after construction and safe for concurrent readers.
type Table struct {
	points  []Point
	maxCode uint16
	lut     []float64
}

// NewTable validates points and precomputes the lookup table.
func NewTable(points []Point, maxCode uint16) (*Table, error) {
	if err := Validate(points); err != nil {
		return nil, err
	}
	if maxCode == 0 {
		return nil, ErrInvalidMaxCode
	}

	t := &Table{
		points:  append([]Point(nil), points...),
		maxCode: maxCode,
		lut:     make([]float64, int(maxCode)+1),
	}
	for code := range t.lut {
		t.lut[code] = t.Interpolate(uint16(code))
	}
	return t, nil
}

// segment returns the index of the left point of the segment used for x,
// clamped so that extrapolation reuses the first or last segment.
func (t *Table) segment(i int) int {
	lo := i - 1
	if lo < 0 {
		lo = 0
	}
	if lo > len(t.points)-2 {
		lo = len(t.points) - 2
	}
	return lo
}

// Interpolate converts a raw code by binary search and linear interpolation.
// Codes outside the table extrapolate from the nearest segment. The result
// is floored at 0.
func (t *Table) Interpolate(raw uint16) float64 {
	i := sort.Search(len(t.points), func(i int) bool { return t.points[i].Raw > raw })
	lo := t.segment(i)
	a, b := t.points[lo], t.points[lo+1]

	ma := a.MA + (float64(raw)-float64(a.Raw))*(b.MA-a.MA)/float64(b.Raw-a.Raw)
	if ma < 0 {
		return 0
	}
	return ma
}

// Lookup is the O(1) form of Interpolate for codes within the LUT domain.
func (t *Table) Lookup(raw uint16) float64 {
	if int(raw) < len(t.lut) {
		return t.lut[raw]
	}
	return t.Interpolate(raw)
}

// Signed converts a signed sample: the magnitude goes through the table and
// the sign is restored afterwards.
func (t *Table) Signed(code int32) float64 {
	mag := int64(code)
	if mag < 0 {
		mag = -mag
	}
	if mag > math.MaxUint16 {
		mag = math.MaxUint16
	}
	ma := t.Lookup(uint16(mag))
	if code < 0 {
		return -ma
	}
	return ma
}

// Raw is the inverse mapping, used to synthesise ADC codes for a known
// current. The result is clamped to 0..MaxCode.
func (t *Table) Raw(ma float64) uint16 {
	i := sort.Search(len(t.points), func(i int) bool { return t.points[i].MA > ma })
	lo := t.segment(i)
	a, b := t.points[lo], t.points[lo+1]

	raw := float64(a.Raw)
	if b.MA != a.MA {
		raw += (ma - a.MA) * float64(b.Raw-a.Raw) / (b.MA - a.MA)
	}
	raw = math.Round(raw)
	switch {
	case raw < 0:
		return 0
	case raw > float64(t.maxCode):
		return t.maxCode
	}
	return uint16(raw)
}

// MaxCode returns the upper bound of the lookup domain.
func (t *Table) MaxCode() uint16 {
	return t.maxCode
}

// Points returns a copy of the calibration points.
func (t *Table) Points() []Point {
	return append([]Point(nil), t.points...)
}
