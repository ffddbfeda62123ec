// internal/acquisition/ring.go
package acquisition

import (
	"math"
)

// Invalid marks a ring slot that has not been written since the last reset.
// It lies outside the int16 range so it can never collide with a sample.
const Invalid int32 = math.MinInt32

// WireInvalid is how Invalid slots are reported over int16 transports.
const WireInvalid int16 = math.MinInt16

// Ring is a fixed-size circular store of filtered signed samples.
// All index arithmetic goes through wrap.
type Ring struct {
	slots  []int32
	cursor int
}

// NewRing allocates a ring of size slots, all Invalid.
func NewRing(size int) *Ring {
	r := &Ring{slots: make([]int32, size)}
	r.Reset()
	return r
}

// wrap maps any offset relative to slot 0 into the ring.
func (r *Ring) wrap(i int) int {
	n := len(r.slots)
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// Reset fills every slot with Invalid and rewinds the cursor.
func (r *Ring) Reset() {
	for i := range r.slots {
		r.slots[i] = Invalid
	}
	r.cursor = 0
}

// Put stores v at the cursor and advances it.
func (r *Ring) Put(v int16) {
	r.slots[r.cursor] = int32(v)
	r.cursor = r.wrap(r.cursor + 1)
}

// Len returns the ring size.
func (r *Ring) Len() int {
	return len(r.slots)
}

// Cursor returns the next slot to be written.
func (r *Ring) Cursor() int {
	return r.cursor
}

// At returns the raw slot content at index i (wrapped).
func (r *Ring) At(i int) int32 {
	return r.slots[r.wrap(i)]
}

// Recent copies, oldest first, the valid samples among the last len(dst)
// slots before the cursor and returns how many were copied.
func (r *Ring) Recent(dst []int16) int {
	n := len(dst)
	if n > len(r.slots) {
		n = len(r.slots)
	}
	start := r.wrap(r.cursor + len(r.slots) - n)

	count := 0
	for i := 0; i < n; i++ {
		v := r.slots[r.wrap(start+i)]
		if v == Invalid {
			continue
		}
		dst[count] = int16(v)
		count++
	}
	return count
}

// Raw copies the whole ring in slot order into dst, mapping Invalid to
// WireInvalid, and returns the cursor at the time of the copy.
func (r *Ring) Raw(dst []int16) int {
	for i := range r.slots {
		if i >= len(dst) {
			break
		}
		v := r.slots[i]
		if v == Invalid {
			dst[i] = WireInvalid
			continue
		}
		dst[i] = int16(v)
	}
	return r.cursor
}
