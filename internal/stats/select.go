// Package stats provides order statistics and summaries over acquisition
// snapshots without allocating on the hot path.
package stats

import (
	"errors"

	"golang.org/x/exp/constraints"
)

var (
	// ErrEmpty indicates there is nothing to select from
	ErrEmpty = errors.New("stats: empty input")
	// ErrRank indicates the requested rank is outside the input
	ErrRank = errors.New("stats: rank out of range")
)

// Select returns the k-th smallest element (0-based) of s. It reorders s in
// place: quickselect with a middle-element pivot, narrowing only into the
// partition that contains k.
func Select[T constraints.Ordered](s []T, k int) (T, error) {
	var zero T
	if len(s) == 0 {
		return zero, ErrEmpty
	}
	if k < 0 || k >= len(s) {
		return zero, ErrRank
	}

	lo, hi := 0, len(s)-1
	for lo < hi {
		pivot := s[lo+(hi-lo)/2]
		i, j := lo, hi
		for i <= j {
			for s[i] < pivot {
				i++
			}
			for s[j] > pivot {
				j--
			}
			if i <= j {
				s[i], s[j] = s[j], s[i]
				i++
				j--
			}
		}
		// s[lo..j] <= pivot <= s[i..hi]; anything strictly between equals pivot
		switch {
		case k <= j:
			hi = j
		case k >= i:
			lo = i
		default:
			return s[k], nil
		}
	}
	return s[k], nil
}

// PercentileIndex maps a percentile in [0,100] to a rank in an n-element
// sorted sequence: floor(n*p/100) clamped to [0, n-1].
func PercentileIndex(n int, p float64) int {
	if n <= 0 {
		return 0
	}
	idx := int(float64(n) * p / 100)
	if idx < 0 {
		return 0
	}
	if idx > n-1 {
		return n - 1
	}
	return idx
}

// Percentile selects the p-th percentile of s, reordering s in place.
func Percentile[T constraints.Ordered](s []T, p float64) (T, error) {
	return Select(s, PercentileIndex(len(s), p))
}
