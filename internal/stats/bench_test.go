package stats

import (
	"math/rand/v2"
	"slices"
	"testing"
)

func benchData(n int) []int16 {
	rng := rand.New(rand.NewPCG(42, 42))
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(rng.IntN(8191) - 4095)
	}
	return s
}

func BenchmarkSelect_RingSize(b *testing.B) {
	data := benchData(40000)
	work := make([]int16, len(data))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		copy(work, data)
		_, _ = Select(work, PercentileIndex(len(work), 99))
	}
}

func BenchmarkSort_RingSize(b *testing.B) {
	data := benchData(40000)
	work := make([]int16, len(data))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		copy(work, data)
		slices.Sort(work)
	}
}

func BenchmarkSummarize_RingSize(b *testing.B) {
	data := benchData(40000)
	e := NewEngine(len(data), nil)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = e.Summarize(data)
	}
}
