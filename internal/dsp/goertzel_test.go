// internal/dsp/goertzel_test.go
package dsp

import (
	"math"
	"testing"
)

// Test configuration constants mirroring the acquisition defaults
const (
	testSampleRate = 20000.0
	testBlockSize  = 40000 // one 2 s loop
	testFrequency  = 10.5
	tolerance      = 0.01
)

func generateSine(frequency, sampleRate float64, n int, amplitude float64) []float64 {
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = amplitude * math.Sin(2*math.Pi*frequency*float64(i)/sampleRate)
	}
	return samples
}

func newTestGoertzel(t *testing.T, hz float64) *Goertzel {
	t.Helper()
	g, err := NewGoertzel(GoertzelConfig{TargetFrequency: hz, SampleRate: testSampleRate, BlockSize: testBlockSize})
	if err != nil {
		t.Fatalf("NewGoertzel: %v", err)
	}
	return g
}

func TestNewGoertzel_InvalidConfig(t *testing.T) {
	testCases := []struct {
		name string
		cfg  GoertzelConfig
		want error
	}{
		{"zero block", GoertzelConfig{TargetFrequency: 10, SampleRate: testSampleRate}, ErrInvalidBlockSize},
		{"zero rate", GoertzelConfig{TargetFrequency: 10, BlockSize: 10}, ErrInvalidSampleRate},
		{"zero frequency", GoertzelConfig{SampleRate: testSampleRate, BlockSize: 10}, ErrInvalidFrequency},
		{"at nyquist", GoertzelConfig{TargetFrequency: 10000, SampleRate: testSampleRate, BlockSize: 10}, ErrInvalidFrequency},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewGoertzel(tc.cfg); err != tc.want {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestGoertzel_Magnitude_PureSine(t *testing.T) {
	g := newTestGoertzel(t, testFrequency)
	for _, amp := range []float64{0.1, 1.0, 2.0} {
		got, err := g.Magnitude(generateSine(testFrequency, testSampleRate, testBlockSize, amp))
		if err != nil {
			t.Fatalf("Magnitude: %v", err)
		}
		if math.Abs(got-amp) > amp*tolerance {
			t.Errorf("amplitude %v: got %v", amp, got)
		}
	}
}

func TestGoertzel_Magnitude_OtherBinIsRejected(t *testing.T) {
	g := newTestGoertzel(t, testFrequency)
	got, err := g.Magnitude(generateSine(140, testSampleRate, testBlockSize, 1))
	if err != nil {
		t.Fatalf("Magnitude: %v", err)
	}
	if got > tolerance {
		t.Errorf("whole-loop block must not leak between bins, got %v", got)
	}
}

func TestGoertzel_Magnitude_InsufficientSamples(t *testing.T) {
	g := newTestGoertzel(t, testFrequency)
	if _, err := g.Magnitude(make([]float64, testBlockSize-1)); err != ErrInsufficientSamples {
		t.Errorf("got %v, want ErrInsufficientSamples", err)
	}
}

func TestGoertzel_Retune(t *testing.T) {
	g := newTestGoertzel(t, testFrequency)
	if err := g.Retune(140); err != nil {
		t.Fatalf("Retune: %v", err)
	}
	got, _ := g.Magnitude(generateSine(140, testSampleRate, testBlockSize, 1))
	if math.Abs(got-1) > tolerance {
		t.Errorf("after retune got %v, want 1", got)
	}
	if err := g.Retune(-1); err != ErrInvalidFrequency {
		t.Errorf("got %v, want ErrInvalidFrequency", err)
	}
	if g.Config().TargetFrequency != 140 {
		t.Errorf("failed retune must keep the old frequency")
	}
}

// linear is a converter with 1000 codes per mA.
type linear struct{}

func (linear) Signed(code int32) float64 { return float64(code) / 1000 }

func TestToneMeter_Measure(t *testing.T) {
	if _, err := NewToneMeter(GoertzelConfig{TargetFrequency: 1, SampleRate: 100, BlockSize: 100}, nil); err != ErrConverterRequired {
		t.Fatalf("got %v, want ErrConverterRequired", err)
	}

	m, err := NewToneMeter(GoertzelConfig{TargetFrequency: testFrequency, SampleRate: testSampleRate, BlockSize: testBlockSize}, linear{})
	if err != nil {
		t.Fatalf("NewToneMeter: %v", err)
	}

	codes := make([]int16, testBlockSize)
	for i, v := range generateSine(testFrequency, testSampleRate, testBlockSize, 1500) {
		codes[i] = int16(math.Round(v))
	}
	got, ok := m.Measure(codes)
	if !ok {
		t.Fatal("expected a measurement on a full block")
	}
	if math.Abs(got-1.5) > 1.5*tolerance {
		t.Errorf("got %v mA, want 1.5", got)
	}

	if _, ok := m.Measure(codes[:100]); ok {
		t.Error("partial snapshot must not be measured")
	}
	if m.Frequency() != testFrequency {
		t.Errorf("Frequency = %v", m.Frequency())
	}
}

func BenchmarkToneMeter_Measure(b *testing.B) {
	m, err := NewToneMeter(GoertzelConfig{TargetFrequency: testFrequency, SampleRate: testSampleRate, BlockSize: testBlockSize}, linear{})
	if err != nil {
		b.Fatal(err)
	}
	codes := make([]int16, testBlockSize)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Measure(codes)
	}
}
