package output

import (
	"bytes"
	"errors"
	"log"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink accepts up to capacity samples per write (all when capacity < 0).
type fakeSink struct {
	capacity int
	err      error
	writes   [][]int16
	flushed  int
}

func (s *fakeSink) Write(samples []int16, _ time.Duration) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	n := len(samples)
	if s.capacity >= 0 && n > s.capacity {
		n = s.capacity
	}
	if s.capacity > 0 {
		s.capacity -= n
	}
	if n == 0 {
		return 0, ErrSinkTimeout
	}
	s.writes = append(s.writes, append([]int16(nil), samples[:n]...))
	return n, nil
}

func (s *fakeSink) Flush() { s.flushed++ }

func (s *fakeSink) all() []int16 {
	var out []int16
	for _, w := range s.writes {
		out = append(out, w...)
	}
	return out
}

func testFeederConfig() FeederConfig {
	return FeederConfig{
		SampleRate:     8000,
		FragmentFrames: 4,
		RingFrames:     16,
		WriteTimeout:   time.Millisecond,
	}
}

func newTestFeeder(t *testing.T, cfg FeederConfig, sink Sink, gain GainSource) (*Feeder, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	f, err := NewFeeder(cfg, sink, gain, log.New(&logs, "", 0))
	require.NoError(t, err)
	return f, &logs
}

func TestGain(t *testing.T) {
	var g Gain
	assert.Equal(t, 0.0, g.Load())
	g.Store(0.625)
	assert.Equal(t, 0.625, g.Load())
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name     string
		s        int16
		gain     float64
		invert   bool
		wantSign int16
		wantMag  int16
	}{
		{"positive unity", 1000, 1.0, false, SignPositive, 1000},
		{"negative unity", -1000, 1.0, false, SignNegative, 1000},
		{"zero is positive", 0, 1.0, false, SignPositive, 0},
		{"half gain truncates", 1001, 0.5, false, SignPositive, 500},
		{"saturates", 30000, 2.0, false, SignPositive, math.MaxInt16},
		{"min int16 saturates", math.MinInt16, 1.0, false, SignNegative, math.MaxInt16},
		{"zero gain", 12345, 0, false, SignPositive, 0},
		{"negative gain clamps", 12345, -1, false, SignPositive, 0},
		{"invert", 1000, 1.0, true, SignNegative, 1000},
		{"invert negative", -1000, 1.0, true, SignPositive, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sign, mag := Encode(tt.s, tt.gain, tt.invert)
			assert.Equal(t, tt.wantSign, sign)
			assert.Equal(t, tt.wantMag, mag)
		})
	}
}

func TestNewFeeder_Validation(t *testing.T) {
	sink := &fakeSink{capacity: -1}
	tests := []struct {
		name    string
		mutate  func(*FeederConfig)
		sink    Sink
		wantErr error
	}{
		{"nil sink", func(*FeederConfig) {}, nil, ErrSinkRequired},
		{"rate", func(c *FeederConfig) { c.SampleRate = 0 }, sink, ErrInvalidSampleRate},
		{"fragment", func(c *FeederConfig) { c.FragmentFrames = 0 }, sink, ErrInvalidFragment},
		{"ring", func(c *FeederConfig) { c.RingFrames = 2 }, sink, ErrInvalidRing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testFeederConfig()
			tt.mutate(&cfg)
			_, err := NewFeeder(cfg, tt.sink, nil, nil)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFeeder_SilentBeforeLoad(t *testing.T) {
	sink := &fakeSink{capacity: -1}
	f, _ := newTestFeeder(t, testFeederConfig(), sink, nil)

	n, err := f.Feed(time.Unix(0, 0))
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, make([]int16, 8), sink.all())
}

func TestFeeder_AppliesDynamicGainPerFragment(t *testing.T) {
	sink := &fakeSink{capacity: -1}
	var gain Gain
	gain.Store(1.0)
	f, _ := newTestFeeder(t, testFeederConfig(), sink, &gain)
	f.Load([]int16{1000, -2000, 3000, -4000, 5000, -6000}, 0.5)

	now := time.Unix(0, 0)
	_, err := f.Feed(now)
	require.NoError(t, err)
	assert.Equal(t, []int16{
		SignPositive, 500, SignNegative, 1000, SignPositive, 1500, SignNegative, 2000,
	}, sink.writes[0])
	assert.Equal(t, 8, f.Cursor())

	gain.Store(0.5)
	_, err = f.Feed(now.Add(10 * time.Millisecond))
	require.NoError(t, err)
	// wraps around the six-frame loop
	assert.Equal(t, []int16{
		SignPositive, 1250, SignNegative, 1500, SignPositive, 250, SignNegative, 500,
	}, sink.writes[1])
	assert.Equal(t, 4, f.Cursor())
	assert.Equal(t, uint64(8), f.Written())
}

func TestFeeder_PartialAcceptAdvancesEvenly(t *testing.T) {
	sink := &fakeSink{capacity: 5}
	var gain Gain
	gain.Store(1)
	f, _ := newTestFeeder(t, testFeederConfig(), sink, &gain)
	f.Load([]int16{1, 2, 3, 4, 5, 6, 7, 8}, 1)

	n, err := f.Feed(time.Unix(0, 0))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, f.Cursor())
}

func TestFeeder_TimeoutKeepsCursor(t *testing.T) {
	sink := &fakeSink{capacity: 0}
	f, _ := newTestFeeder(t, testFeederConfig(), sink, nil)
	f.Load([]int16{1, 2, 3, 4}, 1)

	n, err := f.Feed(time.Unix(0, 0))
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, f.Cursor())
}

func TestFeeder_OtherErrorsSurface(t *testing.T) {
	boom := errors.New("device gone")
	sink := &fakeSink{err: boom}
	f, _ := newTestFeeder(t, testFeederConfig(), sink, nil)
	_, err := f.Feed(time.Unix(0, 0))
	assert.ErrorIs(t, err, boom)
}

func TestFeeder_UnderrunRisk(t *testing.T) {
	sink := &fakeSink{capacity: -1}
	f, logs := newTestFeeder(t, testFeederConfig(), sink, nil)

	// 16 frames at 8 kHz is 2 ms of queue; the limit is 1 ms
	now := time.Unix(0, 0)
	_, _ = f.Feed(now)
	_, _ = f.Feed(now.Add(500 * time.Microsecond))
	assert.Equal(t, uint64(0), f.Underruns())

	_, _ = f.Feed(now.Add(5 * time.Millisecond))
	assert.Equal(t, uint64(1), f.Underruns())
	assert.Contains(t, logs.String(), "underrun risk")
}

func TestFeeder_PrefillStopsWhenFull(t *testing.T) {
	sink := &fakeSink{capacity: 32}
	f, _ := newTestFeeder(t, testFeederConfig(), sink, nil)
	f.Load([]int16{7, 7}, 1)

	n, err := f.Prefill()
	require.NoError(t, err)
	assert.Equal(t, 32, n)
	assert.Len(t, sink.writes, 4)
}

func TestFeeder_SilenceWritesZerosAndFlushes(t *testing.T) {
	sink := &fakeSink{capacity: -1}
	var gain Gain
	gain.Store(1)
	f, _ := newTestFeeder(t, testFeederConfig(), sink, &gain)
	f.Load([]int16{100, -100}, 1)
	_, _ = f.Feed(time.Unix(0, 0))

	sink.writes = nil
	_, err := f.Silence()
	require.NoError(t, err)
	assert.Equal(t, 1, sink.flushed)
	for _, v := range sink.all() {
		assert.Equal(t, int16(0), v)
	}

	// static gain changes while silent do not resurrect the signal
	f.SetStaticGain(0.5)
	assert.Equal(t, 0.5, f.StaticGain())
	sink.writes = nil
	_, _ = f.Feed(time.Unix(1, 0))
	assert.Equal(t, make([]int16, 8), sink.all())

	f.Load([]int16{100, -100}, 1)
	sink.writes = nil
	_, _ = f.Feed(time.Unix(1, 0))
	assert.Equal(t, int16(100), sink.all()[1])
}

func TestFeeder_SetStaticGainKeepsCursor(t *testing.T) {
	sink := &fakeSink{capacity: -1}
	var gain Gain
	gain.Store(1)
	f, _ := newTestFeeder(t, testFeederConfig(), sink, &gain)
	f.Load([]int16{1000, 1000, 1000, 1000, 1000, 1000}, 1)
	_, _ = f.Feed(time.Unix(0, 0))
	require.Equal(t, 8, f.Cursor())

	f.SetStaticGain(0.25)
	assert.Equal(t, 8, f.Cursor())
	sink.writes = nil
	_, _ = f.Feed(time.Unix(0, 0))
	assert.Equal(t, int16(250), sink.writes[0][1])

	f.ResetCursor()
	assert.Equal(t, 0, f.Cursor())
}
