package acquisition

import (
	"io"
	"log"
	"testing"

	"github.com/ColonelBlimp/stimcore/internal/calibration"
	"github.com/ColonelBlimp/stimcore/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSignHigh = 4095
	testSignLow  = 0
)

func newTestPipeline(t *testing.T, size int, invert bool) *Pipeline {
	t.Helper()
	p, err := New(Config{
		RingSize:       size,
		SignThreshold:  2048,
		InvertPolarity: invert,
	}, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	return p
}

func pair(sign, mag uint16) []Frame {
	return []Frame{
		{Channel: ChannelSign, Code: sign},
		{Channel: ChannelMagnitude, Code: mag},
	}
}

func TestNew_InvalidRingSize(t *testing.T) {
	_, err := New(Config{RingSize: 0}, nil)
	assert.ErrorIs(t, err, ErrInvalidRingSize)
}

func TestPipeline_DiscardsWhileDisarmed(t *testing.T) {
	p := newTestPipeline(t, 8, false)
	p.IngestAll(pair(testSignHigh, 1000))

	assert.False(t, p.Enabled())
	assert.Equal(t, uint64(2), p.Counters().Discarded)
	assert.Equal(t, 0, p.Snapshot(make([]int16, 8)))
}

func TestPipeline_PairingAndSign(t *testing.T) {
	p := newTestPipeline(t, 8, false)
	p.Arm()

	for i := 0; i < 3; i++ {
		p.IngestAll(pair(testSignHigh, 300))
	}
	for i := 0; i < 3; i++ {
		p.IngestAll(pair(testSignLow, 300))
	}

	dst := make([]int16, 8)
	n := p.Snapshot(dst)
	require.Equal(t, 6, n)
	assert.Equal(t, []int16{100, 200, 300, 100, -100, -300}, dst[:n])
	assert.Equal(t, uint64(6), p.Counters().Samples)
}

func TestPipeline_ThresholdIsStrict(t *testing.T) {
	p := newTestPipeline(t, 4, false)
	p.Arm()
	for i := 0; i < 3; i++ {
		p.IngestAll(pair(2048, 30))
	}
	dst := make([]int16, 4)
	n := p.Snapshot(dst)
	assert.Equal(t, int16(-30), dst[n-1])
}

func TestPipeline_InvertPolarity(t *testing.T) {
	p := newTestPipeline(t, 4, true)
	p.Arm()
	for i := 0; i < 3; i++ {
		p.IngestAll(pair(testSignHigh, 30))
	}
	dst := make([]int16, 4)
	n := p.Snapshot(dst)
	assert.Equal(t, int16(-30), dst[n-1])
}

func TestPipeline_RepeatedSignReplacesPending(t *testing.T) {
	p := newTestPipeline(t, 4, false)
	p.Arm()

	// two sign frames then one magnitude: one sample, using the later sign
	p.Ingest(Frame{Channel: ChannelSign, Code: testSignHigh})
	p.Ingest(Frame{Channel: ChannelSign, Code: testSignLow})
	p.Ingest(Frame{Channel: ChannelMagnitude, Code: 300})

	dst := make([]int16, 4)
	n := p.Snapshot(dst)
	require.Equal(t, 1, n)
	assert.Equal(t, int16(-100), dst[0])
}

func TestPipeline_MagnitudeFirstStillPairs(t *testing.T) {
	p := newTestPipeline(t, 4, false)
	p.Arm()
	p.Ingest(Frame{Channel: ChannelMagnitude, Code: 600})
	p.Ingest(Frame{Channel: ChannelSign, Code: testSignHigh})
	assert.Equal(t, uint64(1), p.Counters().Samples)
}

func TestPipeline_UnknownChannel(t *testing.T) {
	p := newTestPipeline(t, 4, false)
	p.Arm()
	p.Ingest(Frame{Channel: Channel(9), Code: 1})
	assert.Equal(t, uint64(1), p.Counters().Discarded)
}

func TestPipeline_ArmResets(t *testing.T) {
	p := newTestPipeline(t, 4, false)
	p.Arm()
	p.IngestAll(pair(testSignHigh, 900))
	p.Ingest(Frame{Channel: ChannelSign, Code: testSignHigh})

	p.Disarm()
	assert.Equal(t, 1, p.Snapshot(make([]int16, 4)), "disarm keeps data")

	p.Arm()
	assert.Equal(t, 0, p.Snapshot(make([]int16, 4)))

	// the pending sign frame was dropped and the filter restarted
	p.Ingest(Frame{Channel: ChannelMagnitude, Code: 300})
	assert.Equal(t, 0, p.Snapshot(make([]int16, 4)))
	p.Ingest(Frame{Channel: ChannelSign, Code: testSignHigh})
	dst := make([]int16, 4)
	n := p.Snapshot(dst)
	require.Equal(t, 1, n)
	assert.Equal(t, int16(100), dst[0])
}

func TestPipeline_ResetDiscardsSamples(t *testing.T) {
	p := newTestPipeline(t, 4, false)
	p.Arm()
	p.IngestAll(pair(testSignHigh, 900))
	p.IngestAll(pair(testSignHigh, 900))
	p.Ingest(Frame{Channel: ChannelSign, Code: testSignHigh})

	p.Reset()
	assert.False(t, p.Enabled())
	assert.Equal(t, 0, p.Snapshot(make([]int16, 4)))
	assert.False(t, p.Summary(stats.NewEngine(4, nil), 0).HasData())

	raw := make([]int16, 4)
	assert.Equal(t, 0, p.Raw(raw))
	assert.Equal(t, []int16{WireInvalid, WireInvalid, WireInvalid, WireInvalid}, raw)

	// frames arriving before the next Arm are still discarded
	p.IngestAll(pair(testSignHigh, 900))
	assert.Equal(t, 0, p.Snapshot(make([]int16, 4)))
}

func TestPipeline_RawReportsCursor(t *testing.T) {
	p := newTestPipeline(t, 4, false)
	p.Arm()
	for i := 0; i < 5; i++ {
		p.IngestAll(pair(testSignHigh, 3))
	}
	dst := make([]int16, 4)
	assert.Equal(t, 1, p.Raw(dst))
	assert.Equal(t, 4, p.RingSize())
}

func TestPipeline_SummaryAndHistogram(t *testing.T) {
	table, err := calibration.NewTable(calibration.DefaultPoints(), 4095)
	require.NoError(t, err)
	engine := stats.NewEngine(100, table)

	p := newTestPipeline(t, 100, false)
	assert.False(t, p.Summary(engine, 0).HasData())

	p.Arm()
	for i := 0; i < 100; i++ {
		p.IngestAll(pair(testSignHigh, 1522))
	}
	s := p.Summary(engine, 0)
	require.True(t, s.HasData())
	assert.Equal(t, int16(1522), s.Max)
	assert.Equal(t, int16(1522), s.P99)
	assert.InDelta(t, 1.0, s.P99MA, 1e-9)

	s = p.Summary(engine, 10)
	assert.Equal(t, 10, s.Count)

	counts := make([]int, 5)
	h := p.Histogram(engine, counts)
	assert.Equal(t, 100, h.Total)
	assert.Equal(t, 98, counts[4])
}
