package engine

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/ColonelBlimp/stimcore/internal/audio"
	"github.com/ColonelBlimp/stimcore/internal/calibration"
	"github.com/ColonelBlimp/stimcore/internal/dsp"
	"github.com/ColonelBlimp/stimcore/internal/loopback"
	"github.com/ColonelBlimp/stimcore/internal/protocol"
	"github.com/ColonelBlimp/stimcore/internal/session"
	"github.com/ColonelBlimp/stimcore/internal/stats"
	"github.com/ColonelBlimp/stimcore/internal/storage"
	"github.com/ColonelBlimp/stimcore/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tickInterval = 100 * time.Millisecond

type rig struct {
	e     *Engine
	queue *audio.Queue
	plant *loopback.Plant
	pub   *telemetry.FakePublisher
	store *storage.Store
	now   time.Time
}

func testSettings() session.Settings {
	s := session.DefaultSettings()
	s.Mode = session.ModeDC
	s.DC = session.ModeSettings{AmplitudeMA: 1.0, DurationMin: 1}
	s.Sine = session.ModeSettings{AmplitudeMA: 1.0, DurationMin: 1}
	s.FrequencyHz = 10
	s.FadeSeconds = 1
	return s
}

func newRig(t *testing.T, s session.Settings) *rig {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	table, err := calibration.NewTable(calibration.DefaultPoints(), 4095)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.WriteTimeout = 0
	queue := audio.NewQueue(cfg.RingFrames)
	plant, err := loopback.New(loopback.DefaultConfig(), queue, table)
	require.NoError(t, err)

	r := &rig{
		queue: queue,
		plant: plant,
		pub:   telemetry.NewFakePublisher(),
		store: storage.New(filepath.Join(t.TempDir(), "settings.yaml"), logger),
		now:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	r.e, err = New(cfg, s, Deps{
		Sink:      queue,
		Frames:    plant.Frames,
		Table:     table,
		Publisher: r.pub,
		Store:     r.store,
		Logger:    logger,
	})
	require.NoError(t, err)
	return r
}

// advance runs the plant and the engine for d in tick steps.
func (r *rig) advance(d time.Duration) {
	frames := int(tickInterval * 8000 / time.Second)
	for elapsed := time.Duration(0); elapsed < d; elapsed += tickInterval {
		r.now = r.now.Add(tickInterval)
		r.plant.Step(frames)
		r.e.Tick(r.now)
		r.e.DrainWork()
	}
}

func TestNew_Validation(t *testing.T) {
	table, err := calibration.NewTable(calibration.DefaultPoints(), 4095)
	require.NoError(t, err)
	queue := audio.NewQueue(8192)

	_, err = New(DefaultConfig(), testSettings(), Deps{Table: table})
	assert.ErrorIs(t, err, ErrSinkRequired)

	_, err = New(DefaultConfig(), testSettings(), Deps{Sink: queue})
	assert.ErrorIs(t, err, ErrTableRequired)

	cfg := DefaultConfig()
	cfg.RingSize = 20000
	_, err = New(cfg, testSettings(), Deps{Sink: queue, Table: table})
	assert.ErrorIs(t, err, ErrInvalidRing)

	cfg = DefaultConfig()
	cfg.FaultRatio = 1.5
	_, err = New(cfg, testSettings(), Deps{Sink: queue, Table: table})
	assert.ErrorIs(t, err, dsp.ErrInvalidRatio)
}

func TestNew_StartsSilentAndIdle(t *testing.T) {
	r := newRig(t, testSettings())
	assert.Equal(t, session.Idle, r.e.Machine().State())
	assert.Zero(t, r.e.Gain())
	assert.Nil(t, r.e.Snapshot())
	assert.Equal(t, r.queue.Cap(), r.queue.Len(), "silence prefilled")
}

func TestSession_DCEndToEnd(t *testing.T) {
	r := newRig(t, testSettings())
	r.advance(time.Second)
	require.True(t, r.e.StartSession(r.now))
	assert.False(t, r.e.StartSession(r.now), "second start is ignored")

	r.advance(10 * time.Second)
	assert.Equal(t, session.Stable, r.e.Machine().State())
	assert.InDelta(t, 1.0, r.e.Gain(), 1e-9)

	snap := r.e.Snapshot()
	require.NotNil(t, snap)
	require.True(t, snap.Summary.HasData())
	assert.InDelta(t, 1.0, snap.Summary.P99MA, 0.05)
	assert.InDelta(t, 1.0, snap.Summary.P1MA, 0.05)
	assert.Zero(t, snap.Flags)
	assert.False(t, snap.ToneValid, "tone is only measured for tACS")
	assert.Equal(t, session.ModeDC, snap.Session.Mode)

	r.advance(55 * time.Second)
	assert.Equal(t, session.Idle, r.e.Machine().State())
	assert.Zero(t, r.e.Gain())

	kinds := r.pub.EventKinds()
	assert.Equal(t, []string{
		telemetry.EventTransition,
		telemetry.EventTransition,
		telemetry.EventTransition,
		telemetry.EventTransition,
	}, kinds)
	events, statuses := r.pub.Snapshot()
	assert.Equal(t, "Idle", events[0].From)
	assert.Equal(t, "FadeIn", events[0].To)
	assert.Equal(t, "Idle", events[3].To)
	assert.Equal(t, "tDCS", events[0].Mode)
	assert.NotEmpty(t, statuses)
	assert.Zero(t, r.plant.Underflows())
}

func TestSession_ToneMeasuredForSine(t *testing.T) {
	s := testSettings()
	s.Mode = session.ModeSine
	r := newRig(t, s)
	require.True(t, r.e.StartSession(r.now))
	r.advance(10 * time.Second)

	snap := r.e.Snapshot()
	require.NotNil(t, snap)
	require.True(t, snap.ToneValid)
	assert.InDelta(t, 1.0, snap.ToneMA, 0.1)

	_, statuses := r.pub.Snapshot()
	last := statuses[len(statuses)-1]
	require.NotNil(t, last.ToneMA)
	assert.InDelta(t, snap.ToneMA, *last.ToneMA, 1e-9)
	assert.Equal(t, "tACS", last.Mode)
}

func TestElectrodeFault_StopsSession(t *testing.T) {
	r := newRig(t, testSettings())
	require.True(t, r.e.StartSession(r.now))
	r.advance(8 * time.Second)
	require.Equal(t, session.Stable, r.e.Machine().State())

	r.plant.SetOpen(true)
	r.advance(12 * time.Second)

	assert.NotEqual(t, session.Stable, r.e.Machine().State())
	assert.Contains(t, r.pub.EventKinds(), telemetry.EventFault)
	snap := r.e.Snapshot()
	require.NotNil(t, snap)
	assert.NotZero(t, snap.Flags&protocol.FlagElectrodeFault)

	// fault stops are ramped
	r.advance(3 * time.Second)
	assert.Equal(t, session.Idle, r.e.Machine().State())

	// a new start clears the fault
	r.plant.SetOpen(false)
	require.True(t, r.e.StartSession(r.now))
	r.advance(2 * time.Second)
	assert.Zero(t, r.e.Snapshot().Flags&protocol.FlagElectrodeFault)
}

func TestUnderrunFlag(t *testing.T) {
	r := newRig(t, testSettings())
	r.e.Tick(r.now)
	r.now = r.now.Add(2 * time.Second)
	r.e.Tick(r.now)
	assert.NotZero(t, r.e.Snapshot().Flags&protocol.FlagUnderrun)
	assert.NotZero(t, r.e.Snapshot().Flags&protocol.FlagNoData)

	r.advance(1500 * time.Millisecond)
	assert.Zero(t, r.e.Snapshot().Flags&protocol.FlagUnderrun, "flag covers one interval only")
}

func TestApplyParams_PersistedWhileIdle(t *testing.T) {
	r := newRig(t, testSettings())
	err := r.e.ApplyParams(protocol.Params{Mode: uint8(session.ModeSine), AmplitudeMA: 1.5, FrequencyHz: 10.3, DurationMin: 5})
	require.NoError(t, err)

	st := r.e.protocolStatus(r.now, 0)
	assert.Equal(t, uint8(session.ModeSine), st.Mode)
	assert.Equal(t, uint8(session.Idle), st.State)

	r.advance(1500 * time.Millisecond)
	loaded, err := r.store.Load()
	require.NoError(t, err)
	assert.Equal(t, session.ModeSine, loaded.Mode)
	assert.InDelta(t, 1.5, loaded.Sine.AmplitudeMA, 1e-9)
	assert.InDelta(t, 10.5, loaded.FrequencyHz, 1e-9)
	assert.Equal(t, 5, loaded.Sine.DurationMin)

	err = r.e.ApplyParams(protocol.Params{Mode: 7})
	assert.ErrorIs(t, err, session.ErrUnknownMode)
}

func TestReset_ForcesIdle(t *testing.T) {
	r := newRig(t, testSettings())
	require.True(t, r.e.StartSession(r.now))
	r.advance(3 * time.Second)
	require.True(t, r.e.Machine().Active())

	r.e.Reset(r.now)
	assert.Equal(t, session.Idle, r.e.Machine().State())
	assert.Zero(t, r.e.Gain())
	assert.False(t, r.e.Pipeline().Enabled())
}

func TestADC_RawRing(t *testing.T) {
	r := newRig(t, testSettings())
	require.True(t, r.e.StartSession(r.now))
	r.advance(2 * time.Second)

	cursor, ring := r.e.ADC()
	require.Len(t, ring, 40000)
	assert.Less(t, int(cursor), len(ring))
	assert.NotEqual(t, ring[0], ring[len(ring)-1], "ring is only partly written")
}

func TestRun_LinkAndShutdown(t *testing.T) {
	r := newRig(t, testSettings())
	link := r.e.Link()

	ticks := make(chan time.Time)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.e.Run(ctx, ticks) }()

	drive := func(wait <-chan struct{}) {
		t.Helper()
		for i := 0; i < 10000; i++ {
			select {
			case <-wait:
				return
			case ticks <- r.now:
				r.now = r.now.Add(tickInterval)
				r.plant.Step(800)
			}
		}
		t.Fatal("engine did not respond")
	}

	started := make(chan struct{})
	var ok bool
	go func() { ok = link.Start(); close(started) }()
	drive(started)
	assert.True(t, ok)

	gotGain := make(chan struct{})
	var g float32
	go func() { g = link.SetGain(2); close(gotGain) }()
	drive(gotGain)
	assert.Equal(t, float32(1), g)

	cancel()
	finished := make(chan struct{})
	go func() { <-done; close(finished) }()
	drive(finished)

	assert.Equal(t, session.Idle, r.e.Machine().State())
	assert.False(t, link.Start(), "link is inert after shutdown")
	kinds := r.pub.EventKinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, telemetry.EventStartup, kinds[0])
	assert.Equal(t, telemetry.EventShutdown, kinds[len(kinds)-1])
}

func TestSession_RestartHidesPreviousSamples(t *testing.T) {
	r := newRig(t, testSettings())
	buf := make([]int16, 40000)
	summarizer := stats.NewEngine(40000, nil)

	require.True(t, r.e.StartSession(r.now))
	r.advance(20 * time.Second)
	require.True(t, r.e.StopSession(r.now))
	r.advance(2 * time.Second)
	require.Equal(t, session.Idle, r.e.Machine().State())
	require.Positive(t, r.e.Pipeline().Snapshot(buf), "first session filled the ring")

	require.True(t, r.e.StartSession(r.now))
	r.advance(500 * time.Millisecond)
	require.Equal(t, session.FadeIn, r.e.Machine().State())
	assert.False(t, r.e.Pipeline().Enabled())
	assert.Zero(t, r.e.Pipeline().Snapshot(buf))
	sum := r.e.Pipeline().Summary(summarizer, 0)
	assert.False(t, sum.HasData())
	assert.NotZero(t, r.e.flags(sum)&protocol.FlagNoData)

	r.advance(time.Second)
	assert.True(t, r.e.Pipeline().Enabled())
	assert.True(t, r.e.Pipeline().Summary(summarizer, 0).HasData())
}

func TestRun_ClosedTickSourceForcesIdle(t *testing.T) {
	r := newRig(t, testSettings())
	link := r.e.Link()

	ticks := make(chan time.Time)
	done := make(chan error, 1)
	go func() { done <- r.e.Run(context.Background(), ticks) }()

	started := make(chan struct{})
	var ok bool
	go func() { ok = link.Start(); close(started) }()
	for running := true; running; {
		select {
		case <-started:
			running = false
		case ticks <- r.now:
			r.now = r.now.Add(tickInterval)
			r.plant.Step(800)
		}
	}
	require.True(t, ok)

	close(ticks)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the tick source closed")
	}

	assert.Equal(t, session.Idle, r.e.Machine().State())
	assert.Zero(t, r.e.Gain())
	events, _ := r.pub.Snapshot()
	var reasons []string
	for _, ev := range events {
		reasons = append(reasons, ev.Reason)
	}
	assert.Contains(t, reasons, "tick source closed")
}
