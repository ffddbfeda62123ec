// internal/engine/engine.go

// Package engine owns the real-time loop: it drains acquisition frames,
// feeds the output queue, advances the session and runs the periodic
// checks. Everything that mutates core state runs on the engine goroutine;
// storage and telemetry run on a background worker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"time"

	"github.com/ColonelBlimp/stimcore/internal/acquisition"
	"github.com/ColonelBlimp/stimcore/internal/calibration"
	"github.com/ColonelBlimp/stimcore/internal/dsp"
	"github.com/ColonelBlimp/stimcore/internal/output"
	"github.com/ColonelBlimp/stimcore/internal/protocol"
	"github.com/ColonelBlimp/stimcore/internal/session"
	"github.com/ColonelBlimp/stimcore/internal/stats"
	"github.com/ColonelBlimp/stimcore/internal/storage"
	"github.com/ColonelBlimp/stimcore/internal/telemetry"
	"github.com/ColonelBlimp/stimcore/internal/waveform"
)

var (
	// ErrSinkRequired indicates an output sink is required
	ErrSinkRequired = errors.New("engine: output sink is required")
	// ErrTableRequired indicates a calibration table is required
	ErrTableRequired = errors.New("engine: calibration table is required")
	// ErrInvalidRing indicates the acquisition ring must span one loop
	ErrInvalidRing = errors.New("engine: ring size must equal input rate times loop duration")
)

// Config holds engine configuration. Sizes are in frames unless noted.
type Config struct {
	Loop           waveform.Loop
	InputRate      int
	RingSize       int
	FragmentFrames int
	RingFrames     int
	WriteTimeout   time.Duration
	InvertPolarity bool
	SignThreshold  uint16
	CaptureDelay   time.Duration

	StatusInterval  time.Duration
	HistogramBins   int
	FaultRatio      float64
	FaultHysteresis int

	Noise     *waveform.Preset
	NoiseSeed uint64

	// WorkerQueue bounds pending background jobs
	WorkerQueue int
	// ShutdownTimeout bounds the closing fade-out in wall time
	ShutdownTimeout time.Duration
	Debug           bool
}

// DefaultConfig returns the device configuration.
func DefaultConfig() Config {
	return Config{
		Loop:            waveform.Loop{SampleRate: 8000, Samples: 16000},
		InputRate:       20000,
		RingSize:        40000,
		FragmentFrames:  2048,
		RingFrames:      16 * 512,
		WriteTimeout:    2 * time.Millisecond,
		SignThreshold:   2048,
		CaptureDelay:    time.Second,
		StatusInterval:  time.Second,
		HistogramBins:   32,
		FaultRatio:      0.3,
		FaultHysteresis: 3,
		NoiseSeed:       1,
		WorkerQueue:     64,
		ShutdownTimeout: 40 * time.Second,
	}
}

// Deps are the collaborators the engine drives.
type Deps struct {
	Sink      output.Sink
	Frames    <-chan []acquisition.Frame
	Table     *calibration.Table
	Publisher telemetry.Publisher
	Store     *storage.Store
	Logger    *log.Logger
}

// StatusSender receives periodic STATUS frames.
type StatusSender interface {
	SendStatus(st protocol.Status) error
}

// Snapshot is the consumer view published after every status interval.
type Snapshot struct {
	At        time.Time
	Session   session.Status
	Summary   stats.Summary
	Histogram stats.Histogram
	ToneMA    float64
	ToneValid bool
	Flags     uint8
	Underruns uint64
}

// Engine is the scheduler.
type Engine struct {
	cfg    Config
	logger *log.Logger

	gain     *output.Gain
	feeder   *output.Feeder
	pipe     *acquisition.Pipeline
	machine  *session.Machine
	stats    *stats.Engine
	tone     *dsp.ToneMeter
	fault    *dsp.FaultDetector
	store    *storage.Store
	pub      telemetry.Publisher
	frames   <-chan []acquisition.Frame
	link     atomic.Pointer[StatusSender]
	snapshot atomic.Pointer[Snapshot]

	cmds    chan func(now time.Time)
	work    chan func()
	stopped chan struct{}

	transitions   []session.Transition
	faultEvents   []dsp.FaultEvent
	lastStatus    time.Time
	lastUnderruns uint64
	underrunSeen  bool
	storageFailed atomic.Bool
	histCounts    []int
	snap          []int16
	lastSummary   stats.Summary
}

// New wires the core components. The session starts Idle with settings.
func New(cfg Config, settings session.Settings, deps Deps) (*Engine, error) {
	if deps.Sink == nil {
		return nil, ErrSinkRequired
	}
	if deps.Table == nil {
		return nil, ErrTableRequired
	}
	if err := cfg.Loop.Validate(); err != nil {
		return nil, err
	}
	if cfg.RingSize <= 0 || int64(cfg.RingSize)*int64(cfg.Loop.SampleRate) != int64(cfg.InputRate)*int64(cfg.Loop.Samples) {
		return nil, fmt.Errorf("%w: %d slots for %d Hz over %v", ErrInvalidRing, cfg.RingSize, cfg.InputRate, cfg.Loop.Duration())
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = time.Second
	}
	if cfg.HistogramBins <= 0 {
		cfg.HistogramBins = 32
	}
	if cfg.WorkerQueue <= 0 {
		cfg.WorkerQueue = 64
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 40 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	pub := deps.Publisher
	if pub == nil {
		pub = telemetry.Nop{}
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		gain:       &output.Gain{},
		store:      deps.Store,
		pub:        pub,
		frames:     deps.Frames,
		cmds:       make(chan func(time.Time), 16),
		work:       make(chan func(), cfg.WorkerQueue),
		stopped:    make(chan struct{}),
		histCounts: make([]int, cfg.HistogramBins),
		snap:       make([]int16, cfg.RingSize),
	}

	var err error
	e.feeder, err = output.NewFeeder(output.FeederConfig{
		SampleRate:     cfg.Loop.SampleRate,
		FragmentFrames: cfg.FragmentFrames,
		RingFrames:     cfg.RingFrames,
		WriteTimeout:   cfg.WriteTimeout,
		InvertPolarity: cfg.InvertPolarity,
	}, deps.Sink, e.gain, logger)
	if err != nil {
		return nil, err
	}

	e.pipe, err = acquisition.New(acquisition.Config{
		RingSize:       cfg.RingSize,
		SignThreshold:  cfg.SignThreshold,
		InvertPolarity: cfg.InvertPolarity,
	}, logger)
	if err != nil {
		return nil, err
	}

	e.machine, err = session.New(session.Config{
		Loop:         cfg.Loop,
		CaptureDelay: cfg.CaptureDelay,
		Noise:        cfg.Noise,
		NoiseSeed:    cfg.NoiseSeed,
	}, settings, e.feeder, e.pipe, e.gain, logger)
	if err != nil {
		return nil, err
	}
	e.machine.SetCallback(func(tr session.Transition) {
		e.transitions = append(e.transitions, tr)
	})

	e.stats = stats.NewEngine(cfg.RingSize, deps.Table)

	e.tone, err = dsp.NewToneMeter(dsp.GoertzelConfig{
		TargetFrequency: waveform.SnapFrequency(settings.FrequencyHz, cfg.Loop),
		SampleRate:      float64(cfg.InputRate),
		BlockSize:       cfg.RingSize,
	}, deps.Table)
	if err != nil {
		return nil, fmt.Errorf("tone meter: %w", err)
	}

	e.fault, err = dsp.NewFaultDetector(dsp.FaultConfig{
		Ratio:         cfg.FaultRatio,
		Hysteresis:    cfg.FaultHysteresis,
		MinExpectedMA: session.MinAmplitudeMA / 2,
	})
	if err != nil {
		return nil, fmt.Errorf("fault detector: %w", err)
	}
	e.fault.SetCallback(func(ev dsp.FaultEvent) {
		e.faultEvents = append(e.faultEvents, ev)
	})

	if _, err := e.feeder.Silence(); err != nil {
		logger.Printf("engine: initial silence: %v", err)
	}
	return e, nil
}

// SetLink attaches (or with nil detaches) the periodic status receiver.
func (e *Engine) SetLink(s StatusSender) {
	if s == nil {
		e.link.Store(nil)
	} else {
		e.link.Store(&s)
	}
}

// Snapshot returns the latest consumer view, or nil before the first status
// interval. Safe from any goroutine.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// Gain returns the dynamic gain. Safe from any goroutine.
func (e *Engine) Gain() float64 {
	return e.gain.Load()
}

// Machine exposes the session machine. Engine goroutine only.
func (e *Engine) Machine() *session.Machine {
	return e.machine
}

// Pipeline exposes the acquisition pipeline. Engine goroutine only.
func (e *Engine) Pipeline() *acquisition.Pipeline {
	return e.pipe
}

// Feeder exposes the output feeder. Engine goroutine only.
func (e *Engine) Feeder() *output.Feeder {
	return e.feeder
}

// Tick runs one scheduling pass.
func (e *Engine) Tick(now time.Time) {
	e.runCommands(now)
	e.drainFrames()
	if _, err := e.feeder.Feed(now); err != nil {
		e.logger.Printf("engine: feed: %v", err)
	}
	e.machine.Update(now)
	e.flushTransitions()

	if e.lastStatus.IsZero() || now.Sub(e.lastStatus) >= e.cfg.StatusInterval {
		e.lastStatus = now
		e.periodic(now)
	}
}

func (e *Engine) runCommands(now time.Time) {
	for {
		select {
		case fn := <-e.cmds:
			fn(now)
		default:
			return
		}
	}
}

// drainFrames ingests every pending batch in arrival order.
func (e *Engine) drainFrames() {
	if e.frames == nil {
		return
	}
	for {
		select {
		case batch, ok := <-e.frames:
			if !ok {
				e.frames = nil
				return
			}
			e.pipe.IngestAll(batch)
		default:
			return
		}
	}
}

func (e *Engine) flushTransitions() {
	if len(e.transitions) == 0 {
		return
	}
	for _, tr := range e.transitions {
		e.logger.Printf("session: %s -> %s (%s, gain %.3f)", tr.From, tr.To, tr.Reason, tr.Gain)
		ev := telemetry.Event{
			Timestamp: tr.At,
			Kind:      telemetry.EventTransition,
			From:      tr.From.String(),
			To:        tr.To.String(),
			Mode:      e.machine.Status(tr.At).Mode.String(),
			Gain:      tr.Gain,
			Reason:    tr.Reason,
		}
		e.post(func() {
			if err := e.pub.PublishEvent(ev); err != nil {
				e.logger.Printf("telemetry: %v", err)
			}
		})
	}
	e.transitions = e.transitions[:0]

	if e.machine.JustFinished() {
		e.flushSettings()
	}
}

// periodic computes statistics, runs the electrode check and publishes
// status.
func (e *Engine) periodic(now time.Time) {
	sum := e.pipe.Summary(e.stats, 0)
	hist := e.pipe.Histogram(e.stats, e.histCounts)
	e.lastSummary = sum
	st := e.machine.Status(now)

	var toneMA float64
	var toneOK bool
	if st.State == session.Stable && st.Mode == session.ModeSine {
		n := e.pipe.Snapshot(e.snap)
		toneMA, toneOK = e.tone.Measure(e.snap[:n])
	}

	e.checkElectrode(now, st, sum)

	underruns := e.feeder.Underruns()
	if underruns > e.lastUnderruns {
		e.underrunSeen = true
	}
	e.lastUnderruns = underruns
	flags := e.flags(sum)
	e.underrunSeen = false

	if e.cfg.Debug {
		e.logger.Printf("engine: %s gain %.3f samples %d p1 %.3f p99 %.3f mA flags %04b",
			st.State, st.Gain, sum.Count, sum.P1MA, sum.P99MA, flags)
	}

	snap := &Snapshot{
		At:        now,
		Session:   e.machine.Status(now),
		Summary:   sum,
		Histogram: stats.Histogram{Counts: append([]int(nil), hist.Counts...), Min: hist.Min, Max: hist.Max, Total: hist.Total},
		ToneMA:    toneMA,
		ToneValid: toneOK,
		Flags:     flags,
		Underruns: underruns,
	}
	e.snapshot.Store(snap)

	if link := e.link.Load(); link != nil {
		ps := e.protocolStatus(now, flags)
		sender := *link
		e.post(func() {
			if err := sender.SendStatus(ps); err != nil {
				e.logger.Printf("link: status: %v", err)
			}
		})
	}
	ts := telemetryStatus(snap)
	e.post(func() {
		if err := e.pub.PublishStatus(ts); err != nil {
			e.logger.Printf("telemetry: %v", err)
		}
	})

	if !e.machine.Active() {
		e.flushSettings()
	}
}

// checkElectrode compares the measured current against the commanded
// amplitude while the output is at full level.
func (e *Engine) checkElectrode(now time.Time, st session.Status, sum stats.Summary) {
	if st.State != session.Stable || !sum.HasData() {
		return
	}
	measured := math.Max(math.Abs(sum.P1MA), math.Abs(sum.P99MA))
	if sum.Degraded {
		measured = math.Max(math.Abs(sum.MinMA), math.Abs(sum.MaxMA))
	}
	e.fault.Check(now, measured, st.AmplitudeMA)

	for _, ev := range e.faultEvents {
		kind := telemetry.EventRecovered
		if ev.Fault {
			kind = telemetry.EventFault
			e.logger.Printf("engine: electrode fault, measured %.3f mA of %.3f mA; stopping", ev.MeasuredMA, ev.ExpectedMA)
			e.machine.Stop(now)
		} else {
			e.logger.Printf("engine: electrode current restored (%.3f mA)", ev.MeasuredMA)
		}
		pe := telemetry.Event{
			Timestamp: ev.Timestamp,
			Kind:      kind,
			Mode:      st.Mode.String(),
			Gain:      e.gain.Load(),
			Reason:    fmt.Sprintf("measured %.3f mA of %.3f mA", ev.MeasuredMA, ev.ExpectedMA),
		}
		e.post(func() {
			if err := e.pub.PublishEvent(pe); err != nil {
				e.logger.Printf("telemetry: %v", err)
			}
		})
	}
	e.faultEvents = e.faultEvents[:0]
	e.flushTransitions()
}

func (e *Engine) flags(sum stats.Summary) uint8 {
	var f uint8
	if e.underrunSeen {
		f |= protocol.FlagUnderrun
	}
	if !sum.HasData() {
		f |= protocol.FlagNoData
	}
	if e.fault.Fault() {
		f |= protocol.FlagElectrodeFault
	}
	if e.storageFailed.Load() {
		f |= protocol.FlagStorage
	}
	return f
}

// flushSettings hands changed settings to the worker.
func (e *Engine) flushSettings() {
	ed := e.machine.Editor()
	if e.store == nil || !ed.Dirty() {
		return
	}
	s := ed.Settings()
	ed.MarkSaved()
	store := e.store
	e.post(func() {
		if _, err := store.Save(s); err != nil {
			e.storageFailed.Store(true)
			e.logger.Printf("storage: %v", err)
			return
		}
		e.storageFailed.Store(false)
	})
}

// post queues background work, dropping it when the worker is behind.
func (e *Engine) post(fn func()) {
	select {
	case e.work <- fn:
	default:
		e.logger.Printf("engine: worker queue full, dropping job")
	}
}

// DrainWork runs all queued background jobs on the caller's goroutine.
func (e *Engine) DrainWork() {
	for {
		select {
		case fn := <-e.work:
			fn()
		default:
			return
		}
	}
}

func (e *Engine) worker(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case fn := <-e.work:
			fn()
		case <-ctx.Done():
			e.DrainWork()
			return
		}
	}
}

// Run drives Tick from ticks until ctx is done, then brings an active
// session down through its fade-out and silences the output.
func (e *Engine) Run(ctx context.Context, ticks <-chan time.Time) error {
	workCtx, stopWork := context.WithCancel(context.Background())
	workDone := make(chan struct{})
	go e.worker(workCtx, workDone)
	defer func() {
		close(e.stopped)
		stopWork()
		<-workDone
	}()

	now := time.Now()
	startedAt := now
	e.post(func() {
		e.publishLifecycle(telemetry.EventStartup, startedAt)
	})
	for {
		select {
		case <-ctx.Done():
			e.shutdown(ticks, now)
			return nil
		case tick, ok := <-ticks:
			if !ok {
				e.logger.Printf("engine: tick source closed")
				e.shutdown(ticks, now)
				return nil
			}
			now = tick
			e.Tick(now)
		}
	}
}

func (e *Engine) shutdown(ticks <-chan time.Time, now time.Time) {
	if e.machine.Active() {
		e.logger.Printf("engine: shutdown, fading out")
		e.machine.Stop(now)
		guard := time.NewTimer(e.cfg.ShutdownTimeout)
		defer guard.Stop()
		for e.machine.Active() {
			select {
			case tick, ok := <-ticks:
				if !ok {
					e.logger.Printf("engine: tick source closed during fade-out, forcing silence")
					e.machine.Abort(now, "tick source closed")
					e.flushTransitions()
					continue
				}
				now = tick
				e.Tick(now)
			case <-guard.C:
				e.logger.Printf("engine: fade-out did not finish in %v, forcing silence", e.cfg.ShutdownTimeout)
				e.machine.Abort(now, "shutdown timeout")
				e.flushTransitions()
			}
		}
	}
	if _, err := e.feeder.Silence(); err != nil {
		e.logger.Printf("engine: silence: %v", err)
	}
	e.flushSettings()
	stoppedAt := now
	e.post(func() {
		e.publishLifecycle(telemetry.EventShutdown, stoppedAt)
	})
}

func (e *Engine) publishLifecycle(kind string, at time.Time) {
	if err := e.pub.PublishEvent(telemetry.Event{Timestamp: at, Kind: kind}); err != nil {
		e.logger.Printf("telemetry: %v", err)
	}
}

// Silence forces the output quiet. It implements recovery.Silencer and is
// only meant for the panic path.
func (e *Engine) Silence() {
	e.gain.Store(0)
	if _, err := e.feeder.Silence(); err != nil {
		e.logger.Printf("engine: panic silence: %v", err)
	}
}

func telemetryStatus(s *Snapshot) telemetry.Status {
	ts := telemetry.Status{
		Timestamp:   s.At,
		State:       s.Session.State.String(),
		Mode:        s.Session.Mode.String(),
		Waveform:    s.Session.Waveform,
		Gain:        s.Session.Gain,
		StaticGain:  s.Session.StaticGain,
		AmplitudeMA: s.Session.AmplitudeMA,
		Elapsed:     s.Session.Elapsed,
		Remaining:   s.Session.Remaining,
		Flags:       s.Flags,
		Underruns:   s.Underruns,
	}
	if s.Summary.HasData() {
		ts.Summary = &telemetry.Summary{
			Count:    s.Summary.Count,
			MeanMA:   s.Summary.MeanMA,
			MinMA:    s.Summary.MinMA,
			MaxMA:    s.Summary.MaxMA,
			P1MA:     s.Summary.P1MA,
			P99MA:    s.Summary.P99MA,
			Degraded: s.Summary.Degraded,
		}
	}
	if s.ToneValid {
		v := s.ToneMA
		ts.ToneMA = &v
	}
	return ts
}
