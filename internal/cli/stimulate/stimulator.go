// internal/cli/stimulate/stimulator.go

// Package stimulate assembles the engine with its devices, link and
// telemetry for the run and simulate commands.
package stimulate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/ColonelBlimp/stimcore/internal/acquisition"
	"github.com/ColonelBlimp/stimcore/internal/audio"
	"github.com/ColonelBlimp/stimcore/internal/config"
	"github.com/ColonelBlimp/stimcore/internal/engine"
	"github.com/ColonelBlimp/stimcore/internal/loopback"
	"github.com/ColonelBlimp/stimcore/internal/protocol"
	"github.com/ColonelBlimp/stimcore/internal/recovery"
	"github.com/ColonelBlimp/stimcore/internal/storage"
	"github.com/ColonelBlimp/stimcore/internal/telemetry"
	"github.com/ColonelBlimp/stimcore/internal/waveform"
	"go.bug.st/serial"
)

// Options select how the stimulator is assembled.
type Options struct {
	// Simulate replaces the audio devices with the loopback plant
	Simulate bool
	// OpenElectrode starts the plant with no electrode contact
	OpenElectrode bool
	// Contact scales the simulated current; 0 means perfect contact
	Contact float64
	// Seed seeds the plant noise
	Seed uint64
	// AutoStart starts a session as soon as the engine runs
	AutoStart bool
	// Monitor receives one line per status interval; nil disables it
	Monitor io.Writer
	// Logger defaults to a stderr logger
	Logger *log.Logger
}

// Stimulator owns every running component.
type Stimulator struct {
	cfg    *config.Settings
	opts   Options
	logger *log.Logger

	engine   *engine.Engine
	queue    *audio.Queue
	pub      telemetry.Publisher
	store    *storage.Store
	plant    *loopback.Plant
	playback *audio.Playback
	capture  *audio.Capture
	port     serial.Port
	server   *protocol.Server
}

// NewStimulator builds the engine and its collaborators. Devices are not
// opened until Run.
func NewStimulator(cfg *config.Settings, opts Options) (*Stimulator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	s := &Stimulator{cfg: cfg, opts: opts, logger: logger}

	table, err := cfg.Table()
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}

	s.store = storage.New(cfg.SessionPath(), logger).WithDefaults(cfg.SessionDefaults())
	settings, err := s.store.Load()
	if err != nil {
		logger.Printf("storage: %v; using defaults", err)
	}

	noise, err := waveform.LoadPreset(cfg.PresetPath(), cfg.Loop())
	switch {
	case err == nil:
		logger.Printf("noise preset %q loaded from %s", noise.Name, cfg.PresetPath())
	case errors.Is(err, os.ErrNotExist):
		noise = nil
	default:
		logger.Printf("noise preset: %v; using generated noise", err)
		noise = nil
	}

	s.queue = audio.NewQueue(cfg.RingFrames())
	var frames <-chan []acquisition.Frame
	ecfg := cfg.Engine(noise)
	if opts.Simulate {
		pcfg := cfg.Plant(opts.Seed)
		if opts.Contact > 0 {
			pcfg.Contact = opts.Contact
		}
		s.plant, err = loopback.New(pcfg, s.queue, table)
		if err != nil {
			return nil, fmt.Errorf("simulation: %w", err)
		}
		s.plant.SetOpen(opts.OpenElectrode)
		frames = s.plant.Frames
		// the plant drains the queue on a timer; a blocked write only adds jitter
		ecfg.WriteTimeout = 0
	} else {
		s.playback = audio.NewPlayback(cfg.Playback(), s.queue)
		s.capture = audio.NewCapture(cfg.Capture())
		frames = s.capture.Frames
	}

	s.pub = telemetry.Nop{}
	if cfg.MQTTBroker != "" {
		pub, err := telemetry.NewRealPublisher(cfg.Telemetry(), logger)
		if err != nil {
			logger.Printf("telemetry disabled: %v", err)
		} else {
			s.pub = pub
		}
	}

	s.engine, err = engine.New(ecfg, settings, engine.Deps{
		Sink:      s.queue,
		Frames:    frames,
		Table:     table,
		Publisher: s.pub,
		Store:     s.store,
		Logger:    logger,
	})
	if err != nil {
		s.pub.Close()
		return nil, fmt.Errorf("engine: %w", err)
	}
	return s, nil
}

// Engine returns the scheduler.
func (s *Stimulator) Engine() *engine.Engine {
	return s.engine
}

// Run opens the devices and drives the engine until ctx is done. An active
// session is faded out before the devices close.
func (s *Stimulator) Run(ctx context.Context) error {
	recovery.Register(s.engine)
	defer recovery.Register(nil)
	defer s.pub.Close()

	// devices outlive ctx so the closing fade-out is still played
	devCtx, stopDevices := context.WithCancel(context.Background())
	defer stopDevices()

	if err := s.openDevices(devCtx); err != nil {
		return err
	}
	defer s.closeDevices()

	if err := s.openLink(devCtx); err != nil {
		return err
	}

	if s.opts.AutoStart {
		go func() {
			defer recovery.HandlePanic()
			if !s.engine.Link().Start() {
				s.logger.Printf("auto start: session not started")
			}
		}()
	}
	if s.opts.Monitor != nil {
		go func() {
			defer recovery.HandlePanic()
			Monitor(devCtx, s.opts.Monitor, s.engine, s.cfg.StatusInterval)
		}()
	}

	s.logger.Printf("started: tick=%v status=%v simulate=%v", s.cfg.TickInterval, s.cfg.StatusInterval, s.opts.Simulate)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	return s.engine.Run(ctx, ticker.C)
}

func (s *Stimulator) openDevices(ctx context.Context) error {
	if s.plant != nil {
		go func() {
			defer recovery.HandlePanic()
			s.plant.Run(ctx, s.cfg.TickInterval)
		}()
		return nil
	}

	if err := s.playback.Init(); err != nil {
		return fmt.Errorf("audio playback: %w", err)
	}
	if err := s.capture.Init(); err != nil {
		s.playback.Close()
		return fmt.Errorf("audio capture: %w", err)
	}
	if err := s.playback.Start(ctx); err != nil {
		s.capture.Close()
		s.playback.Close()
		return fmt.Errorf("audio playback: %w", err)
	}
	if err := s.capture.Start(ctx); err != nil {
		s.playback.Stop()
		s.capture.Close()
		s.playback.Close()
		return fmt.Errorf("audio capture: %w", err)
	}
	return nil
}

func (s *Stimulator) closeDevices() {
	if s.capture != nil {
		if s.capture.IsRunning() {
			s.capture.Stop()
		}
		if err := s.capture.Close(); err != nil {
			s.logger.Printf("audio capture: %v", err)
		}
		if n := s.capture.Dropped(); n > 0 {
			s.logger.Printf("audio capture: %d batches dropped", n)
		}
	}
	if s.playback != nil {
		if s.playback.IsRunning() {
			s.playback.Stop()
		}
		if err := s.playback.Close(); err != nil {
			s.logger.Printf("audio playback: %v", err)
		}
		if n := s.playback.Underflows(); n > 0 {
			s.logger.Printf("audio playback: %d frames underflowed", n)
		}
	}
	if s.plant != nil && s.plant.Dropped() > 0 {
		s.logger.Printf("simulation: %d batches dropped", s.plant.Dropped())
	}
	if s.port != nil {
		s.engine.SetLink(nil)
		s.port.Close()
	}
}

func (s *Stimulator) openLink(ctx context.Context) error {
	if s.cfg.SerialPort == "" {
		return nil
	}
	port, err := protocol.OpenSerial(s.cfg.SerialPort, s.cfg.SerialBaud)
	if err != nil {
		return fmt.Errorf("link: %w", err)
	}
	server, err := protocol.NewServer(s.cfg.Protocol(), port, s.engine.Link(), s.logger)
	if err != nil {
		port.Close()
		return fmt.Errorf("link: %w", err)
	}
	s.port, s.server = port, server
	s.engine.SetLink(server)

	go func() {
		defer recovery.HandlePanic()
		if err := server.Serve(ctx); err != nil {
			s.logger.Printf("link: %v", err)
		}
	}()
	s.logger.Printf("link open on %s at %d baud", s.cfg.SerialPort, s.cfg.SerialBaud)
	return nil
}
