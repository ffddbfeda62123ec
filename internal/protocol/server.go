package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
)

// ErrDeviceRequired indicates a server without a device.
var ErrDeviceRequired = errors.New("protocol: device is required")

// Device is what the link controls. Implementations must be safe to call
// from the server goroutine.
type Device interface {
	ADC() (cursor uint32, ring []int16)
	SetWaveform(samples []int16, name string) error
	SetParams(p Params) error
	Status() Status
	SetGain(g float32) float32
	Gain() float32
	Start() bool
	Stop() bool
	Reset()
}

// Config holds link configuration.
type Config struct {
	// LengthWidth is the size of the length field, 2 or 4 bytes
	LengthWidth int
	// MaxPayload bounds received payloads; zero allows the field maximum
	MaxPayload int
	// LoopSamples is the exact SET_DAC waveform length
	LoopSamples int
}

// Server answers commands arriving on a byte stream.
type Server struct {
	cfg    Config
	rw     io.ReadWriter
	dev    Device
	dec    *Decoder
	logger *log.Logger

	mu  sync.Mutex
	out []byte
}

// NewServer creates a server for one link.
func NewServer(cfg Config, rw io.ReadWriter, dev Device, logger *log.Logger) (*Server, error) {
	if dev == nil {
		return nil, ErrDeviceRequired
	}
	dec, err := NewDecoder(cfg.LengthWidth, cfg.MaxPayload)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{cfg: cfg, rw: rw, dev: dev, dec: dec, logger: logger}, nil
}

// Serve reads and dispatches frames until ctx is done or the stream ends.
// Reads must return periodically (a read timeout) for cancellation to be
// noticed.
func (s *Server) Serve(ctx context.Context) error {
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := s.rw.Read(buf)
		s.Receive(buf[:n])
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("link read: %w", err)
		}
	}
}

// Receive feeds raw bytes through the decoder and handles every frame.
func (s *Server) Receive(p []byte) {
	for _, b := range p {
		f, ok, err := s.dec.Push(b)
		switch {
		case errors.Is(err, ErrPayloadTooLarge):
			s.logger.Printf("protocol: %v", err)
			s.reply(MsgError, []byte("Payload too large"))
		case errors.Is(err, ErrCRCMismatch):
			s.logger.Printf("protocol: %v", err)
			s.reply(MsgError, []byte("CRC mismatch"))
		case ok:
			s.handle(f)
		}
	}
}

func (s *Server) handle(f Frame) {
	switch f.Type {
	case CmdGetADC:
		cursor, ring := s.dev.ADC()
		err := s.Send(MsgADCData, AppendADC(nil, cursor, ring))
		if errors.Is(err, ErrPayloadTooLarge) {
			s.fail("ADC data exceeds frame length")
		} else if err != nil {
			s.logger.Printf("protocol: adc data: %v", err)
		}

	case CmdSetDAC:
		samples, name, err := ParseWaveform(f.Payload, s.cfg.LoopSamples)
		if err != nil {
			s.fail("DAC: buffer too small")
			return
		}
		if err := s.dev.SetWaveform(samples, name); err != nil {
			s.fail("DAC: " + err.Error())
			return
		}
		s.ack(nil)

	case CmdSetParams:
		p, err := ParseParams(f.Payload)
		if err != nil {
			s.fail("PARAMS: payload too short")
			return
		}
		if err := s.dev.SetParams(p); err != nil {
			s.fail("PARAMS: " + err.Error())
			return
		}
		s.ack(nil)

	case CmdGetStatus:
		s.SendStatus(s.dev.Status())

	case CmdReset:
		s.ack(nil)
		s.dev.Reset()

	case CmdSetGain:
		g, err := Float32(f.Payload)
		if err != nil {
			s.fail("GAIN: missing float32 parameter")
			return
		}
		s.ack(AppendFloat32(nil, s.dev.SetGain(g)))

	case CmdGetGain:
		s.ack(AppendFloat32(nil, s.dev.Gain()))

	case CmdStart:
		if !s.dev.Start() {
			s.fail("Session already running")
			return
		}
		s.ack(nil)

	case CmdStop:
		s.dev.Stop()
		s.ack(nil)

	default:
		s.logger.Printf("protocol: unknown command 0x%02x", f.Type)
		s.fail("Unknown command")
	}
}

func (s *Server) ack(payload []byte) {
	s.reply(MsgAck, payload)
}

func (s *Server) fail(text string) {
	s.reply(MsgError, []byte(text))
}

func (s *Server) reply(typ byte, payload []byte) {
	if err := s.Send(typ, payload); err != nil {
		s.logger.Printf("protocol: reply 0x%02x: %v", typ, err)
	}
}

// Send writes one frame. It is safe for concurrent use.
func (s *Server) Send(typ byte, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := AppendFrame(s.out[:0], typ, payload, s.cfg.LengthWidth)
	if err != nil {
		return err
	}
	s.out = out
	if _, err := s.rw.Write(out); err != nil {
		return fmt.Errorf("link write: %w", err)
	}
	return nil
}

// SendStatus writes a STATUS frame.
func (s *Server) SendStatus(st Status) error {
	err := s.Send(MsgStatus, AppendStatus(nil, st))
	if err != nil {
		s.logger.Printf("protocol: status: %v", err)
	}
	return err
}

// SendText writes a TEXT frame.
func (s *Server) SendText(text string) error {
	return s.Send(MsgText, []byte(text))
}
