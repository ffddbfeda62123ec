// Package telemetry publishes session events and periodic status to an
// MQTT broker.
package telemetry

import (
	"encoding/json"
	"strings"
	"time"
)

// Topic suffixes under the configured prefix.
const (
	TopicEvents = "session/events"
	TopicStatus = "session/status"
)

// Event kinds.
const (
	EventTransition = "TRANSITION"
	EventFault      = "ELECTRODE_FAULT"
	EventRecovered  = "ELECTRODE_OK"
	EventStartup    = "STARTUP"
	EventShutdown   = "SHUTDOWN"
)

// Publisher publishes telemetry. Errors are reported, never fatal.
type Publisher interface {
	PublishEvent(e Event) error
	PublishStatus(s Status) error
	Close() error
}

// Event is a session lifecycle or fault event.
type Event struct {
	Timestamp time.Time
	Kind      string
	From      string
	To        string
	Mode      string
	Gain      float64
	Reason    string
}

// Summary carries acquisition statistics in mA.
type Summary struct {
	Count    int     `json:"count"`
	MeanMA   float64 `json:"mean_ma"`
	MinMA    float64 `json:"min_ma"`
	MaxMA    float64 `json:"max_ma"`
	P1MA     float64 `json:"p1_ma"`
	P99MA    float64 `json:"p99_ma"`
	Degraded bool    `json:"degraded,omitempty"`
}

// Status is a periodic snapshot.
type Status struct {
	Timestamp   time.Time
	State       string
	Mode        string
	Waveform    string
	Gain        float64
	StaticGain  float64
	AmplitudeMA float64
	Elapsed     time.Duration
	Remaining   time.Duration
	Flags       uint8
	Underruns   uint64
	Summary     *Summary
	ToneMA      *float64
}

// Topic joins prefix and suffix with a single slash.
func Topic(prefix, suffix string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

type eventPayload struct {
	Session eventInner `json:"session"`
}

type eventInner struct {
	Timestamp string  `json:"timestamp"`
	Event     string  `json:"event"`
	From      string  `json:"from,omitempty"`
	To        string  `json:"to,omitempty"`
	Mode      string  `json:"mode,omitempty"`
	Gain      float64 `json:"gain"`
	Reason    string  `json:"reason,omitempty"`
}

// FormatEvent creates the JSON payload for an event.
func FormatEvent(e Event) ([]byte, error) {
	return json.Marshal(eventPayload{Session: eventInner{
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Event:     e.Kind,
		From:      e.From,
		To:        e.To,
		Mode:      e.Mode,
		Gain:      e.Gain,
		Reason:    e.Reason,
	}})
}

type statusPayload struct {
	Status statusInner `json:"status"`
}

type statusInner struct {
	Timestamp   string   `json:"timestamp"`
	State       string   `json:"state"`
	Mode        string   `json:"mode"`
	Waveform    string   `json:"waveform"`
	Gain        float64  `json:"gain"`
	StaticGain  float64  `json:"static_gain"`
	AmplitudeMA float64  `json:"amplitude_ma"`
	ElapsedS    float64  `json:"elapsed_s"`
	RemainingS  float64  `json:"remaining_s"`
	Flags       uint8    `json:"error_flags"`
	Underruns   uint64   `json:"underruns"`
	Summary     *Summary `json:"acquisition,omitempty"`
	ToneMA      *float64 `json:"tone_ma,omitempty"`
}

// FormatStatus creates the JSON payload for a status snapshot.
func FormatStatus(s Status) ([]byte, error) {
	return json.Marshal(statusPayload{Status: statusInner{
		Timestamp:   s.Timestamp.UTC().Format(time.RFC3339Nano),
		State:       s.State,
		Mode:        s.Mode,
		Waveform:    s.Waveform,
		Gain:        s.Gain,
		StaticGain:  s.StaticGain,
		AmplitudeMA: s.AmplitudeMA,
		ElapsedS:    s.Elapsed.Seconds(),
		RemainingS:  s.Remaining.Seconds(),
		Flags:       s.Flags,
		Underruns:   s.Underruns,
		Summary:     s.Summary,
		ToneMA:      s.ToneMA,
	}})
}

// Nop discards everything. It stands in when no broker is configured.
type Nop struct{}

func (Nop) PublishEvent(Event) error   { return nil }
func (Nop) PublishStatus(Status) error { return nil }
func (Nop) Close() error               { return nil }
