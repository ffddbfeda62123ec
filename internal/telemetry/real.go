package telemetry

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// ErrBrokerRequired indicates an empty broker URL.
var ErrBrokerRequired = errors.New("telemetry: broker URL is required")

// Config holds broker connection settings.
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	// BufferSize is how many messages are kept while disconnected
	BufferSize int
}

// RealPublisher publishes to an MQTT broker. Messages published while the
// connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	events string
	status string
	logger *log.Logger

	mu      sync.Mutex
	pending *ringBuffer
}

// NewRealPublisher connects to the broker.
func NewRealPublisher(cfg Config, logger *log.Logger) (*RealPublisher, error) {
	if cfg.Broker == "" {
		return nil, ErrBrokerRequired
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "stimcore"
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if logger == nil {
		logger = log.Default()
	}

	p := &RealPublisher{
		events:  Topic(cfg.TopicPrefix, TopicEvents),
		status:  Topic(cfg.TopicPrefix, TopicStatus),
		logger:  logger,
		pending: newRingBuffer(cfg.BufferSize, logger),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) { p.replay() })

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// PublishEvent sends a session event at QoS 1.
func (p *RealPublisher) PublishEvent(e Event) error {
	payload, err := FormatEvent(e)
	if err != nil {
		return fmt.Errorf("format event: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.events, payload: payload, qos: 1})
}

// PublishStatus sends a status snapshot at QoS 0.
func (p *RealPublisher) PublishStatus(s Status) error {
	payload, err := FormatStatus(s)
	if err != nil {
		return fmt.Errorf("format status: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.status, payload: payload})
}

func (p *RealPublisher) publish(m bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.pending.push(m)
		p.mu.Unlock()
		return nil
	}
	token := p.client.Publish(m.topic, m.qos, false, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

func (p *RealPublisher) replay() {
	p.mu.Lock()
	msgs := p.pending.drainAll()
	p.mu.Unlock()
	if len(msgs) == 0 {
		return
	}
	p.logger.Printf("telemetry: reconnected, replaying %d messages", len(msgs))
	for _, m := range msgs {
		p.client.Publish(m.topic, m.qos, false, m.payload)
	}
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
