// Package mqttsink publishes posture status changes to an MQTT broker so a
// remote display can mirror the coaching label.
package mqttsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/swdee/go-posturecoach/feedback"
)

// ErrNotConnected is returned by Publish before Connect succeeds or while
// the client is reconnecting
var ErrNotConnected = errors.New("mqtt not connected")

// Config of the broker connection
type Config struct {
	// Broker address as host:port or a full URL such as tcp://host:1883
	Broker string
	// Topic status messages are published to
	Topic    string
	ClientID string
	// QoS of status messages
	QoS byte
	// Retain keeps the last status on the broker for late subscribers
	Retain bool
	// PublishTimeout bounds waiting for the broker to acknowledge, defaults
	// to 2s
	PublishTimeout time.Duration
}

// publisher is the part of mqtt.Client the sink uses
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Sink is a feedback.StatusSink backed by a paho client
type Sink struct {
	cfg    Config
	client mqtt.Client
	pub    publisher
	log    *log.Logger

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// New returns an unconnected Sink, logger may be nil
func New(cfg Config, logger *log.Logger) *Sink {

	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}

	if logger == nil {
		logger = log.Default()
	}

	return &Sink{
		cfg: cfg,
		log: logger,
	}
}

// brokerURL adds the tcp scheme when the broker is given as host:port
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes the broker connection, the client reconnects on its
// own after that
func (s *Sink) Connect(ctx context.Context) error {

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(s.cfg.Broker))
	opts.SetClientID(s.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		s.setConnected(true)
		s.log.Printf("mqtt connected to %s", s.cfg.Broker)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		s.setConnected(false)
		s.log.Printf("mqtt connection lost, reconnecting: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt connect: %w", ctx.Err())
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	s.mu.Lock()
	s.client = client
	s.pub = client
	s.connected = true
	s.mu.Unlock()

	return nil
}

func (s *Sink) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// Publish sends the status as JSON
func (s *Sink) Publish(ctx context.Context, st feedback.Status) error {

	s.mu.RLock()
	pub, connected := s.pub, s.connected
	s.mu.RUnlock()

	if pub == nil || !connected {
		s.countError()
		return ErrNotConnected
	}

	payload, err := json.Marshal(st)

	if err != nil {
		s.countError()
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	token := pub.Publish(s.cfg.Topic, s.cfg.QoS, s.cfg.Retain, payload)

	timeout := time.NewTimer(s.cfg.PublishTimeout)
	defer timeout.Stop()

	select {
	case <-token.Done():
	case <-ctx.Done():
		s.countError()
		return fmt.Errorf("publish: %w", ctx.Err())
	case <-timeout.C:
		s.countError()
		return fmt.Errorf("publish timeout")
	}

	if err := token.Error(); err != nil {
		s.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	s.mu.Lock()
	s.published++
	s.mu.Unlock()

	return nil
}

func (s *Sink) countError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

// Disconnect closes the broker connection
func (s *Sink) Disconnect() {

	s.mu.Lock()
	client := s.client
	s.client = nil
	s.pub = nil
	s.connected = false
	s.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
}

// Stats contains sink statistics
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// Stats returns the current counters
func (s *Sink) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Connected: s.connected,
		Published: s.published,
		Errors:    s.errors,
	}
}
