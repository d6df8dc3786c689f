// Package kafka provides a Kafka producer that appends tag change
// records to a namespaced topic.
package kafka

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"taglink/config"
	"taglink/logging"
	"taglink/namespace"
)

// writeTimeout bounds every produce call.
const writeTimeout = 10 * time.Second

// TagMessage is the JSON record value appended for a tag change.
type TagMessage struct {
	Namespace string      `json:"namespace"`
	ID        uint16      `json:"id"`
	Tag       string      `json:"tag"`
	Type      string      `json:"type"`
	Value     interface{} `json:"value"`
	Writable  bool        `json:"writable"`
	Timestamp time.Time   `json:"timestamp"`
}

// Producer appends tag change records to one Kafka cluster.
type Producer struct {
	cfg     *config.KafkaConfig
	ns      *namespace.Builder
	writer  *kafka.Writer
	running bool
	lastErr error
	mu      sync.RWMutex
}

// NewProducer creates a producer for one cluster entry.
func NewProducer(cfg *config.KafkaConfig, ns string) *Producer {
	return &Producer{
		cfg: cfg,
		ns:  namespace.New(ns, cfg.Selector),
	}
}

// Name returns the cluster entry name.
func (p *Producer) Name() string {
	return p.cfg.Name
}

// Topic returns the topic tag records are appended to.
func (p *Producer) Topic() string {
	return p.ns.KafkaTagTopic()
}

// saslMechanism builds the configured SASL mechanism, or nil.
func (p *Producer) saslMechanism() (sasl.Mechanism, error) {
	switch p.cfg.SASLMechanism {
	case "":
		return nil, nil
	case "PLAIN":
		return plain.Mechanism{Username: p.cfg.Username, Password: p.cfg.Password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, p.cfg.Username, p.cfg.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, p.cfg.Username, p.cfg.Password)
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism %q", p.cfg.SASLMechanism)
	}
}

// Connect builds the writer and verifies one broker is reachable.
func (p *Producer) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	mechanism, err := p.saslMechanism()
	if err != nil {
		p.lastErr = err
		return fmt.Errorf("kafka %s: %w", p.cfg.Name, err)
	}

	transport := &kafka.Transport{SASL: mechanism}
	if p.cfg.UseTLS {
		transport.TLS = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: p.cfg.TLSSkipVerify,
		}
	}

	logging.DebugLog("kafka", "CONNECT %s: brokers %v", p.cfg.Name, p.cfg.Brokers)

	dialer := &kafka.Dialer{Timeout: 10 * time.Second, SASLMechanism: mechanism}
	if p.cfg.UseTLS {
		dialer.TLS = transport.TLS
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := dialer.DialContext(ctx, "tcp", p.cfg.Brokers[0])
	if err != nil {
		p.lastErr = err
		return fmt.Errorf("kafka %s: %w", p.cfg.Name, err)
	}
	conn.Close()

	maxAttempts := p.cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(p.cfg.Brokers...),
		Topic:                  p.ns.KafkaTagTopic(),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequiredAcks(p.cfg.RequiredAcks),
		MaxAttempts:            maxAttempts,
		WriteBackoffMax:        p.cfg.RetryBackoff,
		WriteTimeout:           writeTimeout,
		AllowAutoTopicCreation: true,
		Transport:              transport,
	}
	p.running = true
	p.lastErr = nil
	return nil
}

// Close shuts the writer down.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.writer.Close()
	p.writer = nil
	p.running = false
	logging.DebugLog("kafka", "DISCONNECT %s", p.cfg.Name)
}

// IsRunning reports whether the producer is connected.
func (p *Producer) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// LastErr returns the most recent connect/produce error.
func (p *Producer) LastErr() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// PublishTag appends one tag change record, keyed by tag name so one
// tag's history stays in one partition.
func (p *Producer) PublishTag(msg TagMessage) error {
	p.mu.RLock()
	writer := p.writer
	running := p.running
	p.mu.RUnlock()

	if !running {
		return fmt.Errorf("kafka %s: not connected", p.cfg.Name)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("kafka %s: marshal: %w", p.cfg.Name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	err = writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Tag),
		Value: data,
	})
	if err != nil {
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		return fmt.Errorf("kafka %s: produce: %w", p.cfg.Name, err)
	}
	logging.DebugLog("kafka", "PRODUCE %s: %s key=%s", p.cfg.Name, p.ns.KafkaTagTopic(), msg.Tag)
	return nil
}

// Manager owns all configured Kafka producers.
type Manager struct {
	mu        sync.RWMutex
	producers []*Producer
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// LoadFromConfig replaces the producer set from config entries.
func (m *Manager) LoadFromConfig(cfgs []config.KafkaConfig, ns string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.producers = m.producers[:0]
	for i := range cfgs {
		m.producers = append(m.producers, NewProducer(&cfgs[i], ns))
	}
}

// ConnectEnabled connects every enabled producer, returning how many
// connected.
func (m *Manager) ConnectEnabled() int {
	m.mu.RLock()
	prods := append([]*Producer(nil), m.producers...)
	m.mu.RUnlock()

	connected := 0
	for _, p := range prods {
		if !p.cfg.Enabled {
			continue
		}
		if err := p.Connect(); err != nil {
			logging.DebugError("kafka", "connect "+p.cfg.Name, err)
			continue
		}
		connected++
	}
	return connected
}

// CloseAll closes every producer.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	prods := append([]*Producer(nil), m.producers...)
	m.mu.RUnlock()

	for _, p := range prods {
		p.Close()
	}
}

// PublishTag fans one tag record out to every running producer.
func (m *Manager) PublishTag(msg TagMessage) {
	m.mu.RLock()
	prods := append([]*Producer(nil), m.producers...)
	m.mu.RUnlock()

	for _, p := range prods {
		if !p.IsRunning() {
			continue
		}
		if err := p.PublishTag(msg); err != nil {
			logging.DebugError("kafka", "publish", err)
		}
	}
}
