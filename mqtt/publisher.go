// Package mqtt provides MQTT publishing functionality for tag values.
package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"taglink/config"
	"taglink/logging"
	"taglink/namespace"
)

// connectTimeout bounds the broker handshake.
const connectTimeout = 5 * time.Second

// TagMessage is the JSON structure published to MQTT.
type TagMessage struct {
	Namespace string      `json:"namespace"`
	ID        uint16      `json:"id"`
	Tag       string      `json:"tag"`
	Type      string      `json:"type"`
	Value     interface{} `json:"value"`
	Writable  bool        `json:"writable"`
	Timestamp string      `json:"timestamp"`
}

// Publisher publishes tag values to a single MQTT broker.
type Publisher struct {
	cfg     *config.MQTTConfig
	ns      *namespace.Builder
	client  pahomqtt.Client
	running bool
	mu      sync.RWMutex
}

// NewPublisher creates a publisher for one broker entry.
func NewPublisher(cfg *config.MQTTConfig, ns string) *Publisher {
	return &Publisher{
		cfg: cfg,
		ns:  namespace.New(ns, cfg.Selector),
	}
}

// Name returns the broker entry name.
func (p *Publisher) Name() string {
	return p.cfg.Name
}

// TagTopic returns the topic a tag is published on.
func (p *Publisher) TagTopic(tag string) string {
	return p.ns.MQTTTagTopic(tag)
}

// Start connects to the broker.
func (p *Publisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	scheme := "tcp"
	if p.cfg.UseTLS {
		scheme = "ssl"
	}
	broker := fmt.Sprintf("%s://%s:%d", scheme, p.cfg.Broker, p.cfg.Port)

	opts := pahomqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(p.cfg.ClientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	if p.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	logging.DebugLog("mqtt", "CONNECT %s: %s", p.cfg.Name, broker)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt %s: connect timed out", p.cfg.Name)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt %s: %w", p.cfg.Name, err)
	}

	p.client = client
	p.running = true
	return nil
}

// Stop disconnects from the broker.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.client.Disconnect(250)
	p.client = nil
	p.running = false
	logging.DebugLog("mqtt", "DISCONNECT %s", p.cfg.Name)
}

// IsRunning reports whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// PublishTag publishes one tag message, retained so late subscribers see
// the current value.
func (p *Publisher) PublishTag(msg TagMessage) error {
	p.mu.RLock()
	client := p.client
	running := p.running
	p.mu.RUnlock()

	if !running {
		return fmt.Errorf("mqtt %s: not connected", p.cfg.Name)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mqtt %s: marshal: %w", p.cfg.Name, err)
	}
	topic := p.ns.MQTTTagTopic(msg.Tag)
	token := client.Publish(topic, 0, true, data)
	if token.WaitTimeout(connectTimeout) && token.Error() != nil {
		return fmt.Errorf("mqtt %s: publish %s: %w", p.cfg.Name, topic, token.Error())
	}
	logging.DebugLog("mqtt", "PUBLISH %s: %s", p.cfg.Name, topic)
	return nil
}

// Manager owns all configured MQTT publishers.
type Manager struct {
	mu         sync.RWMutex
	publishers []*Publisher
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// LoadFromConfig replaces the publisher set from config entries.
func (m *Manager) LoadFromConfig(cfgs []config.MQTTConfig, ns string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.publishers = m.publishers[:0]
	for i := range cfgs {
		m.publishers = append(m.publishers, NewPublisher(&cfgs[i], ns))
	}
}

// StartAll starts every enabled publisher, returning how many started.
func (m *Manager) StartAll() int {
	m.mu.RLock()
	pubs := append([]*Publisher(nil), m.publishers...)
	m.mu.RUnlock()

	started := 0
	for _, p := range pubs {
		if !p.cfg.Enabled {
			continue
		}
		if err := p.Start(); err != nil {
			logging.DebugError("mqtt", "start "+p.cfg.Name, err)
			continue
		}
		started++
	}
	return started
}

// StopAll stops every publisher.
func (m *Manager) StopAll() {
	m.mu.RLock()
	pubs := append([]*Publisher(nil), m.publishers...)
	m.mu.RUnlock()

	for _, p := range pubs {
		p.Stop()
	}
}

// PublishTag fans one tag message out to every running publisher.
func (m *Manager) PublishTag(msg TagMessage) {
	m.mu.RLock()
	pubs := append([]*Publisher(nil), m.publishers...)
	m.mu.RUnlock()

	for _, p := range pubs {
		if !p.IsRunning() {
			continue
		}
		if err := p.PublishTag(msg); err != nil {
			logging.DebugError("mqtt", "publish", err)
		}
	}
}
