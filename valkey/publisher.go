// Package valkey provides Valkey/Redis publishing functionality for tag
// values: current values as keys, changes on a pub/sub channel.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"taglink/config"
	"taglink/logging"
	"taglink/namespace"
)

// opTimeout bounds every Valkey round trip.
const opTimeout = 2 * time.Second

// TagMessage is the JSON structure stored and published for a tag.
type TagMessage struct {
	Namespace string      `json:"namespace"`
	ID        uint16      `json:"id"`
	Tag       string      `json:"tag"`
	Type      string      `json:"type"`
	Value     interface{} `json:"value"`
	Writable  bool        `json:"writable"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher publishes tag values to one Valkey server.
type Publisher struct {
	cfg     *config.ValkeyConfig
	ns      *namespace.Builder
	client  *redis.Client
	running bool
	mu      sync.RWMutex
}

// NewPublisher creates a publisher for one server entry.
func NewPublisher(cfg *config.ValkeyConfig, ns string) *Publisher {
	return &Publisher{
		cfg: cfg,
		ns:  namespace.New(ns, cfg.Selector),
	}
}

// Name returns the server entry name.
func (p *Publisher) Name() string {
	return p.cfg.Name
}

// TagKey returns the key a tag value is stored under.
func (p *Publisher) TagKey(tag string) string {
	return p.ns.ValkeyTagKey(tag)
}

// ChangesChannel returns the pub/sub channel changes are announced on.
func (p *Publisher) ChangesChannel() string {
	return p.ns.ValkeyChangesChannel()
}

// Start connects to the server and verifies it answers.
func (p *Publisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	opts := &redis.Options{
		Addr:         p.cfg.Address,
		Password:     p.cfg.Password,
		DB:           p.cfg.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
	}
	if p.cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	logging.DebugLog("valkey", "CONNECT %s: %s db=%d", p.cfg.Name, p.cfg.Address, p.cfg.Database)

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("valkey %s: %w", p.cfg.Name, err)
	}

	p.client = client
	p.running = true
	return nil
}

// Stop disconnects from the server.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.client.Close()
	p.client = nil
	p.running = false
	logging.DebugLog("valkey", "DISCONNECT %s", p.cfg.Name)
}

// IsRunning reports whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// PublishTag stores the current value under the tag key (with the
// configured TTL) and announces the change on the pub/sub channel.
func (p *Publisher) PublishTag(msg TagMessage) error {
	p.mu.RLock()
	client := p.client
	running := p.running
	p.mu.RUnlock()

	if !running {
		return fmt.Errorf("valkey %s: not connected", p.cfg.Name)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("valkey %s: marshal: %w", p.cfg.Name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	pipe := client.Pipeline()
	pipe.Set(ctx, p.ns.ValkeyTagKey(msg.Tag), data, p.cfg.KeyTTL)
	pipe.Publish(ctx, p.ns.ValkeyChangesChannel(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("valkey %s: publish %s: %w", p.cfg.Name, msg.Tag, err)
	}
	logging.DebugLog("valkey", "PUBLISH %s: %s", p.cfg.Name, p.ns.ValkeyTagKey(msg.Tag))
	return nil
}

// Manager owns all configured Valkey publishers.
type Manager struct {
	mu         sync.RWMutex
	publishers []*Publisher
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// LoadFromConfig replaces the publisher set from config entries.
func (m *Manager) LoadFromConfig(cfgs []config.ValkeyConfig, ns string) {
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
			logging.DebugError("valkey", "start "+p.cfg.Name, err)
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
			logging.DebugError("valkey", "publish", err)
		}
	}
}
