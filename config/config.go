// Package config handles configuration persistence for the taglink
// gateway.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"taglink/fdi"
	"taglink/tagstore"
)

// Config holds the complete application configuration.
type Config struct {
	Namespace string         `yaml:"namespace"` // Required: instance namespace for topic/key isolation
	Server    ServerConfig   `yaml:"server"`
	Tags      []TagConfig    `yaml:"tags,omitempty"`
	API       APIConfig      `yaml:"api,omitempty"`
	MQTT      []MQTTConfig   `yaml:"mqtt,omitempty"`
	Valkey    []ValkeyConfig `yaml:"valkey,omitempty"`
	Kafka     []KafkaConfig  `yaml:"kafka,omitempty"`

	// Data mutex protects all config fields against concurrent access.
	// Callers that modify config should Lock(), modify, then call
	// UnlockAndSave(). Save() acquires the lock internally.
	dataMu sync.Mutex `yaml:"-"`
}

// ServerConfig holds the FDI listener configuration.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// ListenAddr returns the host:port string the FDI server binds.
func (s ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TagConfig is one provisioned tag. Tags and their types are provisioned
// here, out of band from the wire protocol.
type TagConfig struct {
	ID     uint16 `yaml:"id"`
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`   // integer, unsigned, float, string
	Access string `yaml:"access"` // read_only, write_only, read_write
	Value  string `yaml:"value,omitempty"`
}

// ToTag converts the provisioning entry into a registry tag, parsing the
// initial value per the declared type.
func (t TagConfig) ToTag() (tagstore.Tag, error) {
	dataType, err := tagstore.ParseDataType(t.Type)
	if err != nil {
		return tagstore.Tag{}, fmt.Errorf("tag %d (%s): %w", t.ID, t.Name, err)
	}
	access, err := tagstore.ParseAccess(t.Access)
	if err != nil {
		return tagstore.Tag{}, fmt.Errorf("tag %d (%s): %w", t.ID, t.Name, err)
	}

	var value tagstore.Value
	switch dataType {
	case tagstore.TypeInteger:
		v := int64(0)
		if t.Value != "" {
			v, err = strconv.ParseInt(t.Value, 10, 32)
		}
		value = tagstore.IntValue(int32(v))
	case tagstore.TypeUnsigned:
		v := uint64(0)
		if t.Value != "" {
			v, err = strconv.ParseUint(t.Value, 10, 32)
		}
		value = tagstore.UintValue(uint32(v))
	case tagstore.TypeFloat:
		v := float64(0)
		if t.Value != "" {
			v, err = strconv.ParseFloat(t.Value, 32)
		}
		value = tagstore.FloatValue(float32(v))
	case tagstore.TypeString:
		value = tagstore.StringValue(t.Value)
	}
	if err != nil {
		return tagstore.Tag{}, fmt.Errorf("tag %d (%s): bad initial value %q: %w", t.ID, t.Name, t.Value, err)
	}

	return tagstore.Tag{ID: t.ID, Name: t.Name, Access: access, Value: value}, nil
}

// APIConfig holds REST admin API configuration.
type APIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	TokenHash string `yaml:"token_hash,omitempty"` // bcrypt hash of the bearer token; empty disables auth
}

// MQTTConfig holds MQTT publisher configuration.
type MQTTConfig struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	ClientID string `yaml:"client_id"`
	Selector string `yaml:"selector,omitempty"` // Optional sub-namespace
	UseTLS   bool   `yaml:"use_tls,omitempty"`
}

// ValkeyConfig holds Valkey/Redis publisher configuration.
type ValkeyConfig struct {
	Name     string        `yaml:"name"`
	Enabled  bool          `yaml:"enabled"`
	Address  string        `yaml:"address"` // host:port format
	Password string        `yaml:"password,omitempty"`
	Database int           `yaml:"database"`
	Selector string        `yaml:"selector,omitempty"`
	KeyTTL   time.Duration `yaml:"key_ttl,omitempty"` // 0 = no expiry
	UseTLS   bool          `yaml:"use_tls,omitempty"`
}

// KafkaConfig holds Kafka producer configuration.
type KafkaConfig struct {
	Name          string        `yaml:"name"`
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	UseTLS        bool          `yaml:"use_tls,omitempty"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify,omitempty"`
	SASLMechanism string        `yaml:"sasl_mechanism,omitempty"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username      string        `yaml:"username,omitempty"`
	Password      string        `yaml:"password,omitempty"`
	Selector      string        `yaml:"selector,omitempty"`
	RequiredAcks  int           `yaml:"required_acks,omitempty"` // -1=all, 0=none, 1=leader
	MaxRetries    int           `yaml:"max_retries,omitempty"`
	RetryBackoff  time.Duration `yaml:"retry_backoff,omitempty"`
}

// Default returns a configuration with sensible defaults and no tags.
func Default() *Config {
	return &Config{
		Namespace: "taglink",
		Server: ServerConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    fdi.DefaultPort,
		},
		API: APIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8080,
		},
	}
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields with their defaults.
func (c *Config) applyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "taglink"
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = fdi.DefaultPort
	}
	if c.API.Host == "" {
		c.API.Host = "127.0.0.1"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	for i := range c.MQTT {
		if c.MQTT[i].Port == 0 {
			c.MQTT[i].Port = 1883
		}
		if c.MQTT[i].ClientID == "" {
			c.MQTT[i].ClientID = "taglink-" + c.MQTT[i].Name
		}
	}
}

// Validate checks the configuration for provisioning errors.
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}

	seen := make(map[uint16]string, len(c.Tags))
	for _, t := range c.Tags {
		if prev, dup := seen[t.ID]; dup {
			return fmt.Errorf("duplicate tag id %d (%s and %s)", t.ID, prev, t.Name)
		}
		seen[t.ID] = t.Name
		if _, err := t.ToTag(); err != nil {
			return err
		}
	}

	for _, m := range c.MQTT {
		if m.Name == "" || m.Broker == "" {
			return fmt.Errorf("mqtt entry needs name and broker")
		}
	}
	for _, v := range c.Valkey {
		if v.Name == "" || v.Address == "" {
			return fmt.Errorf("valkey entry needs name and address")
		}
	}
	for _, k := range c.Kafka {
		if k.Name == "" || len(k.Brokers) == 0 {
			return fmt.Errorf("kafka entry needs name and brokers")
		}
	}
	return nil
}

// Lock acquires the config data mutex.
func (c *Config) Lock() {
	c.dataMu.Lock()
}

// Unlock releases the config data mutex.
func (c *Config) Unlock() {
	c.dataMu.Unlock()
}

// UnlockAndSave releases the lock and persists the config.
func (c *Config) UnlockAndSave(path string) error {
	c.dataMu.Unlock()
	return c.Save(path)
}

// Save persists the configuration to path, creating parent directories
// as needed.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// FindTag returns the provisioning entry for a tag id, or nil.
func (c *Config) FindTag(id uint16) *TagConfig {
	for i := range c.Tags {
		if c.Tags[i].ID == id {
			return &c.Tags[i]
		}
	}
	return nil
}
