// Package engine centralizes the gateway's business logic: registry
// provisioning, FDI server lifecycle, publisher orchestration, and the
// administrative tag operations. API front-ends are thin consumers.
package engine

import (
	"fmt"
	"time"

	"taglink/config"
	"taglink/kafka"
	"taglink/logging"
	"taglink/mqtt"
	"taglink/server"
	"taglink/tagstore"
	"taglink/valkey"
)

// LogFunc is the logging callback signature. The engine never imports a
// front-end package.
type LogFunc func(format string, args ...interface{})

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	LogFunc    LogFunc
}

// Engine owns the tag registry, the FDI server, and the publishers.
type Engine struct {
	cfg        *config.Config
	configPath string
	logFn      LogFunc

	store     *tagstore.Store
	fdiServer *server.Server
	mqttMgr   *mqtt.Manager
	valkeyMgr *valkey.Manager
	kafkaMgr  *kafka.Manager

	Events *EventBus
}

// New creates an Engine. Call Start to provision the registry and bring
// the services up.
func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	return &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		logFn:      logFn,
		Events:     NewEventBus(),
	}
}

// Start provisions the registry from config, wires the change fan-out,
// and starts the FDI server and every enabled publisher.
func (e *Engine) Start() error {
	cfg := e.cfg

	e.store = tagstore.NewStore()
	for _, tc := range cfg.Tags {
		tag, err := tc.ToTag()
		if err != nil {
			return fmt.Errorf("provision tags: %w", err)
		}
		e.store.Insert(tag)
	}
	e.logFn("Provisioned %d tags", e.store.Len())

	e.mqttMgr = mqtt.NewManager()
	e.mqttMgr.LoadFromConfig(cfg.MQTT, cfg.Namespace)

	e.valkeyMgr = valkey.NewManager()
	e.valkeyMgr.LoadFromConfig(cfg.Valkey, cfg.Namespace)

	e.kafkaMgr = kafka.NewManager()
	e.kafkaMgr.LoadFromConfig(cfg.Kafka, cfg.Namespace)

	// Every successful registry mutation fans out to the publishers.
	e.store.SetOnChange(e.publishTag)

	e.fdiServer = server.NewServer(e.store)
	e.fdiServer.SetLogFunc(func(format string, args ...interface{}) {
		e.logFn(format, args...)
	})
	if cfg.Server.Enabled {
		if err := e.fdiServer.Start(cfg.Server.ListenAddr()); err != nil {
			return err
		}
		e.emit(EventServerStarted, ServiceEvent{Name: cfg.Server.ListenAddr()})
	}

	go func() {
		started := e.mqttMgr.StartAll()
		started += e.valkeyMgr.StartAll()
		started += e.kafkaMgr.ConnectEnabled()
		if started > 0 {
			e.logFn("Started %d publishers", started)
			e.emit(EventPublishersStarted, ServiceEvent{})
			e.forcePublishAll()
		}
	}()

	return nil
}

// Stop shuts everything down gracefully.
func (e *Engine) Stop() {
	if e.fdiServer != nil && e.fdiServer.IsRunning() {
		e.fdiServer.Stop()
		e.emit(EventServerStopped, ServiceEvent{})
	}
	if e.mqttMgr != nil {
		e.mqttMgr.StopAll()
	}
	if e.valkeyMgr != nil {
		e.valkeyMgr.StopAll()
	}
	if e.kafkaMgr != nil {
		e.kafkaMgr.CloseAll()
	}
}

// publishTag fans one tag state out to every running publisher.
func (e *Engine) publishTag(t tagstore.Tag) {
	now := time.Now().UTC()
	ns := e.cfg.Namespace

	e.mqttMgr.PublishTag(mqtt.TagMessage{
		Namespace: ns,
		ID:        t.ID,
		Tag:       t.Name,
		Type:      t.Type().String(),
		Value:     t.Value.Interface(),
		Writable:  t.Access.CanWrite(),
		Timestamp: now.Format(time.RFC3339Nano),
	})
	e.valkeyMgr.PublishTag(valkey.TagMessage{
		Namespace: ns,
		ID:        t.ID,
		Tag:       t.Name,
		Type:      t.Type().String(),
		Value:     t.Value.Interface(),
		Writable:  t.Access.CanWrite(),
		Timestamp: now,
	})
	e.kafkaMgr.PublishTag(kafka.TagMessage{
		Namespace: ns,
		ID:        t.ID,
		Tag:       t.Name,
		Type:      t.Type().String(),
		Value:     t.Value.Interface(),
		Writable:  t.Access.CanWrite(),
		Timestamp: now,
	})

	logging.DebugLog("engine", "tag %d (%s) = %s", t.ID, t.Name, t.Value.Display())
	e.emit(EventTagWritten, TagEvent{ID: t.ID, Name: t.Name})
}

// forcePublishAll republishes every tag's current value, used after a
// publisher (re)connects so downstream caches start warm.
func (e *Engine) forcePublishAll() {
	for _, t := range e.store.List() {
		e.publishTag(t)
	}
}

// Managers provides front-ends access to the shared backends. *Engine
// satisfies this interface.
type Managers interface {
	GetConfig() *config.Config
	GetConfigPath() string
	Store() *tagstore.Store
	Server() *server.Server
}

// Verify *Engine implements Managers at compile time.
var _ Managers = (*Engine)(nil)

func (e *Engine) GetConfig() *config.Config { return e.cfg }
func (e *Engine) GetConfigPath() string     { return e.configPath }
func (e *Engine) Store() *tagstore.Store    { return e.store }
func (e *Engine) Server() *server.Server    { return e.fdiServer }

// saveConfig persists the config if a path is configured.
func (e *Engine) saveConfig() error {
	if e.configPath == "" {
		return nil
	}
	return e.cfg.Save(e.configPath)
}

func (e *Engine) emit(t EventType, payload interface{}) {
	e.Events.Emit(Event{Type: t, Payload: payload})
}
