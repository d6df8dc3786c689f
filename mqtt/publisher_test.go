package mqtt

import (
	"encoding/json"
	"strings"
	"testing"

	"taglink/config"
)

func TestTagTopic(t *testing.T) {
	p := NewPublisher(&config.MQTTConfig{Name: "plantbus"}, "plant7")
	if got := p.TagTopic("fill_count"); got != "plant7/tags/fill_count" {
		t.Errorf("TagTopic = %q", got)
	}

	sel := NewPublisher(&config.MQTTConfig{Name: "plantbus", Selector: "line2"}, "plant7")
	if got := sel.TagTopic("fill_count"); got != "plant7/line2/tags/fill_count" {
		t.Errorf("TagTopic with selector = %q", got)
	}
}

func TestTagMessageJSON(t *testing.T) {
	msg := TagMessage{
		Namespace: "plant7",
		ID:        1001,
		Tag:       "fill_count",
		Type:      "integer",
		Value:     int32(42),
		Writable:  true,
		Timestamp: "2025-01-01T00:00:00Z",
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	for _, want := range []string{`"namespace":"plant7"`, `"id":1001`, `"tag":"fill_count"`, `"value":42`, `"writable":true`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("JSON %s missing %s", data, want)
		}
	}
}

func TestPublishNotConnected(t *testing.T) {
	p := NewPublisher(&config.MQTTConfig{Name: "plantbus"}, "plant7")
	if err := p.PublishTag(TagMessage{Tag: "x"}); err == nil {
		t.Error("expected error when not connected")
	}
	if p.IsRunning() {
		t.Error("publisher reports running before Start")
	}
}

func TestManagerLoadFromConfig(t *testing.T) {
	m := NewManager()
	m.LoadFromConfig([]config.MQTTConfig{
		{Name: "a", Broker: "h1"},
		{Name: "b", Broker: "h2"},
	}, "plant7")

	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.publishers) != 2 {
		t.Fatalf("got %d publishers, want 2", len(m.publishers))
	}
	if m.publishers[0].Name() != "a" || m.publishers[1].Name() != "b" {
		t.Errorf("publisher names = %s, %s", m.publishers[0].Name(), m.publishers[1].Name())
	}
}

func TestManagerStartAllSkipsDisabled(t *testing.T) {
	m := NewManager()
	m.LoadFromConfig([]config.MQTTConfig{
		{Name: "off", Broker: "h1", Enabled: false},
	}, "plant7")
	if started := m.StartAll(); started != 0 {
		t.Errorf("StartAll = %d, want 0", started)
	}
}
