// Package namespace provides utilities for constructing topic and key
// paths with consistent namespace prefixing across all services (MQTT,
// Valkey, Kafka).
package namespace

import "strings"

// Builder constructs namespace-prefixed topics and keys.
type Builder struct {
	namespace string
	selector  string
}

// New creates a new namespace builder.
func New(namespace, selector string) *Builder {
	return &Builder{
		namespace: namespace,
		selector:  selector,
	}
}

// --- MQTT (delimiter: /) ---

// MQTTTagTopic returns the topic for a tag value: {ns}[/{sel}]/tags/{tag}
func (b *Builder) MQTTTagTopic(tag string) string {
	return b.join("/", "tags", tag)
}

// MQTTStatusTopic returns the topic for gateway status: {ns}[/{sel}]/status
func (b *Builder) MQTTStatusTopic() string {
	return b.join("/", "status")
}

// --- Valkey (delimiter: :) ---

// ValkeyTagKey returns the key for a tag value: {ns}[:{sel}]:tags:{tag}
func (b *Builder) ValkeyTagKey(tag string) string {
	return b.join(":", "tags", tag)
}

// ValkeyChangesChannel returns the pub/sub channel for tag changes:
// {ns}[:{sel}]:changes
func (b *Builder) ValkeyChangesChannel() string {
	return b.join(":", "changes")
}

// --- Kafka (delimiter: .) ---

// KafkaTagTopic returns the topic for tag change records: {ns}[.{sel}].tags
func (b *Builder) KafkaTagTopic() string {
	return b.join(".", "tags")
}

// join builds a path from the namespace, optional selector, and parts,
// skipping empty segments so no doubled delimiters appear.
func (b *Builder) join(delim string, parts ...string) string {
	segs := make([]string, 0, len(parts)+2)
	for _, s := range append([]string{b.namespace, b.selector}, parts...) {
		s = strings.Trim(s, delim)
		if s != "" {
			segs = append(segs, s)
		}
	}
	return strings.Join(segs, delim)
}
