// Package memory keeps published processed records in process, grouped by
// topic. The server uses it when no broker is configured.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one processed record as a broker would have received it.
type Message struct {
	ID    string
	Topic string
	// Body is the JSON encoding of the published payload.
	Body []byte
}

// Decode unmarshals the body into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Body, v)
}

// Publisher records publishes per topic.
type Publisher struct {
	mu     sync.RWMutex
	seq    int
	topics map[string][]Message
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{topics: make(map[string][]Message)}
}

// Publish encodes payload as JSON and appends it to topic. Payloads that do not
// encode are rejected and not recorded.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	msg := Message{ID: fmt.Sprintf("memory-%d", p.seq), Topic: topic, Body: body}
	p.topics[topic] = append(p.topics[topic], msg)
	return msg.ID, nil
}

// Topic returns a copy of everything published to name, oldest first.
func (p *Publisher) Topic(name string) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Message(nil), p.topics[name]...)
}

// Count reports how many messages were published across all topics.
func (p *Publisher) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.seq
}
