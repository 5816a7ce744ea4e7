// Package memory provides an in-process publisher used when no Pub/Sub topic is configured.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Message is one published payload, JSON-encoded as it would be on the wire.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// Publisher keeps published payloads in memory and logs each one.
type Publisher struct {
	logger *zap.Logger

	mu       sync.RWMutex
	messages []Message
}

// New returns a memory Publisher.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger}
}

// Publish encodes payload as JSON and records it under a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data})
	p.mu.Unlock()

	p.logger.Info("summary published", zap.String("topic", topic), zap.String("message_id", id), zap.ByteString("data", data))
	return id, nil
}
