package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the name of the engine events stream.
	StreamName = "CONVERSATION_EVENTS"

	// SubjectPrefix is the prefix for all engine event subjects.
	SubjectPrefix = "convo"
)

// Type identifies an engine event.
type Type string

const (
	TypeMessageProcessed   Type = "message_processed"
	TypeHandoff            Type = "handoff"
	TypeWindowDegraded     Type = "window_degraded"
	TypeConversationClosed Type = "conversation_closed"
)

// Event is one engine occurrence interested parties can subscribe to.
type Event struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Channel        string         `json:"channel"`
	Type           Type           `json:"type"`
	ResponderID    string         `json:"responder_id,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Sink accepts engine events. The pipeline publishes through this port so
// tests and single-process deployments can swap the bus out.
type Sink interface {
	Publish(ctx context.Context, event *Event) error
}

// Publisher publishes engine events to JetStream.
type Publisher struct {
	client *Client
}

// NewPublisher creates a publisher over an established client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// EnsureStream ensures the events stream exists with proper configuration.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	js := p.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil // Stream already exists
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Conversation engine events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// Subject returns the subject for an event.
func Subject(channel, conversationID string, eventType Type) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix, channel, conversationID, eventType)
}

// Publish publishes one event to JetStream.
func (p *Publisher) Publish(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := Subject(event.Channel, event.ConversationID, event.Type)
	if _, err := p.client.JetStream().Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// NopSink discards events. Used when no bus is configured.
type NopSink struct{}

// Publish implements Sink.
func (NopSink) Publish(ctx context.Context, event *Event) error { return nil }
