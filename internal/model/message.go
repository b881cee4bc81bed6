package model

import (
	"time"
)

// Direction marks a message as customer-to-system or system-to-customer.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message represents one inbound or outbound unit. Immutable once created.
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	ContactID      string            `json:"contact_id"`
	Direction      Direction         `json:"direction"`
	Content        string            `json:"content"`
	Channel        string            `json:"channel"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// RawMessage is the normalized form a channel adapter produces from a
// webhook payload, before dedup and batching.
type RawMessage struct {
	Channel       string            `json:"channel"`
	ChannelUserID string            `json:"channel_user_id"`
	Content       string            `json:"content"`
	SenderName    string            `json:"sender_name,omitempty"`
	MessageID     string            `json:"message_id"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ConversationKey returns the per-conversation batching and locking key.
func (m *RawMessage) ConversationKey() string {
	return m.Channel + ":" + m.ChannelUserID
}
