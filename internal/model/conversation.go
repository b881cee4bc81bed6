// Package model defines data structures for the conversation engine.
package model

import (
	"time"
)

// Status represents the lifecycle state of a conversation.
type Status string

const (
	StatusActive      Status = "active"
	StatusWaiting     Status = "waiting"
	StatusHandoff     Status = "handoff"
	StatusHumanActive Status = "human_active"
	StatusPaused      Status = "paused"
	StatusClosed      Status = "closed"
)

// Valid reports whether s is one of the six defined statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusWaiting, StatusHandoff, StatusHumanActive, StatusPaused, StatusClosed:
		return true
	}
	return false
}

// AgentTypeHandoff is the sentinel current-agent marker set when a
// conversation has been handed to a human.
const AgentTypeHandoff = "human_handoff"

// Context is the mutable bag of derived signals attached to a conversation.
type Context struct {
	Intent          string            `json:"intent,omitempty"`
	Sentiment       string            `json:"sentiment,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	Custom          map[string]string `json:"custom,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	TransferredFrom string            `json:"transferred_from,omitempty"`
	HumanAgentID    string            `json:"human_agent_id,omitempty"`
}

// Conversation represents an ongoing exchange with one contact on one channel.
type Conversation struct {
	ID        string `json:"id"`
	ContactID string `json:"contact_id"`
	Channel   string `json:"channel"`

	Status              Status `json:"status"`
	CurrentAgentType    string `json:"current_agent_type,omitempty"`
	AssignedResponderID string `json:"assigned_responder_id,omitempty"`

	// Messages is append-only; insertion order is conversation order.
	Messages []Message `json:"messages"`

	Context Context `json:"context"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Open reports whether the conversation can still receive inbound routing,
// i.e. it has not been closed.
func (c *Conversation) Open() bool {
	return c.Status != StatusClosed
}

// RoutingDecision records why a responder was chosen for a conversation.
type RoutingDecision struct {
	ResponderID string    `json:"responder_id"`
	Confidence  float64   `json:"confidence"`
	Reasoning   string    `json:"reasoning"`
	DecidedAt   time.Time `json:"decided_at"`
}

// Contact identifies one customer on one channel.
type Contact struct {
	ID            string    `json:"id"`
	Channel       string    `json:"channel"`
	ChannelUserID string    `json:"channel_user_id"`
	Name          string    `json:"name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
