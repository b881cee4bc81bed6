// Package conversation owns conversation records and their status machine.
package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-engine/internal/apperr"
	"github.com/capitalize-ai/conversation-engine/internal/model"
	"github.com/capitalize-ai/conversation-engine/pkg/logger"
	"github.com/capitalize-ai/conversation-engine/pkg/metrics"
)

// AgentTypeCustom marks a conversation currently owned by an automated
// custom responder.
const AgentTypeCustom = "custom"

// Manager owns conversation records and validates status transitions.
// Conversations are never physically deleted; closed is terminal but
// reopenable. Every mutating method serializes on a per-conversation lock,
// so a webhook batch and an operator action on the same conversation never
// race, while different conversations stay fully parallel.
type Manager struct {
	log *logger.Logger

	// In-memory storage (would be replaced with a database in production).
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	locks         *KeyedMutex
	now           func() time.Time
}

// NewManager creates a conversation manager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		log:           log,
		conversations: make(map[string]*model.Conversation),
		locks:         NewKeyedMutex(),
		now:           time.Now,
	}
}

// Create starts a new conversation for a contact on a channel.
func (m *Manager) Create(ctx context.Context, contactID, channel string) (*model.Conversation, error) {
	if contactID == "" || channel == "" {
		return nil, apperr.Validation("contact id and channel are required")
	}

	now := m.now()
	conv := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ContactID: contactID,
		Channel:   channel,
		Status:    model.StatusActive,
		StartedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.conversations[conv.ID] = conv
	m.mu.Unlock()

	m.log.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("contact_id", contactID),
		zap.String("channel", channel),
	)

	return conv, nil
}

// Get retrieves a conversation by ID.
func (m *Manager) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	m.mu.RLock()
	conv, ok := m.conversations[conversationID]
	m.mu.RUnlock()

	if !ok {
		return nil, apperr.NotFound("conversation %s", conversationID)
	}
	return conv, nil
}

// ResolveOpen finds the most recent non-closed conversation for a
// (contact, channel) pair, creating one if none exists. The second return
// reports whether a new conversation was created.
func (m *Manager) ResolveOpen(ctx context.Context, contactID, channel string) (*model.Conversation, bool, error) {
	m.mu.RLock()
	var latest *model.Conversation
	for _, conv := range m.conversations {
		if conv.ContactID != contactID || conv.Channel != channel || conv.Status == model.StatusClosed {
			continue
		}
		if latest == nil || conv.StartedAt.After(latest.StartedAt) {
			latest = conv
		}
	}
	m.mu.RUnlock()

	if latest != nil {
		return latest, false, nil
	}

	conv, err := m.Create(ctx, contactID, channel)
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// AppendMessage appends a message to a conversation. Messages are
// append-only; insertion order is conversation order.
func (m *Manager) AppendMessage(ctx context.Context, conversationID string, msg model.Message) error {
	conv, unlock, err := m.acquire(ctx, conversationID)
	if err != nil {
		return err
	}
	defer unlock()

	msg.ConversationID = conversationID
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = m.now()

	metrics.MessagesTotal.WithLabelValues(conv.Channel, string(msg.Direction)).Inc()
	return nil
}

// Transition moves a conversation to a new status, validating the move
// against the state machine. Same-status transitions are no-ops.
func (m *Manager) Transition(ctx context.Context, conversationID string, to model.Status) error {
	conv, unlock, err := m.acquire(ctx, conversationID)
	if err != nil {
		return err
	}
	defer unlock()

	return m.transition(conv, to)
}

// Assign records which automated responder owns the conversation.
func (m *Manager) Assign(ctx context.Context, conversationID, responderID string) error {
	conv, unlock, err := m.acquire(ctx, conversationID)
	if err != nil {
		return err
	}
	defer unlock()

	if conv.AssignedResponderID != "" && conv.AssignedResponderID != responderID {
		conv.Context.TransferredFrom = conv.AssignedResponderID
	}
	conv.AssignedResponderID = responderID
	conv.CurrentAgentType = AgentTypeCustom
	conv.UpdatedAt = m.now()
	return nil
}

// Handoff moves a conversation to human ownership and marks the sentinel
// agent type.
func (m *Manager) Handoff(ctx context.Context, conversationID string) error {
	conv, unlock, err := m.acquire(ctx, conversationID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.transition(conv, model.StatusHandoff); err != nil {
		return err
	}
	conv.CurrentAgentType = model.AgentTypeHandoff
	conv.UpdatedAt = m.now()

	metrics.HandoffsTotal.Inc()
	return nil
}

// TakeOver marks a human agent as actively handling a handed-off conversation.
func (m *Manager) TakeOver(ctx context.Context, conversationID, humanAgentID string) error {
	conv, unlock, err := m.acquire(ctx, conversationID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.transition(conv, model.StatusHumanActive); err != nil {
		return err
	}
	conv.Context.HumanAgentID = humanAgentID
	conv.UpdatedAt = m.now()
	return nil
}

// Pause suspends AI auto-response without declaring handoff.
func (m *Manager) Pause(ctx context.Context, conversationID string) error {
	return m.Transition(ctx, conversationID, model.StatusPaused)
}

// Resume returns a conversation to automated handling, optionally switching
// the assigned responder.
func (m *Manager) Resume(ctx context.Context, conversationID, responderID string) error {
	conv, unlock, err := m.acquire(ctx, conversationID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.transition(conv, model.StatusActive); err != nil {
		return err
	}
	if responderID != "" {
		conv.AssignedResponderID = responderID
	}
	if conv.AssignedResponderID != "" {
		conv.CurrentAgentType = AgentTypeCustom
	} else {
		conv.CurrentAgentType = ""
	}
	conv.Context.HumanAgentID = ""
	conv.UpdatedAt = m.now()
	return nil
}

// Close ends a conversation. Closed is terminal but reopenable.
func (m *Manager) Close(ctx context.Context, conversationID, reason string) error {
	conv, unlock, err := m.acquire(ctx, conversationID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.transition(conv, model.StatusClosed); err != nil {
		return err
	}
	if reason != "" {
		if conv.Context.Custom == nil {
			conv.Context.Custom = make(map[string]string)
		}
		conv.Context.Custom["close_reason"] = reason
		conv.UpdatedAt = m.now()
	}
	return nil
}

// Reopen returns a closed conversation to active handling.
func (m *Manager) Reopen(ctx context.Context, conversationID string) error {
	conv, unlock, err := m.acquire(ctx, conversationID)
	if err != nil {
		return err
	}
	defer unlock()

	if conv.Status != model.StatusClosed {
		return fmt.Errorf("%w: reopen requires a closed conversation, got %s", apperr.ErrInvalidTransition, conv.Status)
	}

	if err := m.transition(conv, model.StatusActive); err != nil {
		return err
	}
	conv.Context.HumanAgentID = ""
	conv.UpdatedAt = m.now()
	return nil
}

// acquire looks up a conversation and takes its record lock. The caller must
// invoke the returned unlock.
func (m *Manager) acquire(ctx context.Context, conversationID string) (*model.Conversation, func(), error) {
	conv, err := m.Get(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	return conv, m.locks.Lock(conversationID), nil
}

// transition applies a validated status change. The caller holds the record
// lock.
func (m *Manager) transition(conv *model.Conversation, to model.Status) error {
	from := conv.Status
	if from == to {
		return nil
	}
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, from, to)
	}

	conv.Status = to
	conv.UpdatedAt = m.now()

	metrics.ConversationTransitions.WithLabelValues(string(from), string(to)).Inc()
	m.log.Debug("conversation transition",
		zap.String("conversation_id", conv.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

// List returns all conversations ordered by start time, newest first.
func (m *Manager) List(ctx context.Context) []*model.Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.Conversation, 0, len(m.conversations))
	for _, conv := range m.conversations {
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// canTransition encodes the valid moves of the conversation state machine.
func canTransition(from, to model.Status) bool {
	switch to {
	case model.StatusWaiting:
		return from == model.StatusActive
	case model.StatusHandoff:
		return from != model.StatusClosed
	case model.StatusHumanActive:
		return from == model.StatusHandoff
	case model.StatusPaused:
		switch from {
		case model.StatusActive, model.StatusWaiting, model.StatusHandoff, model.StatusHumanActive:
			return true
		}
		return false
	case model.StatusActive:
		// Resume sources plus reopen; waiting conversations advance only
		// through a new inbound message, never an operator resume.
		switch from {
		case model.StatusPaused, model.StatusHandoff, model.StatusHumanActive, model.StatusClosed:
			return true
		}
		return false
	case model.StatusClosed:
		return true
	}
	return false
}
