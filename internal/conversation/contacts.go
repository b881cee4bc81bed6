package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/conversation-engine/internal/apperr"
	"github.com/capitalize-ai/conversation-engine/internal/model"
)

// ContactManager resolves channel user ids to contact records.
type ContactManager struct {
	mu       sync.RWMutex
	contacts map[string]*model.Contact // keyed by channel:channelUserID
	byID     map[string]*model.Contact
	now      func() time.Time
}

// NewContactManager creates an empty contact manager.
func NewContactManager() *ContactManager {
	return &ContactManager{
		contacts: make(map[string]*model.Contact),
		byID:     make(map[string]*model.Contact),
		now:      time.Now,
	}
}

// ResolveOrCreate returns the contact for a channel user, creating one on
// first sight. The name is recorded when first learned.
func (m *ContactManager) ResolveOrCreate(ctx context.Context, channel, channelUserID, name string) (*model.Contact, error) {
	if channel == "" || channelUserID == "" {
		return nil, apperr.Validation("channel and channel user id are required")
	}

	key := channel + ":" + channelUserID

	m.mu.Lock()
	defer m.mu.Unlock()

	if contact, ok := m.contacts[key]; ok {
		if contact.Name == "" && name != "" {
			contact.Name = name
		}
		return contact, nil
	}

	contact := &model.Contact{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Channel:       channel,
		ChannelUserID: channelUserID,
		Name:          name,
		CreatedAt:     m.now(),
	}
	m.contacts[key] = contact
	m.byID[contact.ID] = contact
	return contact, nil
}

// Get returns a contact by its id.
func (m *ContactManager) Get(ctx context.Context, contactID string) (*model.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	contact, ok := m.byID[contactID]
	if !ok {
		return nil, apperr.NotFound("contact %s", contactID)
	}
	return contact, nil
}
