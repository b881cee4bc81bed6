// Package channel defines the port between the engine and channel-specific
// transports. Wire formats and signature schemes live in the adapters, not
// here.
package channel

import (
	"context"
	"sync"

	"github.com/capitalize-ai/conversation-engine/internal/apperr"
	"github.com/capitalize-ai/conversation-engine/internal/model"
)

// Adapter is implemented once per chat channel (WhatsApp, Instagram,
// Telegram, ...).
type Adapter interface {
	// Name returns the channel identifier used in webhook routes and keys.
	Name() string

	// VerifySignature checks the webhook signature header against the raw
	// body.
	VerifySignature(signature string, body []byte) bool

	// ParseIncoming normalizes a webhook payload. A nil message with nil
	// error means the payload carries nothing to process (status updates,
	// read receipts).
	ParseIncoming(body []byte) (*model.RawMessage, error)

	// Send delivers an outbound message to a channel user.
	Send(ctx context.Context, to string, msg *model.Message) error
}

// Registry holds the configured adapters by channel name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Later registrations replace earlier ones.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for a channel.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	if !ok {
		return nil, apperr.NotFound("channel %s", name)
	}
	return a, nil
}
