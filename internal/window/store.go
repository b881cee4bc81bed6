// Package window tracks the per-conversation messaging legality window.
package window

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/conversation-engine/internal/model"
)

// ErrNoWindow is returned by a Store when no window record exists.
var ErrNoWindow = errors.New("no window record")

// Store persists service windows. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, conversationID string) (*model.ServiceWindow, error)
	Put(ctx context.Context, w *model.ServiceWindow) error
}

// MemoryStore is an in-memory Store, used in tests and single-node setups.
type MemoryStore struct {
	mu      sync.RWMutex
	windows map[string]model.ServiceWindow
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]model.ServiceWindow)}
}

// Get returns the stored window for a conversation.
func (s *MemoryStore) Get(ctx context.Context, conversationID string) (*model.ServiceWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.windows[conversationID]
	if !ok {
		return nil, ErrNoWindow
	}
	return &w, nil
}

// Put stores a window, overwriting any previous record.
func (s *MemoryStore) Put(ctx context.Context, w *model.ServiceWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.windows[w.ConversationID] = *w
	return nil
}

// KVBucket is the JetStream key-value bucket holding service windows.
const KVBucket = "service_windows"

// KVStore persists service windows in a NATS JetStream key-value bucket.
type KVStore struct {
	kv jetstream.KeyValue
}

// NewKVStore creates the bucket if needed and returns a KVStore over it.
func NewKVStore(ctx context.Context, js jetstream.JetStream) (*KVStore, error) {
	kv, err := js.KeyValue(ctx, KVBucket)
	if err != nil {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      KVBucket,
			Description: "Per-conversation messaging legality windows",
			History:     1,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create window bucket: %w", err)
		}
	}
	return &KVStore{kv: kv}, nil
}

// Get returns the stored window for a conversation.
func (s *KVStore) Get(ctx context.Context, conversationID string) (*model.ServiceWindow, error) {
	entry, err := s.kv.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNoWindow
		}
		return nil, fmt.Errorf("failed to read window: %w", err)
	}

	var w model.ServiceWindow
	if err := json.Unmarshal(entry.Value(), &w); err != nil {
		return nil, fmt.Errorf("failed to decode window: %w", err)
	}
	return &w, nil
}

// Put stores a window, overwriting any previous record.
func (s *KVStore) Put(ctx context.Context, w *model.ServiceWindow) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to encode window: %w", err)
	}
	if _, err := s.kv.Put(ctx, w.ConversationID, data); err != nil {
		return fmt.Errorf("failed to write window: %w", err)
	}
	return nil
}
