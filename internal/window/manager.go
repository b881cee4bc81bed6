package window

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-engine/internal/apperr"
	"github.com/capitalize-ai/conversation-engine/internal/model"
	"github.com/capitalize-ai/conversation-engine/pkg/logger"
	"github.com/capitalize-ai/conversation-engine/pkg/metrics"
)

// Manager governs which reply modes are legal for a conversation at a given
// instant. A window is open strictly before its expiry; at the expiry instant
// it is already closed.
type Manager struct {
	store Store
	log   *logger.Logger
	now   func() time.Time
}

// NewManager creates a Manager over the given store.
func NewManager(store Store, log *logger.Logger) *Manager {
	return &Manager{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// Open starts a fresh full-duration window for the conversation. Any
// existing window is fully overwritten; windows are never extended partially.
func (m *Manager) Open(ctx context.Context, conversationID string, entryPoint model.EntryPoint) (model.WindowStatus, error) {
	if entryPoint == "" {
		entryPoint = model.EntryPointOrganic
	}

	now := m.now()
	w := &model.ServiceWindow{
		ConversationID: conversationID,
		Start:          now,
		Expires:        now.Add(model.WindowDuration(entryPoint)),
		EntryPoint:     entryPoint,
	}

	if err := m.store.Put(ctx, w); err != nil {
		m.degrade(conversationID, "open", err)
		return closedDefault(), fmt.Errorf("%w: %v", apperr.ErrWindowStore, err)
	}

	return m.statusOf(w), nil
}

// Refresh re-opens the window preserving the stored entry point: an
// ad-originated conversation keeps its 72h duration on every inbound
// message, it does not silently reset to organic. Called on every inbound
// customer message.
func (m *Manager) Refresh(ctx context.Context, conversationID string) (model.WindowStatus, error) {
	entryPoint := model.EntryPointOrganic

	existing, err := m.store.Get(ctx, conversationID)
	switch {
	case err == nil:
		entryPoint = existing.EntryPoint
	case errors.Is(err, ErrNoWindow):
		// First message for this conversation; organic default.
	default:
		m.degrade(conversationID, "refresh", err)
		return closedDefault(), fmt.Errorf("%w: %v", apperr.ErrWindowStore, err)
	}

	return m.Open(ctx, conversationID, entryPoint)
}

// Status reads the persisted window and derives its current state. A missing
// record reports a conservative closed organic default.
func (m *Manager) Status(ctx context.Context, conversationID string) (model.WindowStatus, error) {
	w, err := m.store.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNoWindow) {
			return closedDefault(), nil
		}
		m.degrade(conversationID, "status", err)
		return closedDefault(), fmt.Errorf("%w: %v", apperr.ErrWindowStore, err)
	}

	return m.statusOf(w), nil
}

// CanSendFreeForm reports whether free-form replies are currently legal.
// Unknown state counts as closed.
func (m *Manager) CanSendFreeForm(ctx context.Context, conversationID string) bool {
	status, err := m.Status(ctx, conversationID)
	if err != nil {
		return false
	}
	return status.IsOpen
}

// RequiresTemplate reports whether only template replies are currently legal.
func (m *Manager) RequiresTemplate(ctx context.Context, conversationID string) bool {
	return !m.CanSendFreeForm(ctx, conversationID)
}

func (m *Manager) statusOf(w *model.ServiceWindow) model.WindowStatus {
	now := m.now()
	remaining := w.Expires.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return model.WindowStatus{
		IsOpen:           now.Before(w.Expires),
		Start:            w.Start,
		Expires:          w.Expires,
		RemainingSeconds: int64(remaining / time.Second),
		EntryPoint:       w.EntryPoint,
	}
}

func (m *Manager) degrade(conversationID, op string, err error) {
	// Silently treating a closed window as open could violate a messaging
	// compliance constraint; unknown is treated as closed and surfaced here.
	metrics.WindowRefreshFailures.Inc()
	m.log.Warn("window store degraded, treating window as closed",
		zap.String("conversation_id", conversationID),
		zap.String("op", op),
		zap.Error(err),
	)
}

func closedDefault() model.WindowStatus {
	return model.WindowStatus{
		IsOpen:     false,
		EntryPoint: model.EntryPointOrganic,
	}
}
