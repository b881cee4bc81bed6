package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/conversation-engine/internal/conversation"
	"github.com/capitalize-ai/conversation-engine/internal/middleware"
	"github.com/capitalize-ai/conversation-engine/internal/model"
	"github.com/capitalize-ai/conversation-engine/internal/pipeline"
	"github.com/capitalize-ai/conversation-engine/internal/window"
	"github.com/capitalize-ai/conversation-engine/pkg/logger"
)

// ConversationHandler handles conversation lifecycle endpoints.
type ConversationHandler struct {
	conversations *conversation.Manager
	windows       *window.Manager
	engine        *pipeline.Engine
	logger        *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(
	convs *conversation.Manager,
	windows *window.Manager,
	engine *pipeline.Engine,
	log *logger.Logger,
) *ConversationHandler {
	return &ConversationHandler{
		conversations: convs,
		windows:       windows,
		engine:        engine,
		logger:        log,
	}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	all := h.conversations.List(r.Context())

	status := model.Status(r.URL.Query().Get("status"))
	if status != "" {
		filtered := make([]*model.Conversation, 0, len(all))
		for _, c := range all {
			if c.Status == status {
				filtered = append(filtered, c)
			}
		}
		all = filtered
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": all,
		"count":         len(all),
	})
}

// Get handles GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.conversations.Get(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Window handles GET /api/v1/conversations/:id/window
func (h *ConversationHandler) Window(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.conversations.Get(r.Context(), id); err != nil {
		writeAppError(w, err)
		return
	}

	// Store failures already degrade to closed inside the manager.
	status, _ := h.windows.Status(r.Context(), id)
	writeJSON(w, http.StatusOK, status)
}

// SendMessage handles POST /api/v1/messages, the synchronous ingestion path
// used by internal tools instead of a channel webhook.
func (h *ConversationHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var raw model.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageContent(raw.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateChannel(raw.Channel); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.engine.HandleIncomingMessage(r.Context(), &raw)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if result == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "duplicate"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Handoff handles POST /api/v1/conversations/:id/handoff
func (h *ConversationHandler) Handoff(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id string) error {
		return h.conversations.Handoff(r.Context(), id)
	})
}

// TakeOver handles POST /api/v1/conversations/:id/takeover
func (h *ConversationHandler) TakeOver(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AgentID == "" {
		req.AgentID = middleware.GetUserID(r.Context())
	}
	if err := middleware.ValidateAgentID(req.AgentID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.transition(w, r, func(id string) error {
		return h.conversations.TakeOver(r.Context(), id, req.AgentID)
	})
}

// Pause handles POST /api/v1/conversations/:id/pause
func (h *ConversationHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id string) error {
		return h.conversations.Pause(r.Context(), id)
	})
}

// Resume handles POST /api/v1/conversations/:id/resume
func (h *ConversationHandler) Resume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResponderID string `json:"responder_id"`
	}
	// Body is optional; the previously assigned responder is kept by default.
	json.NewDecoder(r.Body).Decode(&req)

	h.transition(w, r, func(id string) error {
		return h.conversations.Resume(r.Context(), id, req.ResponderID)
	})
}

// Close handles POST /api/v1/conversations/:id/close
func (h *ConversationHandler) Close(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	h.transition(w, r, func(id string) error {
		return h.conversations.Close(r.Context(), id, req.Reason)
	})
}

// Reopen handles POST /api/v1/conversations/:id/reopen
func (h *ConversationHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id string) error {
		return h.conversations.Reopen(r.Context(), id)
	})
}

func (h *ConversationHandler) transition(w http.ResponseWriter, r *http.Request, apply func(id string) error) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := apply(id); err != nil {
		writeAppError(w, err)
		return
	}

	conv, err := h.conversations.Get(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}
