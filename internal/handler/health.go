package handler

import (
	"net/http"

	"github.com/capitalize-ai/conversation-engine/internal/events"
	"github.com/capitalize-ai/conversation-engine/internal/llm"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	natsClient *events.Client
	llmClient  llm.Client
}

// NewHealthHandler creates a new health handler. A nil NATS client is valid
// for deployments without an event bus.
func NewHealthHandler(natsClient *events.Client, llmClient llm.Client) *HealthHandler {
	return &HealthHandler{
		natsClient: natsClient,
		llmClient:  llmClient,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.natsClient != nil && !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	resp := map[string]interface{}{
		"status": "ready",
	}
	if h.llmClient != nil {
		resp["llm_provider"] = h.llmClient.Name()
		resp["llm_models"] = h.llmClient.Models()
	}
	writeJSON(w, http.StatusOK, resp)
}
