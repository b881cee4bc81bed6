// Package handler implements the HTTP API surface.
package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-engine/internal/channel"
	"github.com/capitalize-ai/conversation-engine/internal/pipeline"
	"github.com/capitalize-ai/conversation-engine/pkg/logger"
	"github.com/capitalize-ai/conversation-engine/pkg/metrics"
)

// maxWebhookBody caps webhook payload size at 1MB.
const maxWebhookBody = 1 << 20

// WebhookHandler receives channel webhook deliveries. POST acknowledges
// before processing; the channel provider's retry clock must never wait on a
// responder call.
type WebhookHandler struct {
	channels    *channel.Registry
	engine      *pipeline.Engine
	verifyToken string
	logger      *logger.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(channels *channel.Registry, engine *pipeline.Engine, verifyToken string, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		channels:    channels,
		engine:      engine,
		verifyToken: verifyToken,
		logger:      log,
	}
}

// Verify handles GET /webhooks/:channel, the subscription challenge used by
// Meta-style channel providers.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode != "subscribe" || token != h.verifyToken {
		writeError(w, http.StatusForbidden, "verification failed")
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// Receive handles POST /webhooks/:channel
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	channelName := chi.URLParam(r, "channel")

	adapter, err := h.channels.Get(channelName)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if !adapter.VerifySignature(r.Header.Get("X-Hub-Signature-256"), body) {
		h.logger.Warn("webhook signature verification failed",
			zap.String("channel", channelName),
		)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	metrics.WebhooksTotal.WithLabelValues(channelName).Inc()

	// Processing errors are never propagated upstream; the provider must see
	// a fast 200 or it will retry a payload we cannot use anyway.
	raw, err := adapter.ParseIncoming(body)
	if err != nil {
		h.logger.Warn("failed to parse webhook payload",
			zap.String("channel", channelName),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	// Status updates and read receipts parse to nil; still acknowledged.
	if raw == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	raw.Channel = channelName
	h.engine.Enqueue(raw)

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
