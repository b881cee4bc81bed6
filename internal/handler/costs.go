package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/conversation-engine/internal/cost"
	"github.com/capitalize-ai/conversation-engine/internal/middleware"
)

// CostHandler exposes responder usage aggregations.
type CostHandler struct {
	costs *cost.Tracker
}

// NewCostHandler creates a new cost handler.
func NewCostHandler(costs *cost.Tracker) *CostHandler {
	return &CostHandler{costs: costs}
}

// Daily handles GET /api/v1/costs/daily
func (h *CostHandler) Daily(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.costs.DailyCost())
}

// Responder handles GET /api/v1/costs/responders/:id
func (h *CostHandler) Responder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateResponderID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"responder_id": id,
		"summary":      h.costs.ResponderCost(id),
	})
}
