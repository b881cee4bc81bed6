// Package responder defines the automated responder capability and its
// LLM-backed implementation.
package responder

import (
	"context"

	"github.com/capitalize-ai/conversation-engine/internal/model"
)

// RouteResult is the outcome of initial routing.
type RouteResult struct {
	ResponderID string  `json:"responder_id"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
}

// TransferCheck is the outcome of the per-message transfer evaluation.
type TransferCheck struct {
	ShouldTransfer       bool   `json:"should_transfer"`
	SuggestedResponderID string `json:"suggested_responder_id,omitempty"`
	Reasoning            string `json:"reasoning,omitempty"`
}

// Usage records the token consumption of one responder invocation.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CacheHit     bool
	Model        string
}

// RunResult is a responder's reply for one turn. Confidence is an opaque
// value in [0,1]; the boolean signals are authoritative, there is no
// implied threshold.
type RunResult struct {
	Message              string  `json:"message"`
	Confidence           float64 `json:"confidence"`
	ShouldHandoff        bool    `json:"should_handoff"`
	HandoffReason        string  `json:"handoff_reason,omitempty"`
	ShouldTransfer       bool    `json:"should_transfer"`
	SuggestedResponderID string  `json:"suggested_responder_id,omitempty"`
	Usage                Usage   `json:"-"`
}

// Capability is the automated message-answering port consumed by the
// orchestrator. Implementations are opaque beyond this contract.
type Capability interface {
	// Route picks a responder for an unassigned conversation.
	Route(ctx context.Context, content string, history []model.Message) (*RouteResult, error)

	// CheckTransfer decides whether a different responder should take over.
	CheckTransfer(ctx context.Context, content, currentResponderID string) (*TransferCheck, error)

	// Run produces a reply for the current message plus full history.
	Run(ctx context.Context, responderID, content string, history []model.Message, contact *model.Contact) (*RunResult, error)
}

// Definition describes one registered responder.
type Definition struct {
	ID           string `json:"id"`
	Description  string `json:"description"`
	SystemPrompt string `json:"system_prompt"`
	Model        string `json:"model,omitempty"`
}
