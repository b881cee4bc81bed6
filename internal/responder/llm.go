package responder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-engine/internal/apperr"
	"github.com/capitalize-ai/conversation-engine/internal/llm"
	"github.com/capitalize-ai/conversation-engine/internal/model"
	"github.com/capitalize-ai/conversation-engine/pkg/logger"
)

const historyLimit = 20

// LLMCapability implements Capability over a completion client. Routing,
// transfer checks and runs all prompt for strict JSON and parse the reply;
// a reply that is not valid JSON is treated as plain message text.
type LLMCapability struct {
	client    llm.Client
	defs      map[string]Definition
	defaultID string
	log       *logger.Logger
}

// NewLLMCapability creates a capability serving the given responder
// definitions. defaultID is used when routing cannot decide.
func NewLLMCapability(client llm.Client, defs []Definition, defaultID string, log *logger.Logger) *LLMCapability {
	byID := make(map[string]Definition, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}
	return &LLMCapability{
		client:    client,
		defs:      byID,
		defaultID: defaultID,
		log:       log,
	}
}

// Route picks a responder for an unassigned conversation.
func (c *LLMCapability) Route(ctx context.Context, content string, history []model.Message) (*RouteResult, error) {
	var b strings.Builder
	b.WriteString("You route customer messages to one of these responders:\n")
	for _, d := range c.defs {
		fmt.Fprintf(&b, "- %s: %s\n", d.ID, d.Description)
	}
	b.WriteString("Reply with JSON only: {\"responder_id\":\"...\",\"confidence\":0.0,\"reasoning\":\"...\"}")

	resp, err := c.client.Complete(ctx, &llm.CompletionRequest{
		System:   b.String(),
		Messages: append(historyMessages(history), llm.ChatMessage{Role: "user", Content: content}),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: route: %v", apperr.ErrResponder, err)
	}

	var result RouteResult
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &result); err != nil || result.ResponderID == "" {
		c.log.Warn("unparseable routing reply, using default responder",
			zap.String("default", c.defaultID))
		return &RouteResult{ResponderID: c.defaultID, Confidence: 0, Reasoning: "routing reply unparseable"}, nil
	}
	if _, ok := c.defs[result.ResponderID]; !ok {
		result.Reasoning = fmt.Sprintf("unknown responder %q suggested; %s", result.ResponderID, result.Reasoning)
		result.ResponderID = c.defaultID
	}
	return &result, nil
}

// CheckTransfer decides whether a different responder should take over.
func (c *LLMCapability) CheckTransfer(ctx context.Context, content, currentResponderID string) (*TransferCheck, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "The responder %q currently owns this conversation. Responders:\n", currentResponderID)
	for _, d := range c.defs {
		fmt.Fprintf(&b, "- %s: %s\n", d.ID, d.Description)
	}
	b.WriteString("Should a different responder take over? Reply with JSON only: ")
	b.WriteString("{\"should_transfer\":false,\"suggested_responder_id\":\"\",\"reasoning\":\"\"}")

	resp, err := c.client.Complete(ctx, &llm.CompletionRequest{
		System:   b.String(),
		Messages: []llm.ChatMessage{{Role: "user", Content: content}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: transfer check: %v", apperr.ErrResponder, err)
	}

	var result TransferCheck
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &result); err != nil {
		// An unparseable check means no transfer.
		return &TransferCheck{}, nil
	}
	if result.SuggestedResponderID == currentResponderID {
		result.ShouldTransfer = false
	}
	if _, ok := c.defs[result.SuggestedResponderID]; result.ShouldTransfer && !ok {
		return &TransferCheck{}, nil
	}
	return &result, nil
}

// Run produces a reply for the current message plus full history.
func (c *LLMCapability) Run(ctx context.Context, responderID, content string, history []model.Message, contact *model.Contact) (*RunResult, error) {
	def, ok := c.defs[responderID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown responder %q", apperr.ErrResponder, responderID)
	}

	var b strings.Builder
	b.WriteString(def.SystemPrompt)
	if contact != nil && contact.Name != "" {
		fmt.Fprintf(&b, "\nThe customer's name is %s.", contact.Name)
	}
	b.WriteString("\nReply with JSON only: {\"message\":\"...\",\"confidence\":0.0,")
	b.WriteString("\"should_handoff\":false,\"handoff_reason\":\"\",")
	b.WriteString("\"should_transfer\":false,\"suggested_responder_id\":\"\"}")

	resp, err := c.client.Complete(ctx, &llm.CompletionRequest{
		Model:    def.Model,
		System:   b.String(),
		Messages: append(historyMessages(history), llm.ChatMessage{Role: "user", Content: content}),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: run %s: %v", apperr.ErrResponder, responderID, err)
	}

	usage := Usage{
		InputTokens:  resp.TokensIn,
		OutputTokens: resp.TokensOut,
		CacheHit:     resp.CacheHit,
		Model:        resp.Model,
	}

	var result RunResult
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &result); err != nil || result.Message == "" {
		// Plain-text reply; no handoff or transfer signals.
		result = RunResult{Message: resp.Content, Confidence: 0.5}
	}
	result.Usage = usage
	return &result, nil
}

// historyMessages converts the most recent conversation messages to chat
// format, inbound as user and outbound as assistant.
func historyMessages(history []model.Message) []llm.ChatMessage {
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	out := make([]llm.ChatMessage, 0, len(history))
	for _, msg := range history {
		role := "assistant"
		if msg.Direction == model.DirectionInbound {
			role = "user"
		}
		out = append(out, llm.ChatMessage{Role: role, Content: msg.Content})
	}
	return out
}

// extractJSON strips text around the outermost JSON object, tolerating
// models that wrap their reply in prose or code fences.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
