// Package orchestrator routes inbound messages to automated responders and
// executes their handoff and transfer signals.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-engine/internal/apperr"
	"github.com/capitalize-ai/conversation-engine/internal/conversation"
	"github.com/capitalize-ai/conversation-engine/internal/cost"
	"github.com/capitalize-ai/conversation-engine/internal/model"
	"github.com/capitalize-ai/conversation-engine/internal/responder"
	"github.com/capitalize-ai/conversation-engine/pkg/logger"
	"github.com/capitalize-ai/conversation-engine/pkg/metrics"
)

// HandoffNotice is the fixed message appended when a conversation is handed
// to a human.
const HandoffNotice = "You've been connected to a human agent. Someone will be with you shortly."

// Result is the outcome of handling one inbound message.
type Result struct {
	Response        *responder.RunResult   `json:"response"`
	Conversation    *model.Conversation    `json:"conversation"`
	OutgoingMessage *model.Message         `json:"outgoing_message,omitempty"`
	RoutingDecision *model.RoutingDecision `json:"routing_decision,omitempty"`
}

// Orchestrator owns the per-turn algorithm: short-circuit when a human owns
// the thread, route when unassigned, check transfers on every message, run
// the responder, execute handoff/transfer signals, append the reply.
type Orchestrator struct {
	conversations *conversation.Manager
	capability    responder.Capability
	costs         *cost.Tracker
	log           *logger.Logger
	now           func() time.Time
}

// New creates an orchestrator.
func New(conversations *conversation.Manager, capability responder.Capability, costs *cost.Tracker, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		conversations: conversations,
		capability:    capability,
		costs:         costs,
		log:           log,
		now:           time.Now,
	}
}

// HandleMessage processes one inbound message for a conversation. conv may
// be nil, in which case a new conversation is created for the contact. The
// caller must serialize calls per conversation key.
func (o *Orchestrator) HandleMessage(ctx context.Context, incoming *model.RawMessage, conv *model.Conversation, contact *model.Contact) (*Result, error) {
	if incoming == nil || incoming.Content == "" {
		return nil, apperr.Validation("incoming message content is required")
	}

	if conv == nil {
		if contact == nil {
			return nil, apperr.Validation("either a conversation or a contact is required")
		}
		var err error
		conv, err = o.conversations.Create(ctx, contact.ID, incoming.Channel)
		if err != nil {
			return nil, err
		}
	}

	// New activity on a closed conversation implicitly reopens it.
	if conv.Status == model.StatusClosed {
		if err := o.conversations.Reopen(ctx, conv.ID); err != nil {
			return nil, err
		}
	}

	inbound := model.Message{
		ID:        messageID(incoming.MessageID),
		ContactID: conv.ContactID,
		Direction: model.DirectionInbound,
		Content:   incoming.Content,
		Channel:   incoming.Channel,
		Metadata:  incoming.Metadata,
		Timestamp: o.now(),
	}
	if err := o.conversations.AppendMessage(ctx, conv.ID, inbound); err != nil {
		return nil, err
	}

	// Automated responders never speak while a human owns the thread or
	// auto-reply is paused.
	if conv.Status == model.StatusHumanActive || conv.Status == model.StatusPaused {
		return &Result{
			Response:     &responder.RunResult{Confidence: 0},
			Conversation: conv,
		}, nil
	}

	result := &Result{Conversation: conv}
	history := conv.Messages[:len(conv.Messages)-1]

	if conv.AssignedResponderID == "" {
		route, err := o.capability.Route(ctx, incoming.Content, history)
		if err != nil {
			return nil, err
		}
		if err := o.conversations.Assign(ctx, conv.ID, route.ResponderID); err != nil {
			return nil, err
		}
		result.RoutingDecision = &model.RoutingDecision{
			ResponderID: route.ResponderID,
			Confidence:  route.Confidence,
			Reasoning:   route.Reasoning,
			DecidedAt:   o.now(),
		}
	} else {
		// Transfer is evaluated on every message, not only once.
		check, err := o.capability.CheckTransfer(ctx, incoming.Content, conv.AssignedResponderID)
		if err != nil {
			return nil, err
		}
		if check.ShouldTransfer && check.SuggestedResponderID != "" && check.SuggestedResponderID != conv.AssignedResponderID {
			if err := o.conversations.Assign(ctx, conv.ID, check.SuggestedResponderID); err != nil {
				return nil, err
			}
			result.RoutingDecision = &model.RoutingDecision{
				ResponderID: check.SuggestedResponderID,
				Reasoning:   check.Reasoning,
				DecidedAt:   o.now(),
			}
			metrics.TransfersTotal.Inc()
		}
	}

	run, err := o.run(ctx, conv.AssignedResponderID, incoming.Content, history, contact)
	if err != nil {
		// The conversation stays in its prior status; no reply was produced.
		return nil, err
	}

	if run.ShouldHandoff {
		return o.handoff(ctx, conv, run, result)
	}

	// A transfer signal from the responder itself gets a single re-run
	// against the new responder; no chained transfers within one turn.
	if run.ShouldTransfer && run.SuggestedResponderID != "" && run.SuggestedResponderID != conv.AssignedResponderID {
		if err := o.conversations.Assign(ctx, conv.ID, run.SuggestedResponderID); err != nil {
			return nil, err
		}
		metrics.TransfersTotal.Inc()
		rerun, err := o.run(ctx, run.SuggestedResponderID, incoming.Content, history, contact)
		if err != nil {
			return nil, err
		}
		if rerun.ShouldHandoff {
			return o.handoff(ctx, conv, rerun, result)
		}
		run = rerun
	}

	outgoing := model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ContactID: conv.ContactID,
		Direction: model.DirectionOutbound,
		Content:   run.Message,
		Channel:   conv.Channel,
		Timestamp: o.now(),
	}
	if err := o.conversations.AppendMessage(ctx, conv.ID, outgoing); err != nil {
		return nil, err
	}
	// A pending handoff keeps its status; active conversations advance to
	// waiting for the next customer input.
	if conv.Status == model.StatusActive || conv.Status == model.StatusWaiting {
		if err := o.conversations.Transition(ctx, conv.ID, model.StatusWaiting); err != nil {
			return nil, err
		}
	}

	result.Response = run
	result.OutgoingMessage = &conv.Messages[len(conv.Messages)-1]
	return result, nil
}

// handoff executes a responder's handoff signal: status becomes handoff, a
// fixed notice is appended, and no further responder call happens this turn.
func (o *Orchestrator) handoff(ctx context.Context, conv *model.Conversation, run *responder.RunResult, result *Result) (*Result, error) {
	if err := o.conversations.Handoff(ctx, conv.ID); err != nil {
		return nil, err
	}

	notice := model.Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		ContactID: conv.ContactID,
		Direction: model.DirectionOutbound,
		Content:   HandoffNotice,
		Channel:   conv.Channel,
		Timestamp: o.now(),
	}
	if err := o.conversations.AppendMessage(ctx, conv.ID, notice); err != nil {
		return nil, err
	}

	o.log.Info("conversation handed off",
		zap.String("conversation_id", conv.ID),
		zap.String("reason", run.HandoffReason),
	)

	result.Response = run
	result.OutgoingMessage = &conv.Messages[len(conv.Messages)-1]
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, responderID, content string, history []model.Message, contact *model.Contact) (*responder.RunResult, error) {
	start := o.now()
	run, err := o.capability.Run(ctx, responderID, content, history, contact)
	status := "success"
	if err != nil {
		status = "error"
		metrics.RecordResponderRun(responderID, status, time.Since(start).Seconds(), 0, 0)
		return nil, err
	}

	metrics.RecordResponderRun(responderID, status, time.Since(start).Seconds(), run.Usage.InputTokens, run.Usage.OutputTokens)
	o.costs.Track(responderID, run.Usage.InputTokens, run.Usage.OutputTokens, run.Usage.CacheHit, run.Usage.Model)
	return run, nil
}

func messageID(id string) string {
	if id != "" {
		return id
	}
	return uuid.Must(uuid.NewV7()).String()
}
