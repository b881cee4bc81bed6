package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversation-engine/internal/apperr"
	"github.com/capitalize-ai/conversation-engine/internal/conversation"
	"github.com/capitalize-ai/conversation-engine/internal/cost"
	"github.com/capitalize-ai/conversation-engine/internal/model"
	"github.com/capitalize-ai/conversation-engine/internal/responder"
	"github.com/capitalize-ai/conversation-engine/pkg/logger"
)

// fakeCapability scripts routing, transfer checks and runs per responder id.
type fakeCapability struct {
	routeResult   *responder.RouteResult
	routeErr      error
	transferCheck *responder.TransferCheck
	runResults    map[string]*responder.RunResult
	runErr        error

	routeCalls    int
	transferCalls int
	runCalls      []string
}

func (f *fakeCapability) Route(ctx context.Context, content string, history []model.Message) (*responder.RouteResult, error) {
	f.routeCalls++
	if f.routeErr != nil {
		return nil, f.routeErr
	}
	if f.routeResult != nil {
		return f.routeResult, nil
	}
	return &responder.RouteResult{ResponderID: "general", Confidence: 0.9, Reasoning: "default"}, nil
}

func (f *fakeCapability) CheckTransfer(ctx context.Context, content, currentResponderID string) (*responder.TransferCheck, error) {
	f.transferCalls++
	if f.transferCheck != nil {
		return f.transferCheck, nil
	}
	return &responder.TransferCheck{}, nil
}

func (f *fakeCapability) Run(ctx context.Context, responderID, content string, history []model.Message, contact *model.Contact) (*responder.RunResult, error) {
	f.runCalls = append(f.runCalls, responderID)
	if f.runErr != nil {
		return nil, f.runErr
	}
	if r, ok := f.runResults[responderID]; ok {
		return r, nil
	}
	return &responder.RunResult{
		Message:    "hello from " + responderID,
		Confidence: 0.8,
		Usage:      responder.Usage{InputTokens: 100, OutputTokens: 40, Model: "test-model"},
	}, nil
}

func newOrchestrator(t *testing.T, fake *fakeCapability) (*Orchestrator, *conversation.Manager, *cost.Tracker) {
	t.Helper()
	convs := conversation.NewManager(logger.NewNop())
	costs := cost.NewTracker(cost.DefaultPricing)
	return New(convs, fake, costs, logger.NewNop()), convs, costs
}

func incoming(content string) *model.RawMessage {
	return &model.RawMessage{
		Channel:       "whatsapp",
		ChannelUserID: "555",
		Content:       content,
		MessageID:     "wamid." + content,
	}
}

func TestCreatesConversationAndRoutes(t *testing.T) {
	fake := &fakeCapability{
		routeResult: &responder.RouteResult{ResponderID: "sales", Confidence: 0.92, Reasoning: "pricing question"},
	}
	o, _, _ := newOrchestrator(t, fake)

	contact := &model.Contact{ID: "contact-1", Channel: "whatsapp", ChannelUserID: "555"}
	result, err := o.HandleMessage(context.Background(), incoming("how much is the pro plan?"), nil, contact)
	require.NoError(t, err)

	conv := result.Conversation
	assert.Equal(t, "sales", conv.AssignedResponderID)
	assert.Equal(t, conversation.AgentTypeCustom, conv.CurrentAgentType)
	assert.Equal(t, model.StatusWaiting, conv.Status)

	require.NotNil(t, result.RoutingDecision)
	assert.Equal(t, "sales", result.RoutingDecision.ResponderID)
	assert.Equal(t, 0.92, result.RoutingDecision.Confidence)
	assert.Equal(t, "pricing question", result.RoutingDecision.Reasoning)

	require.Len(t, conv.Messages, 2)
	assert.Equal(t, model.DirectionInbound, conv.Messages[0].Direction)
	assert.Equal(t, model.DirectionOutbound, conv.Messages[1].Direction)
	assert.Equal(t, "hello from sales", result.OutgoingMessage.Content)

	assert.Equal(t, 1, fake.routeCalls)
	assert.Equal(t, 0, fake.transferCalls, "routing and transfer check are mutually exclusive per turn")
}

func TestHumanActiveShortCircuits(t *testing.T) {
	fake := &fakeCapability{}
	o, convs, _ := newOrchestrator(t, fake)
	ctx := context.Background()

	conv, err := convs.Create(ctx, "contact-1", "whatsapp")
	require.NoError(t, err)
	require.NoError(t, convs.Handoff(ctx, conv.ID))
	require.NoError(t, convs.TakeOver(ctx, conv.ID, "agent-jo"))

	result, err := o.HandleMessage(ctx, incoming("anyone there?"), conv, nil)
	require.NoError(t, err)

	assert.Empty(t, result.Response.Message)
	assert.False(t, result.Response.ShouldHandoff)
	assert.Equal(t, 0.0, result.Response.Confidence)
	assert.Nil(t, result.OutgoingMessage)
	assert.Equal(t, model.StatusHumanActive, conv.Status)

	// The inbound message is still recorded.
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, model.DirectionInbound, conv.Messages[0].Direction)
	assert.Zero(t, len(fake.runCalls))
}

func TestPausedShortCircuits(t *testing.T) {
	fake := &fakeCapability{}
	o, convs, _ := newOrchestrator(t, fake)
	ctx := context.Background()

	conv, err := convs.Create(ctx, "contact-1", "whatsapp")
	require.NoError(t, err)
	require.NoError(t, convs.Pause(ctx, conv.ID))

	result, err := o.HandleMessage(ctx, incoming("hello?"), conv, nil)
	require.NoError(t, err)

	assert.Empty(t, result.Response.Message)
	assert.Zero(t, len(fake.runCalls))
	assert.Equal(t, model.StatusPaused, conv.Status)
}

func TestHandoffIsTerminalForTurn(t *testing.T) {
	fake := &fakeCapability{
		runResults: map[string]*responder.RunResult{
			"general": {
				Message:       "I can't help with this",
				ShouldHandoff: true,
				HandoffReason: "legal question",
				Usage:         responder.Usage{InputTokens: 50, OutputTokens: 20, Model: "test-model"},
			},
		},
	}
	o, _, _ := newOrchestrator(t, fake)

	contact := &model.Contact{ID: "contact-1"}
	result, err := o.HandleMessage(context.Background(), incoming("I want to sue"), nil, contact)
	require.NoError(t, err)

	conv := result.Conversation
	assert.Equal(t, model.StatusHandoff, conv.Status)
	assert.Equal(t, model.AgentTypeHandoff, conv.CurrentAgentType)
	assert.Equal(t, HandoffNotice, result.OutgoingMessage.Content)
	assert.Equal(t, []string{"general"}, fake.runCalls, "no additional run after a handoff signal")
}

func TestResponderTransferSignalRerunsOnce(t *testing.T) {
	fake := &fakeCapability{
		routeResult: &responder.RouteResult{ResponderID: "sales", Confidence: 0.7},
		runResults: map[string]*responder.RunResult{
			"sales": {
				Message:              "let me pass you over",
				ShouldTransfer:       true,
				SuggestedResponderID: "support",
				Usage:                responder.Usage{InputTokens: 10, OutputTokens: 5, Model: "m"},
			},
			"support": {
				Message: "support here, happy to help",
				// Even if support suggests another transfer, no chaining.
				ShouldTransfer:       true,
				SuggestedResponderID: "billing",
				Usage:                responder.Usage{InputTokens: 12, OutputTokens: 6, Model: "m"},
			},
		},
	}
	o, _, costs := newOrchestrator(t, fake)

	contact := &model.Contact{ID: "contact-1"}
	result, err := o.HandleMessage(context.Background(), incoming("my thing broke"), nil, contact)
	require.NoError(t, err)

	assert.Equal(t, []string{"sales", "support"}, fake.runCalls)
	assert.Equal(t, "support here, happy to help", result.OutgoingMessage.Content)
	assert.Equal(t, "support", result.Conversation.AssignedResponderID)
	assert.Equal(t, model.StatusWaiting, result.Conversation.Status)

	// Both runs were cost-tracked.
	assert.Equal(t, 2, costs.DailyCost().TotalCalls)
}

func TestTransferCheckSwitchesResponder(t *testing.T) {
	fake := &fakeCapability{
		transferCheck: &responder.TransferCheck{
			ShouldTransfer:       true,
			SuggestedResponderID: "billing",
			Reasoning:            "invoice talk",
		},
	}
	o, convs, _ := newOrchestrator(t, fake)
	ctx := context.Background()

	conv, err := convs.Create(ctx, "contact-1", "whatsapp")
	require.NoError(t, err)
	require.NoError(t, convs.Assign(ctx, conv.ID, "sales"))

	result, err := o.HandleMessage(ctx, incoming("about my invoice"), conv, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, fake.transferCalls)
	assert.Equal(t, 0, fake.routeCalls)
	assert.Equal(t, "billing", conv.AssignedResponderID)
	assert.Equal(t, "sales", conv.Context.TransferredFrom)
	require.NotNil(t, result.RoutingDecision)
	assert.Equal(t, "billing", result.RoutingDecision.ResponderID)
	assert.Equal(t, []string{"billing"}, fake.runCalls)
}

func TestResponderErrorLeavesStatusUnchanged(t *testing.T) {
	fake := &fakeCapability{
		runErr: errors.New("model unavailable"),
	}
	o, convs, costs := newOrchestrator(t, fake)
	ctx := context.Background()

	conv, err := convs.Create(ctx, "contact-1", "whatsapp")
	require.NoError(t, err)
	require.NoError(t, convs.Assign(ctx, conv.ID, "general"))

	_, err = o.HandleMessage(ctx, incoming("hello"), conv, nil)
	require.Error(t, err)

	assert.Equal(t, model.StatusActive, conv.Status, "status must not advance to waiting on responder failure")
	assert.Equal(t, 0, costs.DailyCost().TotalCalls)
}

func TestClosedConversationReopensOnNewMessage(t *testing.T) {
	fake := &fakeCapability{}
	o, convs, _ := newOrchestrator(t, fake)
	ctx := context.Background()

	conv, err := convs.Create(ctx, "contact-1", "whatsapp")
	require.NoError(t, err)
	require.NoError(t, convs.Assign(ctx, conv.ID, "general"))
	require.NoError(t, convs.Close(ctx, conv.ID, "resolved"))

	result, err := o.HandleMessage(ctx, incoming("me again"), conv, nil)
	require.NoError(t, err)

	assert.Equal(t, model.StatusWaiting, result.Conversation.Status)
	assert.NotEmpty(t, result.OutgoingMessage.Content)
}

func TestValidationErrors(t *testing.T) {
	o, _, _ := newOrchestrator(t, &fakeCapability{})
	ctx := context.Background()

	_, err := o.HandleMessage(ctx, &model.RawMessage{}, nil, nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = o.HandleMessage(ctx, incoming("hi"), nil, nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
