package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversation-engine/internal/channel"
	"github.com/capitalize-ai/conversation-engine/internal/conversation"
	"github.com/capitalize-ai/conversation-engine/internal/cost"
	"github.com/capitalize-ai/conversation-engine/internal/events"
	"github.com/capitalize-ai/conversation-engine/internal/model"
	"github.com/capitalize-ai/conversation-engine/internal/orchestrator"
	"github.com/capitalize-ai/conversation-engine/internal/responder"
	"github.com/capitalize-ai/conversation-engine/internal/window"
	"github.com/capitalize-ai/conversation-engine/pkg/logger"
)

type scriptedCapability struct {
	handoff bool
}

func (s *scriptedCapability) Route(ctx context.Context, content string, history []model.Message) (*responder.RouteResult, error) {
	return &responder.RouteResult{ResponderID: "general", Confidence: 0.9}, nil
}

func (s *scriptedCapability) CheckTransfer(ctx context.Context, content, currentResponderID string) (*responder.TransferCheck, error) {
	return &responder.TransferCheck{}, nil
}

func (s *scriptedCapability) Run(ctx context.Context, responderID, content string, history []model.Message, contact *model.Contact) (*responder.RunResult, error) {
	return &responder.RunResult{
		Message:       "reply to: " + content,
		Confidence:    0.8,
		ShouldHandoff: s.handoff,
		Usage:         responder.Usage{InputTokens: 10, OutputTokens: 5, Model: "m"},
	}, nil
}

// memoryAdapter records outbound sends.
type memoryAdapter struct {
	mu    sync.Mutex
	sends []*model.Message
}

func (a *memoryAdapter) Name() string                                 { return "whatsapp" }
func (a *memoryAdapter) VerifySignature(sig string, body []byte) bool { return true }
func (a *memoryAdapter) ParseIncoming(body []byte) (*model.RawMessage, error) {
	return nil, nil
}

func (a *memoryAdapter) Send(ctx context.Context, to string, msg *model.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sends = append(a.sends, msg)
	return nil
}

func (a *memoryAdapter) sent() []*model.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*model.Message, len(a.sends))
	copy(out, a.sends)
	return out
}

type memorySink struct {
	mu     sync.Mutex
	events []*events.Event
}

func (s *memorySink) Publish(ctx context.Context, event *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memorySink) types() []events.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Type, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

type failingWindowStore struct{}

func (failingWindowStore) Get(ctx context.Context, conversationID string) (*model.ServiceWindow, error) {
	return nil, errors.New("kv unavailable")
}

func (failingWindowStore) Put(ctx context.Context, w *model.ServiceWindow) error {
	return errors.New("kv unavailable")
}

type fixture struct {
	engine  *Engine
	adapter *memoryAdapter
	sink    *memorySink
	convs   *conversation.Manager
	windows *window.Manager
}

func newFixture(t *testing.T, delay time.Duration, store window.Store, capability *scriptedCapability) *fixture {
	t.Helper()

	log := logger.NewNop()
	convs := conversation.NewManager(log)
	contacts := conversation.NewContactManager()
	windows := window.NewManager(store, log)
	costs := cost.NewTracker(cost.DefaultPricing)
	orch := orchestrator.New(convs, capability, costs, log)

	adapter := &memoryAdapter{}
	registry := channel.NewRegistry()
	registry.Register(adapter)

	sink := &memorySink{}
	engine := New(Options{
		DedupCapacity: 100,
		BatchDelay:    delay,
		Contacts:      contacts,
		Conversations: convs,
		Windows:       windows,
		Orchestrator:  orch,
		Channels:      registry,
		Sink:          sink,
		Logger:        log,
	})
	t.Cleanup(engine.Shutdown)

	return &fixture{engine: engine, adapter: adapter, sink: sink, convs: convs, windows: windows}
}

func raw(id, content string) *model.RawMessage {
	return &model.RawMessage{
		Channel:       "whatsapp",
		ChannelUserID: "555",
		Content:       content,
		SenderName:    "Ada",
		MessageID:     id,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestEnqueueBatchesFragmentsIntoOneReply(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond, window.NewMemoryStore(), &scriptedCapability{})

	f.engine.Enqueue(raw("m1", "hi"))
	f.engine.Enqueue(raw("m2", "I need help"))
	f.engine.Enqueue(raw("m3", "with my order"))

	waitFor(t, func() bool { return len(f.adapter.sent()) == 1 })

	sent := f.adapter.sent()
	assert.Equal(t, "reply to: hi\nI need help\nwith my order", sent[0].Content)
	assert.Contains(t, f.sink.types(), events.TypeMessageProcessed)
}

func TestDuplicateDeliveryIsDropped(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond, window.NewMemoryStore(), &scriptedCapability{})

	f.engine.Enqueue(raw("m1", "hello"))
	f.engine.Enqueue(raw("m1", "hello"))

	waitFor(t, func() bool { return len(f.adapter.sent()) == 1 })

	assert.Equal(t, "reply to: hello", f.adapter.sent()[0].Content)
}

func TestAdEntryPointSurvivesBatching(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond, window.NewMemoryStore(), &scriptedCapability{})

	first := raw("m1", "saw your ad")
	first.Metadata = map[string]string{channel.MetadataEntryPoint: string(model.EntryPointCTWAAd)}
	f.engine.Enqueue(first)
	f.engine.Enqueue(raw("m2", "is it still available?"))

	waitFor(t, func() bool { return len(f.adapter.sent()) == 1 })

	convs := f.convs.List(context.Background())
	require.Len(t, convs, 1)

	status, err := f.windows.Status(context.Background(), convs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.EntryPointCTWAAd, status.EntryPoint)
	assert.InDelta(t, 72*60*60, status.RemainingSeconds, 2)
}

func TestHandleIncomingMessageSynchronous(t *testing.T) {
	f := newFixture(t, time.Second, window.NewMemoryStore(), &scriptedCapability{})

	result, err := f.engine.HandleIncomingMessage(context.Background(), raw("m1", "hello"))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, model.StatusWaiting, result.Conversation.Status)
	assert.Equal(t, "general", result.ResponderID)
	assert.Equal(t, "reply to: hello", result.OutgoingMessage.Content)
	assert.True(t, result.Window.IsOpen)
	assert.InDelta(t, 24*60*60, result.Window.RemainingSeconds, 1)

	// Outbound delivery still happens on the synchronous path.
	waitFor(t, func() bool { return len(f.adapter.sent()) == 1 })
}

func TestHandleIncomingMessageDuplicateReturnsNil(t *testing.T) {
	f := newFixture(t, time.Second, window.NewMemoryStore(), &scriptedCapability{})
	ctx := context.Background()

	first, err := f.engine.HandleIncomingMessage(ctx, raw("m1", "hello"))
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.engine.HandleIncomingMessage(ctx, raw("m1", "hello"))
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestWindowStoreFailureDegradesButStillReplies(t *testing.T) {
	f := newFixture(t, time.Second, failingWindowStore{}, &scriptedCapability{})

	result, err := f.engine.HandleIncomingMessage(context.Background(), raw("m1", "hello"))
	require.NoError(t, err)

	assert.False(t, result.Window.IsOpen)
	assert.NotNil(t, result.OutgoingMessage)
	assert.Contains(t, f.sink.types(), events.TypeWindowDegraded)
	assert.Contains(t, f.sink.types(), events.TypeMessageProcessed)
}

func TestHandoffPublishesHandoffEvent(t *testing.T) {
	f := newFixture(t, time.Second, window.NewMemoryStore(), &scriptedCapability{handoff: true})

	result, err := f.engine.HandleIncomingMessage(context.Background(), raw("m1", "I need a human"))
	require.NoError(t, err)

	assert.Equal(t, model.StatusHandoff, result.Conversation.Status)
	assert.Equal(t, orchestrator.HandoffNotice, result.OutgoingMessage.Content)
	assert.Contains(t, f.sink.types(), events.TypeHandoff)
	assert.NotContains(t, f.sink.types(), events.TypeMessageProcessed)
}

func TestShutdownCancelsPendingBatches(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond, window.NewMemoryStore(), &scriptedCapability{})

	f.engine.Enqueue(raw("m1", "hello"))
	f.engine.Shutdown()

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, f.adapter.sent())
}
