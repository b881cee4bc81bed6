// Package pipeline wires dedup, batching, conversation resolution, window
// tracking, orchestration and delivery into the inbound message flow.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-engine/internal/apperr"
	"github.com/capitalize-ai/conversation-engine/internal/batch"
	"github.com/capitalize-ai/conversation-engine/internal/channel"
	"github.com/capitalize-ai/conversation-engine/internal/conversation"
	"github.com/capitalize-ai/conversation-engine/internal/dedup"
	"github.com/capitalize-ai/conversation-engine/internal/events"
	"github.com/capitalize-ai/conversation-engine/internal/model"
	"github.com/capitalize-ai/conversation-engine/internal/orchestrator"
	"github.com/capitalize-ai/conversation-engine/internal/window"
	"github.com/capitalize-ai/conversation-engine/pkg/logger"
	"github.com/capitalize-ai/conversation-engine/pkg/metrics"
	"github.com/capitalize-ai/conversation-engine/pkg/tracing"
)

// processTimeout bounds one async batch processing run, responder call
// included.
const processTimeout = 60 * time.Second

// Result is the outcome of processing one inbound message end to end.
type Result struct {
	Conversation    *model.Conversation    `json:"conversation"`
	OutgoingMessage *model.Message         `json:"outgoing_message,omitempty"`
	ResponderID     string                 `json:"responder_id,omitempty"`
	RoutingDecision *model.RoutingDecision `json:"routing_decision,omitempty"`
	Window          model.WindowStatus     `json:"window"`
}

// Engine runs the conversation ingestion flow. Webhook deliveries are
// acknowledged before processing; everything downstream of the batcher is
// serialized per conversation key and parallel across keys.
type Engine struct {
	deduplicator  *dedup.Deduplicator
	contacts      *conversation.ContactManager
	conversations *conversation.Manager
	windows       *window.Manager
	orchestrator  *orchestrator.Orchestrator
	channels      *channel.Registry
	sink          events.Sink
	locks         *conversation.KeyedMutex
	log           *logger.Logger

	batcher *batch.Batcher

	// senders remembers, per conversation key, the identity fields of the
	// latest fragment so the flushed batch can be attributed.
	mu      sync.Mutex
	senders map[string]*model.RawMessage
}

// Options carries the Engine's collaborators and tuning.
type Options struct {
	DedupCapacity int
	BatchDelay    time.Duration
	Contacts      *conversation.ContactManager
	Conversations *conversation.Manager
	Windows       *window.Manager
	Orchestrator  *orchestrator.Orchestrator
	Channels      *channel.Registry
	Sink          events.Sink
	Logger        *logger.Logger
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.Sink == nil {
		opts.Sink = events.NopSink{}
	}
	e := &Engine{
		deduplicator:  dedup.New(opts.DedupCapacity),
		contacts:      opts.Contacts,
		conversations: opts.Conversations,
		windows:       opts.Windows,
		orchestrator:  opts.Orchestrator,
		channels:      opts.Channels,
		sink:          opts.Sink,
		locks:         conversation.NewKeyedMutex(),
		log:           opts.Logger,
		senders:       make(map[string]*model.RawMessage),
	}
	e.batcher = batch.New(opts.BatchDelay, e.onBatchReady, opts.Logger)
	return e
}

// Enqueue accepts a normalized inbound message from the webhook path. It
// returns immediately; processing happens after the batch quiet period.
// Duplicates short-circuit with no side effects.
func (e *Engine) Enqueue(raw *model.RawMessage) {
	if e.deduplicator.Seen(raw.MessageID) {
		metrics.DuplicatesDropped.WithLabelValues(raw.Channel).Inc()
		e.log.Debug("duplicate message dropped",
			zap.String("channel", raw.Channel),
			zap.String("message_id", raw.MessageID),
		)
		return
	}

	key := raw.ConversationKey()

	e.mu.Lock()
	// An ad referral carried by an earlier fragment must survive the whole
	// batch; later fragments extend the metadata, they do not erase it.
	if prev, ok := e.senders[key]; ok {
		for k, v := range prev.Metadata {
			if _, exists := raw.Metadata[k]; !exists {
				if raw.Metadata == nil {
					raw.Metadata = make(map[string]string)
				}
				raw.Metadata[k] = v
			}
		}
		if raw.SenderName == "" {
			raw.SenderName = prev.SenderName
		}
	}
	e.senders[key] = raw
	e.mu.Unlock()

	e.batcher.Add(key, raw.Content)
}

// HandleIncomingMessage is the synchronous variant used by the API layer:
// dedup applies but batching is skipped. A duplicate returns (nil, nil).
func (e *Engine) HandleIncomingMessage(ctx context.Context, raw *model.RawMessage) (*Result, error) {
	if raw == nil || raw.Channel == "" || raw.ChannelUserID == "" || raw.Content == "" {
		return nil, apperr.Validation("channel, channel user id and content are required")
	}

	if e.deduplicator.Seen(raw.MessageID) {
		metrics.DuplicatesDropped.WithLabelValues(raw.Channel).Inc()
		e.log.Debug("duplicate message dropped",
			zap.String("channel", raw.Channel),
			zap.String("message_id", raw.MessageID),
		)
		return nil, nil
	}

	return e.process(ctx, raw, raw.Content)
}

// Shutdown cancels all pending batch timers so none fires into a dead owner.
func (e *Engine) Shutdown() {
	e.batcher.CancelAll()

	e.mu.Lock()
	e.senders = make(map[string]*model.RawMessage)
	e.mu.Unlock()
}

func (e *Engine) onBatchReady(key, combined string) {
	e.mu.Lock()
	raw, ok := e.senders[key]
	delete(e.senders, key)
	e.mu.Unlock()

	if !ok {
		e.log.Error("batch flushed without sender attribution", zap.String("key", key))
		return
	}

	// Webhook-path failures are logged and dropped, never retried; dedup is
	// the idempotency substitute.
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	if _, err := e.process(ctx, raw, combined); err != nil {
		e.log.Error("failed to process batch",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

func (e *Engine) process(ctx context.Context, raw *model.RawMessage, content string) (*Result, error) {
	ctx, span := tracing.Tracer("pipeline").Start(ctx, "pipeline.process")
	defer span.End()

	// Single logical owner per conversation key.
	unlock := e.locks.Lock(raw.ConversationKey())
	defer unlock()

	contact, err := e.contacts.ResolveOrCreate(ctx, raw.Channel, raw.ChannelUserID, raw.SenderName)
	if err != nil {
		return nil, err
	}

	conv, _, err := e.conversations.ResolveOpen(ctx, contact.ID, raw.Channel)
	if err != nil {
		return nil, err
	}

	// Refresh the legality window on every inbound message. An adapter
	// that detected an ad referral opens the longer ad window instead.
	// Failure degrades to closed and must not block processing.
	var winStatus model.WindowStatus
	if ep := raw.Metadata[channel.MetadataEntryPoint]; ep != "" {
		winStatus, err = e.windows.Open(ctx, conv.ID, model.EntryPoint(ep))
	} else {
		winStatus, err = e.windows.Refresh(ctx, conv.ID)
	}
	if err != nil {
		e.publish(ctx, &events.Event{
			ConversationID: conv.ID,
			Channel:        conv.Channel,
			Type:           events.TypeWindowDegraded,
			Reason:         err.Error(),
		})
	}

	msg := *raw
	msg.Content = content
	outcome, err := e.orchestrator.HandleMessage(ctx, &msg, conv, contact)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Conversation:    outcome.Conversation,
		OutgoingMessage: outcome.OutgoingMessage,
		ResponderID:     outcome.Conversation.AssignedResponderID,
		RoutingDecision: outcome.RoutingDecision,
		Window:          winStatus,
	}

	eventType := events.TypeMessageProcessed
	if outcome.Response != nil && outcome.Response.ShouldHandoff {
		eventType = events.TypeHandoff
	}
	e.publish(ctx, &events.Event{
		ConversationID: conv.ID,
		Channel:        conv.Channel,
		Type:           eventType,
		ResponderID:    result.ResponderID,
	})

	if outcome.OutgoingMessage != nil && outcome.OutgoingMessage.Content != "" {
		e.deliver(ctx, raw, outcome.OutgoingMessage)
	}

	return result, nil
}

func (e *Engine) deliver(ctx context.Context, raw *model.RawMessage, msg *model.Message) {
	adapter, err := e.channels.Get(raw.Channel)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			// No adapter configured for this channel; API-only deployments.
			e.log.Debug("no adapter for channel", zap.String("channel", raw.Channel))
			return
		}
		e.log.Error("failed to resolve channel adapter", zap.Error(err))
		return
	}

	if err := adapter.Send(ctx, raw.ChannelUserID, msg); err != nil {
		e.log.Error("failed to deliver outbound message",
			zap.String("channel", raw.Channel),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
}

func (e *Engine) publish(ctx context.Context, event *events.Event) {
	event.ID = uuid.Must(uuid.NewV7()).String()
	event.CreatedAt = time.Now()

	if err := e.sink.Publish(ctx, event); err != nil {
		e.log.Warn("failed to publish event",
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
	}
}
