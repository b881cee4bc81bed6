// Package batch coalesces bursts of inbound fragments into one message.
package batch

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-engine/pkg/logger"
	"github.com/capitalize-ai/conversation-engine/pkg/metrics"
)

// DefaultDelay is the quiet period waited before a batch is flushed.
const DefaultDelay = 3 * time.Second

// ReadyFunc receives the combined text once a batch's quiet period elapses.
type ReadyFunc func(key, combined string)

// Batcher is a per-key debounce aggregator. Each new fragment resets the
// key's timer (sliding window), so a burst flushes once, after the sender
// pauses for the full delay. Keys are independent; their timers fire
// concurrently.
type Batcher struct {
	mu      sync.Mutex
	delay   time.Duration
	pending map[string]*pendingBatch
	onReady ReadyFunc
	log     *logger.Logger
}

type pendingBatch struct {
	fragments []string
	timer     *time.Timer
	gen       uint64
}

// New creates a Batcher that invokes onReady after delay of quiet per key.
func New(delay time.Duration, onReady ReadyFunc, log *logger.Logger) *Batcher {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Batcher{
		delay:   delay,
		pending: make(map[string]*pendingBatch),
		onReady: onReady,
		log:     log,
	}
}

// Add appends text to the key's pending batch, creating one if needed, and
// resets the quiet-period timer. The old timer is cancelled under the same
// lock that starts the new one, so a stale fire can never deliver a stale
// combined message.
func (b *Batcher) Add(key, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.pending[key]
	if ok {
		entry.timer.Stop()
		entry.fragments = append(entry.fragments, text)
	} else {
		entry = &pendingBatch{fragments: []string{text}}
		b.pending[key] = entry
	}

	entry.gen++
	gen := entry.gen
	entry.timer = time.AfterFunc(b.delay, func() {
		b.flush(key, gen)
	})
}

// Cancel clears a pending batch without firing the callback.
func (b *Batcher) Cancel(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if entry, ok := b.pending[key]; ok {
		entry.timer.Stop()
		delete(b.pending, key)
	}
}

// CancelAll clears every pending batch. Used at shutdown so no timer fires
// into a dead owner.
func (b *Batcher) CancelAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, entry := range b.pending {
		entry.timer.Stop()
		delete(b.pending, key)
	}
}

// PendingKeys returns the number of keys with an outstanding batch.
func (b *Batcher) PendingKeys() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Batcher) flush(key string, gen uint64) {
	b.mu.Lock()
	entry, ok := b.pending[key]
	if !ok || entry.gen != gen {
		// A newer fragment restarted the window, or the batch was cancelled.
		b.mu.Unlock()
		return
	}
	delete(b.pending, key)
	b.mu.Unlock()

	combined := strings.Join(entry.fragments, "\n")
	metrics.RecordBatchFlush(len(entry.fragments))

	// A failed downstream delivery must not crash the batcher; there is no
	// retry, the sender has to re-send.
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("batch callback panicked",
				zap.String("key", key),
				zap.Any("panic", r),
			)
		}
	}()
	b.onReady(key, combined)
}
