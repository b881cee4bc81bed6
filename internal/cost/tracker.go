// Package cost aggregates per-call token usage and estimated spend.
package cost

import (
	"sync"
	"time"
)

// Pricing holds USD rates per million tokens. Cached input is priced at a
// discounted rate distinct from uncached input.
type Pricing struct {
	InputPerMTok       float64
	CachedInputPerMTok float64
	OutputPerMTok      float64
}

// DefaultPricing mirrors common frontier-model list prices.
var DefaultPricing = Pricing{
	InputPerMTok:       3.0,
	CachedInputPerMTok: 0.3,
	OutputPerMTok:      15.0,
}

// Record is one tracked responder call. Never mutated, only aggregated.
type Record struct {
	ResponderID  string    `json:"responder_id"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CacheHit     bool      `json:"cache_hit"`
	Model        string    `json:"model"`
	Timestamp    time.Time `json:"timestamp"`
}

// Summary is an aggregation over a set of records.
type Summary struct {
	TotalCalls        int     `json:"total_calls"`
	TotalInputTokens  int     `json:"total_input_tokens"`
	TotalOutputTokens int     `json:"total_output_tokens"`
	EstimatedCost     float64 `json:"estimated_cost"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
}

// Tracker is an append-only usage log. Records accumulate for the process
// lifetime; rollup and persistence are external concerns.
type Tracker struct {
	mu      sync.Mutex
	records []Record
	pricing Pricing
	now     func() time.Time
}

// NewTracker creates a tracker with the given pricing.
func NewTracker(pricing Pricing) *Tracker {
	return &Tracker{
		pricing: pricing,
		now:     time.Now,
	}
}

// Track appends one cost record.
func (t *Tracker) Track(responderID string, inputTokens, outputTokens int, cacheHit bool, model string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = append(t.records, Record{
		ResponderID:  responderID,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CacheHit:     cacheHit,
		Model:        model,
		Timestamp:    t.now(),
	})
}

// DailyCost aggregates records with a timestamp on the current calendar day
// (local midnight boundary).
func (t *Tracker) DailyCost() Summary {
	now := t.now()
	return t.aggregate(func(r Record) bool {
		y1, m1, d1 := r.Timestamp.Local().Date()
		y2, m2, d2 := now.Local().Date()
		return y1 == y2 && m1 == m2 && d1 == d2
	})
}

// ResponderCost aggregates all records for one responder.
func (t *Tracker) ResponderCost(responderID string) Summary {
	return t.aggregate(func(r Record) bool {
		return r.ResponderID == responderID
	})
}

func (t *Tracker) aggregate(match func(Record) bool) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Summary
	hits := 0
	for _, r := range t.records {
		if !match(r) {
			continue
		}
		s.TotalCalls++
		s.TotalInputTokens += r.InputTokens
		s.TotalOutputTokens += r.OutputTokens
		s.EstimatedCost += t.recordCost(r)
		if r.CacheHit {
			hits++
		}
	}
	if s.TotalCalls > 0 {
		s.CacheHitRate = float64(hits) / float64(s.TotalCalls)
	}
	return s
}

func (t *Tracker) recordCost(r Record) float64 {
	inputRate := t.pricing.InputPerMTok
	if r.CacheHit {
		inputRate = t.pricing.CachedInputPerMTok
	}
	inputCost := float64(r.InputTokens) / 1e6 * inputRate
	outputCost := float64(r.OutputTokens) / 1e6 * t.pricing.OutputPerMTok
	return inputCost + outputCost
}
