// Package usage accounts for model tokens consumed per owner.
package usage

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"repairbot/internal/logging"
	"repairbot/internal/store"
)

type turnKey struct{}

type turnInfo struct {
	model    string
	threadID string
}

// Tracker records usage to a Sink and keeps process-local aggregates.
type Tracker struct {
	mu   sync.Mutex
	sink Sink
	data AggregatedStats
}

// NewTracker creates a tracker. A nil sink keeps aggregates in memory only.
func NewTracker(sink Sink) *Tracker {
	return &Tracker{
		sink: sink,
		data: AggregatedStats{
			Started:  time.Now(),
			ByOwner:  make(map[string]TokenCounts),
			ByModel:  make(map[string]TokenCounts),
			ByThread: make(map[string]TokenCounts),
		},
	}
}

// RecordUsage adds tokens for ownerID. Aggregates are always updated; the
// returned error only reports a persistence failure.
func (t *Tracker) RecordUsage(ctx context.Context, ownerID string, tokens int) error {
	info, _ := ctx.Value(turnKey{}).(turnInfo)

	t.mu.Lock()
	t.data.Total.Add(tokens)
	addToMap(t.data.ByOwner, ownerID, tokens)
	if info.model != "" {
		addToMap(t.data.ByModel, info.model, tokens)
	}
	if info.threadID != "" {
		addToMap(t.data.ByThread, info.threadID, tokens)
	}
	t.mu.Unlock()

	if t.sink == nil {
		return nil
	}
	if err := t.sink.AddUsage(ctx, ownerID, tokens); err != nil {
		t.mu.Lock()
		t.data.Failures++
		t.mu.Unlock()
		return fmt.Errorf("failed to persist usage for %s: %w", ownerID, err)
	}
	logging.Get(logging.CategoryUsage).Debugw("usage recorded", "owner", ownerID, "tokens", tokens)
	return nil
}

// Usage returns an owner's persisted totals.
func (t *Tracker) Usage(ctx context.Context, ownerID string) (store.Usage, error) {
	if t.sink == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		c := t.data.ByOwner[ownerID]
		return store.Usage{OwnerID: ownerID, TotalTokens: c.Tokens, RequestCount: c.Requests}, nil
	}
	return t.sink.Usage(ctx, ownerID)
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data
	stats.ByOwner = maps.Clone(stats.ByOwner)
	stats.ByModel = maps.Clone(stats.ByModel)
	stats.ByThread = maps.Clone(stats.ByThread)
	return stats
}

func addToMap(m map[string]TokenCounts, key string, tokens int) {
	entry := m[key]
	entry.Add(tokens)
	m[key] = entry
}

// WithTurnContext tags usage recorded under ctx with the model and thread.
func WithTurnContext(ctx context.Context, model, threadID string) context.Context {
	return context.WithValue(ctx, turnKey{}, turnInfo{model: model, threadID: threadID})
}
