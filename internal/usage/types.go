package usage

import (
	"context"
	"time"

	"repairbot/internal/store"
)

// Sink persists per-owner totals. *store.Store satisfies it.
type Sink interface {
	AddUsage(ctx context.Context, ownerID string, tokens int) error
	Usage(ctx context.Context, ownerID string) (store.Usage, error)
}

// AggregatedStats holds in-process counters since the tracker started.
type AggregatedStats struct {
	Started  time.Time              `json:"started"`
	Total    TokenCounts            `json:"total"`
	ByOwner  map[string]TokenCounts `json:"by_owner"`
	ByModel  map[string]TokenCounts `json:"by_model"`
	ByThread map[string]TokenCounts `json:"by_thread"`
	Failures int64                  `json:"persist_failures"`
}

// TokenCounts holds token and request sums.
type TokenCounts struct {
	Tokens   int64 `json:"tokens"`
	Requests int64 `json:"requests"`
}

func (tc *TokenCounts) Add(tokens int) {
	tc.Tokens += int64(tokens)
	tc.Requests++
}
