package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Usage is an owner's accumulated token consumption.
type Usage struct {
	OwnerID      string    `json:"user_id"`
	TotalTokens  int64     `json:"total_tokens"`
	RequestCount int64     `json:"request_count"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// AddUsage adds tokens to an owner's running total and counts one request.
func (s *Store) AddUsage(ctx context.Context, ownerID string, tokens int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_usage (user_id, total_tokens, request_count, updated_at)
		 VALUES (?, ?, 1, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			total_tokens = total_tokens + excluded.total_tokens,
			request_count = request_count + 1,
			updated_at = excluded.updated_at`,
		ownerID, tokens, s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("failed to add usage: %w", err)
	}
	return nil
}

// Usage returns an owner's totals; unknown owners get zero usage.
func (s *Store) Usage(ctx context.Context, ownerID string) (Usage, error) {
	u := Usage{OwnerID: ownerID}
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT total_tokens, request_count, updated_at FROM user_usage WHERE user_id = ?`,
		ownerID,
	).Scan(&u.TotalTokens, &u.RequestCount, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return u, nil
	}
	if err != nil {
		return u, fmt.Errorf("failed to read usage: %w", err)
	}
	u.UpdatedAt = parseTimestamp(updated)
	return u, nil
}
