package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"repairbot/internal/logging"
	"repairbot/internal/turn"
)

// Message is one stored conversation entry.
type Message struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"user_id"`
	ThreadID  string    `json:"thread_id"`
	Role      turn.Role `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendMessage stores one message at the end of a thread.
func (s *Store) AppendMessage(ctx context.Context, ownerID, threadID string, role turn.Role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, thread_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		ownerID, threadID, string(role), content, s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	logging.StoreDebug("message stored: owner=%s thread=%s role=%s", ownerID, threadID, role)
	return nil
}

// AppendTurn satisfies the pipeline's persistence call-out.
func (s *Store) AppendTurn(ctx context.Context, ownerID, threadID string, role turn.Role, content string) error {
	return s.AppendMessage(ctx, ownerID, threadID, role, content)
}

// History returns the newest limit messages of a thread, oldest first.
// limit <= 0 returns the whole thread.
func (s *Store) History(ctx context.Context, ownerID, threadID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, thread_id, role, content, created_at
		 FROM conversations
		 WHERE user_id = ? AND thread_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		ownerID, threadID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var role, created string
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.ThreadID, &role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = turn.Role(role)
		m.CreatedAt = parseTimestamp(created)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	slices.Reverse(msgs)
	return msgs, nil
}

// CountMessages returns the number of messages in a thread.
func (s *Store) CountMessages(ctx context.Context, ownerID, threadID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE user_id = ? AND thread_id = ?`,
		ownerID, threadID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// Threads lists an owner's thread ids, most recently active first.
func (s *Store) Threads(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id FROM conversations WHERE user_id = ?
		 GROUP BY thread_id ORDER BY MAX(id) DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var threads []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// ClearThread deletes every message in a thread and reports how many went.
func (s *Store) ClearThread(ctx context.Context, ownerID, threadID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE user_id = ? AND thread_id = ?`,
		ownerID, threadID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clear thread: %w", err)
	}
	n, _ := res.RowsAffected()
	logging.StoreDebug("cleared %d messages: owner=%s thread=%s", n, ownerID, threadID)
	return n, nil
}

// ThreadSpan is the first and last activity in a thread.
type ThreadSpan struct {
	Messages     int       `json:"total_messages"`
	Started      time.Time `json:"session_start"`
	LastActivity time.Time `json:"last_activity"`
}

// Span summarizes a thread. An empty thread has zero times.
func (s *Store) Span(ctx context.Context, ownerID, threadID string) (ThreadSpan, error) {
	var span ThreadSpan
	var first, last *string
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at), MAX(created_at)
		 FROM conversations WHERE user_id = ? AND thread_id = ?`,
		ownerID, threadID,
	).Scan(&span.Messages, &first, &last)
	if err != nil {
		return span, fmt.Errorf("failed to summarize thread: %w", err)
	}
	if first != nil {
		span.Started = parseTimestamp(*first)
	}
	if last != nil {
		span.LastActivity = parseTimestamp(*last)
	}
	return span, nil
}
