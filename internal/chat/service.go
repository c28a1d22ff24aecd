// Package chat is the turn boundary: it stores the user's message, loads
// the thread's history, runs the pipeline and reports the outcome.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"repairbot/internal/logging"
	"repairbot/internal/store"
	"repairbot/internal/turn"
	"repairbot/internal/usage"

	"github.com/google/uuid"
)

// ErrNoOwner is returned when a request carries no owner identity.
var ErrNoOwner = errors.New("owner id required")

// DefaultHistoryLimit bounds how many stored messages seed a turn.
const DefaultHistoryLimit = 50

// Runner executes one turn. *pipeline.Graph satisfies it.
type Runner interface {
	Run(ctx context.Context, in turn.State) (turn.State, error)
}

// Store is the conversation storage the service needs.
type Store interface {
	AppendMessage(ctx context.Context, ownerID, threadID string, role turn.Role, content string) error
	History(ctx context.Context, ownerID, threadID string, limit int) ([]store.Message, error)
	ClearThread(ctx context.Context, ownerID, threadID string) (int64, error)
	Span(ctx context.Context, ownerID, threadID string) (store.ThreadSpan, error)
}

// UsageReader reports an owner's accumulated usage.
type UsageReader interface {
	Usage(ctx context.Context, ownerID string) (store.Usage, error)
}

// Config tunes the service.
type Config struct {
	HistoryLimit int
	// Model tags usage records; informational only.
	Model string
	// TurnTimeout bounds a whole turn; zero means no limit beyond ctx.
	TurnTimeout time.Duration
}

// Service runs chat turns. Turns on the same thread are serialized.
type Service struct {
	runner Runner
	store  Store
	usage  UsageReader
	cfg    Config

	locksMu sync.Mutex
	locks   map[string]*threadLock // held or awaited thread locks only
	newID   func() string
}

// NewService creates a chat service.
func NewService(runner Runner, st Store, u UsageReader, cfg Config) *Service {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	return &Service{
		runner: runner,
		store:  st,
		usage:  u,
		cfg:    cfg,
		locks:  map[string]*threadLock{},
		newID:  uuid.NewString,
	}
}

// DefaultThreadID is the thread used when a request names none.
func DefaultThreadID(ownerID string) string {
	return "user-" + ownerID
}

// Request is one user message.
type Request struct {
	OwnerID  string
	ThreadID string // empty selects DefaultThreadID
	Message  string
}

// Result is the outcome of a turn.
type Result struct {
	TurnID           string `json:"turn_id"`
	ThreadID         string `json:"thread_id"`
	Reply            string `json:"response"`
	OfficialSource   bool   `json:"official_source"`
	DeviceTitle      string `json:"device_title,omitempty"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Send runs one turn. Storage failures are logged and do not stop the
// turn; pipeline failures are returned.
func (s *Service) Send(ctx context.Context, req Request) (*Result, error) {
	if req.OwnerID == "" {
		return nil, ErrNoOwner
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = DefaultThreadID(req.OwnerID)
	}
	turnID := s.newID()
	log := logging.Get(logging.CategoryChat).With("turn_id", turnID, "owner", req.OwnerID, "thread", threadID)

	unlock := s.lockThread(req.OwnerID, threadID)
	defer unlock()

	if err := s.store.AppendMessage(ctx, req.OwnerID, threadID, turn.RoleUser, req.Message); err != nil {
		log.Warnw("failed to save user message", "error", err)
	}

	history, err := s.store.History(ctx, req.OwnerID, threadID, s.cfg.HistoryLimit)
	if err != nil {
		log.Warnw("failed to load history", "error", err)
		history = nil
	}

	in := turn.State{
		TurnID:     turnID,
		OwnerID:    req.OwnerID,
		ThreadID:   threadID,
		Transcript: seedTranscript(history, req.Message),
	}
	log.Infow("turn started", "history", len(in.Transcript)-1)

	start := time.Now()
	if s.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TurnTimeout)
		defer cancel()
	}
	ctx = usage.WithTurnContext(ctx, s.cfg.Model, threadID)
	out, err := s.runner.Run(ctx, in)
	if err != nil {
		log.Errorw("turn failed", "error", err, "elapsed", time.Since(start))
		return nil, fmt.Errorf("turn %s failed: %w", turnID, err)
	}
	log.Infow("turn finished", "official", out.OfficialSourceFound, "tokens", out.TotalTokens, "elapsed", time.Since(start))

	return &Result{
		TurnID:           turnID,
		ThreadID:         threadID,
		Reply:            out.FinalReply,
		OfficialSource:   out.OfficialSourceFound,
		DeviceTitle:      out.DeviceTitle,
		PromptTokens:     out.PromptTokens,
		CompletionTokens: out.CompletionTokens,
		TotalTokens:      out.TotalTokens,
	}, nil
}

// seedTranscript converts stored history into the turn's transcript and
// makes sure it ends with the current message, even if saving it failed.
func seedTranscript(history []store.Message, message string) []turn.Message {
	transcript := make([]turn.Message, 0, len(history)+1)
	for _, m := range history {
		transcript = append(transcript, turn.Message{Role: m.Role, Content: m.Content})
	}
	if n := len(transcript); n == 0 || transcript[n-1] != (turn.Message{Role: turn.RoleUser, Content: message}) {
		transcript = append(transcript, turn.Message{Role: turn.RoleUser, Content: message})
	}
	return transcript
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

// lockThread serializes work on one thread. The entry is dropped once the
// last holder or waiter releases it.
func (s *Service) lockThread(ownerID, threadID string) (unlock func()) {
	key := ownerID + "\x00" + threadID

	s.locksMu.Lock()
	l := s.locks[key]
	if l == nil {
		l = &threadLock{}
		s.locks[key] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		if l.refs--; l.refs == 0 {
			delete(s.locks, key)
		}
		s.locksMu.Unlock()
	}
}

// HistoryView is a thread's stored messages.
type HistoryView struct {
	ThreadID     string          `json:"thread_id"`
	MessageCount int             `json:"message_count"`
	Messages     []store.Message `json:"messages"`
}

// History returns up to limit of the newest messages, oldest first.
func (s *Service) History(ctx context.Context, ownerID, threadID string, limit int) (*HistoryView, error) {
	if ownerID == "" {
		return nil, ErrNoOwner
	}
	if threadID == "" {
		threadID = DefaultThreadID(ownerID)
	}
	msgs, err := s.store.History(ctx, ownerID, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve history: %w", err)
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	return &HistoryView{ThreadID: threadID, MessageCount: len(msgs), Messages: msgs}, nil
}

// Clear deletes a thread's messages.
func (s *Service) Clear(ctx context.Context, ownerID, threadID string) (int64, error) {
	if ownerID == "" {
		return 0, ErrNoOwner
	}
	if threadID == "" {
		threadID = DefaultThreadID(ownerID)
	}
	unlock := s.lockThread(ownerID, threadID)
	defer unlock()
	return s.store.ClearThread(ctx, ownerID, threadID)
}

// SessionInfo summarizes a thread and the owner's usage.
type SessionInfo struct {
	OwnerID         string     `json:"user_id"`
	ThreadID        string     `json:"thread_id"`
	TotalMessages   int        `json:"total_messages"`
	TotalTokensUsed int64      `json:"total_tokens_used"`
	SessionStart    *time.Time `json:"session_start"`
	LastActivity    *time.Time `json:"last_activity"`
}

// Session reports thread activity alongside the owner's token total.
func (s *Service) Session(ctx context.Context, ownerID, threadID string) (*SessionInfo, error) {
	if ownerID == "" {
		return nil, ErrNoOwner
	}
	if threadID == "" {
		threadID = DefaultThreadID(ownerID)
	}
	span, err := s.store.Span(ctx, ownerID, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve session info: %w", err)
	}
	u, err := s.Usage(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	info := &SessionInfo{
		OwnerID:         ownerID,
		ThreadID:        threadID,
		TotalMessages:   span.Messages,
		TotalTokensUsed: u.TotalTokens,
	}
	if !span.Started.IsZero() {
		info.SessionStart = &span.Started
		info.LastActivity = &span.LastActivity
	}
	return info, nil
}

// Usage returns the owner's accumulated token usage.
func (s *Service) Usage(ctx context.Context, ownerID string) (store.Usage, error) {
	if ownerID == "" {
		return store.Usage{}, ErrNoOwner
	}
	u, err := s.usage.Usage(ctx, ownerID)
	if err != nil {
		return store.Usage{}, fmt.Errorf("failed to retrieve usage: %w", err)
	}
	return u, nil
}
