package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"repairbot/internal/agent"
	"repairbot/internal/chat"
	"repairbot/internal/llm"
	"repairbot/internal/pipeline"
)

// streamMessage is one SSE payload.
type streamMessage struct {
	Type     pipeline.EventType `json:"type"`
	Content  string             `json:"content,omitempty"`
	Stage    string             `json:"stage,omitempty"`
	Attempt  int                `json:"attempt,omitempty"`
	ThreadID string             `json:"thread_id,omitempty"`
	TurnID   string             `json:"turn_id,omitempty"`
}

// eventStream writes "data: {json}\n\n" frames and flushes each one.
type eventStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	err     error
}

func (s *eventStream) send(msg streamMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.err = err
		return
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		s.err = err
		return
	}
	s.flusher.Flush()
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := &eventStream{w: w, flusher: flusher}
	ctx := pipeline.WithEventSink(r.Context(), func(ev pipeline.Event) {
		if msg, ok := translateEvent(ev); ok {
			stream.send(msg)
		}
	})

	res, err := s.chat.Send(ctx, chat.Request{
		OwnerID:  ownerFrom(r.Context()),
		ThreadID: req.ThreadID,
		Message:  req.Message,
	})
	if err != nil {
		if errors.Is(r.Context().Err(), context.Canceled) {
			s.log.Debugw("client went away mid-stream", "request_id", requestID(r.Context()))
			return
		}
		s.log.Errorw("streamed turn failed", "error", err, "request_id", requestID(r.Context()))
		stream.send(streamMessage{Type: pipeline.EventError, Content: "Error: " + friendlyError(err)})
		return
	}
	stream.send(streamMessage{Type: pipeline.EventDone, ThreadID: res.ThreadID, TurnID: res.TurnID})
}

// translateEvent maps pipeline events onto client messages. Stage starts
// with nothing to show are dropped.
func translateEvent(ev pipeline.Event) (streamMessage, bool) {
	switch ev.Type {
	case pipeline.EventStatus:
		text := agent.StatusMessage(ev.Stage, ev.Content)
		if text == "" {
			return streamMessage{}, false
		}
		return streamMessage{Type: ev.Type, Content: text, Stage: ev.Stage}, true
	case pipeline.EventToken:
		return streamMessage{Type: ev.Type, Content: ev.Content}, true
	case pipeline.EventRetry:
		return streamMessage{Type: ev.Type, Attempt: ev.Attempt, Content: "⏳ Rate limited, retrying..."}, true
	default:
		return streamMessage{}, false
	}
}

func isRateLimited(err error) bool {
	return llm.IsRateLimited(err)
}

// replyUnavailable is shown for any failure without a more specific
// message. The cause is only logged.
const replyUnavailable = "something went wrong while preparing your answer, please try again"

// friendlyError maps a failed turn to text safe to show the user.
func friendlyError(err error) string {
	switch {
	case isRateLimited(err):
		return "the assistant is receiving too many requests, please try again in a minute"
	case errors.Is(err, context.DeadlineExceeded):
		return "the request timed out"
	case errors.Is(err, chat.ErrNoOwner):
		return "a user identity is required"
	}
	return replyUnavailable
}
