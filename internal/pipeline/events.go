package pipeline

import (
	"context"
	"time"
)

// EventType classifies progress events sent to the transport.
type EventType string

const (
	EventStatus EventType = "status" // a stage is starting
	EventToken  EventType = "token"  // a streamed chunk of the reply
	EventRetry  EventType = "retry"  // discard streamed tokens, a new attempt follows
	EventDone   EventType = "done"
	EventError  EventType = "error"
)

// Event is one progress notification for a running turn.
type Event struct {
	Type    EventType `json:"type"`
	Stage   string    `json:"stage,omitempty"`
	Content string    `json:"content,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
}

// EventSink receives events. Implementations must not block for long; the
// turn waits on them.
type EventSink func(Event)

type sinkKey struct{}

// WithEventSink attaches a per-turn sink to ctx.
func WithEventSink(ctx context.Context, sink EventSink) context.Context {
	return context.WithValue(ctx, sinkKey{}, sink)
}

// Emit sends ev to the sink in ctx, if any.
func Emit(ctx context.Context, ev Event) {
	if sink, ok := ctx.Value(sinkKey{}).(EventSink); ok && sink != nil {
		sink(ev)
	}
}

// Observer is notified around every stage execution.
type Observer interface {
	StageStarted(ctx context.Context, stage string)
	StageFinished(ctx context.Context, stage string, elapsed time.Duration, err error)
}
