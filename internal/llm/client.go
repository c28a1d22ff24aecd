// Package llm wraps the Gemini API behind small interfaces the pipeline can
// fake in tests, and provides the rate-limit backoff used around streaming.
package llm

import (
	"context"
	"iter"

	"repairbot/internal/tools"
	"repairbot/internal/turn"
)

// Client renders prompts into text.
type Client interface {
	// Generate returns the full completion.
	Generate(ctx context.Context, prompt string) (string, error)

	// StreamGenerate yields completion chunks as they arrive. A non-nil
	// error ends the sequence.
	StreamGenerate(ctx context.Context, prompt string) iter.Seq2[string, error]
}

// ConverseRequest is one model turn of the tool-calling loop.
type ConverseRequest struct {
	System     string
	Transcript []turn.Message
	Exchanges  []turn.ToolExchange
	Tools      []*tools.Tool // nil forces a plain text answer
}

// ConverseResponse carries either text, tool calls, or both.
type ConverseResponse struct {
	Text             string
	Calls            []turn.ToolCall
	PromptTokens     int
	CompletionTokens int
}

// ToolCaller is a model that can request tool calls.
type ToolCaller interface {
	Converse(ctx context.Context, req ConverseRequest) (*ConverseResponse, error)
}

// EstimateTokens approximates token count at four characters per token.
func EstimateTokens(s string) int {
	return len(s) / 4
}
