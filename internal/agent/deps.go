// Package agent assembles the repair assistant's pipeline: the stages that
// look a question up in the official repair directory, fall back to web
// search, and render the answer with a language model.
package agent

import (
	"context"
	"time"

	"repairbot/internal/llm"
	"repairbot/internal/turn"
)

// Directory is the official device and guide directory.
type Directory interface {
	SearchDevice(ctx context.Context, query string) (string, error)
	ListGuides(ctx context.Context, deviceTitle string) (string, error)
	GetGuide(ctx context.Context, guideID string) (string, error)
}

// WebSearcher is the unofficial fallback source.
type WebSearcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// UsageRecorder receives the token total of a finished turn.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, ownerID string, tokens int) error
}

// TurnPersister appends a message to a stored conversation.
type TurnPersister interface {
	AppendTurn(ctx context.Context, ownerID, threadID string, role turn.Role, content string) error
}

// Deps are the collaborators a pipeline is built from. Usage and Persister
// may be nil; everything the chosen variant calls must be set.
type Deps struct {
	Directory Directory
	Web       WebSearcher
	Model     llm.Client     // sequential variant
	ToolModel llm.ToolCaller // tool-calling variant
	Usage     UsageRecorder
	Persister TurnPersister

	Retry llm.Policy
	// Sleep waits between retries; nil uses llm.SleepContext.
	Sleep llm.Sleeper

	MaxToolIterations int
	MaxSteps          int
	// SlowStage marks stages worth a warning in the log; zero disables.
	SlowStage time.Duration
}
