// Package turn defines the record that travels through the repair pipeline
// for a single user turn, and the partial updates stages return.
package turn

import "maps"

// Role identifies the speaker of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one transcript entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ResultKind classifies a lookup result.
type ResultKind string

const (
	KindDeviceSearch ResultKind = "device_search"
	KindGuidesList   ResultKind = "guides_list"
	KindGuideDetail  ResultKind = "guide_detail"
	KindWebSearch    ResultKind = "web_search"
	KindError        ResultKind = "error"
)

// Result is the text returned by one external lookup.
type Result struct {
	Kind    ResultKind `json:"kind"`
	Content string     `json:"content"`
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolExchange pairs a tool call with the text it produced.
type ToolExchange struct {
	Call   ToolCall `json:"call"`
	Result string   `json:"result"`
}

// State is created fresh for every turn and discarded after checkpointing.
type State struct {
	TurnID   string
	OwnerID  string
	ThreadID string

	Transcript []Message

	RawQuery        string
	NormalizedQuery string

	DirectoryResults []Result
	DeviceTitle      string

	// Routed is set once the routing decision has been made;
	// OfficialSourceFound is meaningless before that.
	OfficialSourceFound bool
	Routed              bool

	WebResults []Result

	CombinedContext  string
	HasUsableResults bool

	RenderPrompt string
	FinalReply   string

	PromptTokens     int
	CompletionTokens int
	TotalTokens      int

	// Tool-calling graph only.
	PendingToolCalls []ToolCall
	ToolExchanges    []ToolExchange
	ToolIterations   int
}

// LastUserMessage returns the content of the newest user message, or "".
func (s State) LastUserMessage() string {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Role == RoleUser {
			return s.Transcript[i].Content
		}
	}
	return ""
}

// Clone returns a deep copy so that stages and later turns never share
// backing arrays with the caller.
func (s State) Clone() State {
	c := s
	c.Transcript = cloneSlice(s.Transcript)
	c.DirectoryResults = cloneSlice(s.DirectoryResults)
	c.WebResults = cloneSlice(s.WebResults)
	c.PendingToolCalls = cloneCalls(s.PendingToolCalls)
	if s.ToolExchanges != nil {
		c.ToolExchanges = make([]ToolExchange, len(s.ToolExchanges))
		for i, ex := range s.ToolExchanges {
			c.ToolExchanges[i] = ToolExchange{Call: cloneCall(ex.Call), Result: ex.Result}
		}
	}
	return c
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func cloneCall(c ToolCall) ToolCall {
	c.Args = maps.Clone(c.Args)
	return c
}

func cloneCalls(in []ToolCall) []ToolCall {
	if in == nil {
		return nil
	}
	out := make([]ToolCall, len(in))
	for i, c := range in {
		out[i] = cloneCall(c)
	}
	return out
}
