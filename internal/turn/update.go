package turn

// Field names a State field that an Update can touch. Stages declare the
// fields they read and write in these terms.
type Field string

const (
	FieldTranscript          Field = "transcript"
	FieldRawQuery            Field = "raw_query"
	FieldNormalizedQuery     Field = "normalized_query"
	FieldDirectoryResults    Field = "directory_results"
	FieldDeviceTitle         Field = "device_title"
	FieldOfficialSourceFound Field = "official_source_found"
	FieldRouted              Field = "routed"
	FieldWebResults          Field = "web_results"
	FieldCombinedContext     Field = "combined_context"
	FieldHasUsableResults    Field = "has_usable_results"
	FieldRenderPrompt        Field = "render_prompt"
	FieldFinalReply          Field = "final_reply"
	FieldPromptTokens        Field = "prompt_tokens"
	FieldCompletionTokens    Field = "completion_tokens"
	FieldTotalTokens         Field = "total_tokens"
	FieldPendingToolCalls    Field = "pending_tool_calls"
	FieldToolExchanges       Field = "tool_exchanges"
	FieldToolIterations      Field = "tool_iterations"

	// Read-only inputs set by the caller before the run.
	FieldOwnerID  Field = "owner_id"
	FieldThreadID Field = "thread_id"
)

// Update is a partial change to State. Nil pointers mean "unchanged".
// AppendTranscript is appended, never replaces; every other slice field
// replaces the whole slice when non-nil.
type Update struct {
	AppendTranscript []Message

	RawQuery            *string
	NormalizedQuery     *string
	DirectoryResults    *[]Result
	DeviceTitle         *string
	OfficialSourceFound *bool
	Routed              *bool
	WebResults          *[]Result
	CombinedContext     *string
	HasUsableResults    *bool
	RenderPrompt        *string
	FinalReply          *string
	PromptTokens        *int
	CompletionTokens    *int
	TotalTokens         *int
	PendingToolCalls    *[]ToolCall
	ToolExchanges       *[]ToolExchange
	ToolIterations      *int
}

// Ptr returns a pointer to v; handy for building Updates.
func Ptr[T any](v T) *T {
	return &v
}

// Fields reports which fields the update sets.
func (u Update) Fields() []Field {
	var fs []Field
	add := func(set bool, f Field) {
		if set {
			fs = append(fs, f)
		}
	}
	add(len(u.AppendTranscript) > 0, FieldTranscript)
	add(u.RawQuery != nil, FieldRawQuery)
	add(u.NormalizedQuery != nil, FieldNormalizedQuery)
	add(u.DirectoryResults != nil, FieldDirectoryResults)
	add(u.DeviceTitle != nil, FieldDeviceTitle)
	add(u.OfficialSourceFound != nil, FieldOfficialSourceFound)
	add(u.Routed != nil, FieldRouted)
	add(u.WebResults != nil, FieldWebResults)
	add(u.CombinedContext != nil, FieldCombinedContext)
	add(u.HasUsableResults != nil, FieldHasUsableResults)
	add(u.RenderPrompt != nil, FieldRenderPrompt)
	add(u.FinalReply != nil, FieldFinalReply)
	add(u.PromptTokens != nil, FieldPromptTokens)
	add(u.CompletionTokens != nil, FieldCompletionTokens)
	add(u.TotalTokens != nil, FieldTotalTokens)
	add(u.PendingToolCalls != nil, FieldPendingToolCalls)
	add(u.ToolExchanges != nil, FieldToolExchanges)
	add(u.ToolIterations != nil, FieldToolIterations)
	return fs
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return len(u.Fields()) == 0
}

// Apply merges u into s. Slices are copied so the update and the state
// never alias.
func (s *State) Apply(u Update) {
	if len(u.AppendTranscript) > 0 {
		s.Transcript = append(cloneSlice(s.Transcript), u.AppendTranscript...)
	}
	if u.RawQuery != nil {
		s.RawQuery = *u.RawQuery
	}
	if u.NormalizedQuery != nil {
		s.NormalizedQuery = *u.NormalizedQuery
	}
	if u.DirectoryResults != nil {
		s.DirectoryResults = cloneSlice(*u.DirectoryResults)
	}
	if u.DeviceTitle != nil {
		s.DeviceTitle = *u.DeviceTitle
	}
	if u.OfficialSourceFound != nil {
		s.OfficialSourceFound = *u.OfficialSourceFound
	}
	if u.Routed != nil {
		s.Routed = *u.Routed
	}
	if u.WebResults != nil {
		s.WebResults = cloneSlice(*u.WebResults)
	}
	if u.CombinedContext != nil {
		s.CombinedContext = *u.CombinedContext
	}
	if u.HasUsableResults != nil {
		s.HasUsableResults = *u.HasUsableResults
	}
	if u.RenderPrompt != nil {
		s.RenderPrompt = *u.RenderPrompt
	}
	if u.FinalReply != nil {
		s.FinalReply = *u.FinalReply
	}
	if u.PromptTokens != nil {
		s.PromptTokens = *u.PromptTokens
	}
	if u.CompletionTokens != nil {
		s.CompletionTokens = *u.CompletionTokens
	}
	if u.TotalTokens != nil {
		s.TotalTokens = *u.TotalTokens
	}
	if u.PendingToolCalls != nil {
		s.PendingToolCalls = cloneCalls(*u.PendingToolCalls)
	}
	if u.ToolExchanges != nil {
		s.ToolExchanges = State{ToolExchanges: *u.ToolExchanges}.Clone().ToolExchanges
	}
	if u.ToolIterations != nil {
		s.ToolIterations = *u.ToolIterations
	}
}
