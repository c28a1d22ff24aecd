package agent

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"repairbot/internal/llm"
	"repairbot/internal/pipeline"
	"repairbot/internal/turn"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const iphoneQuestion = "how do I fix my iPhone 13 screen?"

func iphoneDirectory() *fakeDirectory {
	return &fakeDirectory{
		devices: map[string]string{
			iphoneQuestion: "Found devices:\n- iPhone 13 (URL: https://www.ifixit.com/Device/iPhone_13)\n- iPhone 13 Pro (URL: https://www.ifixit.com/Device/iPhone_13_Pro)",
		},
		guides: map[string]string{
			"iPhone 13": "Available repair guides:\n- [145812] iPhone 13 Battery Replacement (Difficulty: Moderate)\n- [145856] iPhone 13 Screen Replacement (Difficulty: Moderate)",
		},
		details: map[string]string{
			"145856": "# iPhone 13 Screen Replacement\n\n**Step 1: Heat the screen**\n- Apply a heated iOpener\n![Step 1 image](https://guide-images.cdn.ifixit.com/igi/1.jpg)",
		},
	}
}

type harness struct {
	dir       *fakeDirectory
	web       *fakeWeb
	model     *fakeModel
	recorder  *fakeRecorder
	persister *fakePersister
	sleeps    *sleepLog
	events    *eventLog
}

func newHarness() *harness {
	return &harness{
		dir:       iphoneDirectory(),
		web:       &fakeWeb{result: "Web search results:\n\n**1. Community fix**\nTry this.\nSource: https://example.com\n\n"},
		model:     &fakeModel{attempts: []attempt{{chunks: []string{"Oh no, a cracked screen! ", "Follow the official iPhone 13 Screen Replacement guide."}}}},
		recorder:  &fakeRecorder{},
		persister: &fakePersister{},
		sleeps:    &sleepLog{},
		events:    &eventLog{},
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Directory: h.dir,
		Web:       h.web,
		Model:     h.model,
		Usage:     h.recorder,
		Persister: h.persister,
		Retry:     testPolicy,
		Sleep:     h.sleeps.sleep,
	}
}

func (h *harness) run(t *testing.T, g *pipeline.Graph, question string) turn.State {
	t.Helper()
	ctx := pipeline.WithEventSink(context.Background(), h.events.sink)
	out, err := g.Run(ctx, turn.State{
		TurnID:     "turn-1",
		OwnerID:    "alice",
		ThreadID:   "user-alice",
		Transcript: []turn.Message{{Role: turn.RoleUser, Content: question}},
	})
	require.NoError(t, err)
	return out
}

func TestSequentialGraph_IPhoneScreenEndToEnd(t *testing.T) {
	t.Parallel()
	h := newHarness()
	g, err := NewSequentialGraph(h.deps())
	require.NoError(t, err)

	out := h.run(t, g, iphoneQuestion)

	assert.True(t, out.OfficialSourceFound)
	assert.Empty(t, out.WebResults)
	assert.Empty(t, h.web.calls, "web search is not consulted when the directory answers")
	assert.Equal(t, "iPhone 13", out.DeviceTitle)
	assert.Equal(t, []string{"search:" + iphoneQuestion, "list:iPhone 13", "guide:145856"}, h.dir.calls)

	assert.Contains(t, out.CombinedContext, "Guide Details:\n# iPhone 13 Screen Replacement")
	assert.Contains(t, h.model.prompts[0], "![Step 1 image](https://guide-images.cdn.ifixit.com/igi/1.jpg)")
	assert.Contains(t, out.FinalReply, "iPhone 13 Screen Replacement")

	want := []turn.Message{
		{Role: turn.RoleUser, Content: iphoneQuestion},
		{Role: turn.RoleAssistant, Content: out.FinalReply},
	}
	if diff := cmp.Diff(want, out.Transcript); diff != "" {
		t.Errorf("transcript mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, out.PromptTokens+out.CompletionTokens, out.TotalTokens)
	assert.Positive(t, out.PromptTokens)
	assert.Equal(t, []usageCall{{"alice", out.TotalTokens}}, h.recorder.calls)
	assert.Equal(t, []persisted{{"alice", "user-alice", turn.RoleAssistant, out.FinalReply}}, h.persister.saved)

	var stages []string
	for _, ev := range h.events.ofType(pipeline.EventStatus) {
		stages = append(stages, ev.Stage)
	}
	assert.Equal(t, []string{
		StageNormalize, StageDirectoryLookup, StageRoute, StageAssembleContext,
		StageBuildPrompt, StageStreamResponse, StageUsage, StageCheckpoint,
	}, stages)
	assert.Len(t, h.events.ofType(pipeline.EventToken), 2)
}

func TestSequentialGraph_WebFallback(t *testing.T) {
	t.Parallel()
	h := newHarness()
	g, err := NewSequentialGraph(h.deps())
	require.NoError(t, err)

	out := h.run(t, g, "my toaster sparks")

	assert.False(t, out.OfficialSourceFound)
	assert.Equal(t, []string{"my toaster sparks"}, h.web.calls)
	require.Len(t, out.WebResults, 1)
	assert.Contains(t, out.CombinedContext, "Web Search (unofficial sources):")
	assert.Contains(t, h.model.prompts[0], "Community fix")
}

func TestSequentialGraph_NothingFound(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.dir.failWith = map[string]error{"search": errBoom}
	h.web.err = errBoom
	h.web.result = ""
	g, err := NewSequentialGraph(h.deps())
	require.NoError(t, err)

	out := h.run(t, g, "my toaster sparks")

	// Error entries still surface as notes, so the model gets called.
	assert.True(t, out.HasUsableResults)
	assert.Contains(t, out.CombinedContext, "Note: Device search error: boom")
	assert.Contains(t, out.CombinedContext, "Web Search (unofficial sources):\nWeb search error: boom")
}

func TestSequentialGraph_NoUsableResults(t *testing.T) {
	t.Parallel()
	h := newHarness()
	g, err := NewSequentialGraph(h.deps())
	require.NoError(t, err)

	out := h.run(t, g, "")

	assert.False(t, out.HasUsableResults)
	assert.Equal(t, ReplyEmptyQuery, out.FinalReply)
	assert.Zero(t, out.PromptTokens)
	assert.Zero(t, out.CompletionTokens)
	assert.Zero(t, out.TotalTokens)
	assert.Zero(t, h.model.calls())
	assert.Empty(t, h.recorder.calls)
	assert.Equal(t, turn.RoleAssistant, out.Transcript[len(out.Transcript)-1].Role)
}

func TestSequentialGraph_RateLimitedTwiceThenSucceeds(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.model.attempts = []attempt{
		{chunks: []string{"lost "}, err: errRateLimited},
		{err: errRateLimited},
		{chunks: []string{"Here is ", "the fix."}},
	}
	g, err := NewSequentialGraph(h.deps())
	require.NoError(t, err)

	out := h.run(t, g, iphoneQuestion)

	assert.Equal(t, "Here is the fix.", out.FinalReply)
	assert.Len(t, h.sleeps.delays, 2)
	assert.Len(t, h.events.ofType(pipeline.EventRetry), 2)
}

func TestSequentialGraph_CollaboratorFailuresAreSwallowed(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.recorder.err = errBoom
	h.persister.err = errBoom
	g, err := NewSequentialGraph(h.deps())
	require.NoError(t, err)

	out := h.run(t, g, iphoneQuestion)
	assert.NotEmpty(t, out.FinalReply)
	assert.Len(t, h.recorder.calls, 1)
	assert.Len(t, h.persister.saved, 1)
}

func TestSequentialGraph_InvariantWebEmptyWhenOfficial(t *testing.T) {
	t.Parallel()
	questions := []string{iphoneQuestion, "my toaster sparks", "", "iphone 13 battery"}
	for _, q := range questions {
		h := newHarness()
		h.dir.devices["iphone 13 battery"] = "Found devices:\n- iPhone 13 (URL: u)"
		g, err := NewSequentialGraph(h.deps())
		require.NoError(t, err)

		out := h.run(t, g, q)
		if out.OfficialSourceFound {
			assert.Empty(t, out.WebResults, q)
		}
		assert.NotEmpty(t, out.FinalReply, q)
		assert.Equal(t, out.PromptTokens+out.CompletionTokens, out.TotalTokens, q)
	}
}

func TestSequentialGraph_Transitions(t *testing.T) {
	t.Parallel()
	g, err := NewSequentialGraph(newHarness().deps())
	require.NoError(t, err)

	assert.Equal(t, StageNormalize, g.Entry())
	got := map[string][]string{}
	for _, tr := range g.Transitions() {
		got[tr.From] = tr.Successors
	}
	assert.ElementsMatch(t, []string{StageWebFallback, StageAssembleContext}, got[StageRoute])
	assert.ElementsMatch(t, []string{StageStreamResponse, StageUsage}, got[StageBuildPrompt])
	assert.Equal(t, []string{pipeline.End}, got[StageCheckpoint])
}

func TestSequentialGraph_CancelledContext(t *testing.T) {
	t.Parallel()
	g, err := NewSequentialGraph(newHarness().deps())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Run(ctx, turn.State{Transcript: []turn.Message{{Role: turn.RoleUser, Content: "q"}}})

	var se *pipeline.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageNormalize, se.Stage)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewGraphs_RequireCollaborators(t *testing.T) {
	t.Parallel()
	_, err := NewSequentialGraph(Deps{})
	assert.Error(t, err)
	_, err = NewToolCallingGraph(Deps{Directory: &fakeDirectory{}, Web: &fakeWeb{}})
	assert.Error(t, err)
}

func toolDeps(h *harness, model *fakeToolModel) Deps {
	d := h.deps()
	d.Model = nil
	d.ToolModel = model
	d.MaxToolIterations = 3
	return d
}

func TestToolCallingGraph_LoopsUntilAnswer(t *testing.T) {
	t.Parallel()
	h := newHarness()
	model := &fakeToolModel{responses: []*llm.ConverseResponse{
		{Calls: []turn.ToolCall{{ID: "1", Name: ToolFindDevice, Args: map[string]any{"query": iphoneQuestion}}}, PromptTokens: 50, CompletionTokens: 5},
		{Calls: []turn.ToolCall{
			{ID: "2", Name: ToolListGuides, Args: map[string]any{"device_title": "iPhone 13"}},
			{ID: "3", Name: ToolGetGuide, Args: map[string]any{"guide_id": float64(145856)}},
		}, PromptTokens: 80, CompletionTokens: 9},
		{Text: "Here's the official iPhone 13 Screen Replacement guide!", PromptTokens: 200, CompletionTokens: 40},
	}}
	g, err := NewToolCallingGraph(toolDeps(h, model))
	require.NoError(t, err)

	out := h.run(t, g, iphoneQuestion)

	assert.Equal(t, "Here's the official iPhone 13 Screen Replacement guide!", out.FinalReply)
	assert.Equal(t, 2, out.ToolIterations)
	require.Len(t, out.ToolExchanges, 3)
	assert.Contains(t, out.ToolExchanges[2].Result, "**Step 1: Heat the screen**")
	assert.Equal(t, []string{"search:" + iphoneQuestion, "list:iPhone 13", "guide:145856"}, h.dir.calls)

	assert.Equal(t, 330, out.PromptTokens)
	assert.Equal(t, 54, out.CompletionTokens)
	assert.Equal(t, 384, out.TotalTokens)
	assert.Equal(t, []usageCall{{"alice", 384}}, h.recorder.calls)

	require.Len(t, model.requests, 3)
	assert.Len(t, model.requests[0].Tools, 4)
	assert.Len(t, model.requests[2].Exchanges, 3)
	assert.Equal(t, turn.RoleAssistant, out.Transcript[len(out.Transcript)-1].Role)

	var toolStatus []string
	for _, ev := range h.events.ofType(pipeline.EventStatus) {
		if ev.Stage == StageToolExecute && ev.Content != "" {
			toolStatus = append(toolStatus, ev.Content)
		}
	}
	assert.Equal(t, []string{ToolFindDevice, ToolListGuides, ToolGetGuide}, toolStatus)
}

func TestToolCallingGraph_IterationCap(t *testing.T) {
	t.Parallel()
	h := newHarness()
	model := &fakeToolModel{responses: []*llm.ConverseResponse{
		{Text: "still looking", Calls: []turn.ToolCall{{Name: ToolWebSearch, Args: map[string]any{"query": "x"}}}},
	}}
	g, err := NewToolCallingGraph(toolDeps(h, model))
	require.NoError(t, err)

	out := h.run(t, g, "toaster")

	assert.Equal(t, 3, out.ToolIterations)
	require.Len(t, model.requests, 4)
	assert.Nil(t, model.requests[3].Tools, "final call offers no tools")
	assert.Equal(t, "still looking", out.FinalReply)
	assert.Empty(t, out.PendingToolCalls)
}

func TestToolCallingGraph_ToolErrorsReachTheModel(t *testing.T) {
	t.Parallel()
	h := newHarness()
	model := &fakeToolModel{responses: []*llm.ConverseResponse{
		{Calls: []turn.ToolCall{{Name: "no_such_tool"}, {Name: ToolGetGuide, Args: map[string]any{}}}},
		{Text: "Sorry, I could not find that."},
	}}
	g, err := NewToolCallingGraph(toolDeps(h, model))
	require.NoError(t, err)

	out := h.run(t, g, "q")
	require.Len(t, out.ToolExchanges, 2)
	assert.True(t, strings.HasPrefix(out.ToolExchanges[0].Result, "Error: "))
	assert.True(t, strings.HasPrefix(out.ToolExchanges[1].Result, "Error: "))
	assert.Equal(t, "Sorry, I could not find that.", out.FinalReply)
}

func TestToolCallingGraph_ModelFailureDegrades(t *testing.T) {
	t.Parallel()
	h := newHarness()
	model := &fakeToolModel{
		errs:      []error{errRateLimited, errors.New("invalid request")},
		responses: []*llm.ConverseResponse{{}},
	}
	g, err := NewToolCallingGraph(toolDeps(h, model))
	require.NoError(t, err)

	out := h.run(t, g, "q")
	assert.True(t, strings.HasPrefix(out.FinalReply, "Error formatting response: invalid request"))
	assert.Len(t, model.requests, 2)
	assert.Len(t, h.sleeps.delays, 1)
}

func TestToolCallingGraph_EmptyQuery(t *testing.T) {
	t.Parallel()
	h := newHarness()
	model := &fakeToolModel{responses: []*llm.ConverseResponse{{Text: "unused"}}}
	g, err := NewToolCallingGraph(toolDeps(h, model))
	require.NoError(t, err)

	out := h.run(t, g, "")
	assert.Equal(t, ReplyEmptyQuery, out.FinalReply)
	assert.Empty(t, model.requests)
}

// stallingModel streams one chunk and then waits for the turn to give up.
type stallingModel struct{ fakeModel }

func (m *stallingModel) StreamGenerate(ctx context.Context, _ string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !yield("partial ", nil) {
			return
		}
		<-ctx.Done()
		yield("", ctx.Err())
	}
}

func TestSequentialGraph_DeadlineStillRepliesAndPersists(t *testing.T) {
	t.Parallel()
	h := newHarness()
	d := h.deps()
	d.Model = &stallingModel{}
	g, err := NewSequentialGraph(d)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out, err := g.Run(ctx, turn.State{
		TurnID:     "turn-1",
		OwnerID:    "alice",
		ThreadID:   "user-alice",
		Transcript: []turn.Message{{Role: turn.RoleUser, Content: iphoneQuestion}},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out.FinalReply, "Error formatting response: context deadline exceeded"), out.FinalReply)
	assert.Contains(t, out.FinalReply, "iPhone 13 Screen Replacement")
	require.NotEmpty(t, out.Transcript)
	assert.Equal(t, turn.RoleAssistant, out.Transcript[len(out.Transcript)-1].Role)
	require.Len(t, h.persister.saved, 1)
	assert.Equal(t, out.FinalReply, h.persister.saved[0].content)
}
