package agent

import (
	"errors"
	"fmt"

	"repairbot/internal/pipeline"
)

// NewSequentialGraph wires the fixed lookup pipeline:
//
//	normalize → directory_lookup → route ─┬─────────────→ assemble_context
//	                                      └ web_fallback ┘
//	assemble_context → build_prompt ─┬ stream_response ┐
//	                                 └─────────────────→ usage → checkpoint
func NewSequentialGraph(d Deps) (*pipeline.Graph, error) {
	if d.Directory == nil || d.Web == nil || d.Model == nil {
		return nil, errors.New("sequential pipeline needs a directory, a web searcher and a model")
	}

	b := pipeline.NewBuilder().
		AddStage(NormalizeStage()).
		AddStage(DirectoryLookupStage(d.Directory)).
		AddStage(RouteStage()).
		AddStage(WebFallbackStage(d.Web)).
		AddStage(AssembleContextStage()).
		AddStage(BuildPromptStage()).
		AddStage(StreamResponseStage(d.Model, d.Retry, d.Sleep)).
		AddStage(UsageStage(d.Usage)).
		AddStage(CheckpointStage(d.Persister)).
		SetEntry(StageNormalize).
		AddEdge(StageNormalize, StageDirectoryLookup).
		AddEdge(StageDirectoryLookup, StageRoute).
		AddConditionalEdges(StageRoute, SelectAfterRoute, StageWebFallback, StageAssembleContext).
		AddEdge(StageWebFallback, StageAssembleContext).
		AddEdge(StageAssembleContext, StageBuildPrompt).
		AddConditionalEdges(StageBuildPrompt, SelectAfterPrompt, StageStreamResponse, StageUsage).
		AddEdge(StageStreamResponse, StageUsage).
		AddEdge(StageUsage, StageCheckpoint).
		AddEdge(StageCheckpoint, pipeline.End)

	return b.Build(graphOptions(d)...)
}

// NewToolCallingGraph wires the model-driven variant:
//
//	normalize → model_invoke ⇄ tool_execute
//	model_invoke → usage → checkpoint
func NewToolCallingGraph(d Deps) (*pipeline.Graph, error) {
	if d.Directory == nil || d.Web == nil || d.ToolModel == nil {
		return nil, errors.New("tool-calling pipeline needs a directory, a web searcher and a tool-calling model")
	}
	reg, err := NewRepairTools(d.Directory, d.Web)
	if err != nil {
		return nil, fmt.Errorf("failed to register repair tools: %w", err)
	}
	maxIter := d.MaxToolIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxToolIterations
	}

	b := pipeline.NewBuilder().
		AddStage(NormalizeStage()).
		AddStage(ModelInvokeStage(d.ToolModel, reg, d.Retry, d.Sleep, maxIter)).
		AddStage(ToolExecuteStage(reg)).
		AddStage(UsageStage(d.Usage)).
		AddStage(CheckpointStage(d.Persister)).
		SetEntry(StageNormalize).
		AddEdge(StageNormalize, StageModelInvoke).
		AddConditionalEdges(StageModelInvoke, SelectAfterModel, StageToolExecute, StageUsage).
		AddEdge(StageToolExecute, StageModelInvoke).
		AddEdge(StageUsage, StageCheckpoint).
		AddEdge(StageCheckpoint, pipeline.End)

	return b.Build(graphOptions(d)...)
}

func graphOptions(d Deps) []pipeline.Option {
	opts := []pipeline.Option{pipeline.WithObserver(pipeline.LogObserver{Slow: d.SlowStage})}
	if d.MaxSteps > 0 {
		opts = append(opts, pipeline.WithMaxSteps(d.MaxSteps))
	}
	return opts
}
