package agent

import (
	"context"
	"strings"

	"repairbot/internal/llm"
	"repairbot/internal/logging"
	"repairbot/internal/pipeline"
	"repairbot/internal/tools"
	"repairbot/internal/turn"
)

// DefaultMaxToolIterations caps model ⇄ tool round trips per turn.
const DefaultMaxToolIterations = 5

// ModelInvokeStage asks the model to answer or request tools. Once the
// iteration cap is reached the model is offered no tools, so it has to
// answer with what it has.
func ModelInvokeStage(model llm.ToolCaller, reg *tools.Registry, policy llm.Policy, sleep llm.Sleeper, maxIterations int) pipeline.Stage {
	return pipeline.StageFunc{
		StageName: StageModelInvoke,
		ReadFields: []turn.Field{
			turn.FieldTranscript, turn.FieldRawQuery, turn.FieldToolExchanges, turn.FieldToolIterations,
			turn.FieldPromptTokens, turn.FieldCompletionTokens,
		},
		WriteFields: []turn.Field{
			turn.FieldFinalReply, turn.FieldPendingToolCalls,
			turn.FieldPromptTokens, turn.FieldCompletionTokens,
		},
		Fn: func(ctx context.Context, st turn.State) (turn.Update, error) {
			if st.RawQuery == "" {
				return turn.Update{FinalReply: turn.Ptr(ReplyEmptyQuery), PendingToolCalls: &[]turn.ToolCall{}}, nil
			}

			req := llm.ConverseRequest{
				System:     toolSystemPrompt,
				Transcript: st.Transcript,
				Exchanges:  st.ToolExchanges,
			}
			if st.ToolIterations < maxIterations {
				req.Tools = reg.All()
			} else {
				logging.Pipeline("tool iteration cap %d reached, asking for a final answer", maxIterations)
			}

			var resp *llm.ConverseResponse
			err := llm.Retry(ctx, policy, sleep, nil, func(int) error {
				var err error
				resp, err = model.Converse(ctx, req)
				return err
			})
			if err != nil {
				logging.LLMWarn("tool-calling model failed: %v", err)
				return turn.Update{
					FinalReply:       turn.Ptr(DegradedReply(err, exchangeContext(st.ToolExchanges))),
					PendingToolCalls: &[]turn.ToolCall{},
				}, nil
			}

			promptTokens := resp.PromptTokens
			if promptTokens == 0 {
				promptTokens = llm.EstimateTokens(requestText(req))
			}
			completionTokens := resp.CompletionTokens
			if completionTokens == 0 {
				completionTokens = llm.EstimateTokens(resp.Text)
			}

			calls := resp.Calls
			if calls == nil || req.Tools == nil {
				calls = []turn.ToolCall{}
			}
			upd := turn.Update{
				PendingToolCalls: &calls,
				PromptTokens:     turn.Ptr(st.PromptTokens + promptTokens),
				CompletionTokens: turn.Ptr(st.CompletionTokens + completionTokens),
			}
			if resp.Text != "" {
				upd.FinalReply = turn.Ptr(resp.Text)
				if len(calls) == 0 {
					pipeline.Emit(ctx, pipeline.Event{Type: pipeline.EventToken, Stage: StageModelInvoke, Content: resp.Text})
				}
			}
			return upd, nil
		},
	}
}

// SelectAfterModel loops through tool execution while the model asks for
// tools.
func SelectAfterModel(st turn.State) string {
	if len(st.PendingToolCalls) > 0 {
		return StageToolExecute
	}
	return StageUsage
}

// ToolExecuteStage runs the pending calls in order. A failing tool hands
// its error text to the model instead of failing the turn.
func ToolExecuteStage(reg *tools.Registry) pipeline.Stage {
	return pipeline.StageFunc{
		StageName:  StageToolExecute,
		ReadFields: []turn.Field{turn.FieldPendingToolCalls, turn.FieldToolExchanges, turn.FieldToolIterations},
		WriteFields: []turn.Field{
			turn.FieldPendingToolCalls, turn.FieldToolExchanges, turn.FieldToolIterations,
		},
		Fn: func(ctx context.Context, st turn.State) (turn.Update, error) {
			exchanges := st.ToolExchanges
			for _, call := range st.PendingToolCalls {
				pipeline.Emit(ctx, pipeline.Event{Type: pipeline.EventStatus, Stage: StageToolExecute, Content: call.Name})
				res, _ := reg.Execute(ctx, call.Name, call.Args)
				if !res.IsSuccess() {
					logging.Get(logging.CategoryTools).Warnw("tool failed", "tool", call.Name, "error", res.Error)
				}
				exchanges = append(exchanges, turn.ToolExchange{Call: call, Result: res.Text()})
			}
			return turn.Update{
				PendingToolCalls: &[]turn.ToolCall{},
				ToolExchanges:    &exchanges,
				ToolIterations:   turn.Ptr(st.ToolIterations + 1),
			}, nil
		},
	}
}

func requestText(req llm.ConverseRequest) string {
	var b strings.Builder
	b.WriteString(req.System)
	for _, m := range req.Transcript {
		b.WriteString(m.Content)
	}
	b.WriteString(exchangeContext(req.Exchanges))
	return b.String()
}

func exchangeContext(exchanges []turn.ToolExchange) string {
	parts := make([]string, 0, len(exchanges))
	for _, ex := range exchanges {
		parts = append(parts, ex.Result)
	}
	return strings.Join(parts, "\n\n")
}
