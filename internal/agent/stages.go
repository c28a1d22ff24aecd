package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"repairbot/internal/llm"
	"repairbot/internal/logging"
	"repairbot/internal/pipeline"
	"repairbot/internal/turn"
)

// Stage names.
const (
	StageNormalize       = "normalize"
	StageDirectoryLookup = "directory_lookup"
	StageRoute           = "route"
	StageWebFallback     = "web_fallback"
	StageAssembleContext = "assemble_context"
	StageBuildPrompt     = "build_prompt"
	StageStreamResponse  = "stream_response"
	StageUsage           = "usage"
	StageCheckpoint      = "checkpoint"
	StageModelInvoke     = "model_invoke"
	StageToolExecute     = "tool_execute"
)

// ErrNotRouted means context assembly ran before the routing decision.
var ErrNotRouted = errors.New("routing decision missing")

// errEmptyReply is reported when a stream finishes without any text.
var errEmptyReply = errors.New("model returned an empty response")

// NormalizeStage picks the newest user message as the query.
func NormalizeStage() pipeline.Stage {
	return pipeline.StageFunc{
		StageName:   StageNormalize,
		ReadFields:  []turn.Field{turn.FieldTranscript},
		WriteFields: []turn.Field{turn.FieldRawQuery, turn.FieldNormalizedQuery},
		Fn: func(_ context.Context, st turn.State) (turn.Update, error) {
			raw := st.LastUserMessage()
			return turn.Update{
				RawQuery:        turn.Ptr(raw),
				NormalizedQuery: turn.Ptr(strings.ToLower(strings.TrimSpace(raw))),
			}, nil
		},
	}
}

// DirectoryLookupStage runs device search, then guide listing, then guide
// detail, each step depending on what the previous one yielded. Lookup
// failures become error entries; the stage itself never fails.
func DirectoryLookupStage(dir Directory) pipeline.Stage {
	return pipeline.StageFunc{
		StageName:   StageDirectoryLookup,
		ReadFields:  []turn.Field{turn.FieldRawQuery, turn.FieldNormalizedQuery},
		WriteFields: []turn.Field{turn.FieldDirectoryResults, turn.FieldDeviceTitle},
		Fn: func(ctx context.Context, st turn.State) (turn.Update, error) {
			results := []turn.Result{}
			if st.RawQuery == "" {
				return turn.Update{DirectoryResults: &results, DeviceTitle: turn.Ptr("")}, nil
			}

			devices, err := dir.SearchDevice(ctx, st.RawQuery)
			if err != nil {
				logging.Directory("device search failed: %v", err)
				results = append(results, turn.Result{Kind: turn.KindError, Content: fmt.Sprintf("Device search error: %v", err)})
				return turn.Update{DirectoryResults: &results, DeviceTitle: turn.Ptr("")}, nil
			}
			results = append(results, turn.Result{Kind: turn.KindDeviceSearch, Content: devices})

			title := ExtractDeviceTitle(devices)
			if title == "" {
				logging.DirectoryDebug("no device title in search result")
				return turn.Update{DirectoryResults: &results, DeviceTitle: turn.Ptr("")}, nil
			}

			guides, err := dir.ListGuides(ctx, title)
			if err != nil {
				logging.Directory("guide listing for %q failed: %v", title, err)
				results = append(results, turn.Result{Kind: turn.KindError, Content: fmt.Sprintf("Guides list error: %v", err)})
				return turn.Update{DirectoryResults: &results, DeviceTitle: &title}, nil
			}
			results = append(results, turn.Result{Kind: turn.KindGuidesList, Content: guides})

			guideID := ExtractGuideID(guides, st.NormalizedQuery)
			if guideID == "" {
				return turn.Update{DirectoryResults: &results, DeviceTitle: &title}, nil
			}

			detail, err := dir.GetGuide(ctx, guideID)
			if err != nil {
				logging.Directory("guide %s failed: %v", guideID, err)
				results = append(results, turn.Result{Kind: turn.KindError, Content: fmt.Sprintf("Guide detail error: %v", err)})
			} else {
				results = append(results, turn.Result{Kind: turn.KindGuideDetail, Content: detail})
			}
			return turn.Update{DirectoryResults: &results, DeviceTitle: &title}, nil
		},
	}
}

// RouteStage records whether the directory produced an official answer.
func RouteStage() pipeline.Stage {
	return pipeline.StageFunc{
		StageName:   StageRoute,
		ReadFields:  []turn.Field{turn.FieldDirectoryResults},
		WriteFields: []turn.Field{turn.FieldOfficialSourceFound, turn.FieldRouted},
		Fn: func(_ context.Context, st turn.State) (turn.Update, error) {
			official := HasOfficialResult(st.DirectoryResults)
			logging.PipelineDebug("route: official=%v over %d results", official, len(st.DirectoryResults))
			return turn.Update{OfficialSourceFound: &official, Routed: turn.Ptr(true)}, nil
		},
	}
}

// SelectAfterRoute sends official answers straight to context assembly.
func SelectAfterRoute(st turn.State) string {
	if st.OfficialSourceFound {
		return StageAssembleContext
	}
	return StageWebFallback
}

// WebFallbackStage searches the web when the directory had nothing.
func WebFallbackStage(web WebSearcher) pipeline.Stage {
	return pipeline.StageFunc{
		StageName:   StageWebFallback,
		ReadFields:  []turn.Field{turn.FieldRawQuery, turn.FieldOfficialSourceFound},
		WriteFields: []turn.Field{turn.FieldWebResults},
		Fn: func(ctx context.Context, st turn.State) (turn.Update, error) {
			results := []turn.Result{}
			if st.OfficialSourceFound || st.RawQuery == "" {
				return turn.Update{WebResults: &results}, nil
			}

			text, err := web.Search(ctx, st.RawQuery)
			if err != nil {
				logging.Research("web fallback failed: %v", err)
				results = append(results, turn.Result{Kind: turn.KindError, Content: fmt.Sprintf("Web search error: %v", err)})
			} else {
				results = append(results, turn.Result{Kind: turn.KindWebSearch, Content: text})
			}
			return turn.Update{WebResults: &results}, nil
		},
	}
}

// AssembleContextStage merges lookup results into one document.
func AssembleContextStage() pipeline.Stage {
	return pipeline.StageFunc{
		StageName: StageAssembleContext,
		ReadFields: []turn.Field{
			turn.FieldDirectoryResults, turn.FieldWebResults,
			turn.FieldOfficialSourceFound, turn.FieldRouted,
		},
		WriteFields: []turn.Field{turn.FieldCombinedContext, turn.FieldHasUsableResults},
		Fn: func(_ context.Context, st turn.State) (turn.Update, error) {
			if !st.Routed {
				return turn.Update{}, ErrNotRouted
			}
			combined := AssembleContext(st.DirectoryResults, st.WebResults, st.OfficialSourceFound)
			return turn.Update{
				CombinedContext:  &combined,
				HasUsableResults: turn.Ptr(combined != ""),
			}, nil
		},
	}
}

// BuildPromptStage writes the render prompt, or a fixed reply when there is
// nothing to render.
func BuildPromptStage() pipeline.Stage {
	return pipeline.StageFunc{
		StageName:  StageBuildPrompt,
		ReadFields: []turn.Field{turn.FieldRawQuery, turn.FieldCombinedContext, turn.FieldHasUsableResults},
		WriteFields: []turn.Field{
			turn.FieldRenderPrompt, turn.FieldFinalReply,
			turn.FieldPromptTokens, turn.FieldCompletionTokens,
		},
		Fn: func(_ context.Context, st turn.State) (turn.Update, error) {
			if st.RawQuery == "" || !st.HasUsableResults {
				reply := ReplyNothingFound
				if st.RawQuery == "" {
					reply = ReplyEmptyQuery
				}
				return turn.Update{
					RenderPrompt:     turn.Ptr(""),
					FinalReply:       &reply,
					PromptTokens:     turn.Ptr(0),
					CompletionTokens: turn.Ptr(0),
				}, nil
			}

			prompt := RenderPrompt(st.RawQuery, st.CombinedContext)
			return turn.Update{
				RenderPrompt: &prompt,
				PromptTokens: turn.Ptr(llm.EstimateTokens(prompt)),
			}, nil
		},
	}
}

// SelectAfterPrompt skips the model when a fixed reply was chosen.
func SelectAfterPrompt(st turn.State) string {
	if st.RenderPrompt == "" {
		return StageUsage
	}
	return StageStreamResponse
}

// StreamResponseStage streams the model's answer, emitting token events
// as chunks arrive. Rate-limited attempts are retried from scratch with
// exponential backoff; a retry event tells listeners to drop what they
// have shown. Unrecoverable failures produce a degraded reply that still
// carries the raw context.
func StreamResponseStage(model llm.Client, policy llm.Policy, sleep llm.Sleeper) pipeline.Stage {
	return pipeline.StageFunc{
		StageName:   StageStreamResponse,
		ReadFields:  []turn.Field{turn.FieldRenderPrompt, turn.FieldCombinedContext},
		WriteFields: []turn.Field{turn.FieldFinalReply, turn.FieldCompletionTokens},
		Fn: func(ctx context.Context, st turn.State) (turn.Update, error) {
			if st.RenderPrompt == "" {
				return turn.Update{FinalReply: turn.Ptr(ReplyUnformattable), CompletionTokens: turn.Ptr(0)}, nil
			}

			timer := logging.StartTimer(logging.CategoryLLM, "stream_response")
			var reply strings.Builder
			err := llm.Retry(ctx, policy, sleep,
				func(attempt int, delay time.Duration, err error) {
					pipeline.Emit(ctx, pipeline.Event{
						Type:    pipeline.EventRetry,
						Stage:   StageStreamResponse,
						Content: fmt.Sprintf("rate limited, retrying in %v", delay),
						Attempt: attempt + 1,
					})
				},
				func(int) error {
					reply.Reset()
					for chunk, err := range model.StreamGenerate(ctx, st.RenderPrompt) {
						if err != nil {
							return err
						}
						if chunk == "" {
							continue
						}
						reply.WriteString(chunk)
						pipeline.Emit(ctx, pipeline.Event{Type: pipeline.EventToken, Stage: StageStreamResponse, Content: chunk})
					}
					return nil
				})
			timer.Stop()

			if err == nil && reply.Len() == 0 {
				err = errEmptyReply
			}
			if err != nil {
				logging.LLMWarn("rendering failed, sending raw results: %v", err)
				return turn.Update{
					FinalReply:       turn.Ptr(DegradedReply(err, st.CombinedContext)),
					CompletionTokens: turn.Ptr(0),
				}, nil
			}

			final := reply.String()
			return turn.Update{FinalReply: &final, CompletionTokens: turn.Ptr(llm.EstimateTokens(final))}, nil
		},
	}
}

// UsageStage totals the turn's tokens and reports them. Recording failures
// are logged and never fail the turn. It runs even after the turn deadline.
func UsageStage(rec UsageRecorder) pipeline.Stage {
	return pipeline.StageFunc{
		StageName:   StageUsage,
		ReadFields:  []turn.Field{turn.FieldOwnerID, turn.FieldPromptTokens, turn.FieldCompletionTokens},
		WriteFields: []turn.Field{turn.FieldTotalTokens},
		Final:       true,
		Fn: func(ctx context.Context, st turn.State) (turn.Update, error) {
			total := st.PromptTokens + st.CompletionTokens
			if rec != nil && st.OwnerID != "" && total > 0 {
				if err := rec.RecordUsage(ctx, st.OwnerID, total); err != nil {
					logging.Get(logging.CategoryUsage).Warnw("failed to track usage",
						"owner", st.OwnerID, "tokens", total, "error", err)
				}
			}
			return turn.Update{TotalTokens: &total}, nil
		},
	}
}

// CheckpointStage appends the assistant reply to the transcript and hands it
// to the persister. Persistence failures are logged and swallowed. Like
// UsageStage it runs even after the turn deadline.
func CheckpointStage(p TurnPersister) pipeline.Stage {
	return pipeline.StageFunc{
		StageName:   StageCheckpoint,
		ReadFields:  []turn.Field{turn.FieldFinalReply, turn.FieldOwnerID, turn.FieldThreadID},
		WriteFields: []turn.Field{turn.FieldTranscript},
		Final:       true,
		Fn: func(ctx context.Context, st turn.State) (turn.Update, error) {
			reply := st.FinalReply
			if reply == "" {
				reply = ReplyCheckpointMiss
			}
			if p != nil && st.OwnerID != "" {
				if err := p.AppendTurn(ctx, st.OwnerID, st.ThreadID, turn.RoleAssistant, reply); err != nil {
					logging.Get(logging.CategoryStore).Warnw("failed to persist reply",
						"owner", st.OwnerID, "thread", st.ThreadID, "error", err)
				}
			}
			return turn.Update{AppendTranscript: []turn.Message{{Role: turn.RoleAssistant, Content: reply}}}, nil
		},
	}
}
