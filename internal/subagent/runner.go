package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/knearme/showcase/internal/errors"
	"github.com/knearme/showcase/internal/llm"
	"github.com/knearme/showcase/internal/state"
	"github.com/knearme/showcase/internal/stream"
	"github.com/knearme/showcase/internal/tool"
)

const defaultMaxToolIter = 8

// runner is the shared LLM+tool loop. The model is called repeatedly;
// every tool_use stop executes through the registry, the resulting delta
// is applied to a working copy so later calls see earlier mutations, and
// the tool result is fed back until the model ends its turn.
type runner struct {
	provider llm.LLMProvider
	registry *tool.Registry
	maxIter  int
	logger   zerolog.Logger
}

// loopResult is the accumulated outcome of one tool loop.
type loopResult struct {
	Delta state.Delta
	Text  string
	Tools []ToolRecord
	Usage stream.Usage
}

func newRunner(provider llm.LLMProvider, registry *tool.Registry, maxIter int, logger zerolog.Logger) runner {
	if maxIter <= 0 {
		maxIter = defaultMaxToolIter
	}
	return runner{provider: provider, registry: registry, maxIter: maxIter, logger: logger}
}

// run drives the loop. working starts as cur and accumulates tool deltas;
// out.Delta is the combined delta of every successful tool call.
func (r runner) run(ctx context.Context, system, userContent string, cur state.Project, obs ToolObserver) (loopResult, error) {
	var out loopResult
	working := cur.Clone()

	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: userContent},
	}

	var schemas []llm.ToolSchema
	if r.registry != nil {
		schemas = r.registry.Schemas()
	}

	for iter := 0; iter < r.maxIter; iter++ {
		resp, err := r.provider.Complete(ctx, llm.CompletionRequest{
			Messages:     msgs,
			SystemPrompt: system,
			Tools:        schemas,
		})
		if err != nil {
			return out, fmt.Errorf("llm complete: %w", err)
		}
		out.Usage.Add(stream.Usage{InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens})

		r.logger.Debug().
			Str("stop_reason", resp.StopReason).
			Int("iter", iter).
			Msg("llm response")

		switch resp.StopReason {
		case llm.StopReasonEndTurn:
			out.Text = strings.TrimSpace(resp.Text)
			return out, nil

		case llm.StopReasonToolUse:
			if resp.ToolUse == nil {
				return out, fmt.Errorf("%w: stop_reason=tool_use with no tool_use block", apperrors.ErrProtocol)
			}

			rec, delta := r.executeToolUse(ctx, working, resp.ToolUse, obs)
			if !rec.IsError {
				working = state.Merge(working, delta)
				out.Delta = state.Combine(out.Delta, delta)
			}
			out.Tools = append(out.Tools, rec)

			msgs = append(msgs, llm.Message{
				Role:    llm.RoleAssistant,
				Content: resp.Text,
				ToolUse: resp.ToolUse,
			})
			msgs = append(msgs, llm.ToolResultMessage(resp.ToolUse.ID, rec.Output, rec.IsError))

		case llm.StopReasonMaxTokens:
			return out, fmt.Errorf("hit max tokens limit")

		default:
			return out, fmt.Errorf("unknown stop_reason: %s", resp.StopReason)
		}
	}

	return out, fmt.Errorf("exceeded max tool iterations (%d)", r.maxIter)
}

// executeToolUse runs one tool call. Tool errors are returned to the
// model as error results so it can self-correct; they never abort the
// loop.
func (r runner) executeToolUse(ctx context.Context, working state.Project, tu *llm.ToolUse, obs ToolObserver) (ToolRecord, state.Delta) {
	callID := tu.ID
	if callID == "" {
		callID = uuid.NewString()
	}
	if obs != nil {
		obs.ToolCallStarted(callID, tu.Name, tu.Input)
	}

	r.logger.Info().Str("tool", tu.Name).Msg("executing tool")

	delta, result, err := r.registry.Execute(ctx, tu.Name, working, tu.Input)
	if err != nil {
		r.logger.Warn().Err(err).Str("tool", tu.Name).Msg("tool execution error")
		result = fmt.Sprintf("tool error: %v", err)
	}

	rec := ToolRecord{
		CallID:  callID,
		Name:    tu.Name,
		Input:   tu.Input,
		Output:  result,
		IsError: err != nil,
	}
	if obs != nil {
		obs.ToolCallFinished(callID, tu.Name, result, err != nil)
	}
	return rec, delta
}

// extractJSON pulls the outermost JSON object out of model text that may
// wrap it in prose or a code fence.
func extractJSON(s string) ([]byte, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	raw := []byte(s[start : end+1])
	if !json.Valid(raw) {
		return nil, false
	}
	return raw, true
}
