package subagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/knearme/showcase/internal/llm"
	"github.com/knearme/showcase/internal/state"
	"github.com/knearme/showcase/internal/tool"
)

// NarrativeAgent extracts the project story from conversational turns:
// problem, solution, highlight, materials, techniques, and loose facts.
// It is the default delegate when no other specialist matches.
type NarrativeAgent struct {
	runner runner
}

// NewNarrativeAgent builds the narrative specialist. It registers its own
// extraction tools on a private registry.
func NewNarrativeAgent(provider llm.LLMProvider, maxToolIter int, logger zerolog.Logger) *NarrativeAgent {
	reg := tool.NewRegistry()
	reg.Register(&tool.SetProjectFieldTool{})
	reg.Register(&tool.AddProjectAttributesTool{})
	reg.Register(&tool.RecordExtractionTool{})

	return &NarrativeAgent{
		runner: newRunner(provider, reg, maxToolIter,
			logger.With().Str("subagent", string(Narrative)).Logger()),
	}
}

func (a *NarrativeAgent) Identity() Identity { return Narrative }

// Run feeds the turn text plus image alt metadata through the tool loop
// and returns the combined extraction delta.
func (a *NarrativeAgent) Run(ctx context.Context, cur state.Project, in TurnInput) (Result, error) {
	var b strings.Builder
	b.WriteString(projectBrief(cur))
	b.WriteString("\n\n")
	if h := describeHistory(in.History); h != "" {
		b.WriteString(h)
		b.WriteString("\n\n")
	}
	if len(in.Images) > 0 {
		b.WriteString(describeImages(in.Images))
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "The contractor says:\n%s", in.Text)

	loop, err := a.runner.run(ctx, narrativeSystemPrompt, b.String(), cur, in.Observer)
	if err != nil {
		return Result{}, fmt.Errorf("narrative: %w", err)
	}

	msg := loop.Text
	if msg == "" {
		msg = "Got it, I've noted that."
	}

	return Result{
		Delta:      loop.Delta,
		Message:    msg,
		Confidence: narrativeConfidence(loop.Tools),
		Tools:      loop.Tools,
		Usage:      loop.Usage,
	}, nil
}

// narrativeConfidence scales with how much was actually extracted.
func narrativeConfidence(tools []ToolRecord) float64 {
	applied := 0
	for _, t := range tools {
		if !t.IsError {
			applied++
		}
	}
	c := 0.5 + 0.05*float64(applied)
	if c > 0.8 {
		c = 0.8
	}
	return c
}
