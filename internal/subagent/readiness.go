package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/knearme/showcase/internal/llm"
	"github.com/knearme/showcase/internal/publish"
	"github.com/knearme/showcase/internal/state"
	"github.com/knearme/showcase/internal/stream"
)

// ReadinessAgent assesses how close a project page is to publishable and
// tells the contractor what would make it stronger. Purely advisory: it
// returns no delta and never blocks the publish gate.
type ReadinessAgent struct {
	provider llm.LLMProvider
	logger   zerolog.Logger
}

func NewReadinessAgent(provider llm.LLMProvider, logger zerolog.Logger) *ReadinessAgent {
	return &ReadinessAgent{
		provider: provider,
		logger:   logger.With().Str("subagent", string(Readiness)).Logger(),
	}
}

func (a *ReadinessAgent) Identity() Identity { return Readiness }

// assessment is the JSON reply shape the model is prompted for.
type assessment struct {
	Confidence float64  `json:"confidence"`
	Missing    []string `json:"missing"`
	Advice     string   `json:"advice"`
}

func (a *ReadinessAgent) Run(ctx context.Context, cur state.Project, in TurnInput) (Result, error) {
	var b strings.Builder
	b.WriteString(projectBrief(cur))
	b.WriteString("\n\n")
	b.WriteString(describeImages(knownImages(cur, in)))
	if in.Text != "" {
		fmt.Fprintf(&b, "\n\nThe contractor says:\n%s", in.Text)
	}

	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
		SystemPrompt: readinessSystemPrompt,
	})
	if err != nil {
		return Result{}, fmt.Errorf("readiness: %w", err)
	}

	usage := stream.Usage{InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens}

	as, ok := parseAssessment(resp.Text)
	if !ok {
		// Unusable reply: fall back to the deterministic gate checklist.
		a.logger.Warn().Msg("unusable readiness reply, using checklist")
		v := publish.Validate(cur)
		as = checklistAssessment(v)
	}

	return Result{
		Message:    readinessMessage(as),
		Confidence: as.Confidence,
		Usage:      usage,
	}, nil
}

func parseAssessment(text string) (assessment, bool) {
	raw, ok := extractJSON(text)
	if !ok {
		return assessment{}, false
	}
	var as assessment
	if err := json.Unmarshal(raw, &as); err != nil {
		return assessment{}, false
	}
	if as.Confidence < 0 {
		as.Confidence = 0
	}
	if as.Confidence > 1 {
		as.Confidence = 1
	}
	return as, true
}

// checklistAssessment derives an advisory from the publish gate alone.
func checklistAssessment(v publish.Validation) assessment {
	if v.Ready {
		return assessment{
			Confidence: 0.9,
			Advice:     "Everything the page needs is in place. Publish when you're happy with it.",
		}
	}
	conf := 0.8 - 0.15*float64(len(v.Missing))
	if conf < 0.2 {
		conf = 0.2
	}
	return assessment{
		Confidence: conf,
		Missing:    v.Missing,
		Advice:     "Fill in the missing pieces and this page is ready to go.",
	}
}

func readinessMessage(as assessment) string {
	var b strings.Builder
	switch {
	case as.Confidence >= 0.8:
		b.WriteString("This page is looking ready to publish.")
	case as.Confidence >= 0.5:
		b.WriteString("You're close, a few things would make this page stronger.")
	default:
		b.WriteString("The page needs more before it's ready.")
	}
	if len(as.Missing) > 0 {
		fmt.Fprintf(&b, " Still missing: %s.", strings.Join(as.Missing, ", "))
	}
	if as.Advice != "" {
		b.WriteString(" ")
		b.WriteString(as.Advice)
	}
	return b.String()
}
