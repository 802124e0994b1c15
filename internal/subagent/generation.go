package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/knearme/showcase/internal/llm"
	"github.com/knearme/showcase/internal/state"
	"github.com/knearme/showcase/internal/stream"
)

const (
	seoTitleMax       = 60
	seoDescriptionMax = 160
)

// GenerationAgent drafts the publishable copy: title, description, SEO
// fields, and tags. It fails closed: an upstream error or an unusable
// reply produces no partial copy, so half-written drafts never reach
// project state.
type GenerationAgent struct {
	provider llm.LLMProvider
	logger   zerolog.Logger
}

func NewGenerationAgent(provider llm.LLMProvider, logger zerolog.Logger) *GenerationAgent {
	return &GenerationAgent{
		provider: provider,
		logger:   logger.With().Str("subagent", string(Generation)).Logger(),
	}
}

func (a *GenerationAgent) Identity() Identity { return Generation }

// draftCopy is the JSON reply shape the model is prompted for.
type draftCopy struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	SEOTitle       string   `json:"seo_title"`
	SEODescription string   `json:"seo_description"`
	Tags           []string `json:"tags"`
	Message        string   `json:"message"`
	Sources        []struct {
		ID    string `json:"id"`
		URL   string `json:"url"`
		Title string `json:"title"`
	} `json:"sources"`
}

func (a *GenerationAgent) Run(ctx context.Context, cur state.Project, in TurnInput) (Result, error) {
	var b strings.Builder
	b.WriteString(projectBrief(cur))
	b.WriteString("\n\n")
	b.WriteString(describeImages(knownImages(cur, in)))
	if in.Text != "" {
		fmt.Fprintf(&b, "\n\nThe contractor says:\n%s", in.Text)
	}

	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
		SystemPrompt: generationSystemPrompt,
	})
	if err != nil {
		return Result{}, fmt.Errorf("generation: %w", err)
	}

	raw, ok := extractJSON(resp.Text)
	if !ok {
		return Result{}, fmt.Errorf("generation: no JSON in model reply")
	}
	var draft draftCopy
	if err := json.Unmarshal(raw, &draft); err != nil {
		return Result{}, fmt.Errorf("generation: parse draft: %w", err)
	}
	if draft.Title == "" || draft.Description == "" {
		return Result{}, fmt.Errorf("generation: draft missing title or description")
	}

	d := state.Delta{
		Title:          draft.Title,
		Description:    draft.Description,
		SEOTitle:       clampText(draft.SEOTitle, seoTitleMax),
		SEODescription: clampText(draft.SEODescription, seoDescriptionMax),
	}
	if d.SEOTitle == "" {
		d.SEOTitle = clampText(draft.Title, seoTitleMax)
	}
	for _, t := range draft.Tags {
		if term := state.NormalizeTerm(t); term != "" {
			d.Tags = append(d.Tags, term)
		}
	}

	msg := draft.Message
	if msg == "" {
		msg = fmt.Sprintf("Here's a draft for your project page: \"%s\". Want me to adjust anything?", draft.Title)
	}

	var cites []stream.Source
	for _, s := range draft.Sources {
		if s.ID == "" && s.URL == "" {
			continue
		}
		cites = append(cites, stream.Source{ID: s.ID, URL: s.URL, Title: s.Title})
	}

	a.logger.Debug().Str("title", draft.Title).Int("tags", len(d.Tags)).Msg("draft ready")

	return Result{
		Delta:      d,
		Message:    msg,
		Confidence: 0.9,
		Citations:  cites,
		Usage:      stream.Usage{InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens},
	}, nil
}

// clampText trims s to at most max runes, cutting at a word boundary.
func clampText(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := max
	for cut > 0 && !unicode.IsSpace(runes[cut-1]) {
		cut--
	}
	if cut == 0 {
		cut = max
	}
	return strings.TrimSpace(string(runes[:cut]))
}
