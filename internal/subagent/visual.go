package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/knearme/showcase/internal/llm"
	"github.com/knearme/showcase/internal/state"
	"github.com/knearme/showcase/internal/stream"
)

// VisualAgent organizes the project's photos: hero selection, role
// labels, alt text, and display order. It proposes; ids it emits are
// validated against the actual image list, and an unusable model reply
// degrades to a deterministic heuristic instead of failing the turn.
type VisualAgent struct {
	provider llm.LLMProvider
	logger   zerolog.Logger
}

func NewVisualAgent(provider llm.LLMProvider, logger zerolog.Logger) *VisualAgent {
	return &VisualAgent{
		provider: provider,
		logger:   logger.With().Str("subagent", string(Visual)).Logger(),
	}
}

func (a *VisualAgent) Identity() Identity { return Visual }

// visualPlan is the JSON reply shape the model is prompted for.
type visualPlan struct {
	HeroImageID string `json:"hero_image_id"`
	Assignments []struct {
		ImageID string `json:"image_id"`
		Role    string `json:"role"`
		AltText string `json:"alt_text"`
	} `json:"assignments"`
	Order []string `json:"order"`
}

func (a *VisualAgent) Run(ctx context.Context, cur state.Project, in TurnInput) (Result, error) {
	images := knownImages(cur, in)
	if len(images) == 0 {
		return Result{
			Message:    "Upload a few photos of the project and I'll pick a lead shot and organize them.",
			Confidence: 0.2,
		}, nil
	}

	var b strings.Builder
	b.WriteString(projectBrief(cur))
	b.WriteString("\n\n")
	b.WriteString(describeImages(images))
	if in.Text != "" {
		fmt.Fprintf(&b, "\n\nThe contractor says:\n%s", in.Text)
	}

	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
		SystemPrompt: visualSystemPrompt,
	})
	if err != nil {
		return Result{}, fmt.Errorf("visual: %w", err)
	}

	usage := stream.Usage{InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens}

	delta, kept, total := a.applyPlan(resp.Text, images)
	if total == 0 || kept == 0 {
		// Model reply unusable: deterministic organization instead.
		a.logger.Warn().Msg("unusable visual plan, using heuristic")
		delta = heuristicVisual(images)
		return Result{
			Delta:      delta,
			Message:    visualMessage(delta, images),
			Confidence: 0.3,
			Citations:  heroCitation(delta, images),
			Usage:      usage,
		}, nil
	}

	return Result{
		Delta:      delta,
		Message:    visualMessage(delta, images),
		Confidence: 0.6,
		Citations:  heroCitation(delta, images),
		Usage:      usage,
	}, nil
}

// applyPlan parses and validates the model's plan. Invalid pieces are
// dropped individually; kept/total report how much survived.
func (a *VisualAgent) applyPlan(text string, images []state.Image) (state.Delta, int, int) {
	var d state.Delta
	raw, ok := extractJSON(text)
	if !ok {
		return d, 0, 0
	}
	var plan visualPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return d, 0, 0
	}

	byID := make(map[string]bool, len(images))
	for _, img := range images {
		byID[img.ID] = true
	}

	kept, total := 0, 0

	if plan.HeroImageID != "" {
		total++
		if byID[plan.HeroImageID] {
			d.HeroImageID = plan.HeroImageID
			kept++
		} else {
			a.logger.Warn().Str("image_id", plan.HeroImageID).Msg("dropping unknown hero id")
		}
	}

	for _, as := range plan.Assignments {
		total++
		role := strings.ToLower(strings.TrimSpace(as.Role))
		if !byID[as.ImageID] || role == "" {
			a.logger.Warn().Str("image_id", as.ImageID).Msg("dropping invalid role assignment")
			continue
		}
		d.Images = append(d.Images, state.Image{ID: as.ImageID, Role: role, AltText: as.AltText})
		kept++
	}

	if len(plan.Order) > 0 {
		total++
		if isPermutation(plan.Order, images) {
			d.ImageOrder = plan.Order
			kept++
		} else {
			a.logger.Warn().Msg("dropping non-permutation image order")
		}
	}

	return d, kept, total
}

// heuristicVisual is the deterministic fallback: first image leads, bare
// images become detail shots, no alt text is invented.
func heuristicVisual(images []state.Image) state.Delta {
	var d state.Delta
	hero := ""
	for _, img := range images {
		if img.Role == state.RoleHero {
			hero = img.ID
			break
		}
	}
	if hero == "" {
		hero = images[0].ID
	}
	d.HeroImageID = hero

	for _, img := range images {
		if img.Role != "" {
			continue
		}
		role := state.RoleDetail
		if img.ID == hero {
			role = state.RoleHero
		}
		d.Images = append(d.Images, state.Image{ID: img.ID, Role: role})
	}
	return d
}

func visualMessage(d state.Delta, images []state.Image) string {
	var parts []string
	if d.HeroImageID != "" {
		parts = append(parts, "picked your lead shot")
	}
	if n := len(d.Images); n > 0 {
		parts = append(parts, fmt.Sprintf("labeled %d photos", n))
	}
	if len(d.ImageOrder) > 0 {
		parts = append(parts, "reordered the gallery")
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Your %d photos look good as they are.", len(images))
	}
	return "I've " + strings.Join(parts, " and ") + "."
}

// heroCitation cites the chosen hero image so the client can show which
// photo the assistant is talking about.
func heroCitation(d state.Delta, images []state.Image) []stream.Source {
	if d.HeroImageID == "" {
		return nil
	}
	for _, img := range images {
		if img.ID == d.HeroImageID {
			title := img.AltText
			if title == "" {
				title = "Lead photo"
			}
			return []stream.Source{{ID: img.ID, URL: img.URL, Title: title}}
		}
	}
	return nil
}

// knownImages is the union of images already on the project and images
// arriving with this turn, project copy first.
func knownImages(cur state.Project, in TurnInput) []state.Image {
	out := make([]state.Image, 0, len(cur.Images)+len(in.Images))
	seen := make(map[string]bool, len(cur.Images))
	for _, img := range cur.Images {
		out = append(out, img)
		seen[img.ID] = true
	}
	for _, img := range in.Images {
		if !seen[img.ID] {
			out = append(out, img)
		}
	}
	return out
}

func isPermutation(ids []string, images []state.Image) bool {
	if len(ids) != len(images) {
		return false
	}
	byID := make(map[string]bool, len(images))
	for _, img := range images {
		byID[img.ID] = true
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !byID[id] || seen[id] {
			return false
		}
		seen[id] = true
	}
	return true
}
