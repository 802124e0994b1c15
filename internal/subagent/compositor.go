package subagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/knearme/showcase/internal/publish"
	"github.com/knearme/showcase/internal/state"
)

// CompositorAgent is the deterministic fallback used when a specialist is
// unavailable (circuit open, retries exhausted). It extracts what plain
// string work can extract so a turn never dead-ends, and is honest about
// its limits: it invents nothing.
type CompositorAgent struct {
	logger zerolog.Logger
}

func NewCompositorAgent(logger zerolog.Logger) *CompositorAgent {
	return &CompositorAgent{
		logger: logger.With().Str("subagent", string(Compositor)).Logger(),
	}
}

func (a *CompositorAgent) Identity() Identity { return Compositor }

// materialKeywords maps words a contractor is likely to use to canonical
// material terms.
var materialKeywords = map[string]string{
	"brick":     "brick",
	"bricks":    "brick",
	"cedar":     "cedar",
	"oak":       "oak",
	"pine":      "pine",
	"granite":   "granite",
	"quartz":    "quartz",
	"marble":    "marble",
	"tile":      "tile",
	"tiles":     "tile",
	"slate":     "slate",
	"concrete":  "concrete",
	"stucco":    "stucco",
	"drywall":   "drywall",
	"copper":    "copper",
	"vinyl":     "vinyl",
	"hardwood":  "hardwood",
	"laminate":  "laminate",
	"mortar":    "mortar",
	"grout":     "grout",
	"limestone": "limestone",
	"bluestone": "bluestone",
	"composite": "composite",
	"stone":     "stone",
	"steel":     "steel",
}

// techniqueKeywords maps trade-technique words to canonical terms.
var techniqueKeywords = map[string]string{
	"tuckpointing":  "tuckpointing",
	"repointing":    "repointing",
	"framing":       "framing",
	"tiling":        "tiling",
	"waterproofing": "waterproofing",
	"demolition":    "demolition",
	"refinishing":   "refinishing",
	"staining":      "staining",
	"regrading":     "regrading",
	"flashing":      "flashing",
	"insulation":    "insulation",
	"soldering":     "soldering",
}

// highlightSignals mark a sentence worth calling out.
var highlightSignals = []string{
	"proud", "favorite", "custom", "hand", "tricky", "challenge", "matched",
}

func (a *CompositorAgent) Run(_ context.Context, cur state.Project, in TurnInput) (Result, error) {
	var d state.Delta

	sentences := splitSentences(in.Text)
	if cur.Title == "" && len(sentences) > 0 {
		d.Title = clampText(sentences[0], 80)
	}
	if cur.Highlight == "" {
		if h := pickHighlight(sentences); h != "" {
			d.Highlight = h
		}
	}

	words := tokenizeWords(in.Text)
	d.Materials = matchKeywords(words, materialKeywords)
	d.Techniques = matchKeywords(words, techniqueKeywords)

	images := knownImages(cur, in)
	if len(images) > 0 && cur.HeroImageID == "" {
		iv := heuristicVisual(images)
		d.HeroImageID = iv.HeroImageID
		d.Images = iv.Images
	}

	merged := state.Merge(cur, d)
	msg := a.message(d, merged)

	a.logger.Debug().
		Int("materials", len(d.Materials)).
		Int("techniques", len(d.Techniques)).
		Bool("titled", d.Title != "").
		Msg("compositor delta")

	return Result{
		Delta:      d,
		Message:    msg,
		Confidence: 0.2,
	}, nil
}

func (a *CompositorAgent) message(d state.Delta, merged state.Project) string {
	var b strings.Builder
	b.WriteString("I've saved what you shared.")
	if n := len(d.Materials) + len(d.Techniques); n > 0 {
		fmt.Fprintf(&b, " Noted %d materials and techniques.", n)
	}
	if v := publish.Validate(merged); !v.Ready {
		fmt.Fprintf(&b, " Still needed before publishing: %s.", strings.Join(v.Missing, ", "))
	}
	return b.String()
}

// splitSentences breaks text on sentence punctuation, dropping empties.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(text[start:i]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// pickHighlight returns the first sentence containing a signal word.
func pickHighlight(sentences []string) string {
	for _, s := range sentences {
		lower := strings.ToLower(s)
		for _, sig := range highlightSignals {
			if strings.Contains(lower, sig) {
				return clampText(s, 200)
			}
		}
	}
	return ""
}

// tokenizeWords lowercases text and splits it into alphanumeric words.
func tokenizeWords(text string) []string {
	lower := strings.ToLower(text)
	return strings.FieldsFunc(lower, func(r rune) bool {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		return !alnum
	})
}

// matchKeywords collects canonical terms for every table hit, first
// occurrence order, no duplicates.
func matchKeywords(words []string, table map[string]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, w := range words {
		term, ok := table[w]
		if !ok || seen[term] {
			continue
		}
		seen[term] = true
		out = append(out, term)
	}
	return out
}
