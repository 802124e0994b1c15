package subagent

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knearme/showcase/internal/state"
)

func TestCompositor_TitleFromFirstSentence(t *testing.T) {
	agent := NewCompositorAgent(zerolog.Nop())

	res, err := agent.Run(context.Background(), state.Project{}, TurnInput{
		Text: "Rebuilt a leaning chimney in Maplewood. Took about three weeks start to finish.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Rebuilt a leaning chimney in Maplewood", res.Delta.Title)
	assert.InDelta(t, 0.2, res.Confidence, 0.001)
}

func TestCompositor_NeverOverwritesTitle(t *testing.T) {
	agent := NewCompositorAgent(zerolog.Nop())

	cur := state.Project{Title: "Existing Title"}
	res, err := agent.Run(context.Background(), cur, TurnInput{Text: "Some new sentence here."})
	require.NoError(t, err)
	assert.Empty(t, res.Delta.Title)
}

func TestCompositor_KeywordTable(t *testing.T) {
	agent := NewCompositorAgent(zerolog.Nop())

	res, err := agent.Run(context.Background(), state.Project{}, TurnInput{
		Text: "We used red clay bricks and fresh mortar, then finished with tuckpointing and waterproofing.",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"brick", "mortar"}, res.Delta.Materials)
	assert.Equal(t, []string{"tuckpointing", "waterproofing"}, res.Delta.Techniques)
}

func TestCompositor_HighlightFromSignalWords(t *testing.T) {
	agent := NewCompositorAgent(zerolog.Nop())

	res, err := agent.Run(context.Background(), state.Project{}, TurnInput{
		Text: "New deck out back. The tricky part was matching the old stain on the railing.",
	})
	require.NoError(t, err)
	assert.Contains(t, res.Delta.Highlight, "tricky part")
}

func TestCompositor_PicksHeroWhenMissing(t *testing.T) {
	agent := NewCompositorAgent(zerolog.Nop())

	res, err := agent.Run(context.Background(), state.Project{}, TurnInput{
		Text:   "Here are the photos.",
		Images: []state.Image{{ID: "img_1"}, {ID: "img_2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "img_1", res.Delta.HeroImageID)
}

func TestCompositor_KeepsExistingHero(t *testing.T) {
	agent := NewCompositorAgent(zerolog.Nop())

	cur := state.Project{
		HeroImageID: "img_2",
		Images:      []state.Image{{ID: "img_1"}, {ID: "img_2"}},
	}
	res, err := agent.Run(context.Background(), cur, TurnInput{Text: "More photos."})
	require.NoError(t, err)
	assert.Empty(t, res.Delta.HeroImageID)
}

func TestCompositor_MessageMentionsMissingPieces(t *testing.T) {
	agent := NewCompositorAgent(zerolog.Nop())

	res, err := agent.Run(context.Background(), state.Project{}, TurnInput{Text: "hi"})
	require.NoError(t, err)
	assert.Contains(t, res.Message, "Still needed before publishing")
	assert.Contains(t, res.Message, "photos")
}

func TestCompositor_Deterministic(t *testing.T) {
	agent := NewCompositorAgent(zerolog.Nop())
	in := TurnInput{Text: "Cedar deck with custom railing. We used composite boards too."}

	r1, err := agent.Run(context.Background(), state.Project{}, in)
	require.NoError(t, err)
	r2, err := agent.Run(context.Background(), state.Project{}, in)
	require.NoError(t, err)
	assert.Equal(t, r1.Delta, r2.Delta)
	assert.Equal(t, r1.Message, r2.Message)
}

func TestCompositor_DeltaMergesValid(t *testing.T) {
	agent := NewCompositorAgent(zerolog.Nop())

	cur := state.Project{Images: []state.Image{{ID: "img_1", URL: "u"}}}
	res, err := agent.Run(context.Background(), cur, TurnInput{
		Text: "Slate patio with bluestone edging.",
	})
	require.NoError(t, err)

	merged := state.Merge(cur, res.Delta)
	require.NoError(t, merged.Validate())
	assert.Equal(t, "img_1", merged.HeroImageID)
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("One. Two! Three? Four")
	assert.Equal(t, []string{"One", "Two", "Three", "Four"}, got)

	assert.Empty(t, splitSentences(""))
	assert.Equal(t, []string{"No punctuation at all"}, splitSentences("No punctuation at all"))
}
