package subagent

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/knearme/showcase/internal/errors"
	"github.com/knearme/showcase/internal/llm"
	"github.com/knearme/showcase/internal/state"
)

func turnImages() []state.Image {
	return []state.Image{
		{ID: "img_1", URL: "https://cdn.example.com/1.jpg", Order: 0},
		{ID: "img_2", URL: "https://cdn.example.com/2.jpg", Order: 1},
		{ID: "img_3", URL: "https://cdn.example.com/3.jpg", Order: 2},
	}
}

func TestVisual_AppliesModelPlan(t *testing.T) {
	p := &fakeProvider{script: []func() (*llm.CompletionResponse, error){
		respondText(`{
			"hero_image_id": "img_2",
			"assignments": [
				{"image_id": "img_1", "role": "process", "alt_text": "Old chimney before teardown"},
				{"image_id": "img_2", "role": "hero", "alt_text": "Finished chimney at dusk"},
				{"image_id": "img_3", "role": "detail", "alt_text": "Tuckpointed joints up close"}
			],
			"order": ["img_2", "img_3", "img_1"]
		}`),
	}}
	agent := NewVisualAgent(p, zerolog.Nop())

	res, err := agent.Run(context.Background(), state.Project{}, TurnInput{Images: turnImages()})
	require.NoError(t, err)
	assert.Equal(t, "img_2", res.Delta.HeroImageID)
	assert.Len(t, res.Delta.Images, 3)
	assert.Equal(t, []string{"img_2", "img_3", "img_1"}, res.Delta.ImageOrder)
	assert.InDelta(t, 0.6, res.Confidence, 0.001)

	// The chosen hero is cited so the client can show it.
	require.Len(t, res.Citations, 1)
	assert.Equal(t, "img_2", res.Citations[0].ID)
	assert.Equal(t, "https://cdn.example.com/2.jpg", res.Citations[0].URL)
}

func TestVisual_DropsInvalidPiecesKeepsRest(t *testing.T) {
	p := &fakeProvider{script: []func() (*llm.CompletionResponse, error){
		respondText(`{
			"hero_image_id": "img_999",
			"assignments": [
				{"image_id": "img_1", "role": "hero", "alt_text": "Finished work"},
				{"image_id": "img_404", "role": "detail"}
			],
			"order": ["img_1", "img_1", "img_2"]
		}`),
	}}
	agent := NewVisualAgent(p, zerolog.Nop())

	res, err := agent.Run(context.Background(), state.Project{}, TurnInput{Images: turnImages()})
	require.NoError(t, err)
	// Unknown hero dropped, unknown assignment dropped, bad order dropped.
	assert.Empty(t, res.Delta.HeroImageID)
	require.Len(t, res.Delta.Images, 1)
	assert.Equal(t, "img_1", res.Delta.Images[0].ID)
	assert.Empty(t, res.Delta.ImageOrder)
}

func TestVisual_UnusableReplyFallsBackToHeuristic(t *testing.T) {
	for name, reply := range map[string]string{
		"prose":       "I think the second photo is great!",
		"broken json": `{"hero_image_id": `,
		"all invalid": `{"hero_image_id": "nope", "assignments": [{"image_id": "also-nope", "role": "hero"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			p := &fakeProvider{script: []func() (*llm.CompletionResponse, error){
				respondText(reply),
			}}
			agent := NewVisualAgent(p, zerolog.Nop())

			res, err := agent.Run(context.Background(), state.Project{}, TurnInput{Images: turnImages()})
			require.NoError(t, err)
			assert.Equal(t, "img_1", res.Delta.HeroImageID, "heuristic picks the first image")
			assert.InDelta(t, 0.3, res.Confidence, 0.001)
		})
	}
}

func TestVisual_HeuristicRespectsExistingRoles(t *testing.T) {
	images := []state.Image{
		{ID: "img_1", Role: "context", Order: 0},
		{ID: "img_2", Role: state.RoleHero, Order: 1},
		{ID: "img_3", Order: 2},
	}
	d := heuristicVisual(images)
	assert.Equal(t, "img_2", d.HeroImageID, "existing hero role wins")
	// Only the unroled image gets a label.
	require.Len(t, d.Images, 1)
	assert.Equal(t, "img_3", d.Images[0].ID)
	assert.Equal(t, state.RoleDetail, d.Images[0].Role)
	assert.Empty(t, d.Images[0].AltText, "heuristic never invents alt text")
}

func TestVisual_NoImages(t *testing.T) {
	p := &fakeProvider{} // must not be called
	agent := NewVisualAgent(p, zerolog.Nop())

	res, err := agent.Run(context.Background(), state.Project{}, TurnInput{Text: "organize my photos"})
	require.NoError(t, err)
	assert.True(t, res.Delta.IsZero())
	assert.Contains(t, res.Message, "Upload")
	assert.Empty(t, p.calls)
}

func TestVisual_UpstreamErrorPropagates(t *testing.T) {
	p := &fakeProvider{script: []func() (*llm.CompletionResponse, error){
		respondError(apperrors.NewUpstreamError("anthropic", 500, "boom")),
	}}
	agent := NewVisualAgent(p, zerolog.Nop())

	_, err := agent.Run(context.Background(), state.Project{}, TurnInput{Images: turnImages()})
	require.Error(t, err)
}

func TestVisual_SeesProjectAndTurnImages(t *testing.T) {
	p := &fakeProvider{script: []func() (*llm.CompletionResponse, error){
		respondText(`{"hero_image_id": "img_old"}`),
	}}
	agent := NewVisualAgent(p, zerolog.Nop())

	cur := state.Project{Images: []state.Image{{ID: "img_old", URL: "https://cdn.example.com/old.jpg"}}}
	res, err := agent.Run(context.Background(), cur, TurnInput{
		Images: []state.Image{{ID: "img_new", URL: "https://cdn.example.com/new.jpg"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "img_old", res.Delta.HeroImageID)

	sent := p.calls[0].Messages[0].Content
	assert.Contains(t, sent, "img_old")
	assert.Contains(t, sent, "img_new")
}
