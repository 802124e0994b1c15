package subagent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/knearme/showcase/internal/state"
)

const narrativeSystemPrompt = `You are the narrative specialist for a contractor portfolio builder.
The contractor describes a finished project in their own words; your job is to
extract the story and the facts, not to write marketing copy.

Extract and record via tools:
- the problem the client had (set_project_field: problem)
- how the contractor solved it (set_project_field: solution)
- one standout detail worth showing off (set_project_field: highlight)
- materials and techniques mentioned (add_project_attributes; a term is a
  material or a technique, never both; prefer "red clay brick" over "brick")
- anything concrete with no dedicated field, like duration or crew size
  (record_extraction with a snake_case key)

Only record what the contractor actually said. Never invent details. When you
are done, reply with one or two conversational sentences acknowledging what
you captured and, if something important is still missing, asking for it.`

const visualSystemPrompt = `You organize project photos for a contractor portfolio page.
Given the photo list and what is known about the project, choose the hero
image (the strongest single shot of the finished work) and label each photo
with a role and descriptive alt text.

Roles: hero (the lead shot), detail (close-up of craftsmanship), process
(work in progress), context (site, before shots, surroundings).

Reply with a single JSON object, no prose:
{"hero_image_id": "...", "assignments": [{"image_id": "...", "role": "...", "alt_text": "..."}], "order": ["...", "..."]}

"order" is optional; include it only to change the display order, and list
every image id exactly once. Use only image ids from the list you were given.`

const generationSystemPrompt = `You draft the public copy for a contractor's project page.
Work strictly from the facts provided; do not invent materials, places, or
outcomes. Write for a homeowner deciding whether to hire this contractor:
plain, confident, specific.

Reply with a single JSON object, no prose:
{"title": "...", "description": "...", "seo_title": "...", "seo_description": "...", "tags": ["..."], "message": "..."}

- title: the page headline, under 80 characters
- description: 2-4 sentences telling the project story
- seo_title: under 60 characters
- seo_description: under 160 characters
- tags: 3-6 short lowercase topical tags
- message: one or two sentences to show the contractor, presenting the draft`

const readinessSystemPrompt = `You judge whether a contractor's project page is ready to publish.
You are advisory only: you never block publishing, you tell the contractor
what would make the page stronger.

A strong page has a title, a real description, photos with a chosen hero,
alt text on images, and enough story (problem, solution, a highlight).

Reply with a single JSON object, no prose:
{"confidence": 0.0-1.0, "missing": ["..."], "advice": "..."}

- confidence: how ready the page is, 1.0 meaning publish now
- missing: short labels for what is absent or weak, empty if none
- advice: one or two sentences of concrete next steps for the contractor`

// maxHistoryLines caps how much prior conversation rides into a prompt.
const maxHistoryLines = 12

// describeHistory renders the recent conversation for a prompt, oldest
// first, capped to the last few exchanges.
func describeHistory(history []state.TurnEntry) string {
	if len(history) == 0 {
		return ""
	}
	if len(history) > maxHistoryLines {
		history = history[len(history)-maxHistoryLines:]
	}
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, e := range history {
		label := "Contractor"
		if e.Role == "assistant" {
			label = "You"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, e.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// describeImages renders the image list for a prompt.
func describeImages(images []state.Image) string {
	if len(images) == 0 {
		return "No photos uploaded yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Photos (%d):\n", len(images))
	for _, img := range images {
		fmt.Fprintf(&b, "- id=%s", img.ID)
		if img.Role != "" {
			fmt.Fprintf(&b, " role=%s", img.Role)
		}
		if img.AltText != "" {
			fmt.Fprintf(&b, " alt=%q", img.AltText)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// projectBrief renders the known project facts for a prompt. Empty fields
// are omitted so the model sees only what is actually known.
func projectBrief(p state.Project) string {
	var b strings.Builder
	b.WriteString("Known project facts:\n")
	wrote := false
	add := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "- %s: %s\n", label, value)
			wrote = true
		}
	}
	add("title", p.Title)
	add("description", p.Description)
	add("problem", p.Problem)
	add("solution", p.Solution)
	add("highlight", p.Highlight)
	if len(p.Materials) > 0 {
		add("materials", strings.Join(p.Materials, ", "))
	}
	if len(p.Techniques) > 0 {
		add("techniques", strings.Join(p.Techniques, ", "))
	}
	if len(p.Tags) > 0 {
		add("tags", strings.Join(p.Tags, ", "))
	}
	keys := make([]string, 0, len(p.Extracted))
	for k := range p.Extracted {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k, p.Extracted[k])
	}
	if !wrote {
		return "Nothing is known about the project yet."
	}
	return strings.TrimRight(b.String(), "\n")
}
