package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/knearme/showcase/internal/errors"
	"github.com/knearme/showcase/internal/llm"
	"github.com/knearme/showcase/internal/state"
)

// RegisterProjectTools registers every project-mutating tool on r.
func RegisterProjectTools(r *Registry) {
	r.Register(&SetProjectFieldTool{})
	r.Register(&AddProjectAttributesTool{})
	r.Register(&RecordExtractionTool{})
	r.Register(&SetHeroImageTool{})
	r.Register(&AssignImageRolesTool{})
	r.Register(&ReorderImagesTool{})
}

// SetProjectFieldTool sets one scalar field from the allow-list.
type SetProjectFieldTool struct{}

type setProjectFieldInput struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (t *SetProjectFieldTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        "set_project_field",
		Description: "Set a single text field on the project. Only the enumerated fields can be written.",
		InputSchema: MustSchema(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"field": map[string]interface{}{
					"type":        "string",
					"enum":        fieldNames(),
					"description": "Which project field to set",
				},
				"value": map[string]string{
					"type":        "string",
					"description": "The new value (non-empty)",
				},
			},
			"required": []string{"field", "value"},
		}),
	}
}

func (t *SetProjectFieldTool) Execute(_ context.Context, _ state.Project, input json.RawMessage) (state.Delta, string, error) {
	var inp setProjectFieldInput
	if err := json.Unmarshal(input, &inp); err != nil {
		return state.Delta{}, "", fmt.Errorf("%w: set_project_field: %v", apperrors.ErrInvalidInput, err)
	}
	if inp.Value == "" {
		return state.Delta{}, "", fmt.Errorf("%w: set_project_field: value is required", apperrors.ErrInvalidInput)
	}

	var d state.Delta
	if err := setField(&d, Field(inp.Field), inp.Value); err != nil {
		return state.Delta{}, "", err
	}
	return d, fmt.Sprintf("set %s", inp.Field), nil
}

// AddProjectAttributesTool appends terms to the project's tag, material,
// and technique sets. De-duplication against existing terms happens at
// merge time, not here.
type AddProjectAttributesTool struct{}

type addProjectAttributesInput struct {
	Tags       []string `json:"tags,omitempty"`
	Materials  []string `json:"materials,omitempty"`
	Techniques []string `json:"techniques,omitempty"`
}

func (t *AddProjectAttributesTool) Schema() llm.ToolSchema {
	terms := map[string]interface{}{
		"type":  "array",
		"items": map[string]string{"type": "string"},
	}
	return llm.ToolSchema{
		Name:        "add_project_attributes",
		Description: "Add tags, materials, or techniques mentioned by the contractor. Prefer specific terms over generic ones. A term belongs to materials or techniques, never both.",
		InputSchema: MustSchema(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"tags":       terms,
				"materials":  terms,
				"techniques": terms,
			},
		}),
	}
}

func (t *AddProjectAttributesTool) Execute(_ context.Context, _ state.Project, input json.RawMessage) (state.Delta, string, error) {
	var inp addProjectAttributesInput
	if err := json.Unmarshal(input, &inp); err != nil {
		return state.Delta{}, "", fmt.Errorf("%w: add_project_attributes: %v", apperrors.ErrInvalidInput, err)
	}

	d := state.Delta{
		Tags:       normalizeTerms(inp.Tags),
		Materials:  normalizeTerms(inp.Materials),
		Techniques: normalizeTerms(inp.Techniques),
	}
	total := len(d.Tags) + len(d.Materials) + len(d.Techniques)
	if total == 0 {
		return state.Delta{}, "", fmt.Errorf("%w: add_project_attributes: at least one term is required", apperrors.ErrInvalidInput)
	}

	var parts []string
	if n := len(d.Tags); n > 0 {
		parts = append(parts, fmt.Sprintf("%d tags", n))
	}
	if n := len(d.Materials); n > 0 {
		parts = append(parts, fmt.Sprintf("%d materials", n))
	}
	if n := len(d.Techniques); n > 0 {
		parts = append(parts, fmt.Sprintf("%d techniques", n))
	}
	return d, "recorded " + strings.Join(parts, ", "), nil
}

// normalizeTerms lowercases and whitespace-collapses terms, dropping
// empties and in-list duplicates.
func normalizeTerms(terms []string) []string {
	var out []string
	seen := make(map[string]bool, len(terms))
	for _, raw := range terms {
		term := state.NormalizeTerm(raw)
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		out = append(out, term)
	}
	return out
}

// RecordExtractionTool stashes a value under a free-form key for fields
// that have no first-class slot yet.
type RecordExtractionTool struct{}

type recordExtractionInput struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (t *RecordExtractionTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        "record_extraction",
		Description: "Record a project detail that has no dedicated field, keyed by a short snake_case name (e.g. duration_weeks, crew_size, budget_range).",
		InputSchema: MustSchema(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"key": map[string]string{
					"type":        "string",
					"description": "snake_case key, letters/digits/underscores",
				},
				"value": map[string]string{
					"type":        "string",
					"description": "The extracted value",
				},
			},
			"required": []string{"key", "value"},
		}),
	}
}

func (t *RecordExtractionTool) Execute(_ context.Context, _ state.Project, input json.RawMessage) (state.Delta, string, error) {
	var inp recordExtractionInput
	if err := json.Unmarshal(input, &inp); err != nil {
		return state.Delta{}, "", fmt.Errorf("%w: record_extraction: %v", apperrors.ErrInvalidInput, err)
	}
	key := strings.ToLower(strings.TrimSpace(inp.Key))
	if !validExtractionKey(key) {
		return state.Delta{}, "", fmt.Errorf("%w: record_extraction: bad key %q", apperrors.ErrInvalidInput, inp.Key)
	}
	if inp.Value == "" {
		return state.Delta{}, "", fmt.Errorf("%w: record_extraction: value is required", apperrors.ErrInvalidInput)
	}

	d := state.Delta{Extracted: map[string]string{key: inp.Value}}
	return d, fmt.Sprintf("recorded %s", key), nil
}

// validExtractionKey accepts short snake_case identifiers.
func validExtractionKey(key string) bool {
	if key == "" || len(key) > 64 {
		return false
	}
	for i, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		case r == '_':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// SetHeroImageTool picks the project's hero image.
type SetHeroImageTool struct{}

type setHeroImageInput struct {
	ImageID string `json:"image_id"`
}

func (t *SetHeroImageTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        "set_hero_image",
		Description: "Choose which uploaded image is the project's hero (lead) image.",
		InputSchema: MustSchema(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"image_id": map[string]string{
					"type":        "string",
					"description": "ID of an already-uploaded image",
				},
			},
			"required": []string{"image_id"},
		}),
	}
}

func (t *SetHeroImageTool) Execute(_ context.Context, cur state.Project, input json.RawMessage) (state.Delta, string, error) {
	var inp setHeroImageInput
	if err := json.Unmarshal(input, &inp); err != nil {
		return state.Delta{}, "", fmt.Errorf("%w: set_hero_image: %v", apperrors.ErrInvalidInput, err)
	}
	if inp.ImageID == "" {
		return state.Delta{}, "", fmt.Errorf("%w: set_hero_image: image_id is required", apperrors.ErrInvalidInput)
	}
	if !cur.HasImage(inp.ImageID) {
		return state.Delta{}, "", fmt.Errorf("%w: set_hero_image: unknown image %q", apperrors.ErrInvalidInput, inp.ImageID)
	}

	return state.Delta{HeroImageID: inp.ImageID}, fmt.Sprintf("hero image set to %s", inp.ImageID), nil
}

// AssignImageRolesTool labels images with roles and alt text.
type AssignImageRolesTool struct{}

type imageRoleAssignment struct {
	ImageID string `json:"image_id"`
	Role    string `json:"role"`
	AltText string `json:"alt_text,omitempty"`
}

type assignImageRolesInput struct {
	Assignments []imageRoleAssignment `json:"assignments"`
}

func (t *AssignImageRolesTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        "assign_image_roles",
		Description: "Label uploaded images with a role (hero, detail, process, context, ...) and optional alt text for accessibility and SEO.",
		InputSchema: MustSchema(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"assignments": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"image_id": map[string]string{"type": "string"},
							"role":     map[string]string{"type": "string"},
							"alt_text": map[string]string{"type": "string"},
						},
						"required": []string{"image_id", "role"},
					},
				},
			},
			"required": []string{"assignments"},
		}),
	}
}

func (t *AssignImageRolesTool) Execute(_ context.Context, cur state.Project, input json.RawMessage) (state.Delta, string, error) {
	var inp assignImageRolesInput
	if err := json.Unmarshal(input, &inp); err != nil {
		return state.Delta{}, "", fmt.Errorf("%w: assign_image_roles: %v", apperrors.ErrInvalidInput, err)
	}
	if len(inp.Assignments) == 0 {
		return state.Delta{}, "", fmt.Errorf("%w: assign_image_roles: assignments is required", apperrors.ErrInvalidInput)
	}

	var d state.Delta
	for _, a := range inp.Assignments {
		if !cur.HasImage(a.ImageID) {
			return state.Delta{}, "", fmt.Errorf("%w: assign_image_roles: unknown image %q", apperrors.ErrInvalidInput, a.ImageID)
		}
		role := strings.ToLower(strings.TrimSpace(a.Role))
		if role == "" {
			return state.Delta{}, "", fmt.Errorf("%w: assign_image_roles: role is required for %s", apperrors.ErrInvalidInput, a.ImageID)
		}
		d.Images = append(d.Images, state.Image{
			ID:      a.ImageID,
			Role:    role,
			AltText: a.AltText,
		})
	}
	return d, fmt.Sprintf("assigned roles to %d images", len(d.Images)), nil
}

// ReorderImagesTool replaces the image display order wholesale.
type ReorderImagesTool struct{}

type reorderImagesInput struct {
	ImageIDs []string `json:"image_ids"`
}

func (t *ReorderImagesTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        "reorder_images",
		Description: "Set the display order of the project's images. Must list every current image id exactly once.",
		InputSchema: MustSchema(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"image_ids": map[string]interface{}{
					"type":        "array",
					"items":       map[string]string{"type": "string"},
					"description": "All image ids in the desired order",
				},
			},
			"required": []string{"image_ids"},
		}),
	}
}

func (t *ReorderImagesTool) Execute(_ context.Context, cur state.Project, input json.RawMessage) (state.Delta, string, error) {
	var inp reorderImagesInput
	if err := json.Unmarshal(input, &inp); err != nil {
		return state.Delta{}, "", fmt.Errorf("%w: reorder_images: %v", apperrors.ErrInvalidInput, err)
	}
	if err := validatePermutation(cur, inp.ImageIDs); err != nil {
		return state.Delta{}, "", err
	}

	return state.Delta{ImageOrder: inp.ImageIDs}, fmt.Sprintf("reordered %d images", len(inp.ImageIDs)), nil
}

// validatePermutation checks ids is exactly the current image id set.
func validatePermutation(cur state.Project, ids []string) error {
	if len(ids) != len(cur.Images) {
		return fmt.Errorf("%w: reorder_images: got %d ids, project has %d images",
			apperrors.ErrInvalidInput, len(ids), len(cur.Images))
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return fmt.Errorf("%w: reorder_images: duplicate id %q", apperrors.ErrInvalidInput, id)
		}
		if !cur.HasImage(id) {
			return fmt.Errorf("%w: reorder_images: unknown image %q", apperrors.ErrInvalidInput, id)
		}
		seen[id] = true
	}
	return nil
}
