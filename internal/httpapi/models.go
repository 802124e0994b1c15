package httpapi

import (
	"github.com/knearme/showcase/internal/state"
)

// --- Request DTOs ---

// TurnRequest is the payload for POST /api/v1/projects/:id/turns.
type TurnRequest struct {
	Text   string      `json:"text"`
	Images []TurnImage `json:"images,omitempty"`
}

// TurnImage is a photo attached to a turn. Field names follow the draft
// vocabulary so clients round-trip images unchanged.
type TurnImage struct {
	ID      string `json:"id,omitempty"`
	URL     string `json:"url"`
	AltText string `json:"altText,omitempty"`
}

// AddImageRequest is the payload for POST /api/v1/projects/:id/images.
type AddImageRequest struct {
	ID      string `json:"id,omitempty"`
	URL     string `json:"url"`
	Role    string `json:"role,omitempty"`
	AltText string `json:"altText,omitempty"`
}

// ReorderImagesRequest is the payload for PUT /api/v1/projects/:id/images/order.
// Order must be a permutation of the project's current image ids.
type ReorderImagesRequest struct {
	Order []string `json:"order"`
}

// --- Response DTOs ---

// ProjectResponse is a project with its bookkeeping columns. Timestamps
// are unix milliseconds.
type ProjectResponse struct {
	ID          string        `json:"id"`
	Phase       string        `json:"phase"`
	Draft       state.Project `json:"draft"`
	TurnCount   int           `json:"turn_count"`
	Published   bool          `json:"published"`
	PublishedAt int64         `json:"published_at,omitempty"`
	CreatedAt   int64         `json:"created_at"`
	UpdatedAt   int64         `json:"updated_at"`
}

// CheckpointSummary is one checkpoint without its draft blob.
type CheckpointSummary struct {
	ID        string `json:"id"`
	Phase     string `json:"phase"`
	TurnCount int    `json:"turn_count"`
	CreatedAt int64  `json:"created_at"`
}

// CheckpointListResponse wraps a project's checkpoint history, newest
// first.
type CheckpointListResponse struct {
	Checkpoints []CheckpointSummary `json:"checkpoints"`
	Total       int                 `json:"total"`
}

// CheckpointResponse is one full checkpoint including its draft.
type CheckpointResponse struct {
	ID        string        `json:"id"`
	Phase     string        `json:"phase"`
	TurnCount int           `json:"turn_count"`
	CreatedAt int64         `json:"created_at"`
	Draft     state.Project `json:"draft"`
}

// ImageResponse wraps one registered image.
type ImageResponse struct {
	Image state.Image `json:"image"`
}

// ImageListResponse wraps a project's image registry in display order.
type ImageListResponse struct {
	Images []state.Image `json:"images"`
	Total  int           `json:"total"`
}

// PublishResponse reports the outcome of a publish attempt.
type PublishResponse struct {
	Published bool     `json:"published"`
	Missing   []string `json:"missing,omitempty"`
}

// ValidationResponse is the publish gate's dry-run verdict.
type ValidationResponse struct {
	Ready   bool     `json:"ready"`
	Missing []string `json:"missing,omitempty"`
}

// HealthDetailResponse is the response for GET /api/v1/health.
type HealthDetailResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Uptime  string            `json:"uptime"`
	Version string            `json:"version"`
}

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
