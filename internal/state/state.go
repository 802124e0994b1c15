// Package state defines the portfolio project draft and the merge rules that
// combine subagent contributions into it. The draft is the single source of
// truth for a conversation; every mutation flows through Merge so partial
// updates can never erase data another contributor already supplied.
package state

import (
	"fmt"

	apperrors "github.com/knearme/showcase/internal/errors"
)

// Well-known image roles. The vocabulary is open-ended; the visual subagent
// may label images with roles outside this list.
const (
	RoleHero    = "hero"
	RoleDetail  = "detail"
	RoleProcess = "process"
	RoleContext = "context"
)

// Image is one uploaded project photo. Images are created by the upload
// pipeline; conversation turns only relabel and reorder them.
type Image struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Role    string `json:"role,omitempty"`
	AltText string `json:"altText,omitempty"`
	Order   int    `json:"order"`
}

// Project is the draft portfolio entry assembled over a conversation.
// Zero values mean "not yet provided".
type Project struct {
	Title          string            `json:"title,omitempty"`
	Description    string            `json:"description,omitempty"`
	SEOTitle       string            `json:"seoTitle,omitempty"`
	SEODescription string            `json:"seoDescription,omitempty"`
	Problem        string            `json:"problem,omitempty"`
	Solution       string            `json:"solution,omitempty"`
	Highlight      string            `json:"highlight,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	Materials      []string          `json:"materials,omitempty"`
	Techniques     []string          `json:"techniques,omitempty"`
	HeroImageID    string            `json:"heroImageId,omitempty"`
	Images         []Image           `json:"images,omitempty"`
	Extracted      map[string]string `json:"extracted,omitempty"`
}

// Delta is a partial Project produced by a subagent or a tool. Zero-valued
// fields mean "not touched"; Merge never lets them erase populated data.
// ImageOrder, when present, replaces the image ordering wholesale.
type Delta struct {
	Title          string            `json:"title,omitempty"`
	Description    string            `json:"description,omitempty"`
	SEOTitle       string            `json:"seoTitle,omitempty"`
	SEODescription string            `json:"seoDescription,omitempty"`
	Problem        string            `json:"problem,omitempty"`
	Solution       string            `json:"solution,omitempty"`
	Highlight      string            `json:"highlight,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	Materials      []string          `json:"materials,omitempty"`
	Techniques     []string          `json:"techniques,omitempty"`
	HeroImageID    string            `json:"heroImageId,omitempty"`
	Images         []Image           `json:"images,omitempty"`
	ImageOrder     []string          `json:"imageOrder,omitempty"`
	Extracted      map[string]string `json:"extracted,omitempty"`
}

// Clone returns a deep copy of the project.
func (p Project) Clone() Project {
	out := p
	out.Tags = cloneStrings(p.Tags)
	out.Materials = cloneStrings(p.Materials)
	out.Techniques = cloneStrings(p.Techniques)
	if p.Images != nil {
		out.Images = make([]Image, len(p.Images))
		copy(out.Images, p.Images)
	}
	if p.Extracted != nil {
		out.Extracted = make(map[string]string, len(p.Extracted))
		for k, v := range p.Extracted {
			out.Extracted[k] = v
		}
	}
	return out
}

// AsDelta converts the full project into a delta touching every populated
// field. Merging a project's own delta back into it is a no-op.
func (p Project) AsDelta() Delta {
	return Delta{
		Title:          p.Title,
		Description:    p.Description,
		SEOTitle:       p.SEOTitle,
		SEODescription: p.SEODescription,
		Problem:        p.Problem,
		Solution:       p.Solution,
		Highlight:      p.Highlight,
		Tags:           cloneStrings(p.Tags),
		Materials:      cloneStrings(p.Materials),
		Techniques:     cloneStrings(p.Techniques),
		HeroImageID:    p.HeroImageID,
		Images:         append([]Image(nil), p.Images...),
		Extracted:      cloneExtracted(p.Extracted),
	}
}

// HasImage reports whether an image with the given id exists.
func (p Project) HasImage(id string) bool {
	for _, img := range p.Images {
		if img.ID == id {
			return true
		}
	}
	return false
}

// FindImage returns the image with the given id.
func (p Project) FindImage(id string) (Image, bool) {
	for _, img := range p.Images {
		if img.ID == id {
			return img, true
		}
	}
	return Image{}, false
}

// Validate checks structural invariants. A violation means the stored state
// was corrupted outside the merge path and the turn must abort.
func (p Project) Validate() error {
	seen := make(map[string]struct{}, len(p.Images))
	for _, img := range p.Images {
		if img.ID == "" {
			return fmt.Errorf("image with empty id: %w", apperrors.ErrStateCorrupt)
		}
		if _, dup := seen[img.ID]; dup {
			return fmt.Errorf("duplicate image id %q: %w", img.ID, apperrors.ErrStateCorrupt)
		}
		seen[img.ID] = struct{}{}
	}
	if p.HeroImageID != "" {
		if _, ok := seen[p.HeroImageID]; !ok {
			return fmt.Errorf("hero image %q not in image list: %w", p.HeroImageID, apperrors.ErrStateCorrupt)
		}
	}
	return nil
}

// IsEmpty reports whether nothing has been captured yet.
func (p Project) IsEmpty() bool {
	return p.Title == "" && p.Description == "" && p.Problem == "" && p.Solution == "" &&
		p.Highlight == "" && len(p.Tags) == 0 && len(p.Materials) == 0 &&
		len(p.Techniques) == 0 && len(p.Images) == 0 && len(p.Extracted) == 0
}

// IsZero reports whether the delta touches nothing.
func (d Delta) IsZero() bool {
	return d.Title == "" && d.Description == "" && d.SEOTitle == "" && d.SEODescription == "" &&
		d.Problem == "" && d.Solution == "" && d.Highlight == "" &&
		len(d.Tags) == 0 && len(d.Materials) == 0 && len(d.Techniques) == 0 &&
		d.HeroImageID == "" && len(d.Images) == 0 && len(d.ImageOrder) == 0 && len(d.Extracted) == 0
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func cloneExtracted(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
