// Package publish is the publish boundary: the one hard gate between a
// draft project and a live page. The readiness subagent advises; this
// package decides.
package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/knearme/showcase/internal/state"
)

// ErrNotReady is returned by Publish when validation fails.
var ErrNotReady = errors.New("project not ready to publish")

// Validation is the outcome of the publish gate.
type Validation struct {
	Ready   bool     `json:"ready"`
	Missing []string `json:"missing,omitempty"`
}

// Validate applies the publish requirements: a title, a description, at
// least one photo, a chosen hero, and alt text on every photo. Pure
// function of the state; safe to call from anywhere.
func Validate(p state.Project) Validation {
	var missing []string

	if p.Title == "" {
		missing = append(missing, "title")
	}
	if p.Description == "" {
		missing = append(missing, "description")
	}
	if len(p.Images) == 0 {
		missing = append(missing, "photos")
	} else {
		if p.HeroImageID == "" {
			missing = append(missing, "hero image")
		}
		bare := 0
		for _, img := range p.Images {
			if img.AltText == "" {
				bare++
			}
		}
		if bare > 0 {
			missing = append(missing, fmt.Sprintf("alt text on %d photos", bare))
		}
	}

	return Validation{Ready: len(missing) == 0, Missing: missing}
}

// Store is the persistence the publisher needs.
type Store interface {
	LoadProjectState(ctx context.Context, projectID string) (state.Project, error)
	MarkPublished(ctx context.Context, projectID string) error

	// LogPublish records one publish attempt, accepted or not.
	LogPublish(ctx context.Context, projectID, result string, missing []string) error
}

// Publisher flips projects live after re-validating them.
type Publisher struct {
	store  Store
	logger zerolog.Logger
}

func NewPublisher(store Store, logger zerolog.Logger) *Publisher {
	return &Publisher{
		store:  store,
		logger: logger.With().Str("component", "publish").Logger(),
	}
}

// Publish re-validates the current state and marks the project published.
// Validation happens against freshly loaded state so a stale caller can
// never publish around the gate.
func (p *Publisher) Publish(ctx context.Context, projectID string) (Validation, error) {
	cur, err := p.store.LoadProjectState(ctx, projectID)
	if err != nil {
		return Validation{}, fmt.Errorf("publish: load state: %w", err)
	}
	if err := cur.Validate(); err != nil {
		return Validation{}, fmt.Errorf("publish: %w", err)
	}

	v := Validate(cur)
	if !v.Ready {
		p.logger.Info().
			Str("project_id", projectID).
			Strs("missing", v.Missing).
			Msg("publish blocked")
		if lerr := p.store.LogPublish(ctx, projectID, "rejected", v.Missing); lerr != nil {
			p.logger.Warn().Err(lerr).Str("project_id", projectID).Msg("recording rejected publish failed")
		}
		return v, fmt.Errorf("%w: missing %v", ErrNotReady, v.Missing)
	}

	if err := p.store.MarkPublished(ctx, projectID); err != nil {
		return v, fmt.Errorf("publish: mark published: %w", err)
	}
	if lerr := p.store.LogPublish(ctx, projectID, "published", nil); lerr != nil {
		p.logger.Warn().Err(lerr).Str("project_id", projectID).Msg("recording publish failed")
	}

	p.logger.Info().Str("project_id", projectID).Msg("project published")
	return v, nil
}

// ValidateProject loads the current state and runs the gate without
// publishing.
func (p *Publisher) ValidateProject(ctx context.Context, projectID string) (Validation, error) {
	cur, err := p.store.LoadProjectState(ctx, projectID)
	if err != nil {
		return Validation{}, fmt.Errorf("validate: load state: %w", err)
	}
	return Validate(cur), nil
}

// IsNotReady reports whether err is the publish gate rejecting.
func IsNotReady(err error) bool {
	return errors.Is(err, ErrNotReady)
}
