package state

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Phase is a coarse reading of how far along a draft is. Phases drive the
// delegation router's defaults; they are hints, not gates.
type Phase string

const (
	PhaseIntake   Phase = "intake"   // nothing captured yet
	PhaseImagery  Phase = "imagery"  // story captured, no photos
	PhaseDrafting Phase = "drafting" // photos present, listing copy missing
	PhaseReview   Phase = "review"   // copy drafted, polishing toward publish
)

// Hint summarizes draft completeness for routing decisions.
type Hint struct {
	Phase        Phase
	HasNarrative bool
	HasImages    bool
	HasCopy      bool
}

// HintFor derives the routing hint from the current draft.
func HintFor(p Project) Hint {
	h := Hint{
		HasNarrative: p.Problem != "" || p.Solution != "" || p.Highlight != "" ||
			len(p.Materials) > 0 || len(p.Techniques) > 0,
		HasImages: len(p.Images) > 0,
		HasCopy:   p.Title != "" && p.Description != "",
	}
	switch {
	case !h.HasNarrative && !h.HasImages:
		h.Phase = PhaseIntake
	case !h.HasImages:
		h.Phase = PhaseImagery
	case !h.HasCopy:
		h.Phase = PhaseDrafting
	default:
		h.Phase = PhaseReview
	}
	return h
}

// PhaseFor returns just the phase for the current draft.
func PhaseFor(p Project) Phase {
	return HintFor(p).Phase
}

// Checkpoint is an immutable snapshot of the draft taken after a turn's merge
// completes. IDs are ULIDs, so lexicographic order is creation order.
type Checkpoint struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	State     Project   `json:"state"`
	Phase     Phase     `json:"phase"`
	TurnCount int       `json:"turnCount"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewCheckpoint snapshots the draft after a completed turn.
func NewCheckpoint(projectID string, p Project, turnCount int) Checkpoint {
	return Checkpoint{
		ID:        ulid.Make().String(),
		ProjectID: projectID,
		State:     p.Clone(),
		Phase:     PhaseFor(p),
		TurnCount: turnCount,
		CreatedAt: time.Now().UTC(),
	}
}

// TurnEntry is one line of the persisted conversation log.
type TurnEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
