// Package subagent implements the specialist agents a turn can be
// delegated to: narrative extraction, visual organization, copy
// generation, and readiness assessment, plus the deterministic
// compositor used when a specialist is unavailable.
package subagent

import (
	"context"
	"encoding/json"

	"github.com/knearme/showcase/internal/state"
	"github.com/knearme/showcase/internal/stream"
)

// Identity names one subagent. Circuit breakers, routing rules, and
// merge precedence are all keyed by Identity.
type Identity string

const (
	Narrative  Identity = "narrative"
	Visual     Identity = "visual"
	Generation Identity = "generation"
	Readiness  Identity = "readiness"
	Compositor Identity = "compositor"
)

// Precedence is the fixed fan-in merge order. When parallel subagents
// return conflicting deltas, later entries win scalar conflicts.
var Precedence = []Identity{Narrative, Visual, Generation, Readiness}

// Valid reports whether id names a dispatchable subagent.
func (id Identity) Valid() bool {
	switch id {
	case Narrative, Visual, Generation, Readiness, Compositor:
		return true
	}
	return false
}

// TurnInput is one user turn: the text plus any images uploaded with it.
type TurnInput struct {
	Text   string
	Images []state.Image

	// History is the recent conversation log, oldest first, excluding
	// this turn. Agents that prompt with prior context read it; the
	// rest ignore it.
	History []state.TurnEntry

	// Observer, if set, receives tool-call notifications as they happen
	// so the transport can stream them live. Owned by the turn, not the
	// subagent.
	Observer ToolObserver
}

// ToolRecord is one tool invocation made during a subagent run.
type ToolRecord struct {
	CallID  string
	Name    string
	Input   json.RawMessage
	Output  string
	IsError bool
}

// Result is what a subagent hands back to the orchestrator. The delta is
// merged into project state by the caller; the subagent never persists.
type Result struct {
	Delta      state.Delta
	Message    string
	Confidence float64
	Citations  []stream.Source
	Tools      []ToolRecord
	Usage      stream.Usage
}

// ToolObserver receives tool lifecycle notifications during a run.
type ToolObserver interface {
	ToolCallStarted(callID, name string, input json.RawMessage)
	ToolCallFinished(callID, name, output string, isError bool)
}

// Subagent is the delegation contract. Run must not mutate cur; all
// state changes flow back through Result.Delta.
type Subagent interface {
	Identity() Identity
	Run(ctx context.Context, cur state.Project, in TurnInput) (Result, error)
}

// DelegationRequest describes one dispatch decision. The project travels
// by id; the delegate loads what it needs rather than receiving a live
// object graph.
type DelegationRequest struct {
	From      Identity
	To        Identity
	Reason    string
	ProjectID string
	Phase     state.Phase
}
