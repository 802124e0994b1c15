// Package stream implements the turn event protocol: a unidirectional,
// ordered event sequence from server to client over a long-lived connection.
// The server side (Emitter) enforces the happens-before rules and guarantees
// a terminal event; the client side (Reducer) folds events into an ordered
// message list and tolerates at-least-once delivery.
package stream

import "encoding/json"

// EventType identifies a wire event kind.
type EventType string

const (
	// EventMessageStart opens a message. It must precede every tool.* and
	// source event that references the same message id.
	EventMessageStart EventType = "message.start"
	// EventMessageDelta appends text to the open message.
	EventMessageDelta EventType = "message.delta"
	// EventToolCall opens a tool call in state input-available, or
	// input-streaming when the event carries no input yet. A later
	// tool.call for the same id with full input finalizes the streamed one.
	EventToolCall EventType = "tool.call"
	// EventToolInputDelta appends a fragment of streamed tool input.
	EventToolInputDelta EventType = "tool.input.delta"
	// EventToolResult closes a tool call to output-available or output-error.
	EventToolResult EventType = "tool.result"
	// EventSource attaches a citation to the open message.
	EventSource EventType = "source"
	// EventMessageEnd closes a message.
	EventMessageEnd EventType = "message.end"
	// EventDone terminates the turn with a finish reason and usage.
	EventDone EventType = "done"
	// EventError terminates the turn with a failure. Recoverable tells the
	// client whether retrying the turn is sensible; either way no further
	// events follow.
	EventError EventType = "error"
)

// Finish reasons carried on done events.
const (
	FinishStop     = "stop"
	FinishLength   = "length"
	FinishCanceled = "canceled"
)

// Usage is the token accounting for a turn.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Source is a citation attached to a message (an image, a prior project, a
// reference page the reply drew on).
type Source struct {
	ID    string `json:"id,omitempty"`
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

// Diagnostic surfaces a non-fatal degradation (a subagent that failed or was
// short-circuited) on the done event.
type Diagnostic struct {
	Agent   string `json:"agent"`
	Message string `json:"message"`
}

// Event is one frame of the turn protocol. Seq increases by one per emitted
// event; a re-delivered frame keeps its original seq, which is how the
// reducer recognizes duplicates.
type Event struct {
	Seq          int64           `json:"seq"`
	Type         EventType       `json:"type"`
	MessageID    string          `json:"messageId,omitempty"`
	Role         string          `json:"role,omitempty"`
	Delta        string          `json:"delta,omitempty"`
	ToolCallID   string          `json:"toolCallId,omitempty"`
	ToolName     string          `json:"toolName,omitempty"`
	ToolInput    json.RawMessage `json:"toolInput,omitempty"`
	InputDelta   string          `json:"inputDelta,omitempty"`
	ToolOutput   string          `json:"toolOutput,omitempty"`
	ToolIsError  bool            `json:"toolIsError,omitempty"`
	Source       *Source         `json:"source,omitempty"`
	FinishReason string          `json:"finishReason,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
	Diagnostics  []Diagnostic    `json:"diagnostics,omitempty"`
	ErrCode      string          `json:"errCode,omitempty"`
	ErrMessage   string          `json:"errMessage,omitempty"`
	Recoverable  bool            `json:"recoverable,omitempty"`
}

// ToolCallState is the lifecycle state of a tool call. Transitions are
// strictly forward; a closed call never reopens.
type ToolCallState string

const (
	ToolInputStreaming  ToolCallState = "input-streaming"
	ToolInputAvailable  ToolCallState = "input-available"
	ToolOutputAvailable ToolCallState = "output-available"
	ToolOutputError     ToolCallState = "output-error"
)

func (s ToolCallState) rank() int {
	switch s {
	case ToolInputStreaming:
		return 1
	case ToolInputAvailable:
		return 2
	case ToolOutputAvailable, ToolOutputError:
		return 3
	}
	return 0
}

// Terminal reports whether the call has produced its output.
func (s ToolCallState) Terminal() bool {
	return s == ToolOutputAvailable || s == ToolOutputError
}

// CanAdvance reports whether moving to the target state is a legal forward
// transition. Skipping intermediate states is allowed; going back never is.
func (s ToolCallState) CanAdvance(to ToolCallState) bool {
	return to.rank() > s.rank()
}
