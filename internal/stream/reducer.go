package stream

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/knearme/showcase/internal/errors"
)

// PartType identifies a message part kind.
type PartType string

const (
	PartText     PartType = "text"
	PartToolCall PartType = "tool-call"
	PartSource   PartType = "source"
)

// ToolCall is the reduced view of one tool invocation. Its state only ever
// moves forward; a closed call ignores re-delivered results.
type ToolCall struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	State        ToolCallState   `json:"state"`
	Input        json.RawMessage `json:"input,omitempty"`
	PartialInput string          `json:"partialInput,omitempty"`
	Output       string          `json:"output,omitempty"`
	IsError      bool            `json:"isError,omitempty"`
}

// Part is one segment of a reduced message.
type Part struct {
	Type     PartType  `json:"type"`
	Text     string    `json:"text,omitempty"`
	ToolCall *ToolCall `json:"toolCall,omitempty"`
	Source   *Source   `json:"source,omitempty"`
}

// Message is a reduced message: ordered parts plus an open/closed flag.
type Message struct {
	ID     string  `json:"id"`
	Role   string  `json:"role"`
	Parts  []*Part `json:"parts"`
	Closed bool    `json:"closed"`
}

// Text concatenates the message's text parts.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// Reducer folds the event stream into an ordered message list. Application
// is order-dependent (deltas append in arrival order) but idempotent under
// re-delivery: a frame whose seq was already applied is skipped, and a
// duplicate tool.result against a closed call is a no-op either way.
type Reducer struct {
	messages []*Message
	byID     map[string]*Message
	calls    map[string]*ToolCall

	lastSeq      int64
	done         bool
	finishReason string
	usage        Usage
	diags        []Diagnostic
	failure      *Event
}

// NewReducer creates an empty reducer.
func NewReducer() *Reducer {
	return &Reducer{
		byID:  make(map[string]*Message),
		calls: make(map[string]*ToolCall),
	}
}

// Replay applies a recorded event sequence to a fresh reducer.
func Replay(events []Event) (*Reducer, error) {
	r := NewReducer()
	for _, ev := range events {
		if err := r.Apply(ev); err != nil {
			return r, err
		}
	}
	return r, nil
}

// Apply folds one event into the state. A protocol violation (event for an
// unknown message, result for an unknown tool call, backward tool-state
// transition) returns a fatal error; the stream cannot be trusted past it.
func (r *Reducer) Apply(ev Event) error {
	// at-least-once transport: an already-applied seq is a re-delivery
	if ev.Seq > 0 && ev.Seq <= r.lastSeq {
		return nil
	}
	if ev.Seq > 0 {
		r.lastSeq = ev.Seq
	}

	if r.failure != nil {
		return fmt.Errorf("event after terminal error: %w", apperrors.ErrProtocol)
	}
	if r.done && ev.Type != EventDone {
		return fmt.Errorf("event %s after done: %w", ev.Type, apperrors.ErrProtocol)
	}

	switch ev.Type {
	case EventMessageStart:
		return r.applyMessageStart(ev)
	case EventMessageDelta:
		return r.applyMessageDelta(ev)
	case EventToolCall:
		return r.applyToolCall(ev)
	case EventToolInputDelta:
		return r.applyToolInputDelta(ev)
	case EventToolResult:
		return r.applyToolResult(ev)
	case EventSource:
		return r.applySource(ev)
	case EventMessageEnd:
		return r.applyMessageEnd(ev)
	case EventDone:
		r.done = true
		r.finishReason = ev.FinishReason
		if ev.Usage != nil {
			r.usage = *ev.Usage
		}
		r.diags = ev.Diagnostics
		return nil
	case EventError:
		failed := ev
		r.failure = &failed
		return nil
	default:
		return fmt.Errorf("unknown event type %q: %w", ev.Type, apperrors.ErrProtocol)
	}
}

func (r *Reducer) applyMessageStart(ev Event) error {
	if ev.MessageID == "" {
		return fmt.Errorf("message.start without id: %w", apperrors.ErrProtocol)
	}
	if _, exists := r.byID[ev.MessageID]; exists {
		return nil
	}
	role := ev.Role
	if role == "" {
		role = "assistant"
	}
	m := &Message{ID: ev.MessageID, Role: role}
	r.messages = append(r.messages, m)
	r.byID[ev.MessageID] = m
	return nil
}

func (r *Reducer) applyMessageDelta(ev Event) error {
	m, err := r.openMessage(ev.Type, ev.MessageID)
	if err != nil {
		return err
	}
	if n := len(m.Parts); n > 0 && m.Parts[n-1].Type == PartText {
		m.Parts[n-1].Text += ev.Delta
		return nil
	}
	m.Parts = append(m.Parts, &Part{Type: PartText, Text: ev.Delta})
	return nil
}

func (r *Reducer) applyToolCall(ev Event) error {
	m, err := r.openMessage(ev.Type, ev.MessageID)
	if err != nil {
		return err
	}
	if ev.ToolCallID == "" {
		return fmt.Errorf("tool.call without id: %w", apperrors.ErrProtocol)
	}

	if tc, exists := r.calls[ev.ToolCallID]; exists {
		// second frame for the same call finalizes streamed input
		if ev.ToolInput == nil {
			return nil
		}
		switch {
		case tc.State == ToolInputStreaming:
			tc.Input = ev.ToolInput
			tc.PartialInput = ""
			tc.State = ToolInputAvailable
			return nil
		case tc.State == ToolInputAvailable:
			return nil
		default:
			return fmt.Errorf("tool.call for closed call %q: %w", ev.ToolCallID, apperrors.ErrProtocol)
		}
	}

	tc := &ToolCall{ID: ev.ToolCallID, Name: ev.ToolName, State: ToolInputAvailable, Input: ev.ToolInput}
	if ev.ToolInput == nil {
		tc.State = ToolInputStreaming
	}
	r.calls[ev.ToolCallID] = tc
	m.Parts = append(m.Parts, &Part{Type: PartToolCall, ToolCall: tc})
	return nil
}

func (r *Reducer) applyToolInputDelta(ev Event) error {
	tc, ok := r.calls[ev.ToolCallID]
	if !ok {
		return fmt.Errorf("input delta for unknown tool call %q: %w", ev.ToolCallID, apperrors.ErrProtocol)
	}
	if tc.State != ToolInputStreaming {
		return fmt.Errorf("input delta for call %q in state %s: %w", ev.ToolCallID, tc.State, apperrors.ErrProtocol)
	}
	tc.PartialInput += ev.InputDelta
	return nil
}

func (r *Reducer) applyToolResult(ev Event) error {
	tc, ok := r.calls[ev.ToolCallID]
	if !ok {
		return fmt.Errorf("result for unknown tool call %q: %w", ev.ToolCallID, apperrors.ErrProtocol)
	}
	if tc.State.Terminal() {
		// duplicate result for a closed call is a no-op
		return nil
	}
	if tc.State == ToolInputStreaming && tc.Input == nil && tc.PartialInput != "" {
		tc.Input = json.RawMessage(tc.PartialInput)
		tc.PartialInput = ""
	}
	tc.Output = ev.ToolOutput
	tc.IsError = ev.ToolIsError
	if ev.ToolIsError {
		tc.State = ToolOutputError
	} else {
		tc.State = ToolOutputAvailable
	}
	return nil
}

func (r *Reducer) applySource(ev Event) error {
	m, err := r.openMessage(ev.Type, ev.MessageID)
	if err != nil {
		return err
	}
	if ev.Source == nil {
		return fmt.Errorf("source event without source: %w", apperrors.ErrProtocol)
	}
	if ev.Source.ID != "" {
		for _, p := range m.Parts {
			if p.Type == PartSource && p.Source.ID == ev.Source.ID {
				return nil
			}
		}
	}
	src := *ev.Source
	m.Parts = append(m.Parts, &Part{Type: PartSource, Source: &src})
	return nil
}

func (r *Reducer) applyMessageEnd(ev Event) error {
	m, ok := r.byID[ev.MessageID]
	if !ok {
		return fmt.Errorf("message.end for unknown message %q: %w", ev.MessageID, apperrors.ErrProtocol)
	}
	m.Closed = true
	return nil
}

func (r *Reducer) openMessage(t EventType, id string) (*Message, error) {
	m, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%s for unknown message %q: %w", t, id, apperrors.ErrProtocol)
	}
	if m.Closed {
		return nil, fmt.Errorf("%s for closed message %q: %w", t, id, apperrors.ErrProtocol)
	}
	return m, nil
}

// Messages returns the reduced messages in arrival order.
func (r *Reducer) Messages() []*Message {
	out := make([]*Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Call returns the reduced tool call with the given id.
func (r *Reducer) Call(id string) (*ToolCall, bool) {
	tc, ok := r.calls[id]
	return tc, ok
}

// Done reports whether the stream terminated with a done event.
func (r *Reducer) Done() bool { return r.done }

// FinishReason returns the finish reason from the done event.
func (r *Reducer) FinishReason() string { return r.finishReason }

// Usage returns the turn's token accounting.
func (r *Reducer) Usage() Usage { return r.usage }

// Diagnostics returns the non-fatal degradations reported on done.
func (r *Reducer) Diagnostics() []Diagnostic { return r.diags }

// Failure returns the terminal error event, if the stream failed.
func (r *Reducer) Failure() (Event, bool) {
	if r.failure == nil {
		return Event{}, false
	}
	return *r.failure, true
}
