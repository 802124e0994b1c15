package stream

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/knearme/showcase/internal/errors"
)

// Sink receives encoded events. Implementations must preserve order; a sink
// error kills the stream.
type Sink interface {
	WriteEvent(ev Event) error
}

// Emitter is the server side of the turn protocol. It assigns sequence
// numbers, enforces the happens-before rules (a message must be open before
// deltas, tool events or sources reference it; tool calls advance strictly
// forward), and guarantees exactly one terminal event per stream. Safe for
// concurrent use: parallel subagents may interleave tool events.
type Emitter struct {
	mu         sync.Mutex
	sink       Sink
	observer   func(Event)
	seq        int64
	openMsgs   map[string]bool
	calls      map[string]ToolCallState
	callMsg    map[string]string
	usage      Usage
	diags      []Diagnostic
	terminated bool
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithEventObserver registers a hook invoked for every emitted event, after
// the sink write succeeds. Used for metrics.
func WithEventObserver(fn func(Event)) EmitterOption {
	return func(e *Emitter) { e.observer = fn }
}

// NewEmitter creates an emitter writing to sink.
func NewEmitter(sink Sink, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		sink:     sink,
		openMsgs: make(map[string]bool),
		calls:    make(map[string]ToolCallState),
		callMsg:  make(map[string]string),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// emit assigns the next seq and writes. Caller must hold e.mu.
func (e *Emitter) emit(ev Event) error {
	if e.terminated {
		return apperrors.ErrStreamClosed
	}
	e.seq++
	ev.Seq = e.seq
	if err := e.sink.WriteEvent(ev); err != nil {
		e.terminated = true
		return fmt.Errorf("write %s event: %w", ev.Type, err)
	}
	if e.observer != nil {
		e.observer(ev)
	}
	return nil
}

// StartMessage opens a new message and returns its id.
func (e *Emitter) StartMessage(role string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := uuid.New().String()
	if err := e.emit(Event{Type: EventMessageStart, MessageID: id, Role: role}); err != nil {
		return "", err
	}
	e.openMsgs[id] = true
	return id, nil
}

// TextDelta appends text to an open message. Empty deltas are dropped.
func (e *Emitter) TextDelta(messageID, text string) error {
	if text == "" {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.openMsgs[messageID] {
		return fmt.Errorf("delta for unopened message %q: %w", messageID, apperrors.ErrProtocol)
	}
	return e.emit(Event{Type: EventMessageDelta, MessageID: messageID, Delta: text})
}

// StartToolCall opens a tool call under an open message. A nil input opens
// the call in input-streaming; otherwise it opens input-available.
func (e *Emitter) StartToolCall(messageID, callID, name string, input []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.openMsgs[messageID] {
		return fmt.Errorf("tool call for unopened message %q: %w", messageID, apperrors.ErrProtocol)
	}
	if callID == "" || name == "" {
		return fmt.Errorf("tool call needs id and name: %w", apperrors.ErrProtocol)
	}
	if _, exists := e.calls[callID]; exists {
		return fmt.Errorf("tool call %q already open: %w", callID, apperrors.ErrProtocol)
	}

	st := ToolInputAvailable
	if input == nil {
		st = ToolInputStreaming
	}
	ev := Event{Type: EventToolCall, MessageID: messageID, ToolCallID: callID, ToolName: name, ToolInput: input}
	if err := e.emit(ev); err != nil {
		return err
	}
	e.calls[callID] = st
	e.callMsg[callID] = messageID
	return nil
}

// ToolInputDelta streams a fragment of a call's input.
func (e *Emitter) ToolInputDelta(callID, fragment string) error {
	if fragment == "" {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.calls[callID]
	if !ok {
		return fmt.Errorf("input delta for unknown tool call %q: %w", callID, apperrors.ErrProtocol)
	}
	if st != ToolInputStreaming {
		return fmt.Errorf("input delta for tool call %q in state %s: %w", callID, st, apperrors.ErrProtocol)
	}
	return e.emit(Event{Type: EventToolInputDelta, MessageID: e.callMsg[callID], ToolCallID: callID, InputDelta: fragment})
}

// FinishToolInput promotes a streamed call to input-available with its full
// input. Emitted as a second tool.call frame for the same id.
func (e *Emitter) FinishToolInput(callID string, input []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.calls[callID]
	if !ok {
		return fmt.Errorf("finish input for unknown tool call %q: %w", callID, apperrors.ErrProtocol)
	}
	if !st.CanAdvance(ToolInputAvailable) {
		return fmt.Errorf("finish input for tool call %q in state %s: %w", callID, st, apperrors.ErrProtocol)
	}
	ev := Event{Type: EventToolCall, MessageID: e.callMsg[callID], ToolCallID: callID, ToolInput: input}
	if err := e.emit(ev); err != nil {
		return err
	}
	e.calls[callID] = ToolInputAvailable
	return nil
}

// ToolResult closes a tool call with its output.
func (e *Emitter) ToolResult(callID, output string, isError bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.calls[callID]
	if !ok {
		return fmt.Errorf("result for unknown tool call %q: %w", callID, apperrors.ErrProtocol)
	}
	target := ToolOutputAvailable
	if isError {
		target = ToolOutputError
	}
	if !st.CanAdvance(target) {
		return fmt.Errorf("result for tool call %q in state %s: %w", callID, st, apperrors.ErrProtocol)
	}
	ev := Event{Type: EventToolResult, MessageID: e.callMsg[callID], ToolCallID: callID, ToolOutput: output, ToolIsError: isError}
	if err := e.emit(ev); err != nil {
		return err
	}
	e.calls[callID] = target
	return nil
}

// EmitSource attaches a citation to an open message.
func (e *Emitter) EmitSource(messageID string, s Source) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.openMsgs[messageID] {
		return fmt.Errorf("source for unopened message %q: %w", messageID, apperrors.ErrProtocol)
	}
	src := s
	return e.emit(Event{Type: EventSource, MessageID: messageID, Source: &src})
}

// EndMessage closes an open message.
func (e *Emitter) EndMessage(messageID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.openMsgs[messageID] {
		return fmt.Errorf("end for unopened message %q: %w", messageID, apperrors.ErrProtocol)
	}
	if err := e.emit(Event{Type: EventMessageEnd, MessageID: messageID}); err != nil {
		return err
	}
	delete(e.openMsgs, messageID)
	return nil
}

// AddUsage accumulates token usage to report on the terminal done event.
func (e *Emitter) AddUsage(u Usage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.usage.Add(u)
}

// AddDiagnostic records a non-fatal degradation to report on done.
func (e *Emitter) AddDiagnostic(agent, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.diags = append(e.diags, Diagnostic{Agent: agent, Message: message})
}

// Done terminates the stream with a finish reason, closing any messages left
// open first. Usage and diagnostics accumulated during the turn ride along.
func (e *Emitter) Done(finishReason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id := range e.openMsgs {
		if err := e.emit(Event{Type: EventMessageEnd, MessageID: id}); err != nil {
			return err
		}
		delete(e.openMsgs, id)
	}

	usage := e.usage
	ev := Event{Type: EventDone, FinishReason: finishReason, Usage: &usage, Diagnostics: e.diags}
	if err := e.emit(ev); err != nil {
		return err
	}
	e.terminated = true
	return nil
}

// Fail terminates the stream with an error event. Recoverable tells the
// client whether retrying the turn is sensible.
func (e *Emitter) Fail(code, message string, recoverable bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ev := Event{Type: EventError, ErrCode: code, ErrMessage: message, Recoverable: recoverable}
	if err := e.emit(ev); err != nil {
		return err
	}
	e.terminated = true
	return nil
}

// EnsureTerminal emits the terminal event for a finished turn if none was
// sent yet: done on success, a classified error otherwise. The client must
// never be left waiting on a stream that just closes.
func (e *Emitter) EnsureTerminal(err error) {
	if e.Terminated() {
		return
	}
	if err == nil {
		_ = e.Done(FinishStop)
		return
	}
	code := "internal"
	recoverable := true
	switch {
	case apperrors.IsFatal(err):
		code = "fatal"
		recoverable = false
	case apperrors.IsValidation(err):
		code = "validation"
		recoverable = false
	case apperrors.IsRetryable(err):
		code = "transient"
	}
	_ = e.Fail(code, err.Error(), recoverable)
}

// Terminated reports whether a terminal event has been emitted.
func (e *Emitter) Terminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminated
}

// Seq returns the sequence number of the last emitted event.
func (e *Emitter) Seq() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// BufferSink is an in-memory Sink used by tests and by handlers that render
// a turn without a live transport.
type BufferSink struct {
	mu     sync.Mutex
	events []Event
}

// WriteEvent appends the event to the buffer.
func (b *BufferSink) WriteEvent(ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

// Events returns a snapshot of everything written so far.
func (b *BufferSink) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}
