package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// SSESink encodes events as Server-Sent Events frames and flushes after each
// one, so the client sees every event as soon as it is produced. Writes are
// already serialized by the Emitter.
type SSESink struct {
	w *bufio.Writer
}

// NewSSESink wraps a buffered writer, typically the response body stream
// writer of a long-lived HTTP request.
func NewSSESink(w *bufio.Writer) *SSESink {
	return &SSESink{w: w}
}

// WriteEvent writes one SSE frame: an event line naming the type and a data
// line carrying the JSON payload.
func (s *SSESink) WriteEvent(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return s.w.Flush()
}

// SSEDecoder reads SSE frames back into events. The event type rides inside
// the JSON payload, so only data lines matter; event and blank lines are
// framing.
type SSEDecoder struct {
	scanner *bufio.Scanner
}

// NewSSEDecoder wraps a reader producing SSE frames.
func NewSSEDecoder(r io.Reader) *SSEDecoder {
	return &SSEDecoder{scanner: bufio.NewScanner(r)}
}

// Next returns the next decoded event, or io.EOF when the stream ends.
func (d *SSEDecoder) Next() (Event, error) {
	for d.scanner.Scan() {
		line := d.scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		var ev Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return Event{}, fmt.Errorf("decode frame: %w", err)
		}
		return ev, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// DecodeAll drains the stream into a slice, stopping at EOF.
func DecodeAll(r io.Reader) ([]Event, error) {
	d := NewSSEDecoder(r)
	var out []Event
	for {
		ev, err := d.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}
