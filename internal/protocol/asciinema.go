// Package protocol implements the asciinema-v2 transcript format: the
// self-describing cast header, the [elapsed, type, data] event tuples, and
// the UTF-8-aware framing that turns arbitrary PTY output into a lossless
// (or, for invalid byte runs, lossy-with-replacement) sequence of events.
package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
	"unicode/utf8"
)

// EventType is the closed tagged variant of asciinema event kinds.
type EventType string

const (
	EventOutput EventType = "o"
	EventInput  EventType = "i"
	EventMarker EventType = "m"
	EventResize EventType = "r"
)

// Theme is the optional color theme block of an asciinema header.
type Theme struct {
	FG      string `json:"fg,omitempty"`
	BG      string `json:"bg,omitempty"`
	Palette string `json:"palette,omitempty"`
}

// Header is the first line of a stream-out file.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp,omitempty"`
	Duration  float64           `json:"duration,omitempty"`
	Command   string            `json:"command,omitempty"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Theme     *Theme            `json:"theme,omitempty"`
}

// Event is one [elapsed_seconds, type, data] line of a transcript.
type Event struct {
	Elapsed float64
	Type    EventType
	Data    string
}

// MarshalJSON encodes Event as a 3-element JSON array.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]interface{}{e.Elapsed, string(e.Type), e.Data})
}

// UnmarshalJSON decodes a 3-element JSON array into Event.
func (e *Event) UnmarshalJSON(b []byte) error {
	var raw [3]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("asciinema event: not a 3-tuple: %w", err)
	}
	if err := json.Unmarshal(raw[0], &e.Elapsed); err != nil {
		return fmt.Errorf("asciinema event: bad elapsed: %w", err)
	}
	var typ string
	if err := json.Unmarshal(raw[1], &typ); err != nil {
		return fmt.Errorf("asciinema event: bad type: %w", err)
	}
	switch EventType(typ) {
	case EventOutput, EventInput, EventMarker, EventResize:
		e.Type = EventType(typ)
	default:
		return fmt.Errorf("asciinema event: unknown type %q", typ)
	}
	if err := json.Unmarshal(raw[2], &e.Data); err != nil {
		return fmt.Errorf("asciinema event: bad data: %w", err)
	}
	return nil
}

// Writer appends framed asciinema events to a file. It owns a carry buffer
// for byte runs that straddle event boundaries mid-UTF-8-sequence; the
// buffer is never shared outside the writer.
type Writer struct {
	f         *os.File
	startedAt time.Time
	carry     []byte
}

// Open writes the header line and starts the writer's monotonic clock.
func Open(f *os.File, header Header) (*Writer, error) {
	w := &Writer{f: f, startedAt: time.Now()}
	b, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintf(f, "%s\n", b); err != nil {
		return nil, err
	}
	if err := f.Sync(); err != nil {
		return nil, err
	}
	return w, nil
}

// Elapsed returns the seconds elapsed since Open, as a double.
func (w *Writer) Elapsed() float64 {
	return time.Since(w.startedAt).Seconds()
}

// WriteOutput frames buf as at most one "o" event, combining it with any
// carry left over from the previous call. The combined bytes are split
// three ways: fully valid (emitted as is), a valid prefix followed by an
// incomplete multi-byte sequence (prefix emitted, sequence carried), or
// containing an illegal byte (everything lossy-decoded, carry dropped).
func (w *Writer) WriteOutput(buf []byte) error {
	elapsed := w.Elapsed()

	combined := append(w.carry, buf...)
	w.carry = nil

	if len(combined) == 0 {
		return nil
	}

	if utf8.Valid(combined) {
		return w.WriteEvent(Event{Elapsed: elapsed, Type: EventOutput, Data: string(combined)})
	}

	validLen, tail, illegal := splitValidAndTail(combined)

	if !illegal && len(tail) > 0 {
		w.carry = append(w.carry, tail...)
		if validLen == 0 {
			// Nothing to emit yet: entirely a continuation prefix.
			return nil
		}
		return w.WriteEvent(Event{Elapsed: elapsed, Type: EventOutput, Data: string(combined[:validLen])})
	}

	// An illegal byte exists (not just a short continuation): lossy-decode
	// everything and drop the carry.
	return w.WriteEvent(Event{Elapsed: elapsed, Type: EventOutput, Data: toLossyUTF8(combined)})
}

// WriteMarker appends a user marker event.
func (w *Writer) WriteMarker(label string) error {
	return w.WriteEvent(Event{Elapsed: w.Elapsed(), Type: EventMarker, Data: label})
}

// WriteResize appends a resize event in "{cols}x{rows}" form.
func (w *Writer) WriteResize(cols, rows int) error {
	return w.WriteEvent(Event{
		Elapsed: w.Elapsed(),
		Type:    EventResize,
		Data:    fmt.Sprintf("%dx%d", cols, rows),
	})
}

// WriteEvent serializes a single event as one JSON line and flushes it.
func (w *Writer) WriteEvent(e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.f, "%s\n", b); err != nil {
		return err
	}
	return w.f.Sync()
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	return w.f.Close()
}

var _ io.Closer = (*Writer)(nil)

// splitValidAndTail walks b rune by rune and returns the length of the
// longest valid-UTF-8 prefix, the unconsumed tail, and whether that tail
// represents an outright illegal byte (true) as opposed to a multi-byte
// sequence truncated at the end of the buffer that may still complete once
// more bytes arrive (false).
func splitValidAndTail(b []byte) (validLen int, tail []byte, illegal bool) {
	i := 0
	for i < len(b) {
		remaining := b[i:]
		if !utf8.FullRune(remaining) {
			return i, remaining, false
		}
		r, size := utf8.DecodeRune(remaining)
		if r == utf8.RuneError && size == 1 {
			return i, remaining, true
		}
		i += size
	}
	return i, nil, false
}

// toLossyUTF8 decodes b replacing illegal bytes with U+FFFD while
// preserving legal multi-byte runs, matching Rust's String::from_utf8_lossy.
func toLossyUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out := make([]rune, 0, len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		out = append(out, r)
		b = b[size:]
	}
	return string(out)
}
