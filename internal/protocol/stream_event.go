package protocol

import (
	"encoding/json"
	"fmt"
)

// StreamEventKind tags which arm of StreamEvent is populated.
type StreamEventKind int

const (
	StreamHeader StreamEventKind = iota
	StreamTerminal
	StreamError
	StreamEnd
)

// StreamEvent is the line-oriented variant a replay-then-tail consumer
// receives: either the cast header, a terminal (asciinema) event, a
// terminal error, or an end-of-stream marker. Lines are told apart by
// shape, not by an explicit discriminator field, matching the on-disk
// transcript format itself.
type StreamEvent struct {
	Kind     StreamEventKind
	Header   Header
	Terminal Event
	Message  string
}

type streamErrorOrEnd struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// ParseStreamLine classifies one line of transcript-shaped JSON into a
// StreamEvent. A header line has "version"+"width"; a terminal line is a
// JSON array of length >= 3; anything with type "error" or "end" is
// control metadata synthesized by the streamer, never found on disk.
func ParseStreamLine(line []byte) (StreamEvent, error) {
	trimmed := bytesTrimSpace(line)
	if len(trimmed) == 0 {
		return StreamEvent{}, fmt.Errorf("empty stream line")
	}

	if trimmed[0] == '[' {
		var ev Event
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			return StreamEvent{}, fmt.Errorf("stream line: bad terminal event: %w", err)
		}
		return StreamEvent{Kind: StreamTerminal, Terminal: ev}, nil
	}

	var probe struct {
		Version *int    `json:"version"`
		Width   *int    `json:"width"`
		Type    *string `json:"type"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return StreamEvent{}, fmt.Errorf("stream line: unrecognized shape: %w", err)
	}

	if probe.Version != nil && probe.Width != nil {
		var h Header
		if err := json.Unmarshal(trimmed, &h); err != nil {
			return StreamEvent{}, fmt.Errorf("stream line: bad header: %w", err)
		}
		return StreamEvent{Kind: StreamHeader, Header: h}, nil
	}

	if probe.Type != nil {
		var m streamErrorOrEnd
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return StreamEvent{}, fmt.Errorf("stream line: bad control line: %w", err)
		}
		switch m.Type {
		case "error":
			return StreamEvent{Kind: StreamError, Message: m.Message}, nil
		case "end":
			return StreamEvent{Kind: StreamEnd}, nil
		}
	}

	return StreamEvent{}, fmt.Errorf("stream line: unrecognized shape")
}

// MarshalJSON renders the event the way a streaming consumer expects it on
// the wire: the header or terminal payload verbatim, or a {"type":...}
// control line for synthesized error/end markers.
func (s StreamEvent) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case StreamHeader:
		return json.Marshal(s.Header)
	case StreamTerminal:
		return json.Marshal(s.Terminal)
	case StreamError:
		return json.Marshal(streamErrorOrEnd{Type: "error", Message: s.Message})
	case StreamEnd:
		return json.Marshal(streamErrorOrEnd{Type: "end"})
	default:
		return nil, fmt.Errorf("stream event: unset kind")
	}
}

func bytesTrimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && isSpace(b[start]) {
		start++
	}
	end := len(b)
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
