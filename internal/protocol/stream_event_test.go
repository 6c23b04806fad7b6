package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamLineHeader(t *testing.T) {
	ev, err := ParseStreamLine([]byte(`{"version":2,"width":80,"height":24}`))
	require.NoError(t, err)
	assert.Equal(t, StreamHeader, ev.Kind)
	assert.Equal(t, 80, ev.Header.Width)
}

func TestParseStreamLineTerminal(t *testing.T) {
	ev, err := ParseStreamLine([]byte(`[0.25,"o","hi"]`))
	require.NoError(t, err)
	assert.Equal(t, StreamTerminal, ev.Kind)
	assert.Equal(t, EventOutput, ev.Terminal.Type)
	assert.Equal(t, "hi", ev.Terminal.Data)
}

func TestParseStreamLineErrorAndEnd(t *testing.T) {
	ev, err := ParseStreamLine([]byte(`{"type":"error","message":"boom"}`))
	require.NoError(t, err)
	assert.Equal(t, StreamError, ev.Kind)
	assert.Equal(t, "boom", ev.Message)

	ev, err = ParseStreamLine([]byte(`{"type":"end"}`))
	require.NoError(t, err)
	assert.Equal(t, StreamEnd, ev.Kind)
}

func TestParseStreamLineRejectsGarbage(t *testing.T) {
	_, err := ParseStreamLine([]byte(`not json`))
	assert.Error(t, err)
}

func TestStreamEventMarshalRoundTrip(t *testing.T) {
	in := StreamEvent{Kind: StreamTerminal, Terminal: Event{Elapsed: 1, Type: EventInput, Data: "x"}}
	b, err := in.MarshalJSON()
	require.NoError(t, err)

	out, err := ParseStreamLine(b)
	require.NoError(t, err)
	assert.Equal(t, in.Terminal, out.Terminal)
}
