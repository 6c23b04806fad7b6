package protocol

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTempWriter(t *testing.T) (*Writer, *os.File) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "stream-out")
	require.NoError(t, err)
	w, err := Open(f, Header{Version: 2, Width: 80, Height: 24})
	require.NoError(t, err)
	return w, f
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestWriteOutputWholeSequence(t *testing.T) {
	w, f := openTempWriter(t)
	require.NoError(t, w.WriteOutput([]byte("hello\n")))
	require.NoError(t, w.Close())

	lines := readLines(t, f.Name())
	require.Len(t, lines, 2)

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ev))
	assert.Equal(t, EventOutput, ev.Type)
	assert.Equal(t, "hello\n", ev.Data)
}

func TestWriteOutputSplitMultibyteSequence(t *testing.T) {
	// The UTF-8 encoding of U+00E9 (é) is the two bytes 0xC3 0xA9. Split the
	// write so the carry buffer must hold the first byte across calls.
	full := "café"
	b := []byte(full)
	split := len(b) - 1

	w, f := openTempWriter(t)
	require.NoError(t, w.WriteOutput(b[:split]))
	require.NoError(t, w.WriteOutput(b[split:]))
	require.NoError(t, w.Close())

	// The first call emits the valid prefix "caf" and carries 0xC3; the
	// second completes it, so the two events concatenate back to full.
	lines := readLines(t, f.Name())
	require.Len(t, lines, 3)

	var first, second Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &second))
	assert.Equal(t, "caf", first.Data)
	assert.Equal(t, "é", second.Data)
	assert.Equal(t, full, first.Data+second.Data)
}

func TestWriteOutputIllegalByteFallsBackToLossy(t *testing.T) {
	w, f := openTempWriter(t)
	// 0xFF is never a valid UTF-8 lead byte.
	require.NoError(t, w.WriteOutput([]byte{'a', 0xFF, 'b'}))
	require.NoError(t, w.Close())

	lines := readLines(t, f.Name())
	require.Len(t, lines, 2)

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ev))
	assert.True(t, strings.HasPrefix(ev.Data, "a"))
	assert.True(t, strings.HasSuffix(ev.Data, "b"))
	assert.Contains(t, ev.Data, "�")
}

func TestEventRoundTrip(t *testing.T) {
	ev := Event{Elapsed: 1.5, Type: EventResize, Data: "80x24"}
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Equal(t, `[1.5,"r","80x24"]`, string(b))

	var decoded Event
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, ev, decoded)
}

func TestEventUnmarshalRejectsUnknownType(t *testing.T) {
	var ev Event
	err := json.Unmarshal([]byte(`[0.0,"x","data"]`), &ev)
	assert.Error(t, err)
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Version: 2, Width: 100, Height: 40, Command: "/bin/bash"}
	b, err := json.Marshal(h)
	require.NoError(t, err)

	var decoded Header
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, h, decoded)
}
