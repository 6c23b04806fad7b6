package stream

import (
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttyfwd/ttyfwd/internal/protocol"
)

func TestReplayThenTailOrdering(t *testing.T) {
	if _, err := exec.LookPath("tail"); err != nil {
		t.Skip("tail not on PATH")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "stream-out")
	f, err := os.Create(path)
	require.NoError(t, err)

	w, err := protocol.Open(f, protocol.Header{Version: 2, Width: 80, Height: 24})
	require.NoError(t, err)
	require.NoError(t, w.WriteOutput([]byte("past\r\n")))

	s := New(path)
	defer s.Close()

	ev, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, protocol.StreamHeader, ev.Kind)

	ev, ok = s.Next()
	require.True(t, ok)
	assert.Equal(t, protocol.StreamTerminal, ev.Kind)
	assert.Equal(t, 0.0, ev.Terminal.Elapsed)
	assert.Equal(t, "past\r\n", ev.Terminal.Data)

	// Append a new event after the streamer has switched to tailing; it
	// must arrive with a wall-clock elapsed, not 0.
	done := make(chan protocol.StreamEvent, 1)
	go func() {
		next, ok := s.Next()
		if ok {
			done <- next
		}
	}()

	time.Sleep(300 * time.Millisecond)
	require.NoError(t, w.WriteOutput([]byte("live\r\n")))

	select {
	case live := <-done:
		assert.Equal(t, protocol.StreamTerminal, live.Kind)
		assert.Equal(t, "live\r\n", live.Terminal.Data)
		assert.Greater(t, live.Terminal.Elapsed, 0.0)
	case <-time.After(5 * time.Second):
		t.Fatal("did not observe tailed event")
	}
}

func TestReplayDropsHeaderDuringTail(t *testing.T) {
	if _, err := exec.LookPath("tail"); err != nil {
		t.Skip("tail not on PATH")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "stream-out")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := protocol.Open(f, protocol.Header{Version: 2, Width: 80, Height: 24})
	require.NoError(t, err)

	s := New(path)
	defer s.Close()

	ev, ok := s.Next()
	require.True(t, ok)
	require.Equal(t, protocol.StreamHeader, ev.Kind)

	result := make(chan protocol.StreamEvent, 1)
	go func() {
		next, ok := s.Next()
		if ok {
			result <- next
		}
	}()

	time.Sleep(300 * time.Millisecond)
	// A second header line appears (simulating writer restart); it must
	// be dropped, and the real terminal event after it must still surface.
	_, err = f.WriteString(`{"version":2,"width":100,"height":40}` + "\n")
	require.NoError(t, err)
	require.NoError(t, w.WriteOutput([]byte("after-rotate\r\n")))

	select {
	case got := <-result:
		assert.Equal(t, protocol.StreamTerminal, got.Kind)
		assert.Equal(t, "after-rotate\r\n", got.Terminal.Data)
	case <-time.After(5 * time.Second):
		t.Fatal("did not observe event after dropped header")
	}
}

func TestReplayErrorOnUnreadableTranscript(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "does-not-exist"))
	defer s.Close()

	ev, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, protocol.StreamError, ev.Kind)

	_, ok = s.Next()
	assert.False(t, ok)
}

func TestCloseKillsFollower(t *testing.T) {
	if _, err := exec.LookPath("tail"); err != nil {
		t.Skip("tail not on PATH")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "stream-out")
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = protocol.Open(f, protocol.Header{Version: 2, Width: 80, Height: 24})
	require.NoError(t, err)

	s := New(path)
	ev, ok := s.Next()
	require.True(t, ok)
	require.Equal(t, protocol.StreamHeader, ev.Kind)

	done := make(chan struct{})
	go func() {
		s.Next()
		close(done)
	}()
	time.Sleep(200 * time.Millisecond)

	require.NotNil(t, s.follower)
	pid := s.follower.Process.Pid
	require.NoError(t, s.Close())

	assert.Error(t, syscall.Kill(pid, 0))
}
