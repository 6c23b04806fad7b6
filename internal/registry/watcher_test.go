package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttyfwd/ttyfwd/internal/session"
)

func TestIsUUIDLike(t *testing.T) {
	assert.True(t, isUUIDLike("11111111-1111-1111-1111-111111111111"))
	assert.False(t, isUUIDLike("not-a-uuid"))
	assert.False(t, isUUIDLike("111111111111111111111111111111111x"))
}

func TestWatcherRegistersNewSessionDirectory(t *testing.T) {
	root := t.TempDir()
	registered := make(chan string, 1)
	w := NewWatcher(root, func(id string) { registered <- id })
	require.NoError(t, w.Start())
	defer w.Stop()

	id := "22222222-2222-2222-2222-222222222222"
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, session.CreateInitial(dir, "bash", "/home", []string{"/bin/bash"}, ""))

	select {
	case got := <-registered:
		assert.Equal(t, id, got)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not register the new session")
	}
}

func TestWatcherIgnoresNonUUIDDirectories(t *testing.T) {
	root := t.TempDir()
	registered := make(chan string, 1)
	w := NewWatcher(root, func(id string) { registered <- id })
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "scratch"), 0700))

	select {
	case got := <-registered:
		t.Fatalf("unexpected registration: %s", got)
	case <-time.After(300 * time.Millisecond):
	}
}
