package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateFifoIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path, err := CreateFifo(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FifoFile), path)

	_, err = CreateFifo(dir)
	assert.NoError(t, err)
}

func TestFifoNoiseImmunity(t *testing.T) {
	dir := t.TempDir()
	_, err := CreateFifo(dir)
	require.NoError(t, err)

	rw, err := OpenFifoReadWrite(filepath.Join(dir, FifoFile))
	require.NoError(t, err)
	defer rw.Close()

	// An external writer connects and disconnects without sending data.
	w, err := OpenFifoAppendWrite(dir)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	buf := make([]byte, 4096)
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		n, err := rw.Read(buf)
		if err == nil {
			assert.Equal(t, 0, n)
		}
	}
}

func TestOpenFifoAppendWriteMissingFifoErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenFifoAppendWrite(dir)
	assert.Error(t, err)
}
