package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateInitialHasNoPidOrExitCode(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, CreateInitial(dir, "bash", "/home/x", []string{"/bin/bash"}, ""))

	info, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, StatusStarting, info.Status)
	assert.Nil(t, info.PID)
	assert.Nil(t, info.ExitCode)
	assert.Equal(t, DefaultTerm, info.Term)
}

func TestApplyUpdateMergesFields(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, CreateInitial(dir, "bash", "/home/x", []string{"/bin/bash"}, ""))

	pid := 4242
	running := StatusRunning
	require.NoError(t, ApplyUpdate(dir, Update{PID: &pid, Status: &running}))

	info, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, info.Status)
	require.NotNil(t, info.PID)
	assert.Equal(t, pid, *info.PID)
	assert.Equal(t, "bash", info.Name)

	code := 0
	exited := StatusExited
	require.NoError(t, ApplyUpdate(dir, Update{Status: &exited, ExitCode: &code}))

	info, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, StatusExited, info.Status)
	require.NotNil(t, info.ExitCode)
	assert.Equal(t, 0, *info.ExitCode)
	require.NotNil(t, info.PID)
	assert.Equal(t, pid, *info.PID)
}

func TestApplyUpdateOnMissingDescriptorIsNoOp(t *testing.T) {
	dir := t.TempDir()
	running := StatusRunning
	err := ApplyUpdate(dir, Update{Status: &running})
	assert.NoError(t, err)

	_, err = Load(dir)
	assert.Error(t, err)
}

func TestLoadOrDefaultOnMalformedFileYieldsSkeletal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DescriptorFile), []byte("{not json"), 0600))

	info := LoadOrDefault(dir)
	assert.Equal(t, StatusStarting, info.Status)
	assert.Nil(t, info.PID)
}
