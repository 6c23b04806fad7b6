package registry

import (
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttyfwd/ttyfwd/internal/session"
)

func makeSession(t *testing.T, root, id string, pid *int, status session.Status) string {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, session.CreateInitial(dir, "bash", "/home", []string{"/bin/bash"}, ""))
	st := status
	require.NoError(t, session.ApplyUpdate(dir, session.Update{PID: pid, Status: &st}))
	return dir
}

func TestListSkipsDirectoriesWithoutDescriptor(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "no-descriptor"), 0700))
	pid := os.Getpid()
	makeSession(t, root, "11111111-1111-1111-1111-111111111111", &pid, session.StatusRunning)

	entries, err := List(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	_, ok := entries["11111111-1111-1111-1111-111111111111"]
	assert.True(t, ok)
}

func TestListMalformedDescriptorYieldsDefault(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "bad")
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, session.DescriptorFile), []byte("{garbage"), 0600))

	entries, err := List(root)
	require.NoError(t, err)
	entry := entries["bad"]
	assert.Equal(t, session.StatusStarting, entry.Info.Status)
}

func TestLivenessOfSelfIsTrue(t *testing.T) {
	assert.True(t, Liveness(os.Getpid()))
}

func TestLivenessOfImpossiblePidIsFalse(t *testing.T) {
	assert.False(t, Liveness(1<<30))
}

func TestCleanupRefusesLiveSession(t *testing.T) {
	root := t.TempDir()
	pid := os.Getpid()
	makeSession(t, root, "22222222-2222-2222-2222-222222222222", &pid, session.StatusRunning)

	err := Cleanup(root, "22222222-2222-2222-2222-222222222222")
	var liveErr *ErrSessionLive
	require.ErrorAs(t, err, &liveErr)
	assert.Equal(t, pid, liveErr.PID)

	_, statErr := os.Stat(filepath.Join(root, "22222222-2222-2222-2222-222222222222"))
	assert.NoError(t, statErr)
}

func TestCleanupRemovesDeadSession(t *testing.T) {
	root := t.TempDir()
	dead := 1 << 30
	makeSession(t, root, "33333333-3333-3333-3333-333333333333", &dead, session.StatusExited)

	require.NoError(t, Cleanup(root, "33333333-3333-3333-3333-333333333333"))
	_, err := os.Stat(filepath.Join(root, "33333333-3333-3333-3333-333333333333"))
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupAllNeverRemovesLiveSession(t *testing.T) {
	root := t.TempDir()
	livePid := os.Getpid()
	dead := 1 << 30
	makeSession(t, root, "live", &livePid, session.StatusRunning)
	makeSession(t, root, "dead", &dead, session.StatusExited)

	require.NoError(t, Cleanup(root, ""))

	_, err := os.Stat(filepath.Join(root, "live"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "dead"))
	assert.True(t, os.IsNotExist(err))
}

func TestSendTextRequiresFifo(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "nofifo")
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, session.CreateInitial(dir, "bash", "/home", []string{"/bin/bash"}, ""))

	err := SendText(root, "nofifo", []byte("hi"))
	var fifoErr *ErrFifoMissing
	assert.ErrorAs(t, err, &fifoErr)
}

func TestSendTextDeliversThroughFifo(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "withfifo")
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, session.CreateInitial(dir, "bash", "/home", []string{"/bin/bash"}, ""))
	_, err := session.CreateFifo(dir)
	require.NoError(t, err)

	rw, err := session.OpenFifoReadWrite(filepath.Join(dir, session.FifoFile))
	require.NoError(t, err)
	defer rw.Close()

	require.NoError(t, SendText(root, "withfifo", []byte("hello\n")))

	buf := make([]byte, 64)
	n, err := rw.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(buf[:n]))
}

func TestSendKeyRejectsUnknownName(t *testing.T) {
	root := t.TempDir()
	err := SendKey(root, "whatever", "ctrl+q")
	var keyErr *ErrUnknownKey
	assert.ErrorAs(t, err, &keyErr)
}

func TestSendKeyMapsArrowsToCSI(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "arrows")
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, session.CreateInitial(dir, "bash", "/home", []string{"/bin/bash"}, ""))
	_, err := session.CreateFifo(dir)
	require.NoError(t, err)

	rw, err := session.OpenFifoReadWrite(filepath.Join(dir, session.FifoFile))
	require.NoError(t, err)
	defer rw.Close()

	require.NoError(t, SendKey(root, "arrows", "arrow_up"))
	buf := make([]byte, 16)
	n, err := rw.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "\x1b[A", string(buf[:n]))
}

func TestSendSignalDeliversToRealProcess(t *testing.T) {
	root := t.TempDir()
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Kill()

	pid := cmd.Process.Pid
	makeSession(t, root, "sleeper", &pid, session.StatusRunning)

	require.NoError(t, SendSignal(root, "sleeper", syscall.SIGTERM))
	state, err := cmd.Process.Wait()
	require.NoError(t, err)
	assert.False(t, state.Success())
}

func TestGetUnknownSessionIsBadSessionID(t *testing.T) {
	root := t.TempDir()
	_, err := Get(root, "nope")
	var badErr *ErrBadSessionID
	assert.ErrorAs(t, err, &badErr)
}
