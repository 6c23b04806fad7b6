package ptysup

import (
	"bufio"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttyfwd/ttyfwd/internal/protocol"
	"github.com/ttyfwd/ttyfwd/internal/session"
)

// unusedStdin returns a read end of a pipe that never signals EOF or
// readiness during a test, standing in for "no controlling terminal
// input" without making the supervisor think stdin is a TTY.
func unusedStdin(t *testing.T) *os.File {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		w.Close()
		r.Close()
	})
	return r
}

func transcriptEvents(t *testing.T, dir string) []protocol.Event {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, "stream-out"))
	require.NoError(t, err)
	defer f.Close()

	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan()) // header line
	var events []protocol.Event
	for sc.Scan() {
		var ev protocol.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	return events
}

func TestSupervisorEchoCat(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not on PATH")
	}

	root := t.TempDir()
	sup, err := New(Options{
		ControlRoot: root,
		Cmdline:     []string{"cat"},
		Stdin:       unusedStdin(t),
		Stdout:      os.Stdout,
	})
	require.NoError(t, err)

	done := make(chan int, 1)
	go func() {
		code, _ := sup.Run()
		done <- code
	}()

	// Give the child time to exec and the PTY to settle into canonical mode.
	time.Sleep(100 * time.Millisecond)

	w, err := session.OpenFifoAppendWrite(sup.Dir())
	require.NoError(t, err)
	_, err = w.Write([]byte("hello\n"))
	require.NoError(t, err)
	// Ctrl-D: end-of-file in canonical mode, causes cat to see EOF on read.
	_, err = w.Write([]byte{0x04})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not exit")
	}

	events := transcriptEvents(t, sup.Dir())
	var sawEcho bool
	for _, ev := range events {
		if ev.Type == protocol.EventOutput && strings.Contains(ev.Data, "hello") {
			sawEcho = true
		}
	}
	assert.True(t, sawEcho, "expected an echoed output event containing hello")

	info, err := session.Load(sup.Dir())
	require.NoError(t, err)
	assert.Equal(t, session.StatusExited, info.Status)
	require.NotNil(t, info.ExitCode)
	assert.Equal(t, 0, *info.ExitCode)
}

func TestSupervisorSignalledTermination(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not on PATH")
	}

	root := t.TempDir()
	sup, err := New(Options{
		ControlRoot: root,
		Cmdline:     []string{"sleep", "60"},
		Stdin:       unusedStdin(t),
		Stdout:      os.Stdout,
	})
	require.NoError(t, err)

	done := make(chan int, 1)
	go func() {
		code, _ := sup.Run()
		done <- code
	}()

	time.Sleep(100 * time.Millisecond)
	require.NotZero(t, sup.PID())
	require.NoError(t, syscall.Kill(sup.PID(), syscall.SIGKILL))

	select {
	case code := <-done:
		assert.Equal(t, 128+int(syscall.SIGKILL), code)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not exit")
	}
}

func TestExitCodeForNormalExit(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 3")
	_ = cmd.Run()
	require.NotNil(t, cmd.ProcessState)
	assert.Equal(t, 3, exitCodeFor(cmd.ProcessState))
}

func TestExitCodeForSignalled(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	require.NoError(t, cmd.Process.Signal(syscall.SIGTERM))
	_ = cmd.Wait()
	assert.Equal(t, 128+int(syscall.SIGTERM), exitCodeFor(cmd.ProcessState))
}
