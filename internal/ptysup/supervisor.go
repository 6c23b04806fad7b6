// Package ptysup implements the PTY session supervisor: forking a child
// under a pseudo-terminal, installing raw mode on the controlling
// terminal, multiplexing the controlling-terminal stdin, an out-of-band
// input FIFO, and the PTY master through a single blocking select loop,
// forwarding window-size changes, and producing the byte-exact transcript.
package ptysup

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/ttyfwd/ttyfwd/internal/protocol"
	"github.com/ttyfwd/ttyfwd/internal/session"
)

const readBufSize = 4096

// Options configures a single supervised session.
type Options struct {
	ControlRoot string
	Cmdline     []string
	Name        string
	Cwd         string
	Term        string

	// DefaultCols/DefaultRows size the PTY when Stdin is not a TTY.
	DefaultCols int
	DefaultRows int

	// Stdin defaults to os.Stdin; overridable for tests and for
	// TTY-less sessions (e.g. ones created over HTTP).
	Stdin *os.File
	// Stdout defaults to os.Stdout; any io.Writer is accepted since a
	// TTY-less session has nowhere meaningful to mirror output to.
	Stdout io.Writer
}

// Supervisor owns one session's directory, PTY, transcript, and FIFO for
// the lifetime of its child process.
type Supervisor struct {
	opts Options
	dir  string
	id   string

	ptmx *os.File
	cmd  *exec.Cmd
	fifo *os.File

	writer     *protocol.Writer
	notifier  *protocol.NotificationWriter
	stdinTTY  bool
	oldState  *term.State
	winchFlag atomic.Bool
	stopWinch chan struct{}
}

// New creates the session directory, descriptor, FIFO, and transcript
// file, but does not yet fork the child. The caller must call Run.
func New(opts Options) (*Supervisor, error) {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.DefaultCols == 0 {
		opts.DefaultCols = 80
	}
	if opts.DefaultRows == 0 {
		opts.DefaultRows = 24
	}
	if len(opts.Cmdline) == 0 {
		return nil, fmt.Errorf("ptysup: empty cmdline")
	}
	if opts.Name == "" {
		opts.Name = filepath.Base(opts.Cmdline[0])
	}

	id := uuid.New().String()
	dir := filepath.Join(opts.ControlRoot, id)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("ptysup: create session dir: %w", err)
	}

	if err := session.CreateInitial(dir, opts.Name, opts.Cwd, opts.Cmdline, opts.Term); err != nil {
		return nil, fmt.Errorf("ptysup: write initial descriptor: %w", err)
	}

	fifoPath, err := session.CreateFifo(dir)
	if err != nil {
		return nil, err
	}
	fifo, err := session.OpenFifoReadWrite(fifoPath)
	if err != nil {
		return nil, err
	}

	streamFile, err := os.OpenFile(filepath.Join(dir, "stream-out"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		fifo.Close()
		return nil, fmt.Errorf("ptysup: create stream-out: %w", err)
	}

	cols, rows := opts.DefaultCols, opts.DefaultRows
	stdinTTY := term.IsTerminal(int(opts.Stdin.Fd()))
	if stdinTTY {
		if w, h, err := term.GetSize(int(opts.Stdin.Fd())); err == nil {
			cols, rows = w, h
		}
	}

	writer, err := protocol.Open(streamFile, protocol.Header{
		Version: 2,
		Width:   cols,
		Height:  rows,
		Command: opts.Cmdline[0],
	})
	if err != nil {
		fifo.Close()
		streamFile.Close()
		return nil, fmt.Errorf("ptysup: write transcript header: %w", err)
	}

	notifFile, err := os.OpenFile(filepath.Join(dir, "notification-stream"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	var notifier *protocol.NotificationWriter
	if err == nil {
		notifier = protocol.OpenNotificationWriter(notifFile)
	}

	return &Supervisor{
		opts:     opts,
		dir:      dir,
		id:       id,
		fifo:     fifo,
		writer:   writer,
		notifier: notifier,
		stdinTTY: stdinTTY,
	}, nil
}

// ID returns the session's UUID.
func (s *Supervisor) ID() string { return s.id }

// Dir returns the session's directory.
func (s *Supervisor) Dir() string { return s.dir }

// PID returns the child's process id, or 0 before Run has forked it.
func (s *Supervisor) PID() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Run forks the child under the PTY, drives the I/O loop to completion,
// reaps the child, and returns its effective exit code.
func (s *Supervisor) Run() (int, error) {
	defer s.writer.Close()
	defer s.fifo.Close()
	if s.notifier != nil {
		defer s.notifier.Close()
	}

	cols, rows := s.opts.DefaultCols, s.opts.DefaultRows
	if s.stdinTTY {
		if w, h, err := term.GetSize(int(s.opts.Stdin.Fd())); err == nil {
			cols, rows = w, h
		}
		state, err := term.MakeRaw(int(s.opts.Stdin.Fd()))
		if err != nil {
			return 1, fmt.Errorf("ptysup: make stdin raw: %w", err)
		}
		s.oldState = state
		defer term.Restore(int(s.opts.Stdin.Fd()), s.oldState)
	}

	cmd := exec.Command(s.opts.Cmdline[0], s.opts.Cmdline[1:]...)
	cmd.Dir = s.opts.Cwd
	cmd.Env = append(os.Environ(), "TERM="+termOrDefault(s.opts.Term))

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return 1, fmt.Errorf("ptysup: start pty: %w", err)
	}
	s.ptmx = ptmx
	s.cmd = cmd
	defer ptmx.Close()

	pid := cmd.Process.Pid
	running := session.StatusRunning
	if err := session.ApplyUpdate(s.dir, session.Update{PID: &pid, Status: &running}); err != nil {
		return 1, fmt.Errorf("ptysup: update descriptor to running: %w", err)
	}

	if s.stdinTTY {
		s.stopWinch = make(chan struct{})
		s.watchWinch()
		defer close(s.stopWinch)
	}

	s.loop()

	_ = cmd.Wait()
	code := exitCodeFor(cmd.ProcessState)

	exited := session.StatusExited
	if err := session.ApplyUpdate(s.dir, session.Update{Status: &exited, ExitCode: &code}); err != nil {
		return code, fmt.Errorf("ptysup: update descriptor to exited: %w", err)
	}
	if s.notifier != nil {
		_ = s.notifier.Write("exit", fmt.Sprintf("%d", code))
	}

	return code, nil
}

func termOrDefault(t string) string {
	if t == "" {
		return session.DefaultTerm
	}
	return t
}

// watchWinch installs a SIGWINCH handler that only flips an atomic flag;
// the main loop services it cooperatively, never from signal context.
func (s *Supervisor) watchWinch() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGWINCH)
	go func() {
		for {
			select {
			case <-ch:
				s.winchFlag.Store(true)
			case <-s.stopWinch:
				signal.Stop(ch)
				return
			}
		}
	}()
}

// loop is the single-threaded blocking event loop over stdin, the input
// FIFO, and the PTY master. It returns once the child has gone away
// (observed as EOF/EIO on the PTY master) or the controlling terminal is
// gone (EIO on stdin).
func (s *Supervisor) loop() {
	stdinFd := int(s.opts.Stdin.Fd())
	fifoFd := int(s.fifo.Fd())
	ptyFd := int(s.ptmx.Fd())

	stdinActive := true
	buf := make([]byte, readBufSize)

	for {
		if s.stdinTTY && s.winchFlag.CompareAndSwap(true, false) {
			s.serviceWinch()
		}

		fds := []int{ptyFd, fifoFd}
		if stdinActive {
			fds = append(fds, stdinFd)
		}

		ready, err := selectRead(fds, time.Second)
		if err != nil {
			return
		}
		if len(ready) == 0 {
			continue
		}

		for _, fd := range ready {
			switch fd {
			case stdinFd:
				n, err := syscall.Read(stdinFd, buf)
				if isTransient(err) {
					continue
				}
				if err == syscall.EIO {
					return
				}
				if n == 0 {
					s.handleStdinEOF()
					stdinActive = false
					continue
				}
				if err != nil {
					continue
				}
				_ = writeAll(ptyFd, buf[:n])

			case fifoFd:
				n, err := syscall.Read(fifoFd, buf)
				if isTransient(err) || err != nil {
					continue
				}
				if n > 0 {
					_ = writeAll(ptyFd, buf[:n])
				}

			case ptyFd:
				n, err := syscall.Read(ptyFd, buf)
				if isTransient(err) {
					continue
				}
				if n == 0 || err == syscall.EIO {
					return
				}
				if err != nil {
					continue
				}
				_, _ = s.opts.Stdout.Write(buf[:n])
				_ = s.writer.WriteOutput(buf[:n])
			}
		}
	}
}

func isTransient(err error) bool {
	return err == syscall.EINTR || err == syscall.EAGAIN
}

// handleStdinEOF sends the VEOF control character to the PTY if its
// current line discipline is canonical, per the EOF propagation property.
func (s *Supervisor) handleStdinEOF() {
	info, err := getEOFInfo(int(s.ptmx.Fd()))
	if err != nil {
		return
	}
	if info.icanon {
		_ = writeAll(int(s.ptmx.Fd()), []byte{info.veof})
	}
}

// serviceWinch reads stdin's current window size, applies it to the PTY,
// forwards SIGWINCH to the child's foreground process group, and records a
// resize event.
func (s *Supervisor) serviceWinch() {
	cols, rows, err := term.GetSize(int(s.opts.Stdin.Fd()))
	if err != nil {
		return
	}
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return
	}
	if pgid, err := foregroundPgid(int(s.ptmx.Fd())); err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGWINCH)
	}
	_ = s.writer.WriteResize(cols, rows)
}

// writeAll loops a raw fd write until buf is fully written or an error
// that isn't a transient interruption occurs.
func writeAll(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := syscall.Write(fd, buf)
		if err != nil {
			if isTransient(err) {
				continue
			}
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// exitCodeFor computes the child's effective exit code per the
// termination rule: its own status if it exited normally, 128+signal if
// signalled, 1 otherwise.
func exitCodeFor(state *os.ProcessState) int {
	if state == nil {
		return 1
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		if state.Exited() {
			return state.ExitCode()
		}
		return 1
	}
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	default:
		return 1
	}
}
