package ptysup

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// eofInfo is what the main loop needs from the PTY's current termios to
// decide how to react to a zero-byte stdin read: the VEOF control
// character, and whether the line discipline is in canonical mode at all.
type eofInfo struct {
	veof   byte
	icanon bool
}

// getEOFInfo reads the termios installed on fd (the PTY master, whose
// termios mirrors the slave's line discipline) rather than the
// controlling terminal's termios, which the supervisor has already put
// into raw mode and so would never report ICANON.
func getEOFInfo(fd int) (eofInfo, error) {
	t, err := unix.IoctlGetTermios(fd, unix.TIOCGETA)
	if err != nil {
		return eofInfo{}, fmt.Errorf("ptysup: get termios: %w", err)
	}
	return eofInfo{
		veof:   t.Cc[unix.VEOF],
		icanon: t.Lflag&unix.ICANON != 0,
	}, nil
}

// foregroundPgid returns the foreground process group of the terminal
// backing fd, used to forward SIGWINCH to the child's whole job rather
// than just its leader.
func foregroundPgid(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.TIOCGPGRP)
}
