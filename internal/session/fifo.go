package session

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// FifoFile is the fixed name of a session's input FIFO inside its
// directory.
const FifoFile = "stdin"

// CreateFifo makes the named pipe at dir/stdin with owner-only read/write
// permissions. Already-exists is not an error: creation is idempotent.
func CreateFifo(dir string) (string, error) {
	path := filepath.Join(dir, FifoFile)
	if err := unix.Mkfifo(path, 0600); err != nil && err != unix.EEXIST {
		return "", fmt.Errorf("session: mkfifo %s: %w", path, err)
	}
	return path, nil
}

// OpenFifoReadWrite opens the FIFO for both reading and writing and in
// non-blocking mode. Opening read+write (rather than read-only) is
// load-bearing: a FIFO opened read-only reports readiness as soon as any
// writer connects and then disconnects, which would make a poller spin
// forever with no data to read. By holding our own writer end open for the
// supervisor's lifetime, the FIFO always has at least one writer, so
// readiness is only reported when a distinct writer supplies real bytes.
func OpenFifoReadWrite(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("session: open fifo %s: %w", path, err)
	}
	return f, nil
}

// OpenFifoAppendWrite opens the FIFO in append-write mode for an external
// writer (send_text/send_key). ENOENT means the session isn't running: no
// supervisor created a FIFO in dir.
func OpenFifoAppendWrite(dir string) (*os.File, error) {
	path := filepath.Join(dir, FifoFile)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return nil, err
	}
	return f, nil
}
