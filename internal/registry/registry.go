// Package registry implements the session registry as a pure function
// over the control root's directory tree: enumeration, liveness probing,
// cleanup, and the FIFO/signal side-channels used to drive a running
// session from another process.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/ttyfwd/ttyfwd/internal/session"
)

// Entry is one row of a List() result: the descriptor plus the
// canonicalised absolute paths of the session's well-known files,
// regardless of whether those files exist yet.
type Entry struct {
	ID                     string
	Info                   session.Info
	StreamOutPath          string
	StdinPath              string
	NotificationStreamPath string
}

// List enumerates immediate subdirectories of controlRoot. A directory
// without session.json is skipped (not-yet-registered); a directory with
// an unparseable session.json yields a skeletal default entry rather than
// an error.
func List(controlRoot string) (map[string]Entry, error) {
	dirEntries, err := os.ReadDir(controlRoot)
	if err != nil {
		return nil, fmt.Errorf("registry: read control root: %w", err)
	}

	out := make(map[string]Entry)
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		id := de.Name()
		dir := filepath.Join(controlRoot, id)
		if _, err := os.Stat(filepath.Join(dir, session.DescriptorFile)); err != nil {
			continue
		}
		out[id] = Entry{
			ID:                     id,
			Info:                   session.LoadOrDefault(dir),
			StreamOutPath:          canonicalize(filepath.Join(dir, "stream-out")),
			StdinPath:              canonicalize(filepath.Join(dir, session.FifoFile)),
			NotificationStreamPath: canonicalize(filepath.Join(dir, "notification-stream")),
		}
	}
	return out, nil
}

// canonicalize resolves symlinks where possible, falling back to the
// uncanonicalized path (the target may not exist yet).
func canonicalize(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return path
	}
	return resolved
}

// Get loads a single session's entry, or ErrBadSessionID if its directory
// or descriptor is absent.
func Get(controlRoot, id string) (Entry, error) {
	dir := filepath.Join(controlRoot, id)
	if _, err := os.Stat(filepath.Join(dir, session.DescriptorFile)); err != nil {
		return Entry{}, &ErrBadSessionID{ID: id}
	}
	return Entry{
		ID:                     id,
		Info:                   session.LoadOrDefault(dir),
		StreamOutPath:          canonicalize(filepath.Join(dir, "stream-out")),
		StdinPath:              canonicalize(filepath.Join(dir, session.FifoFile)),
		NotificationStreamPath: canonicalize(filepath.Join(dir, "notification-stream")),
	}, nil
}

// Liveness reports whether pid currently names a live process on this
// host, probed via signal 0.
func Liveness(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err != syscall.ESRCH
}

// RegisterExternal validates that a directory that appeared under the
// control root (typically surfaced by a filesystem watcher) is a real
// session: it has a readable session.json. It does not mutate anything;
// the registry has no state of its own to update.
func RegisterExternal(controlRoot, id string) error {
	dir := filepath.Join(controlRoot, id)
	if _, err := session.Load(dir); err != nil {
		return fmt.Errorf("registry: register external %s: %w", id, err)
	}
	return nil
}

// Cleanup removes reapable session directories. When id is non-empty, only
// that session is considered and a live pid is refused with
// ErrSessionLive. When id is empty, every session whose pid is absent,
// malformed, or not live is removed.
func Cleanup(controlRoot, id string) error {
	if id != "" {
		return cleanupOne(controlRoot, id)
	}

	entries, err := List(controlRoot)
	if err != nil {
		return err
	}
	for sid, e := range entries {
		if isReapable(e.Info) {
			if err := os.RemoveAll(filepath.Join(controlRoot, sid)); err != nil {
				return fmt.Errorf("registry: cleanup %s: %w", sid, err)
			}
		}
	}
	return nil
}

func cleanupOne(controlRoot, id string) error {
	entry, err := Get(controlRoot, id)
	if err != nil {
		return err
	}
	if entry.Info.PID != nil && Liveness(*entry.Info.PID) {
		return &ErrSessionLive{ID: id, PID: *entry.Info.PID}
	}
	return os.RemoveAll(filepath.Join(controlRoot, id))
}

func isReapable(info session.Info) bool {
	if info.PID == nil {
		return true
	}
	return !Liveness(*info.PID)
}

// SendText writes bytes to a session's input FIFO in append-write mode. A
// missing FIFO means the session is not running.
func SendText(controlRoot, id string, data []byte) error {
	dir := filepath.Join(controlRoot, id)
	f, err := session.OpenFifoAppendWrite(dir)
	if err != nil {
		return &ErrFifoMissing{ID: id}
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

// keyTable is the fixed key-name vocabulary the FIFO key-send helper
// accepts. Anything else is rejected.
var keyTable = map[string]string{
	"arrow_up":    "\x1b[A",
	"arrow_down":  "\x1b[B",
	"arrow_right": "\x1b[C",
	"arrow_left":  "\x1b[D",
	"escape":      "\x1b",
	"enter":       "\r",
}

// SendKey maps a key name to its control sequence and writes it to the
// session's FIFO.
func SendKey(controlRoot, id, keyName string) error {
	seq, ok := keyTable[keyName]
	if !ok {
		return &ErrUnknownKey{Name: keyName}
	}
	return SendText(controlRoot, id, []byte(seq))
}

// SendSignal reads pid from the descriptor and delivers sig to it.
func SendSignal(controlRoot, id string, sig syscall.Signal) error {
	entry, err := Get(controlRoot, id)
	if err != nil {
		return err
	}
	if entry.Info.PID == nil {
		return fmt.Errorf("registry: session %s has no pid", id)
	}
	proc, err := os.FindProcess(*entry.Info.PID)
	if err != nil {
		return fmt.Errorf("registry: find process %d: %w", *entry.Info.PID, err)
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("registry: signal %s: %w", id, err)
	}
	return nil
}
