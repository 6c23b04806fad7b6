// Package session implements the on-disk session descriptor and the
// load-bearing FIFO creation/open discipline that the supervisor and
// registry both depend on.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Status is the closed enum of a session's lifecycle state.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusExited   Status = "exited"
)

// Info is the content of session.json. Pointer fields are omitted from the
// JSON document when nil so a "starting" descriptor carries no pid or
// exit_code per the status invariants.
type Info struct {
	Cmdline   []string   `json:"cmdline"`
	Name      string     `json:"name"`
	Cwd       string     `json:"cwd"`
	PID       *int       `json:"pid,omitempty"`
	Status    Status     `json:"status"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Term      string     `json:"term"`
}

const DefaultTerm = "xterm-256color"

// DescriptorFile is the fixed name of a session's descriptor inside its
// directory.
const DescriptorFile = "session.json"

// Update is the set of fields update() may change; a nil field leaves the
// stored value untouched.
type Update struct {
	PID      *int
	Status   *Status
	ExitCode *int
}

// CreateInitial writes the starting descriptor for a session whose child
// has not been forked yet: no pid, no exit code.
func CreateInitial(dir, name, cwd string, cmdline []string, term string) error {
	if term == "" {
		term = DefaultTerm
	}
	now := time.Now()
	info := Info{
		Cmdline:   cmdline,
		Name:      name,
		Cwd:       cwd,
		Status:    StatusStarting,
		StartedAt: &now,
		Term:      term,
	}
	return writeAtomic(filepath.Join(dir, DescriptorFile), info)
}

// Load reads and parses a session's descriptor.
func Load(dir string) (Info, error) {
	b, err := os.ReadFile(filepath.Join(dir, DescriptorFile))
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := json.Unmarshal(b, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}

// LoadOrDefault returns a skeletal zero-value descriptor (status
// "starting" with no pid) when the file is missing or unparseable, per the
// registry's "malformed descriptor yields a default entry" rule.
func LoadOrDefault(dir string) Info {
	info, err := Load(dir)
	if err != nil {
		return Info{Status: StatusStarting, Term: DefaultTerm}
	}
	return info
}

// ApplyUpdate merges u into an existing descriptor and writes it back
// atomically. If the existing file is missing or unparseable, the update
// is a no-op: the prior descriptor (whatever it was) must not be
// clobbered by partial data.
func ApplyUpdate(dir string, u Update) error {
	info, err := Load(dir)
	if err != nil {
		return nil
	}
	if u.PID != nil {
		info.PID = u.PID
	}
	if u.Status != nil {
		info.Status = *u.Status
	}
	if u.ExitCode != nil {
		info.ExitCode = u.ExitCode
	}
	return writeAtomic(filepath.Join(dir, DescriptorFile), info)
}

// writeAtomic implements the create-temp-in-same-dir + fsync + rename
// discipline so any reader sees either the previous or the next complete
// document, never a torn write.
func writeAtomic(path string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".session-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("session: atomic rename %s: %w", path, err)
	}
	return nil
}
