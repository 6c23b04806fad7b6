package registry

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/ttyfwd/ttyfwd/internal/session"
)

// Watcher watches a control root for newly created session directories and
// registers them as soon as they acquire a session.json, without waiting
// for the next poll of List.
type Watcher struct {
	controlRoot string
	onRegister  func(id string)
	watcher     *fsnotify.Watcher
	done        chan struct{}
}

// NewWatcher builds a watcher over controlRoot. onRegister is invoked
// (from the watcher's own goroutine) whenever a new session directory
// passes RegisterExternal.
func NewWatcher(controlRoot string, onRegister func(id string)) *Watcher {
	return &Watcher{
		controlRoot: controlRoot,
		onRegister:  onRegister,
		done:        make(chan struct{}),
	}
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("registry: create watcher: %w", err)
	}
	if err := fw.Add(w.controlRoot); err != nil {
		fw.Close()
		return fmt.Errorf("registry: watch control root: %w", err)
	}
	w.watcher = fw
	go w.run()
	return nil
}

// Stop tears down the watcher. Safe to call once.
func (w *Watcher) Stop() {
	if w.watcher == nil {
		return
	}
	close(w.done)
	w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("ttyfwd: control root watcher error: %v", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&fsnotify.Create == 0 {
		return
	}
	id := filepath.Base(ev.Name)
	if id == session.DescriptorFile {
		// session.json appeared inside a session directory watched below.
		id = filepath.Base(filepath.Dir(ev.Name))
	} else if isUUIDLike(id) {
		// Watch the new directory itself so a session.json written after
		// this event still registers it.
		_ = w.watcher.Add(ev.Name)
	}
	if !isUUIDLike(id) {
		return
	}
	if err := RegisterExternal(w.controlRoot, id); err != nil {
		// The directory may not have a session.json yet if we raced its
		// creation; its own Create event registers it later.
		return
	}
	if w.onRegister != nil {
		w.onRegister(id)
	}
}

// isUUIDLike checks the 36-char, hyphen-at-8/13/18/23 shape of a version-4
// UUID string without requiring the uuid package's stricter parse.
func isUUIDLike(s string) bool {
	if len(s) != 36 {
		return false
	}
	if s[8] != '-' || s[13] != '-' || s[18] != '-' || s[23] != '-' {
		return false
	}
	const hex = "0123456789abcdefABCDEF"
	for i, c := range s {
		if i == 8 || i == 13 || i == 18 || i == 23 {
			continue
		}
		if !strings.ContainsRune(hex, c) {
			return false
		}
	}
	return true
}
