// Package stream implements the replay-then-tail streamer: it delivers
// the already-recorded portion of a transcript as a single fast-forwarded
// burst, then hands off to an OS-level `tail -f` follower so a subscriber
// sees live output at wall-clock pacing, as if it had been attached the
// whole time.
package stream

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/ttyfwd/ttyfwd/internal/protocol"
)

// state is the streamer's position in its state machine.
type state int

const (
	stateReadingExisting state = iota
	stateInitializingTail
	stateStreaming
	stateError
	stateFinished
)

const maxLineSize = 1 << 20

// Streamer is a pull-style lazy sequence of protocol.StreamEvent. Call
// Next repeatedly; it returns (event, true) for each element and (zero
// value, false) once the sequence is exhausted. Close must be called to
// guarantee the follower subprocess is killed, even if Next is not driven
// to exhaustion.
type Streamer struct {
	path string

	st state

	existing *os.File
	scanner  *bufio.Scanner

	follower    *exec.Cmd
	followerOut io.ReadCloser

	streamStart time.Time
	offset      int64
	headerSeen  bool
	errMessage  string
	endEmitted  bool
}

// New constructs a streamer over path. Nothing is opened until the first
// call to Next.
func New(path string) *Streamer {
	return &Streamer{path: path, st: stateReadingExisting}
}

// Next advances the state machine until it can produce one event, or the
// sequence ends.
func (s *Streamer) Next() (protocol.StreamEvent, bool) {
	for {
		switch s.st {
		case stateReadingExisting:
			ev, ok, done := s.nextFromExisting()
			if done {
				s.st = stateInitializingTail
				continue
			}
			if ok {
				return ev, true
			}
			// ok==false, done==false only on parse/read error, already
			// transitioned to stateError inside nextFromExisting.
			continue

		case stateInitializingTail:
			if err := s.startFollower(); err != nil {
				s.errMessage = err.Error()
				s.st = stateError
				continue
			}
			s.streamStart = time.Now()
			s.st = stateStreaming
			continue

		case stateStreaming:
			ev, ok, done := s.nextFromFollower()
			if done {
				if !s.endEmitted {
					s.endEmitted = true
					s.st = stateFinished
					return protocol.StreamEvent{Kind: protocol.StreamEnd}, true
				}
				s.st = stateFinished
				continue
			}
			if ok {
				return ev, true
			}
			continue

		case stateError:
			s.st = stateFinished
			return protocol.StreamEvent{Kind: protocol.StreamError, Message: s.errMessage}, true

		case stateFinished:
			return protocol.StreamEvent{}, false
		}
	}
}

// nextFromExisting returns the next event read from the on-disk
// transcript, or done=true once it is exhausted. An open, read, or parse
// error returns ok=false, done=false after transitioning to stateError.
func (s *Streamer) nextFromExisting() (ev protocol.StreamEvent, ok bool, done bool) {
	if s.existing == nil {
		f, err := os.Open(s.path)
		if err != nil {
			s.errMessage = fmt.Sprintf("open transcript: %v", err)
			s.st = stateError
			return protocol.StreamEvent{}, false, false
		}
		s.existing = f
		s.scanner = bufio.NewScanner(f)
		s.scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	}

	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		parsed, err := protocol.ParseStreamLine(line)
		if err != nil {
			s.errMessage = fmt.Sprintf("parse transcript line: %v", err)
			s.st = stateError
			return protocol.StreamEvent{}, false, false
		}
		if parsed.Kind == protocol.StreamHeader {
			s.headerSeen = true
			return parsed, true, false
		}
		if parsed.Kind == protocol.StreamTerminal {
			parsed.Terminal.Elapsed = 0.0
		}
		return parsed, true, false
	}

	if err := s.scanner.Err(); err != nil {
		s.errMessage = fmt.Sprintf("read transcript: %v", err)
		s.st = stateError
		return protocol.StreamEvent{}, false, false
	}

	if off, err := s.existing.Seek(0, io.SeekCurrent); err == nil {
		s.offset = off
	}
	s.existing.Close()
	return protocol.StreamEvent{}, false, true
}

// startFollower spawns `tail -f` over the transcript file, starting at the
// byte offset where the replay stopped so no replayed line is delivered a
// second time.
func (s *Streamer) startFollower() error {
	cmd := exec.Command("tail", "-c", fmt.Sprintf("+%d", s.offset+1), "-f", s.path)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("tail stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start tail -f: %w", err)
	}
	s.follower = cmd
	s.followerOut = out
	s.scanner = bufio.NewScanner(out)
	s.scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return nil
}

// nextFromFollower returns the next live-tailed event, dropping any
// header line the follower observes (a log rotation or writer restart):
// only the original header, already surfaced during ReadingExisting, is
// ever returned to the caller.
func (s *Streamer) nextFromFollower() (ev protocol.StreamEvent, ok bool, done bool) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		parsed, err := protocol.ParseStreamLine(line)
		if err != nil {
			s.errMessage = fmt.Sprintf("parse tailed line: %v", err)
			s.st = stateError
			return protocol.StreamEvent{}, false, false
		}
		if parsed.Kind == protocol.StreamHeader {
			continue
		}
		if parsed.Kind == protocol.StreamTerminal {
			parsed.Terminal.Elapsed = time.Since(s.streamStart).Seconds()
		}
		return parsed, true, false
	}

	if err := s.scanner.Err(); err != nil {
		s.errMessage = fmt.Sprintf("read tail: %v", err)
		s.st = stateError
		return protocol.StreamEvent{}, false, false
	}
	return protocol.StreamEvent{}, false, true
}

// Close kills the follower subprocess, if one was started, and releases
// any open file handle. Safe to call multiple times.
func (s *Streamer) Close() error {
	if s.follower != nil && s.follower.Process != nil {
		_ = s.follower.Process.Kill()
		_ = s.follower.Wait()
		s.follower = nil
	}
	if s.followerOut != nil {
		_ = s.followerOut.Close()
		s.followerOut = nil
	}
	if s.existing != nil {
		_ = s.existing.Close()
		s.existing = nil
	}
	s.st = stateFinished
	return nil
}
