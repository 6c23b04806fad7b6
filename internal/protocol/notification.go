package protocol

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// NotificationEvent is a side-channel line written to a session's
// notification stream: out-of-band markers that are not part of the
// asciinema transcript itself. The supervisor writes one "exit" event,
// carrying the exit code, when its child is reaped.
type NotificationEvent struct {
	Timestamp int64  `json:"timestamp"`
	Event     string `json:"event"`
	Data      string `json:"data,omitempty"`
}

// NotificationWriter appends newline-delimited NotificationEvent JSON to a
// file, flushing after every write so tailers observe it immediately.
type NotificationWriter struct {
	f *os.File
}

func OpenNotificationWriter(f *os.File) *NotificationWriter {
	return &NotificationWriter{f: f}
}

func (w *NotificationWriter) Write(event, data string) error {
	b, err := json.Marshal(NotificationEvent{
		Timestamp: time.Now().Unix(),
		Event:     event,
		Data:      data,
	})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.f, "%s\n", b); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *NotificationWriter) Close() error {
	return w.f.Close()
}
