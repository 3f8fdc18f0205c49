// Package notify provides cross-process trigger delivery into the
// assistant: reminder and mail daemons drop trigger files into a shared
// inbox directory, and the assistant watches it with filesystem events.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Trigger is the payload written to a trigger file.
type Trigger struct {
	// Kind is the trigger category: reminder, mail, document.
	Kind string `json:"kind"`

	// Text is the human-readable note injected into the conversation,
	// for example "Reminder due: dentist at 15:00".
	Text string `json:"text"`

	Time int64 `json:"time"`
}

// TriggerWriter writes trigger files to the shared inbox directory.
type TriggerWriter struct {
	dir string
}

// NewTriggerWriter creates a writer that emits triggers to
// {dataPath}/inbox/.
func NewTriggerWriter(dataPath string) *TriggerWriter {
	return &TriggerWriter{dir: filepath.Join(dataPath, "inbox")}
}

// Write drops a trigger file into the inbox.
// Safe to call concurrently. Errors are returned but not fatal.
func (w *TriggerWriter) Write(kind, text string) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	trig := Trigger{
		Kind: kind,
		Text: text,
		Time: time.Now().UnixNano(),
	}
	data, _ := json.Marshal(trig)
	filename := fmt.Sprintf("%d-%s.trigger", trig.Time, sanitizeKind(kind))
	path := filepath.Join(w.dir, filename)
	return os.WriteFile(path, data, 0o600)
}

// sanitizeKind replaces characters unsafe for filenames.
func sanitizeKind(kind string) string {
	out := make([]byte, len(kind))
	for i := 0; i < len(kind); i++ {
		if kind[i] == '/' || kind[i] == ':' {
			out[i] = '_'
		} else {
			out[i] = kind[i]
		}
	}
	return string(out)
}
