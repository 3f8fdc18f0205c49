package notify

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTriggerWriterCreatesFile(t *testing.T) {
	dir := t.TempDir()
	w := NewTriggerWriter(dir)

	if err := w.Write("reminder", "Reminder due: dentist at 15:00"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "inbox"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 trigger file, got %d", len(entries))
	}
	if filepath.Ext(entries[0].Name()) != ".trigger" {
		t.Errorf("expected .trigger extension, got %s", entries[0].Name())
	}
}

func TestInboxWatcherReceivesTrigger(t *testing.T) {
	dir := t.TempDir()

	type triggerMsg struct {
		kind string
		text string
	}
	received := make(chan triggerMsg, 1)

	watcher := NewInboxWatcher(dir, func(kind, text string) {
		received <- triggerMsg{kind, text}
	})
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer watcher.Stop()

	// Give fsnotify a moment to register
	time.Sleep(50 * time.Millisecond)

	writer := NewTriggerWriter(dir)
	if err := writer.Write("mail", "3 new messages from alice@example.com"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	select {
	case msg := <-received:
		if msg.kind != "mail" {
			t.Errorf("expected kind mail, got %s", msg.kind)
		}
		if msg.text != "3 new messages from alice@example.com" {
			t.Errorf("unexpected text %q", msg.text)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for trigger")
	}
}

func TestInboxWatcherDrainsExisting(t *testing.T) {
	dir := t.TempDir()

	// Write triggers BEFORE starting the watcher: they accumulated while
	// the assistant was down.
	writer := NewTriggerWriter(dir)
	_ = writer.Write("reminder", "Reminder due: standup")
	_ = writer.Write("mail", "1 new message")

	received := make(chan string, 10)
	watcher := NewInboxWatcher(dir, func(kind, text string) {
		received <- kind
	})
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer watcher.Stop()

	// Drain should have processed both files synchronously during Start
	time.Sleep(100 * time.Millisecond)

	if len(received) != 2 {
		t.Fatalf("expected 2 drained triggers, got %d", len(received))
	}
}

func TestTriggerKindRoundTrip(t *testing.T) {
	kinds := []string{"reminder", "mail", "document"}

	for _, kind := range kinds {
		t.Run(kind, func(t *testing.T) {
			dir := t.TempDir()

			received := make(chan string, 1)
			watcher := NewInboxWatcher(dir, func(kind, text string) {
				received <- kind
			})
			if err := watcher.Start(); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			defer watcher.Stop()

			time.Sleep(50 * time.Millisecond)

			writer := NewTriggerWriter(dir)
			if err := writer.Write(kind, "note"); err != nil {
				t.Fatalf("Write failed: %v", err)
			}

			select {
			case got := <-received:
				if got != kind {
					t.Errorf("expected kind %s, got %s", kind, got)
				}
			case <-time.After(3 * time.Second):
				t.Fatal("timeout waiting for trigger")
			}
		})
	}
}

func TestSanitizeKind(t *testing.T) {
	got := sanitizeKind("mail:inbox/new")
	if got != "mail_inbox_new" {
		t.Errorf("expected mail_inbox_new, got %s", got)
	}
}
