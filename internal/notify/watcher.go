package notify

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// InboxWatcher watches the inbox directory and dispatches triggers.
// Each trigger file is consumed exactly once: read, dispatched, removed.
type InboxWatcher struct {
	dir      string
	callback func(kind, text string)
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewInboxWatcher creates a watcher for {dataPath}/inbox/.
func NewInboxWatcher(dataPath string, callback func(kind, text string)) *InboxWatcher {
	return &InboxWatcher{
		dir:      filepath.Join(dataPath, "inbox"),
		callback: callback,
		done:     make(chan struct{}),
	}
}

// Start begins watching. It drains any trigger files that accumulated
// while the assistant was down, then watches for new ones. Call Stop()
// to clean up.
func (iw *InboxWatcher) Start() error {
	if err := os.MkdirAll(iw.dir, 0o700); err != nil {
		return err
	}

	iw.drainExisting()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(iw.dir); err != nil {
		_ = w.Close()
		return err
	}
	iw.watcher = w

	go iw.loop()
	log.Printf("notify: watching %s for triggers", iw.dir)
	return nil
}

// Stop shuts down the watcher.
func (iw *InboxWatcher) Stop() {
	if iw.watcher != nil {
		_ = iw.watcher.Close()
	}
	<-iw.done
}

func (iw *InboxWatcher) loop() {
	defer close(iw.done)
	for {
		select {
		case evt, ok := <-iw.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&fsnotify.Create != 0 && strings.HasSuffix(evt.Name, ".trigger") {
				iw.processFile(evt.Name)
			}
		case err, ok := <-iw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("notify: watcher error: %v", err)
		}
	}
}

func (iw *InboxWatcher) drainExisting() {
	entries, err := os.ReadDir(iw.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".trigger") {
			iw.processFile(filepath.Join(iw.dir, entry.Name()))
		}
	}
}

func (iw *InboxWatcher) processFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // file already consumed by another process
	}
	_ = os.Remove(path)

	var trig Trigger
	if err := json.Unmarshal(data, &trig); err != nil {
		log.Printf("notify: invalid trigger file %s: %v", filepath.Base(path), err)
		return
	}

	if trig.Kind != "" && iw.callback != nil {
		iw.callback(trig.Kind, trig.Text)
	}
}
