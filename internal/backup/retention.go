package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Snapshot is one stored backup file.
type Snapshot struct {
	Path      string
	Timestamp time.Time
	Size      int64
}

// List returns the snapshots in dir, newest first.
func List(dir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read backup directory: %w", err)
	}

	var snapshots []Snapshot
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // file vanished between ReadDir and Stat
		}
		snapshots = append(snapshots, Snapshot{
			Path:      filepath.Join(dir, entry.Name()),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

// applyRetention deletes the oldest snapshots beyond keep.
func applyRetention(dir string, keep int) error {
	snapshots, err := List(dir)
	if err != nil {
		return err
	}
	if len(snapshots) <= keep {
		return nil
	}

	for _, snapshot := range snapshots[keep:] {
		if err := os.Remove(snapshot.Path); err != nil {
			return fmt.Errorf("backup: failed to delete %s: %w", snapshot.Path, err)
		}
	}
	return nil
}
