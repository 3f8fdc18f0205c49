// Package backup provides periodic snapshots of the aide archive
// database with integrity verification and count-based retention.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Config holds backup service configuration.
type Config struct {
	// DBPath is the SQLite database file to back up.
	DBPath string

	// BackupDir is where snapshots are stored.
	BackupDir string

	// Interval is the time between automatic snapshots (default: 24h).
	Interval time.Duration

	// Keep is how many snapshots to retain (default: 14).
	Keep int
}

// Result describes one completed snapshot.
type Result struct {
	Path     string
	Size     int64
	Duration time.Duration
}

// Service takes snapshots on a timer. Construct once at startup; Stop
// waits for an in-flight snapshot to finish.
type Service struct {
	cfg  Config
	stop chan struct{}
	done chan struct{}
}

// NewService creates a backup service.
func NewService(cfg Config) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 14
	}
	return &Service{
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start begins the snapshot loop. Non-blocking.
func (s *Service) Start() {
	go s.loop()
}

// Stop ends the snapshot loop.
func (s *Service) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Service) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.BackupNow(context.Background()); err != nil {
				log.Printf("ERROR: backup: snapshot failed: %v", err)
			}
		case <-s.stop:
			return
		}
	}
}

// BackupNow takes one snapshot, verifies it, and applies retention.
func (s *Service) BackupNow(ctx context.Context) (*Result, error) {
	start := time.Now()

	if err := os.MkdirAll(s.cfg.BackupDir, 0o700); err != nil {
		return nil, fmt.Errorf("backup: failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("aide-%s.db", start.Format("20060102-150405"))
	destPath := filepath.Join(s.cfg.BackupDir, name)

	if err := snapshotSQLite(ctx, s.cfg.DBPath, destPath); err != nil {
		return nil, err
	}
	if err := Verify(ctx, destPath); err != nil {
		_ = os.Remove(destPath)
		return nil, err
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to stat snapshot: %w", err)
	}

	if err := applyRetention(s.cfg.BackupDir, s.cfg.Keep); err != nil {
		log.Printf("WARNING: backup: retention pass failed: %v", err)
	}

	result := &Result{
		Path:     destPath,
		Size:     info.Size(),
		Duration: time.Since(start),
	}
	log.Printf("backup: wrote %s (%d bytes in %s)", destPath, result.Size, result.Duration)
	return result, nil
}

// snapshotSQLite copies the database with VACUUM INTO, which produces a
// consistent point-in-time copy even under WAL mode.
func snapshotSQLite(ctx context.Context, sourcePath, destPath string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", sourcePath))
	if err != nil {
		return fmt.Errorf("backup: failed to open source database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("backup: source database is not accessible: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", destPath)); err != nil {
		return fmt.Errorf("backup: vacuum into failed: %w", err)
	}
	return nil
}

// Verify opens a snapshot read-only and runs SQLite's integrity check.
func Verify(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("backup: failed to open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("backup: integrity check failed to run: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("backup: integrity check failed: %s", result)
	}
	return nil
}

// Restore copies a verified snapshot over the target path. The target
// database must not be in use.
func Restore(ctx context.Context, snapshotPath, targetPath string) error {
	if err := Verify(ctx, snapshotPath); err != nil {
		return err
	}

	data, err := os.ReadFile(snapshotPath)
	if err != nil {
		return fmt.Errorf("backup: failed to read snapshot: %w", err)
	}
	if err := os.WriteFile(targetPath, data, 0o600); err != nil {
		return fmt.Errorf("backup: failed to write target: %w", err)
	}
	return Verify(ctx, targetPath)
}
