// Command aide-backup runs the automated database backup service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/scrypster/aide/internal/backup"
	"github.com/scrypster/aide/internal/config"
)

var (
	dbPath    = flag.String("db", "", "Path to database file (overrides config)")
	backupDir = flag.String("backup-dir", "", "Backup directory path (overrides config)")
	interval  = flag.Duration("interval", 0, "Backup interval (overrides config)")
	keep      = flag.Int("keep", 0, "Number of snapshots to retain (overrides config)")
	oneshot   = flag.Bool("oneshot", false, "Perform a single backup and exit")
	restore   = flag.String("restore", "", "Restore database from backup file and exit")
	listCmd   = flag.Bool("list", false, "List all available backups and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	dbPathFinal := filepath.Join(cfg.Storage.DataPath, "aide.db")
	if *dbPath != "" {
		dbPathFinal = *dbPath
	}

	backupDirFinal := cfg.Backup.BackupPath
	if *backupDir != "" {
		backupDirFinal = *backupDir
	}

	intervalFinal := 24 * time.Hour
	if cfg.Backup.BackupInterval != "" {
		if d, err := time.ParseDuration(cfg.Backup.BackupInterval); err == nil {
			intervalFinal = d
		}
	}
	if *interval > 0 {
		intervalFinal = *interval
	}

	keepFinal := cfg.Backup.BackupRetention
	if *keep > 0 {
		keepFinal = *keep
	}

	service := backup.NewService(backup.Config{
		DBPath:    dbPathFinal,
		BackupDir: backupDirFinal,
		Interval:  intervalFinal,
		Keep:      keepFinal,
	})

	ctx := context.Background()

	if *restore != "" {
		handleRestore(ctx, *restore, dbPathFinal)
		return
	}

	if *listCmd {
		handleList(backupDirFinal)
		return
	}

	if *oneshot {
		handleOneshot(ctx, service)
		return
	}

	runService(service)
}

func handleRestore(ctx context.Context, snapshotPath, targetPath string) {
	log.Printf("Restoring database from backup: %s", snapshotPath)

	if err := backup.Restore(ctx, snapshotPath, targetPath); err != nil {
		log.Fatalf("Restore failed: %v", err)
	}

	log.Println("Database restored successfully")
}

func handleList(dir string) {
	snapshots, err := backup.List(dir)
	if err != nil {
		log.Fatalf("Failed to list backups: %v", err)
	}

	if len(snapshots) == 0 {
		fmt.Println("No backups found")
		return
	}

	fmt.Printf("Found %d backup(s):\n\n", len(snapshots))
	for i, s := range snapshots {
		fmt.Printf("%d. %s\n", i+1, s.Path)
		fmt.Printf("   Size: %.2f MB\n", float64(s.Size)/(1024*1024))
		fmt.Printf("   Created: %s (%s ago)\n",
			s.Timestamp.Format(time.RFC3339),
			time.Since(s.Timestamp).Round(time.Minute))
		fmt.Println()
	}
}

func handleOneshot(ctx context.Context, service *backup.Service) {
	log.Println("Performing one-time backup...")

	result, err := service.BackupNow(ctx)
	if err != nil {
		log.Fatalf("Backup failed: %v", err)
	}

	log.Printf("Backup completed successfully:")
	log.Printf("  Path: %s", result.Path)
	log.Printf("  Size: %.2f MB", float64(result.Size)/(1024*1024))
	log.Printf("  Duration: %v", result.Duration)
}

func runService(service *backup.Service) {
	service.Start()

	log.Println("Backup service started")
	log.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down backup service...")
	service.Stop()
	log.Println("Backup service stopped")
}
