// Package worker holds the background loops started by `bridge serve`.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/bridge/internal/backup"
)

// BackupRunner takes one database backup.
type BackupRunner interface {
	Run(ctx context.Context) (*backup.Result, error)
}

// BackupWorker takes a backup on every interval tick.
type BackupWorker struct {
	runner   BackupRunner
	interval time.Duration
}

// NewBackupWorker creates a worker with the given runner and interval.
func NewBackupWorker(runner BackupRunner, interval time.Duration) *BackupWorker {
	return &BackupWorker{
		runner:   runner,
		interval: interval,
	}
}

// Run blocks until ctx is cancelled. The first backup is taken one
// interval after start so restarts do not pile up copies.
func (w *BackupWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runBackup(ctx)
		}
	}
}

func (w *BackupWorker) runBackup(ctx context.Context) {
	start := time.Now()
	res, err := w.runner.Run(ctx)
	if err != nil {
		// Shutdown mid-backup is not a failure worth reporting.
		if ctx.Err() != nil {
			return
		}
		slog.Warn("backup failed",
			"component", "worker",
			"action", "backup_failed",
			"error", err,
		)
		return
	}

	slog.Info("backup completed",
		"component", "worker",
		"action", "backup_completed",
		"path", res.Path,
		"uploaded", res.Uploaded,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
