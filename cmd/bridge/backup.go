package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hyperengineering/bridge/internal/backup"
	"github.com/hyperengineering/bridge/internal/store"
	"github.com/spf13/cobra"
)

var (
	backupDir      string
	backupPrintURL bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a database backup",
	Long: `Write a point-in-time copy of the database to the backup directory.
When object storage is configured (BRIDGE_S3_BUCKET) the copy is also
uploaded and becomes the latest backup.`,
	Args: cobra.NoArgs,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().StringVar(&backupDir, "dir", "", "Backup directory (overrides config)")
	backupCmd.Flags().BoolVar(&backupPrintURL, "url", false, "Print a pre-signed download URL for the uploaded backup")
}

func runBackup(cmd *cobra.Command, args []string) error {
	path, cfg, err := resolveDBPath()
	if err != nil {
		return err
	}
	if backupDir != "" {
		cfg.Backup.Dir = backupDir
	}
	slog.SetDefault(newLogger(os.Stderr, cfg.Log))

	db, err := store.NewSQLiteStore(path)
	if err != nil {
		return err
	}
	defer db.Close()

	svc, err := newBackupService(cfg.Backup, db, nil)
	if err != nil {
		return err
	}

	res, err := svc.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Backup written to %s\n", res.Path)
	if res.Uploaded {
		fmt.Fprintf(out, "Uploaded as %s\n", res.ObjectKey)
	}

	if backupPrintURL {
		url, expiry, err := svc.PresignedURL(cmd.Context())
		if errors.Is(err, backup.ErrNotConfigured) {
			return fmt.Errorf("--url requires object storage (set BRIDGE_S3_BUCKET)")
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Download URL (expires %s): %s\n", expiry.Format("2006-01-02 15:04 MST"), url)
	}
	return nil
}
