package main

import (
	"fmt"

	"github.com/hyperengineering/bridge/internal/config"
	"github.com/hyperengineering/bridge/internal/store"
	"github.com/spf13/cobra"
)

var dbPathOverride string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  "Apply pending schema migrations to the SQLite database and print the resulting schema version.",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPathOverride, "db", "",
		"Database path (overrides config and BRIDGE_DB_PATH)")
}

// resolveDBPath returns --db, else the configured database path.
func resolveDBPath() (string, *config.Config, error) {
	cfg, err := config.LoadForTools()
	if err != nil {
		return "", nil, fmt.Errorf("load config: %w", err)
	}
	if dbPathOverride != "" {
		return dbPathOverride, cfg, nil
	}
	return cfg.Database.Path, cfg, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	path, _, err := resolveDBPath()
	if err != nil {
		return err
	}

	// Opening the store applies any pending migrations.
	db, err := store.NewSQLiteStore(path)
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := db.SchemaVersion(cmd.Context())
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Database %s is at schema version %d\n", path, version)
	return nil
}
