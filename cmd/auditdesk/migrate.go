package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rsclarke/auditdesk/internal/db"
	"github.com/rsclarke/auditdesk/internal/logging"
)

var migrateFlags struct {
	dsn string
}

var migrateCmd = &cobra.Command{
	Use:       "migrate <up|down>",
	Short:     "Apply or roll back schema migrations",
	Long:      `Apply all pending migrations (up) or roll back the most recent one (down).`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(db.Up), string(db.Down)},
	RunE:      runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().StringVar(&migrateFlags.dsn, "db", getEnv("AUDITDESK_DATABASE_URL", "auditdesk.db"), "SQLite path or postgres:// URL")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	database, err := db.Open(migrateFlags.dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	dir := db.Direction(args[0])
	err = database.Migrate(dir)
	switch {
	case errors.Is(err, db.ErrNoChange):
		fmt.Fprintln(cmd.OutOrStdout(), "No change.")
	case err != nil:
		return err
	}

	version, err := database.Version()
	if err != nil {
		return err
	}
	logger.Info("migration complete", logging.Backend(string(database.Dialect)), zap.String("direction", string(dir)), zap.Int("version", version))
	fmt.Fprintf(cmd.OutOrStdout(), "Schema version: %d\n", version)
	return nil
}
