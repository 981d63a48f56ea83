package cli

import (
	"errors"
	"fmt"

	"shareit/internal/database"
	"shareit/internal/logging"

	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the SQLite database",
		Long:  "Write a consistent copy of the SQLite database into backup.storage_path and drop snapshots older than backup.retention_days.",
		Args:  cobra.NoArgs,
		RunE:  runBackup,
	}
}

func runBackup(cmd *cobra.Command, _ []string) error {
	a, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if a.sqlite == nil {
		return errors.New("backup supports the sqlite driver only; use pg_dump for postgres")
	}

	svc := database.NewBackupService(a.sqlite, a.cfg.Backup, logging.Component(a.logger, "backup"))
	path, err := svc.PerformBackup(cmd.Context())
	if err != nil {
		return err
	}
	removed := svc.CleanupOldBackups()
	fmt.Fprintf(cmd.OutOrStdout(), "backup written to %s (%d old backups removed)\n", path, removed)
	return nil
}
