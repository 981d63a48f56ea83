// Package cli defines the cobra command tree for shareit.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

var (
	flagConfig string
	flagDB     string
)

// NewRootCmd creates the root cobra command with global flags.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "shareit",
		Short:         "Item sharing with time-bounded bookings",
		Long:          "shareit lets users list items and book them for time intervals. Owners approve or reject bookings; overlapping reservations are refused.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path (default: $CONFIG_PATH or "+defaultConfigPath+")")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path, overrides the config")

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newSeedCmd(),
		newBackupCmd(),
		newExportCmd(),
	)

	return root
}
