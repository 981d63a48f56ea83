package cli

import (
	"errors"
	"fmt"
	"strings"

	"shareit/internal/export"
	"shareit/internal/service"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var (
		ownerID int64
		state   string
		dir     string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an owner's bookings to XLSX",
		Long:  "Write the bookings of the owner's items, filtered by state, to a spreadsheet in the export directory.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ownerID <= 0 {
				return errors.New("--owner is required")
			}
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if dir == "" {
				dir = a.cfg.Exports.Path
			}
			bookings := service.NewBookingService(a.repo, nil, nil, nil, a.cfg.Booking, a.logger)
			catalog := service.NewCatalogService(a.repo, a.logger)
			exporter := export.NewExporter(bookings, catalog, dir, a.logger)

			path, err := exporter.Save(cmd.Context(), ownerID, strings.ToUpper(state))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().Int64Var(&ownerID, "owner", 0, "owner user id")
	cmd.Flags().StringVar(&state, "state", "ALL", "booking state filter (ALL|CURRENT|PAST|FUTURE|WAITING|REJECTED)")
	cmd.Flags().StringVar(&dir, "dir", "", "output directory (default: exports.path from config)")
	return cmd
}
