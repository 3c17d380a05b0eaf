package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/provisohq/proviso/internal/explain"
)

func newMaintainCmd(a *app) *cobra.Command {
	var maxAgeDays, maxRows, minDeleted int
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Prune old explain runs and reclaim space",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}

			opts := explain.MaintenanceOptions{
				MaxAgeDays:          maxAgeDays,
				MaxRows:             maxRows,
				MinDeletedForVacuum: minDeleted,
			}
			if !cmd.Flags().Changed("max-age-days") {
				opts.MaxAgeDays = a.cfg.Maintenance.MaxAgeDays
			}
			if !cmd.Flags().Changed("max-rows") {
				opts.MaxRows = a.cfg.Maintenance.MaxRows
			}
			if !cmd.Flags().Changed("min-deleted-for-vacuum") {
				opts.MinDeletedForVacuum = a.cfg.Maintenance.MinDeletedForVacuum
			}

			report := a.reg.Runs.RunMaintenance(opts)
			swept := a.reg.SweepThrottle()

			if a.jsonOut {
				return printJSON(cmd, report)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted=%d remaining=%d vacuum_ran=%v throttle_swept=%d\n",
				report.Deleted, report.Remaining, report.VacuumRan, swept)
			if len(report.Errors) > 0 {
				return fmt.Errorf("maintenance errors: %s", strings.Join(report.Errors, "; "))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "delete runs older than this many days (0 disables)")
	cmd.Flags().IntVar(&maxRows, "max-rows", 0, "keep at most this many runs globally (0 disables)")
	cmd.Flags().IntVar(&minDeleted, "min-deleted-for-vacuum", 0, "vacuum only when at least this many rows were deleted")
	return cmd
}
