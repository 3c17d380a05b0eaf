package explain

import (
	"fmt"
	"time"

	"github.com/provisohq/proviso/internal/ledger"
	"github.com/provisohq/proviso/pkg/types"
)

type MaintenanceOptions struct {
	MaxAgeDays          int `json:"max_age_days"`
	MaxRows             int `json:"max_rows"`
	MinDeletedForVacuum int `json:"min_deleted_for_vacuum"`
}

// MaintenanceReport captures one maintenance cycle. Failures land in
// Errors so the caller's request path never aborts on them.
type MaintenanceReport struct {
	StartedAt string   `json:"started_at"`
	Deleted   int      `json:"deleted_rows"`
	Remaining int      `json:"remaining_rows"`
	VacuumRan bool     `json:"vacuum_ran"`
	Errors    []string `json:"errors,omitempty"`
}

// PruneRuns deletes runs older than maxAgeDays, then enforces the
// global maxRows cap by dropping the oldest excess. Zero disables the
// respective pass. The newest run of each submission always survives,
// even when that keeps the table over the cap.
func (s *Service) PruneRuns(maxAgeDays, maxRows int) (ledger.PruneCounts, error) {
	cutoff := ""
	if maxAgeDays > 0 {
		cutoff = types.FormatTimestamp(s.clock().Add(-time.Duration(maxAgeDays) * 24 * time.Hour))
	}
	return s.store.PruneRuns(cutoff, maxRows)
}

// VacuumIfNeeded reclaims physical space only when the last prune
// deleted at least minDeletedRows rows. Reports whether it ran.
func (s *Service) VacuumIfNeeded(deletedRows, minDeletedRows int) (bool, error) {
	if deletedRows < minDeletedRows {
		return false, nil
	}
	if err := s.store.Vacuum(); err != nil {
		return false, err
	}
	return true, nil
}

// RunMaintenance runs a prune pass and a conditional vacuum,
// converting failures into report entries.
func (s *Service) RunMaintenance(opts MaintenanceOptions) MaintenanceReport {
	report := MaintenanceReport{StartedAt: types.FormatTimestamp(s.clock())}

	counts, err := s.PruneRuns(opts.MaxAgeDays, opts.MaxRows)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("prune: %v", err))
		return report
	}
	report.Deleted = counts.Deleted
	report.Remaining = counts.Remaining

	ran, err := s.VacuumIfNeeded(counts.Deleted, opts.MinDeletedForVacuum)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("vacuum: %v", err))
		return report
	}
	report.VacuumRan = ran
	return report
}
