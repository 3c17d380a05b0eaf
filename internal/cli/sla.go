package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/provisohq/proviso/internal/sla"
	"github.com/provisohq/proviso/pkg/types"
)

func newSlaCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sla",
		Short: "Deadline checks and aggregate SLA pressure",
	}
	cmd.AddCommand(newSlaCheckCmd(a), newSlaStatsCmd(a))
	return cmd
}

func newSlaCheckCmd(a *app) *cobra.Command {
	var dueAt, nowAt string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Classify one due timestamp",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			due, err := types.ParseTimestamp(dueAt)
			if err != nil {
				return fmt.Errorf("parse --due-at: %w", err)
			}
			now := time.Now().UTC()
			if nowAt != "" {
				now, err = types.ParseTimestamp(nowAt)
				if err != nil {
					return fmt.Errorf("parse --now: %w", err)
				}
			}

			clock := a.reg.SLA
			overdueHours := clock.OverdueHours(due, now)
			fmt.Fprintf(cmd.OutOrStdout(), "due_soon=%v overdue=%v overdue_hours=%.2f escalation_level=%d\n",
				clock.IsDueSoon(due, now), clock.IsOverdue(due, now),
				overdueHours, clock.EscalationLevel(overdueHours))
			return nil
		},
	}
	cmd.Flags().StringVar(&dueAt, "due-at", "", "due timestamp, e.g. 2025-08-20T10:00:00.000Z")
	cmd.Flags().StringVar(&nowAt, "now", "", "reference time (defaults to the current UTC time)")
	return cmd
}

// slaEntity is the wire shape for sla stats input: one entity with its
// optional due stamps.
type slaEntity struct {
	FirstTouchDueAt string `json:"first_touch_due_at,omitempty"`
	NeedsInfoDueAt  string `json:"needs_info_due_at,omitempty"`
	DecisionDueAt   string `json:"decision_due_at,omitempty"`
}

func newSlaStatsCmd(a *app) *cobra.Command {
	var input, file, nowAt string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate due-soon and overdue counts over a JSON array of entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			raw, err := readInput(cmd, input, file)
			if err != nil {
				return err
			}
			var entities []slaEntity
			if err := json.Unmarshal(raw, &entities); err != nil {
				return fmt.Errorf("decode entities: %w", err)
			}

			now := time.Now().UTC()
			if nowAt != "" {
				now, err = types.ParseTimestamp(nowAt)
				if err != nil {
					return fmt.Errorf("parse --now: %w", err)
				}
			}

			items := make([]sla.Deadlines, 0, len(entities))
			for i, entity := range entities {
				item, err := deadlinesFromEntity(entity)
				if err != nil {
					return fmt.Errorf("entity %d: %w", i, err)
				}
				items = append(items, item)
			}

			stats := a.reg.SLA.ComputeStats(items, now)
			if a.jsonOut {
				return printJSON(cmd, stats)
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"total=%d first_touch=%d/%d needs_info=%d/%d decision=%d/%d verifier=%d/%d (due_soon/overdue)\n",
				stats.Total,
				stats.FirstTouch.DueSoon, stats.FirstTouch.Overdue,
				stats.NeedsInfo.DueSoon, stats.NeedsInfo.Overdue,
				stats.Decision.DueSoon, stats.Decision.Overdue,
				stats.Verifier.DueSoon, stats.Verifier.Overdue)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "entities JSON array")
	cmd.Flags().StringVar(&file, "file", "", "read entities from file, or - for stdin")
	cmd.Flags().StringVar(&nowAt, "now", "", "reference time (defaults to the current UTC time)")
	return cmd
}

func deadlinesFromEntity(entity slaEntity) (sla.Deadlines, error) {
	parse := func(value string) (*time.Time, error) {
		if value == "" {
			return nil, nil
		}
		stamp, err := types.ParseTimestamp(value)
		if err != nil {
			return nil, err
		}
		return &stamp, nil
	}

	var item sla.Deadlines
	var err error
	if item.FirstTouchDueAt, err = parse(entity.FirstTouchDueAt); err != nil {
		return sla.Deadlines{}, fmt.Errorf("first_touch_due_at: %w", err)
	}
	if item.NeedsInfoDueAt, err = parse(entity.NeedsInfoDueAt); err != nil {
		return sla.Deadlines{}, fmt.Errorf("needs_info_due_at: %w", err)
	}
	if item.DecisionDueAt, err = parse(entity.DecisionDueAt); err != nil {
		return sla.Deadlines{}, fmt.Errorf("decision_due_at: %w", err)
	}
	return item, nil
}
