package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/provisohq/proviso/pkg/types"
)

func newTracesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "traces",
		Short: "Query decision audit traces",
	}
	cmd.AddCommand(newTracesRecentCmd(a), newTracesShowCmd(a))
	return cmd
}

func newTracesRecentCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the most recently touched traces",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			summaries, err := a.reg.Audit.RecentTraces(limit)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd, summaries)
			}
			for _, summary := range summaries {
				fmt.Fprintf(cmd.OutOrStdout(), "trace_id=%s last_updated=%s last_status=%s families=%s\n",
					summary.TraceID, summary.LastUpdated, summary.LastStatus, strings.Join(summary.EngineFamilies, ","))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max traces to return (store default when 0)")
	return cmd
}

func newTracesShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <trace_id>",
		Short: "Show a trace's full journey with policy-drift annotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			journey, err := a.reg.Audit.TraceJourney(args[0])
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd, journey)
			}
			for _, entry := range journey {
				driftNote := "unknown"
				if entry.PolicyDrift != nil {
					driftNote = fmt.Sprintf("%v", *entry.PolicyDrift)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created_at=%s family=%s type=%s status=%s contract=%s drift=%s\n",
					entry.CreatedAt, entry.EngineFamily, entry.DecisionType, entry.Status,
					entry.PolicyContractVersionUsed, driftNote)
			}
			return nil
		},
	}
}

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Append to or reset the decision audit log",
	}
	cmd.AddCommand(newAuditRecordCmd(a), newAuditClearCmd(a))
	return cmd
}

func newAuditRecordCmd(a *app) *cobra.Command {
	var traceID, engineFamily, decisionType, decision, override string
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a decision outcome for a trace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}

			var outcome types.DecisionOutcome
			if err := json.Unmarshal([]byte(decision), &outcome); err != nil {
				return fmt.Errorf("decode decision: %w", err)
			}
			var humanOverride *types.Override
			if override != "" {
				humanOverride = &types.Override{}
				if err := json.Unmarshal([]byte(override), humanOverride); err != nil {
					return fmt.Errorf("decode override: %w", err)
				}
			}

			entry, err := a.reg.Audit.Record(traceID, engineFamily, decisionType, outcome, humanOverride)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd, entry)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "entry_id=%s trace_id=%s created_at=%s\n",
				entry.EntryID, entry.TraceID, entry.CreatedAt)
			return nil
		},
	}
	cmd.Flags().StringVar(&traceID, "trace", "", "trace id")
	cmd.Flags().StringVar(&engineFamily, "family", "rules", "engine family")
	cmd.Flags().StringVar(&decisionType, "type", "verification", "decision type")
	cmd.Flags().StringVar(&decision, "decision", "", "decision outcome JSON")
	cmd.Flags().StringVar(&override, "override", "", "human override JSON")
	return cmd
}

func newAuditClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop every audit entry (reset hook; not for production data)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			if err := a.reg.Audit.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "audit log cleared")
			return nil
		},
	}
}
