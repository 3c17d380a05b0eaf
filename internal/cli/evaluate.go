package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/provisohq/proviso/internal/governance"
	"github.com/provisohq/proviso/internal/policy"
)

func newEvaluateCmd(a *app) *cobra.Command {
	var input, file, traceID, engineFamily, decisionType string
	var record bool
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Gate a decision context through the active contract",
		Long: `Gate a decision context through the active contract.

The input is JSON: either {"context": {...}} in the canonical shape,
{"legacy": {...}} in the flat legacy shape, or a bare legacy object.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			raw, err := readInput(cmd, input, file)
			if err != nil {
				return err
			}
			in, err := policy.DecodeEvaluationInput(raw)
			if err != nil {
				return err
			}

			var eval = a.reg.Evaluate(in)
			if record && len(eval.Violations) == 0 {
				if traceID == "" {
					return fmt.Errorf("--trace is required with --record")
				}
				recorded, entry, err := a.reg.EvaluateAndRecord(traceID, engineFamily, decisionType, in)
				if err != nil {
					return err
				}
				eval = recorded
				if entry != nil && !a.jsonOut {
					fmt.Fprintf(cmd.OutOrStdout(), "recorded entry_id=%s trace_id=%s\n", entry.EntryID, entry.TraceID)
				}
			}

			if a.jsonOut {
				if err := printJSON(cmd, eval); err != nil {
					return err
				}
			} else {
				printEvaluation(cmd, eval)
			}
			if len(eval.Violations) > 0 {
				return fmt.Errorf("input rejected with %d violation(s)", len(eval.Violations))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "evaluation input JSON")
	cmd.Flags().StringVar(&file, "file", "", "read evaluation input from file, or - for stdin")
	cmd.Flags().BoolVar(&record, "record", false, "record the outcome to the audit log")
	cmd.Flags().StringVar(&traceID, "trace", "", "trace id to record under")
	cmd.Flags().StringVar(&engineFamily, "family", "rules", "engine family for the audit entry")
	cmd.Flags().StringVar(&decisionType, "type", "verification", "decision type for the audit entry")
	return cmd
}

func printEvaluation(cmd *cobra.Command, eval governance.Evaluation) {
	out := cmd.OutOrStdout()
	if len(eval.Violations) > 0 {
		for _, violation := range eval.Violations {
			fmt.Fprintf(out, "violation %s\n", violation)
		}
		return
	}

	fmt.Fprintf(out, "allowed_action=%s contract_version=%s fail_safe=%v\n",
		eval.Result.AllowedAction, eval.Result.ContractVersionUsed, eval.Result.FailSafe)
	if len(eval.Result.ReasonCodes) > 0 {
		fmt.Fprintf(out, "reason_codes=%s\n", strings.Join(eval.Result.ReasonCodes, ","))
	}
	if eval.Result.SafeFailure != nil {
		fmt.Fprintf(out, "safe_failure=%s next_step=%s\n",
			eval.Result.SafeFailure.Mode, eval.Result.SafeFailure.RecommendedNextStep)
	}
}
