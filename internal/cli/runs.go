package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/provisohq/proviso/internal/drift"
	"github.com/provisohq/proviso/internal/explain"
	"github.com/provisohq/proviso/internal/grade"
	"github.com/provisohq/proviso/pkg/types"
)

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Work with the explain-run chain",
	}
	cmd.AddCommand(
		newRunsInsertCmd(a),
		newRunsListCmd(a),
		newRunsShowCmd(a),
		newRunsVerifyCmd(a),
		newRunsDuplicatesCmd(a),
		newRunsDiffCmd(a),
		newRunsGradeCmd(a),
	)
	return cmd
}

func newRunsInsertCmd(a *app) *cobra.Command {
	var submission, submissionHash, policyVersion, knowledgeVersion string
	var status, risk, payload, payloadFile, idemKey string
	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Persist an explanation snapshot, chained to the submission's prior run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}

			result := types.ExplainResult{
				SubmissionID:     submission,
				SubmissionHash:   submissionHash,
				PolicyVersion:    policyVersion,
				KnowledgeVersion: knowledgeVersion,
				Status:           types.RunStatus(status),
				Risk:             types.RiskLevel(risk),
			}
			if payload != "" || payloadFile != "" {
				raw, err := readInput(cmd, payload, payloadFile)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(raw, &result.Payload); err != nil {
					return fmt.Errorf("decode payload: %w", err)
				}
			}

			outcome, err := a.reg.RecordExplainRun(result, idemKey)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd, outcome)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run_id=%s inserted=%v throttled=%v chain_hash=%s\n",
				outcome.Run.RunID, outcome.Inserted, outcome.Throttled, outcome.Run.ChainHash)
			return nil
		},
	}
	cmd.Flags().StringVar(&submission, "submission", "", "submission id")
	cmd.Flags().StringVar(&submissionHash, "submission-hash", "", "hash of the submitted document set")
	cmd.Flags().StringVar(&policyVersion, "policy-version", "", "contract version the explanation was computed under")
	cmd.Flags().StringVar(&knowledgeVersion, "knowledge-version", "", "knowledge base version")
	cmd.Flags().StringVar(&status, "status", "", "run status: approved, needs_review, blocked")
	cmd.Flags().StringVar(&risk, "risk", "", "risk level: low, medium, high")
	cmd.Flags().StringVar(&payload, "payload", "", "explanation payload JSON")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "read payload from file, or - for stdin")
	cmd.Flags().StringVar(&idemKey, "idempotency-key", "", "dedupe key; replays return the stored run")
	return cmd
}

func newRunsListCmd(a *app) *cobra.Command {
	var submission string
	var limit int
	var history bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a submission's runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			var runs []explain.Run
			var err error
			if history {
				runs, err = a.reg.Runs.History(submission)
			} else {
				runs, err = a.reg.Runs.ListRuns(submission, limit)
			}
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd, runs)
			}
			for _, run := range runs {
				prev := "-"
				if run.PreviousRunID != nil {
					prev = *run.PreviousRunID
				}
				fmt.Fprintf(cmd.OutOrStdout(), "run_id=%s created_at=%s status=%s risk=%s previous=%s\n",
					run.RunID, run.CreatedAt, run.Status, run.Risk, prev)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&submission, "submission", "", "submission id")
	cmd.Flags().IntVar(&limit, "limit", 0, "max runs to return (store default when 0)")
	cmd.Flags().BoolVar(&history, "history", false, "walk the full chain oldest first instead")
	return cmd
}

func newRunsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run_id>",
		Short: "Show one run, payload included",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			run, ok := a.reg.Runs.GetRun(args[0])
			if !ok {
				return fmt.Errorf("run %s not found", args[0])
			}
			return printJSON(cmd, run)
		},
	}
}

func newRunsVerifyCmd(a *app) *cobra.Command {
	var submission string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute and check a submission's hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			report, err := a.reg.Runs.VerifyChain(submission)
			if err != nil {
				return err
			}
			if a.jsonOut {
				if err := printJSON(cmd, report); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "valid=%v runs=%d\n", report.Valid, report.Runs)
			}
			if !report.Valid {
				return fmt.Errorf("audit chain broken at %s: %s", report.BrokenAt, report.Detail)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&submission, "submission", "", "submission id")
	return cmd
}

func newRunsDuplicatesCmd(a *app) *cobra.Command {
	var submission string
	cmd := &cobra.Command{
		Use:   "duplicates",
		Short: "Find groups of runs that repeated the same computation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			groups, err := a.reg.Runs.DetectDuplicateComputations(submission)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd, groups)
			}
			if len(groups) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no duplicate computations")
				return nil
			}
			for _, group := range groups {
				fmt.Fprintf(cmd.OutOrStdout(), "content_hash=%s policy_version=%s runs=%s\n",
					group.ContentHash, group.PolicyVersion, strings.Join(group.RunIDs, ","))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&submission, "submission", "", "submission id")
	return cmd
}

func newRunsDiffCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <run_a> <run_b>",
		Short: "Explain what changed between two runs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			runA, ok := a.reg.Runs.GetRun(args[0])
			if !ok {
				return fmt.Errorf("run %s not found", args[0])
			}
			runB, ok := a.reg.Runs.GetRun(args[1])
			if !ok {
				return fmt.Errorf("run %s not found", args[1])
			}

			result, err := drift.Detect(runA, runB)
			if err != nil {
				return err
			}
			diff, err := drift.DiffRuns(runA, runB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "changed=%v reason=%s\n", result.Changed, result.Reason)
			return printJSON(cmd, diff)
		},
	}
	return cmd
}

func newRunsGradeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "grade <run_id>",
		Short: "Grade how well a run's evidence supports its outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			run, ok := a.reg.Runs.GetRun(args[0])
			if !ok {
				return fmt.Errorf("run %s not found", args[0])
			}
			report, err := a.reg.Runs.VerifyChain(run.SubmissionID)
			if err != nil {
				return err
			}
			result := grade.Evaluate(grade.Input{ChainValid: report.Valid, Run: run})
			if a.jsonOut {
				return printJSON(cmd, result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "grade=%s reasons=%s\n", result.Grade, strings.Join(result.Reasons, ","))
			return nil
		},
		Args: cobra.ExactArgs(1),
	}
}
