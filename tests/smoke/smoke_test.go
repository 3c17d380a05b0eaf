package smoke

import (
	"testing"

	"github.com/provisohq/proviso/internal/governance"
	"github.com/provisohq/proviso/internal/ledger"
	"github.com/provisohq/proviso/internal/policy"
	"github.com/provisohq/proviso/pkg/types"
)

func TestSmoke(t *testing.T) {
	reg := governance.NewRegistry(governance.Options{Store: ledger.NewInMemoryStore()})

	loaded, err := policy.LoadContracts("../../contracts/proviso.yaml")
	if err != nil {
		t.Fatalf("load contracts: %v", err)
	}
	if _, err := reg.SeedContracts(loaded); err != nil {
		t.Fatalf("seed contracts: %v", err)
	}

	// contract gate sanity check
	confidence := 0.9
	eval, entry, err := reg.EvaluateAndRecord("tr-1", "rules", "verification", policy.EvaluationInput{
		Context: &policy.Context{ModelConfidence: &confidence, RiskLevel: "low"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if eval.Result.AllowedAction != types.ActionAutoDecide {
		t.Fatalf("expected auto_decide, got %s", eval.Result.AllowedAction)
	}
	if entry == nil || entry.PolicyContractVersionUsed != "2025-08-01" {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}

	outcome := record(t, reg)
	replay := record(t, reg)
	if outcome.Run.RunID != replay.Run.RunID {
		t.Fatalf("expected idempotent run_id, got %s vs %s", outcome.Run.RunID, replay.Run.RunID)
	}
	if replay.Inserted {
		t.Fatalf("replay must not insert")
	}

	report, err := reg.Runs.VerifyChain("sub-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Valid || report.Runs != 1 {
		t.Fatalf("expected valid single-run chain, got %+v", report)
	}

	journey, err := reg.Audit.TraceJourney("tr-1")
	if err != nil {
		t.Fatalf("journey: %v", err)
	}
	if len(journey) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(journey))
	}
	if journey[0].PolicyDrift == nil || *journey[0].PolicyDrift {
		t.Fatalf("expected no policy drift, got %+v", journey[0].PolicyDrift)
	}
}

func record(t *testing.T, reg *governance.Registry) governance.RunOutcome {
	t.Helper()

	outcome, err := reg.RecordExplainRun(types.ExplainResult{
		SubmissionID:     "sub-1",
		SubmissionHash:   "sha256:aaa",
		PolicyVersion:    "2025-08-01",
		KnowledgeVersion: "kb-7",
		Status:           types.RunApproved,
		Risk:             types.RiskLow,
		Payload: types.ExplainPayload{
			EngineVersion: "1.4.0",
			Summary:       "all verification checks passed",
			Citations:     []types.Citation{{DocID: "doc-1", ChunkID: "c-3"}},
			Debug:         map[string]float64{"evidence_coverage": 0.82},
		},
	}, "req-1")
	if err != nil {
		t.Fatalf("record run: %v", err)
	}
	if outcome.Run.RunID == "" {
		t.Fatalf("missing run_id")
	}
	return outcome
}
