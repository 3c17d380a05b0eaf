package explain

import (
	"sync"
	"testing"
	"time"

	"github.com/provisohq/proviso/internal/ledger"
	"github.com/provisohq/proviso/pkg/types"
)

func sampleResult(submissionID, summary string) types.ExplainResult {
	return types.ExplainResult{
		SubmissionID:     submissionID,
		SubmissionHash:   "sha256:subhash",
		PolicyVersion:    "2025-08-01",
		KnowledgeVersion: "kb-7",
		Status:           types.RunNeedsReview,
		Risk:             types.RiskMedium,
		Payload: types.ExplainPayload{
			EngineVersion: "1.4.0",
			Summary:       summary,
			MissingFields: []types.MissingField{{Key: "npi", Category: "identity"}},
			FiredRules:    []types.FiredRule{{ID: "OH_TDDD_REQUIRED", Severity: "high"}},
			Citations:     []types.Citation{{DocID: "doc-1", ChunkID: "c-3"}},
			NextSteps:     []string{"request wholesale license"},
			Debug:         map[string]float64{"evidence_coverage": 0.82, "unique_docs": 3},
		},
	}
}

func stepClock(start time.Time, step time.Duration) func() time.Time {
	cur := start
	return func() time.Time {
		t := cur
		cur = cur.Add(step)
		return t
	}
}

func testStart() time.Time {
	return time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)
}

func TestInsertRunChainsOntoPrevious(t *testing.T) {
	s := NewService(ledger.NewInMemoryStore()).WithClock(stepClock(testStart(), time.Minute))

	first, err := s.InsertRun(sampleResult("sub-1", "first pass"), "")
	if err != nil || !first.Inserted {
		t.Fatalf("insert first: inserted=%v err=%v", first.Inserted, err)
	}
	if first.Run.PreviousRunID != nil {
		t.Fatalf("genesis run has predecessor: %+v", first.Run)
	}
	if first.Run.ChainHash != chainHashFor(first.Run.ContentHash, "") {
		t.Fatalf("genesis chain hash not seeded")
	}

	second, err := s.InsertRun(sampleResult("sub-1", "second pass"), "")
	if err != nil || !second.Inserted {
		t.Fatalf("insert second: inserted=%v err=%v", second.Inserted, err)
	}
	if second.Run.PreviousRunID == nil || *second.Run.PreviousRunID != first.Run.RunID {
		t.Fatalf("second run not linked to first: %+v", second.Run)
	}
	if second.Run.ChainHash != chainHashFor(second.Run.ContentHash, first.Run.ChainHash) {
		t.Fatalf("second chain hash not derived from first")
	}
	if second.Run.CreatedAt < first.Run.CreatedAt {
		t.Fatalf("created_at went backwards: %s < %s", second.Run.CreatedAt, first.Run.CreatedAt)
	}

	if latest, ok := s.LatestRun("sub-1"); !ok || latest.RunID != second.Run.RunID {
		t.Fatalf("latest mismatch: ok=%v got=%+v", ok, latest)
	}
	if got, ok := s.GetRun(first.Run.RunID); !ok || got.Payload.Summary != "first pass" {
		t.Fatalf("get mismatch: ok=%v got=%+v", ok, got)
	}

	history, err := s.History("sub-1")
	if err != nil || len(history) != 2 || history[0].RunID != first.Run.RunID {
		t.Fatalf("history mismatch: err=%v got=%+v", err, history)
	}
	newest, err := s.ListRuns("sub-1", 1)
	if err != nil || len(newest) != 1 || newest[0].RunID != second.Run.RunID {
		t.Fatalf("list mismatch: err=%v got=%+v", err, newest)
	}
}

func TestInsertRunReplayReturnsExisting(t *testing.T) {
	s := NewService(ledger.NewInMemoryStore()).WithClock(stepClock(testStart(), time.Minute))

	first, err := s.InsertRun(sampleResult("sub-1", "pass"), "req-42")
	if err != nil || !first.Inserted {
		t.Fatalf("insert: inserted=%v err=%v", first.Inserted, err)
	}

	replay, err := s.InsertRun(sampleResult("sub-1", "pass reworded"), "req-42")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.Inserted {
		t.Fatalf("replay claimed a fresh insert")
	}
	if replay.Run.RunID != first.Run.RunID {
		t.Fatalf("replay returned a different run: %s vs %s", replay.Run.RunID, first.Run.RunID)
	}
	if count, err := s.store.CountRuns(); err != nil || count != 1 {
		t.Fatalf("count mismatch: err=%v count=%d", err, count)
	}
}

func TestInsertRunConcurrentSameKeyConvergesOnOneRow(t *testing.T) {
	s := NewService(ledger.NewInMemoryStore())

	const writers = 5
	results := make([]InsertedRun, writers)
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.InsertRun(sampleResult("sub-1", "same work"), "burst-key")
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < writers; i++ {
		if errs[i] != nil {
			t.Fatalf("writer %d: %v", i, errs[i])
		}
		if results[i].Inserted {
			winners++
		}
		if results[i].Run.RunID != results[0].Run.RunID {
			t.Fatalf("writers disagree on the stored run: %s vs %s", results[i].Run.RunID, results[0].Run.RunID)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	if count, err := s.store.CountRuns(); err != nil || count != 1 {
		t.Fatalf("count mismatch: err=%v count=%d", err, count)
	}
}

func TestInsertRunClampsBackwardsClock(t *testing.T) {
	s := NewService(ledger.NewInMemoryStore()).WithClock(stepClock(testStart(), -time.Minute))

	first, err := s.InsertRun(sampleResult("sub-1", "first"), "")
	if err != nil {
		t.Fatalf("insert first: %v", err)
	}
	second, err := s.InsertRun(sampleResult("sub-1", "second"), "")
	if err != nil {
		t.Fatalf("insert second: %v", err)
	}
	if second.Run.CreatedAt != first.Run.CreatedAt {
		t.Fatalf("expected clamped created_at, got %s vs %s", second.Run.CreatedAt, first.Run.CreatedAt)
	}

	report, err := s.VerifyChain("sub-1")
	if err != nil || !report.Valid {
		t.Fatalf("chain should survive clock skew: err=%v report=%+v", err, report)
	}
}

func TestInsertRunValidation(t *testing.T) {
	s := NewService(ledger.NewInMemoryStore())

	bad := sampleResult("", "x")
	if _, err := s.InsertRun(bad, ""); err == nil {
		t.Fatalf("expected missing submission_id error")
	}

	bad = sampleResult("sub-1", "x")
	bad.Status = "maybe"
	if _, err := s.InsertRun(bad, ""); err == nil {
		t.Fatalf("expected invalid status error")
	}

	bad = sampleResult("sub-1", "x")
	bad.PolicyVersion = ""
	if _, err := s.InsertRun(bad, ""); err == nil {
		t.Fatalf("expected missing policy_version error")
	}
}

func TestContentHashIgnoresRunIDAndCreatedAt(t *testing.T) {
	a := ledger.ExplainRunRecord{
		RunID:          "run-a",
		SubmissionID:   "sub-1",
		SubmissionHash: "sha256:sub",
		PolicyVersion:  "2025-08-01",
		Status:         "approved",
		Risk:           "low",
		CreatedAt:      "2025-08-20T10:00:00.000Z",
		PayloadJSON:    []byte(`{"summary":"same","debug":{"evidence_coverage":0.82}}`),
	}
	b := a
	b.RunID = "run-b"
	b.CreatedAt = "2025-08-21T10:00:00.000Z"

	hashA, err := contentHashFor(a)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hashB, err := contentHashFor(b)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if hashA != hashB {
		t.Fatalf("volatile fields leaked into content hash: %s vs %s", hashA, hashB)
	}

	c := a
	c.PayloadJSON = []byte(`{"summary":"different","debug":{"evidence_coverage":0.82}}`)
	hashC, err := contentHashFor(c)
	if err != nil {
		t.Fatalf("hash c: %v", err)
	}
	if hashC == hashA {
		t.Fatalf("payload change did not change content hash")
	}
}

func TestDetectDuplicateComputations(t *testing.T) {
	s := NewService(ledger.NewInMemoryStore()).WithClock(stepClock(testStart(), time.Minute))

	if _, err := s.InsertRun(sampleResult("sub-1", "same work"), ""); err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	if _, err := s.InsertRun(sampleResult("sub-1", "same work"), ""); err != nil {
		t.Fatalf("insert 2: %v", err)
	}
	if _, err := s.InsertRun(sampleResult("sub-1", "different work"), ""); err != nil {
		t.Fatalf("insert 3: %v", err)
	}

	groups, err := s.DetectDuplicateComputations("sub-1")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected one duplicate group, got %+v", groups)
	}
	if len(groups[0].RunIDs) != 2 {
		t.Fatalf("expected two members, got %+v", groups[0])
	}
	if groups[0].PolicyVersion != "2025-08-01" {
		t.Fatalf("group missing versions: %+v", groups[0])
	}
}
