package explain

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/provisohq/proviso/internal/ledger"
	"github.com/provisohq/proviso/pkg/types"
)

// chainRecords builds a well-formed chain oldest first, with content
// and chain hashes derived the same way the service derives them.
func chainRecords(t *testing.T, submissionID string, summaries ...string) []ledger.ExplainRunRecord {
	t.Helper()
	recs := make([]ledger.ExplainRunRecord, 0, len(summaries))
	prevChain := ""
	stamp := testStart()
	for i, summary := range summaries {
		rec := ledger.ExplainRunRecord{
			RunID:          fmt.Sprintf("run-%d", i+1),
			SubmissionID:   submissionID,
			SubmissionHash: "sha256:sub",
			PolicyVersion:  "2025-08-01",
			Status:         "approved",
			Risk:           "low",
			CreatedAt:      types.FormatTimestamp(stamp),
			PayloadJSON:    []byte(fmt.Sprintf(`{"summary":%q}`, summary)),
		}
		if i > 0 {
			prev := fmt.Sprintf("run-%d", i)
			rec.PreviousRunID = &prev
		}
		content, err := contentHashFor(rec)
		if err != nil {
			t.Fatalf("content hash: %v", err)
		}
		rec.ContentHash = content
		rec.ChainHash = chainHashFor(content, prevChain)
		prevChain = rec.ChainHash
		recs = append(recs, rec)
		stamp = stamp.Add(time.Minute)
	}
	return recs
}

func TestVerifyChainEndToEnd(t *testing.T) {
	s := NewService(ledger.NewInMemoryStore()).WithClock(stepClock(testStart(), time.Minute))

	for _, summary := range []string{"first", "second", "third"} {
		if _, err := s.InsertRun(sampleResult("sub-1", summary), ""); err != nil {
			t.Fatalf("insert %s: %v", summary, err)
		}
	}

	report, err := s.VerifyChain("sub-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Valid || report.Runs != 3 || report.BrokenAt != "" {
		t.Fatalf("expected a valid 3-run chain, got %+v", report)
	}

	empty, err := s.VerifyChain("sub-unknown")
	if err != nil || !empty.Valid || empty.Runs != 0 {
		t.Fatalf("empty chain should verify: err=%v report=%+v", err, empty)
	}
}

func TestVerifyChainAfterPrune(t *testing.T) {
	s := NewService(ledger.NewInMemoryStore()).WithClock(stepClock(testStart(), time.Minute))

	for _, summary := range []string{"first", "second", "third"} {
		if _, err := s.InsertRun(sampleResult("sub-1", summary), ""); err != nil {
			t.Fatalf("insert %s: %v", summary, err)
		}
	}
	counts, err := s.PruneRuns(0, 2)
	if err != nil || counts.Deleted != 1 {
		t.Fatalf("prune: err=%v counts=%+v", err, counts)
	}

	report, err := s.VerifyChain("sub-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Valid || report.Runs != 2 {
		t.Fatalf("surviving suffix should verify, got %+v", report)
	}
}

func TestVerifyRecordsDetectsTamperedChainHash(t *testing.T) {
	recs := chainRecords(t, "sub-1", "a", "b", "c")
	recs[1].ChainHash = chainHashFor(recs[1].ContentHash, "sha256:bogus")

	report := verifyRecords(recs)
	if report.Valid || report.BrokenAt != "run-2" {
		t.Fatalf("expected break at run-2, got %+v", report)
	}
	if !strings.Contains(report.Detail, "predecessor derivation") {
		t.Fatalf("unexpected detail: %q", report.Detail)
	}
}

func TestVerifyRecordsDetectsTamperedPayload(t *testing.T) {
	recs := chainRecords(t, "sub-1", "a", "b", "c")
	recs[1].PayloadJSON = []byte(`{"summary":"rewritten"}`)

	report := verifyRecords(recs)
	if report.Valid || report.BrokenAt != "run-2" {
		t.Fatalf("expected break at run-2, got %+v", report)
	}
	if !strings.Contains(report.Detail, "content hash") {
		t.Fatalf("unexpected detail: %q", report.Detail)
	}
}

func TestVerifyRecordsDetectsTamperedSeed(t *testing.T) {
	recs := chainRecords(t, "sub-1", "a")
	recs[0].ChainHash = chainHashFor(recs[0].ContentHash, "sha256:not-the-seed")

	report := verifyRecords(recs)
	if report.Valid || report.BrokenAt != "run-1" {
		t.Fatalf("expected break at run-1, got %+v", report)
	}
	if !strings.Contains(report.Detail, "seed") {
		t.Fatalf("unexpected detail: %q", report.Detail)
	}
}

func TestVerifyRecordsDetectsFork(t *testing.T) {
	recs := chainRecords(t, "sub-1", "a", "b")
	prev := "run-1"
	fork := recs[1]
	fork.RunID = "run-3"
	fork.PreviousRunID = &prev
	recs = append(recs, fork)

	report := verifyRecords(recs)
	if report.Valid || report.BrokenAt != "run-3" {
		t.Fatalf("expected fork break at run-3, got %+v", report)
	}
	if !strings.Contains(report.Detail, "forked") {
		t.Fatalf("unexpected detail: %q", report.Detail)
	}
}

func TestVerifyRecordsDetectsBackwardsTimestamps(t *testing.T) {
	recs := chainRecords(t, "sub-1", "a", "b")
	recs[1].CreatedAt = types.FormatTimestamp(testStart().Add(-time.Hour))

	report := verifyRecords(recs)
	if report.Valid || report.BrokenAt != "run-2" {
		t.Fatalf("expected break at run-2, got %+v", report)
	}
	if !strings.Contains(report.Detail, "backwards") {
		t.Fatalf("unexpected detail: %q", report.Detail)
	}
}

func TestVerifyRecordsAnchorRules(t *testing.T) {
	// A pruned predecessor leaves a dangling link; the survivor is the
	// accepted anchor and its stored chain hash is trusted.
	recs := chainRecords(t, "sub-1", "a", "b", "c")
	report := verifyRecords(recs[1:])
	if !report.Valid || report.Runs != 2 {
		t.Fatalf("pruned anchor should be accepted, got %+v", report)
	}

	// Two genesis runs cannot belong to one chain.
	twoAnchors := append(chainRecords(t, "sub-1", "a"), chainRecords(t, "sub-1", "b")...)
	twoAnchors[1].RunID = "run-2"
	report = verifyRecords(twoAnchors)
	if report.Valid || report.BrokenAt != "run-2" {
		t.Fatalf("expected second anchor flagged, got %+v", report)
	}
	if !strings.Contains(report.Detail, "anchors") {
		t.Fatalf("unexpected detail: %q", report.Detail)
	}

	// A cycle has no anchor at all.
	cycle := chainRecords(t, "sub-1", "a", "b")
	backRef := "run-2"
	cycle[0].PreviousRunID = &backRef
	report = verifyRecords(cycle)
	if report.Valid || report.BrokenAt != "run-1" {
		t.Fatalf("expected no-anchor break at run-1, got %+v", report)
	}
	if !strings.Contains(report.Detail, "no chain anchor") {
		t.Fatalf("unexpected detail: %q", report.Detail)
	}
}

func TestVerifyRecordsDetectsUnreachableRun(t *testing.T) {
	recs := chainRecords(t, "sub-1", "a", "b")
	selfRef := "run-3"
	stray := recs[1]
	stray.RunID = "run-3"
	stray.PreviousRunID = &selfRef
	recs = append(recs, stray)

	report := verifyRecords(recs)
	if report.Valid || report.BrokenAt != "run-3" {
		t.Fatalf("expected unreachable break at run-3, got %+v", report)
	}
	if !strings.Contains(report.Detail, "not reachable") {
		t.Fatalf("unexpected detail: %q", report.Detail)
	}
}
