package explain

import (
	"fmt"

	"github.com/provisohq/proviso/internal/ledger"
)

// VerifyReport holds the outcome of a chain verification. Breaks are
// reported as data, not errors: callers decide remediation.
type VerifyReport struct {
	Valid    bool   `json:"valid"`
	Runs     int    `json:"runs"`
	BrokenAt string `json:"broken_at,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// VerifyChain walks a submission's runs oldest to newest along their
// previous_run_id links, recomputing every content hash and chain
// hash against the stored values. The first mismatch, fork, or
// backwards created_at marks the chain broken at that run.
//
// After pruning, the oldest surviving run may point at a deleted
// predecessor; its stored chain hash is then accepted as the anchor,
// and verification covers the surviving suffix.
func (s *Service) VerifyChain(submissionID string) (VerifyReport, error) {
	recs, err := s.store.RunsBySubmission(submissionID)
	if err != nil {
		return VerifyReport{}, err
	}
	return verifyRecords(recs), nil
}

func verifyRecords(recs []ledger.ExplainRunRecord) VerifyReport {
	report := VerifyReport{Valid: true, Runs: len(recs)}
	if len(recs) == 0 {
		return report
	}

	byID := make(map[string]ledger.ExplainRunRecord, len(recs))
	for _, rec := range recs {
		byID[rec.RunID] = rec
	}

	// recs is ordered oldest first, so anchors and children keep that
	// order and breaks are reported at the earliest offending run.
	children := map[string][]ledger.ExplainRunRecord{}
	anchors := []ledger.ExplainRunRecord{}
	for _, rec := range recs {
		switch {
		case rec.PreviousRunID == nil:
			anchors = append(anchors, rec)
		default:
			if _, ok := byID[*rec.PreviousRunID]; !ok {
				anchors = append(anchors, rec)
			} else {
				children[*rec.PreviousRunID] = append(children[*rec.PreviousRunID], rec)
			}
		}
	}

	if len(anchors) == 0 {
		return broken(report, recs[0].RunID, "no chain anchor: every run links to another stored run")
	}
	if len(anchors) > 1 {
		return broken(report, anchors[1].RunID, fmt.Sprintf("chain has %d anchors; expected one", len(anchors)))
	}

	cur := anchors[0]
	if rep, ok := checkContent(report, cur); !ok {
		return rep
	}
	if cur.PreviousRunID == nil {
		if chainHashFor(cur.ContentHash, "") != cur.ChainHash {
			return broken(report, cur.RunID, "chain hash does not match seed derivation")
		}
	}

	visited := map[string]bool{cur.RunID: true}
	for {
		next := children[cur.RunID]
		if len(next) == 0 {
			break
		}
		if len(next) > 1 {
			return broken(report, next[1].RunID, fmt.Sprintf("run %s has %d successors; chain forked", cur.RunID, len(next)))
		}
		child := next[0]
		if rep, ok := checkContent(report, child); !ok {
			return rep
		}
		if chainHashFor(child.ContentHash, cur.ChainHash) != child.ChainHash {
			return broken(report, child.RunID, "chain hash does not match predecessor derivation")
		}
		if child.CreatedAt < cur.CreatedAt {
			return broken(report, child.RunID, "created_at went backwards along the chain")
		}
		visited[child.RunID] = true
		cur = child
	}

	if len(visited) != len(recs) {
		for _, rec := range recs {
			if !visited[rec.RunID] {
				return broken(report, rec.RunID, "run not reachable from the chain anchor")
			}
		}
	}
	return report
}

func checkContent(report VerifyReport, rec ledger.ExplainRunRecord) (VerifyReport, bool) {
	recomputed, err := contentHashFor(rec)
	if err != nil {
		return broken(report, rec.RunID, fmt.Sprintf("payload not canonicalizable: %v", err)), false
	}
	if recomputed != rec.ContentHash {
		return broken(report, rec.RunID, "content hash does not match stored payload"), false
	}
	return report, true
}

func broken(report VerifyReport, runID, detail string) VerifyReport {
	report.Valid = false
	report.BrokenAt = runID
	report.Detail = detail
	return report
}
