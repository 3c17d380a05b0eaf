package ledger

import (
	"fmt"
	"sort"
	"sync"
)

type InMemoryStore struct {
	mu sync.Mutex

	contracts map[string]ContractRecord
	runs      map[string]ExplainRunRecord
	runIdem   map[string]string
	audit     []AuditEntryRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		contracts: make(map[string]ContractRecord),
		runs:      make(map[string]ExplainRunRecord),
		runIdem:   make(map[string]string),
		audit:     []AuditEntryRecord{},
	}
}

func (s *InMemoryStore) WithTx(fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn((*memTx)(s))
}

type memTx InMemoryStore

func (s *InMemoryStore) SeedContract(rec ContractRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return seedContract(s.contracts, rec)
}

func (s *InMemoryStore) GetContract(version string) (ContractRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.contracts[version]
	return rec, ok
}

func (s *InMemoryStore) ListContracts() ([]ContractRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ContractRecord, 0, len(s.contracts))
	for _, rec := range s.contracts {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return moreRecentContract(out[i], out[j])
	})
	return out, nil
}

func (s *InMemoryStore) ActiveContract() (ContractRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return activeContract(s.contracts)
}

func (s *InMemoryStore) InsertRun(rec ExplainRunRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertRun(s.runs, s.runIdem, rec)
}

func (s *InMemoryStore) GetRun(runID string) (ExplainRunRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[runID]
	return rec, ok
}

func (s *InMemoryStore) GetRunByIdemKey(idemKey string) (ExplainRunRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return runByIdemKey(s.runs, s.runIdem, idemKey)
}

func (s *InMemoryStore) LatestRun(submissionID string) (ExplainRunRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return latestRun(s.runs, submissionID)
}

func (s *InMemoryStore) ListRuns(submissionID string, limit int) ([]ExplainRunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	out := runsFor(s.runs, submissionID)
	sort.Slice(out, func(i, j int) bool {
		return moreRecentRun(out[i], out[j])
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) RunsBySubmission(submissionID string) ([]ExplainRunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := runsFor(s.runs, submissionID)
	sort.Slice(out, func(i, j int) bool {
		return moreRecentRun(out[j], out[i])
	})
	return out, nil
}

func (s *InMemoryStore) CountRuns() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs), nil
}

// PruneRuns mirrors the SQL stores: an age pass when cutoffCreatedAt is
// non-empty, then a row-cap pass when maxRows is positive. The newest
// run of each submission survives both passes.
func (s *InMemoryStore) PruneRuns(cutoffCreatedAt string, maxRows int) (PruneCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts PruneCounts
	protected := s.protectedRunIDs()

	if cutoffCreatedAt != "" {
		for id, rec := range s.runs {
			if protected[id] {
				continue
			}
			if rec.CreatedAt < cutoffCreatedAt {
				s.deleteRun(id)
				counts.Deleted++
			}
		}
	}

	if maxRows > 0 && len(s.runs) > maxRows {
		excess := len(s.runs) - maxRows
		candidates := []ExplainRunRecord{}
		for id, rec := range s.runs {
			if !protected[id] {
				candidates = append(candidates, rec)
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			return moreRecentRun(candidates[j], candidates[i])
		})
		for i := 0; i < len(candidates) && i < excess; i++ {
			s.deleteRun(candidates[i].RunID)
			counts.Deleted++
		}
	}

	counts.Remaining = len(s.runs)
	return counts, nil
}

func (s *InMemoryStore) Vacuum() error {
	return nil
}

func (s *InMemoryStore) AppendAuditEntry(rec AuditEntryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.EntryID == "" {
		return fmt.Errorf("missing entry_id")
	}
	s.audit = append(s.audit, rec)
	return nil
}

func (s *InMemoryStore) AuditByTrace(traceID string) ([]AuditEntryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return auditByTrace(s.audit, traceID), nil
}

func (s *InMemoryStore) AuditTraceHeads(limit int) ([]TraceHead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}
	latest := map[string]string{}
	for _, rec := range s.audit {
		if cur, ok := latest[rec.TraceID]; !ok || rec.CreatedAt > cur {
			latest[rec.TraceID] = rec.CreatedAt
		}
	}
	out := make([]TraceHead, 0, len(latest))
	for traceID, updated := range latest {
		out = append(out, TraceHead{TraceID: traceID, LastUpdated: updated})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdated != out[j].LastUpdated {
			return out[i].LastUpdated > out[j].LastUpdated
		}
		return out[i].TraceID < out[j].TraceID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) ClearAudit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = []AuditEntryRecord{}
	return nil
}

// protectedRunIDs returns every run tied for the newest created_at of
// its submission, matching the SQL correlated-subquery guard.
func (s *InMemoryStore) protectedRunIDs() map[string]bool {
	newest := map[string]string{}
	for _, rec := range s.runs {
		if cur, ok := newest[rec.SubmissionID]; !ok || rec.CreatedAt > cur {
			newest[rec.SubmissionID] = rec.CreatedAt
		}
	}
	protected := map[string]bool{}
	for id, rec := range s.runs {
		if rec.CreatedAt == newest[rec.SubmissionID] {
			protected[id] = true
		}
	}
	return protected
}

func (s *InMemoryStore) deleteRun(runID string) {
	rec, ok := s.runs[runID]
	if !ok {
		return
	}
	if rec.IdempotencyKey != nil {
		delete(s.runIdem, *rec.IdempotencyKey)
	}
	delete(s.runs, runID)
}

func (t *memTx) SeedContract(rec ContractRecord) error {
	return seedContract((*InMemoryStore)(t).contracts, rec)
}

func (t *memTx) GetContract(version string) (ContractRecord, bool) {
	rec, ok := (*InMemoryStore)(t).contracts[version]
	return rec, ok
}

func (t *memTx) ActiveContract() (ContractRecord, bool) {
	return activeContract((*InMemoryStore)(t).contracts)
}

func (t *memTx) InsertRun(rec ExplainRunRecord) (bool, error) {
	s := (*InMemoryStore)(t)
	return insertRun(s.runs, s.runIdem, rec)
}

func (t *memTx) GetRun(runID string) (ExplainRunRecord, bool) {
	rec, ok := (*InMemoryStore)(t).runs[runID]
	return rec, ok
}

func (t *memTx) GetRunByIdemKey(idemKey string) (ExplainRunRecord, bool) {
	s := (*InMemoryStore)(t)
	return runByIdemKey(s.runs, s.runIdem, idemKey)
}

func (t *memTx) LatestRun(submissionID string) (ExplainRunRecord, bool) {
	return latestRun((*InMemoryStore)(t).runs, submissionID)
}

func (t *memTx) AppendAuditEntry(rec AuditEntryRecord) error {
	if rec.EntryID == "" {
		return fmt.Errorf("missing entry_id")
	}
	s := (*InMemoryStore)(t)
	s.audit = append(s.audit, rec)
	return nil
}

func (t *memTx) AuditByTrace(traceID string) ([]AuditEntryRecord, error) {
	return auditByTrace((*InMemoryStore)(t).audit, traceID), nil
}

func seedContract(contracts map[string]ContractRecord, rec ContractRecord) error {
	if rec.Version == "" {
		return fmt.Errorf("missing contract version")
	}
	if _, exists := contracts[rec.Version]; exists {
		return nil
	}
	contracts[rec.Version] = rec
	return nil
}

func activeContract(contracts map[string]ContractRecord) (ContractRecord, bool) {
	var best ContractRecord
	found := false
	for _, rec := range contracts {
		if rec.Status != "active" {
			continue
		}
		if !found || moreRecentContract(rec, best) {
			best = rec
			found = true
		}
	}
	return best, found
}

func insertRun(runs map[string]ExplainRunRecord, runIdem map[string]string, rec ExplainRunRecord) (bool, error) {
	if rec.RunID == "" {
		return false, fmt.Errorf("missing run_id")
	}
	if rec.IdempotencyKey != nil {
		if _, taken := runIdem[*rec.IdempotencyKey]; taken {
			return false, nil
		}
	}
	if _, exists := runs[rec.RunID]; exists {
		return false, fmt.Errorf("duplicate run_id %s", rec.RunID)
	}
	runs[rec.RunID] = rec
	if rec.IdempotencyKey != nil {
		runIdem[*rec.IdempotencyKey] = rec.RunID
	}
	return true, nil
}

func runByIdemKey(runs map[string]ExplainRunRecord, runIdem map[string]string, idemKey string) (ExplainRunRecord, bool) {
	runID, ok := runIdem[idemKey]
	if !ok {
		return ExplainRunRecord{}, false
	}
	rec, ok := runs[runID]
	return rec, ok
}

func latestRun(runs map[string]ExplainRunRecord, submissionID string) (ExplainRunRecord, bool) {
	var best ExplainRunRecord
	found := false
	for _, rec := range runs {
		if rec.SubmissionID != submissionID {
			continue
		}
		if !found || moreRecentRun(rec, best) {
			best = rec
			found = true
		}
	}
	return best, found
}

func runsFor(runs map[string]ExplainRunRecord, submissionID string) []ExplainRunRecord {
	out := []ExplainRunRecord{}
	for _, rec := range runs {
		if rec.SubmissionID == submissionID {
			out = append(out, rec)
		}
	}
	return out
}

func auditByTrace(audit []AuditEntryRecord, traceID string) []AuditEntryRecord {
	out := []AuditEntryRecord{}
	for _, rec := range audit {
		if rec.TraceID == traceID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].EntryID < out[j].EntryID
	})
	return out
}

func moreRecentContract(a, b ContractRecord) bool {
	if a.EffectiveFrom != b.EffectiveFrom {
		return a.EffectiveFrom > b.EffectiveFrom
	}
	return a.Version > b.Version
}

func moreRecentRun(a, b ExplainRunRecord) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.RunID > b.RunID
}
