package explain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/provisohq/proviso/internal/ledger"
	"github.com/provisohq/proviso/pkg/types"
)

// Service is the explain-run store: idempotent inserts, chain
// verification, duplicate detection, and retention maintenance over
// a ledger backend.
type Service struct {
	store ledger.Store
	clock func() time.Time
	ids   func() string
}

func NewService(store ledger.Store) *Service {
	return &Service{
		store: store,
		clock: time.Now,
		ids:   uuid.NewString,
	}
}

// WithClock overrides the clock for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// WithIDSource overrides run id generation for tests.
func (s *Service) WithIDSource(ids func() string) *Service {
	s.ids = ids
	return s
}

// InsertedRun is the outcome of an insert: the stored run, and whether
// this call created it or a replay returned the earlier winner.
type InsertedRun struct {
	Run      Run  `json:"run"`
	Inserted bool `json:"inserted"`
}

// InsertRun persists one explanation snapshot, chained to the
// submission's prior run. With an idempotency key, replays and
// concurrent duplicates converge on a single stored row: losers get
// the winner's run back with Inserted=false.
func (s *Service) InsertRun(result types.ExplainResult, idemKey string) (InsertedRun, error) {
	if err := validateResult(result); err != nil {
		return InsertedRun{}, err
	}
	payloadJSON, err := json.Marshal(result.Payload)
	if err != nil {
		return InsertedRun{}, err
	}

	rec := ledger.ExplainRunRecord{
		RunID:            s.ids(),
		SubmissionID:     result.SubmissionID,
		SubmissionHash:   result.SubmissionHash,
		PolicyVersion:    result.PolicyVersion,
		KnowledgeVersion: result.KnowledgeVersion,
		Status:           string(result.Status),
		Risk:             string(result.Risk),
		CreatedAt:        types.FormatTimestamp(s.clock()),
		PayloadJSON:      payloadJSON,
	}
	if idemKey != "" {
		key := idemKey
		rec.IdempotencyKey = &key
	}
	contentHash, err := contentHashFor(rec)
	if err != nil {
		return InsertedRun{}, err
	}
	rec.ContentHash = contentHash

	var stored ledger.ExplainRunRecord
	inserted := false
	err = s.store.WithTx(func(tx ledger.Tx) error {
		if locker, ok := tx.(ledger.ChainLocker); ok {
			if err := locker.LockChain(result.SubmissionID); err != nil {
				return err
			}
		}
		if idemKey != "" {
			if winner, ok := tx.GetRunByIdemKey(idemKey); ok {
				stored = winner
				return nil
			}
		}

		if prev, ok := tx.LatestRun(result.SubmissionID); ok {
			prevID := prev.RunID
			rec.PreviousRunID = &prevID
			rec.ChainHash = chainHashFor(contentHash, prev.ChainHash)
			// Clock skew must not order a new run before its
			// predecessor; clamp to the previous stamp.
			if rec.CreatedAt < prev.CreatedAt {
				rec.CreatedAt = prev.CreatedAt
			}
		} else {
			rec.ChainHash = chainHashFor(contentHash, "")
		}

		ok, err := tx.InsertRun(rec)
		if err != nil {
			return err
		}
		if !ok {
			// Another writer committed the same key between our
			// pre-check and the insert; surface that row.
			winner, found := tx.GetRunByIdemKey(idemKey)
			if !found {
				return fmt.Errorf("idempotency conflict without a stored winner for key %s", idemKey)
			}
			stored = winner
			return nil
		}
		inserted = true
		stored = rec
		return nil
	})
	if err != nil {
		return InsertedRun{}, err
	}

	run, err := runFromRecord(stored)
	if err != nil {
		return InsertedRun{}, err
	}
	return InsertedRun{Run: run, Inserted: inserted}, nil
}

func (s *Service) GetRun(runID string) (Run, bool) {
	rec, ok := s.store.GetRun(runID)
	if !ok {
		return Run{}, false
	}
	run, err := runFromRecord(rec)
	if err != nil {
		return Run{}, false
	}
	return run, true
}

// LatestRun returns the most recent run for a submission, the one new
// inserts chain onto.
func (s *Service) LatestRun(submissionID string) (Run, bool) {
	rec, ok := s.store.LatestRun(submissionID)
	if !ok {
		return Run{}, false
	}
	run, err := runFromRecord(rec)
	if err != nil {
		return Run{}, false
	}
	return run, true
}

// ListRuns returns up to limit runs for a submission, newest first.
func (s *Service) ListRuns(submissionID string, limit int) ([]Run, error) {
	recs, err := s.store.ListRuns(submissionID, limit)
	if err != nil {
		return nil, err
	}
	return runsFromRecords(recs)
}

// History returns every run for a submission, oldest first.
func (s *Service) History(submissionID string) ([]Run, error) {
	recs, err := s.store.RunsBySubmission(submissionID)
	if err != nil {
		return nil, err
	}
	return runsFromRecords(recs)
}

func runsFromRecords(recs []ledger.ExplainRunRecord) ([]Run, error) {
	out := make([]Run, 0, len(recs))
	for _, rec := range recs {
		run, err := runFromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", rec.RunID, err)
		}
		out = append(out, run)
	}
	return out, nil
}

func validateResult(result types.ExplainResult) error {
	if result.SubmissionID == "" {
		return fmt.Errorf("missing submission_id")
	}
	if result.SubmissionHash == "" {
		return fmt.Errorf("missing submission_hash")
	}
	if result.PolicyVersion == "" {
		return fmt.Errorf("missing policy_version")
	}
	if !validStatus(result.Status) {
		return fmt.Errorf("invalid status: %s", result.Status)
	}
	if !validRisk(result.Risk) {
		return fmt.Errorf("invalid risk: %s", result.Risk)
	}
	return nil
}

func validStatus(status types.RunStatus) bool {
	switch status {
	case types.RunApproved, types.RunNeedsReview, types.RunBlocked:
		return true
	default:
		return false
	}
}

func validRisk(risk types.RiskLevel) bool {
	switch risk {
	case types.RiskLow, types.RiskMedium, types.RiskHigh:
		return true
	default:
		return false
	}
}
