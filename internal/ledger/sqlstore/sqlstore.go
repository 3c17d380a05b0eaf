package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/provisohq/proviso/internal/ledger"
)

// newestRunPerSubmission selects the run ids pruning must never touch:
// the most recent run of every submission.
const newestRunPerSubmission = `SELECT o.run_id FROM explain_runs o
WHERE o.created_at = (SELECT MAX(i.created_at) FROM explain_runs i WHERE i.submission_id = o.submission_id)`

type Store struct {
	db *sql.DB
}

func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) ApplySchema(schema string) error {
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) WithTx(fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{})
	if err != nil {
		return err
	}
	if _, err := tx.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = tx.Rollback()
		return err
	}
	wrapped := &Tx{tx: tx}
	if err := fn(wrapped); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) SeedContract(rec ledger.ContractRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.SeedContract(rec) })
}

func (s *Store) GetContract(version string) (ledger.ContractRecord, bool) {
	row := s.db.QueryRow(`SELECT version, status, created_at, created_by, effective_from, rules_json
FROM decision_contracts WHERE version = ?`, version)
	return contractFromRow(row)
}

func (s *Store) ListContracts() ([]ledger.ContractRecord, error) {
	rows, err := s.db.Query(`SELECT version, status, created_at, created_by, effective_from, rules_json
FROM decision_contracts
ORDER BY effective_from DESC, version DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.ContractRecord{}
	for rows.Next() {
		rec, ok := contractFromRow(rows)
		if !ok {
			return nil, fmt.Errorf("scan contract row")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) ActiveContract() (ledger.ContractRecord, bool) {
	row := s.db.QueryRow(`SELECT version, status, created_at, created_by, effective_from, rules_json
FROM decision_contracts
WHERE status = 'active'
ORDER BY effective_from DESC, version DESC
LIMIT 1`)
	return contractFromRow(row)
}

func (s *Store) InsertRun(rec ledger.ExplainRunRecord) (bool, error) {
	var inserted bool
	err := s.WithTx(func(tx ledger.Tx) error {
		var err error
		inserted, err = tx.InsertRun(rec)
		return err
	})
	return inserted, err
}

func (s *Store) GetRun(runID string) (ledger.ExplainRunRecord, bool) {
	row := s.db.QueryRow(selectRun+` WHERE run_id = ?`, runID)
	return runFromRow(row)
}

func (s *Store) GetRunByIdemKey(idemKey string) (ledger.ExplainRunRecord, bool) {
	row := s.db.QueryRow(selectRun+` WHERE idempotency_key = ?`, idemKey)
	return runFromRow(row)
}

func (s *Store) LatestRun(submissionID string) (ledger.ExplainRunRecord, bool) {
	row := s.db.QueryRow(selectRun+` WHERE submission_id = ?
ORDER BY created_at DESC, run_id DESC
LIMIT 1`, submissionID)
	return runFromRow(row)
}

func (s *Store) ListRuns(submissionID string, limit int) ([]ledger.ExplainRunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(selectRun+` WHERE submission_id = ?
ORDER BY created_at DESC, run_id DESC
LIMIT ?`, submissionID, limit)
	if err != nil {
		return nil, err
	}
	return collectRuns(rows)
}

func (s *Store) RunsBySubmission(submissionID string) ([]ledger.ExplainRunRecord, error) {
	rows, err := s.db.Query(selectRun+` WHERE submission_id = ?
ORDER BY created_at ASC, run_id ASC`, submissionID)
	if err != nil {
		return nil, err
	}
	return collectRuns(rows)
}

func (s *Store) CountRuns() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM explain_runs`).Scan(&count)
	return count, err
}

// PruneRuns deletes runs older than cutoffCreatedAt and then, if the
// table still holds more than maxRows rows, the oldest excess rows.
// An empty cutoff or non-positive maxRows disables that pass. The
// newest run of each submission is never deleted, even when that keeps
// the table over maxRows.
func (s *Store) PruneRuns(cutoffCreatedAt string, maxRows int) (ledger.PruneCounts, error) {
	var counts ledger.PruneCounts
	tx, err := s.db.Begin()
	if err != nil {
		return counts, err
	}

	if cutoffCreatedAt != "" {
		res, err := tx.Exec(`DELETE FROM explain_runs
WHERE created_at < ? AND run_id NOT IN (`+newestRunPerSubmission+`)`, cutoffCreatedAt)
		if err != nil {
			_ = tx.Rollback()
			return counts, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			_ = tx.Rollback()
			return counts, err
		}
		counts.Deleted += int(affected)
	}

	if maxRows > 0 {
		var total int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM explain_runs`).Scan(&total); err != nil {
			_ = tx.Rollback()
			return counts, err
		}
		if excess := total - maxRows; excess > 0 {
			res, err := tx.Exec(`DELETE FROM explain_runs
WHERE run_id IN (
  SELECT run_id FROM explain_runs
  WHERE run_id NOT IN (`+newestRunPerSubmission+`)
  ORDER BY created_at ASC, run_id ASC
  LIMIT ?
)`, excess)
			if err != nil {
				_ = tx.Rollback()
				return counts, err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				_ = tx.Rollback()
				return counts, err
			}
			counts.Deleted += int(affected)
		}
	}

	if err := tx.QueryRow(`SELECT COUNT(*) FROM explain_runs`).Scan(&counts.Remaining); err != nil {
		_ = tx.Rollback()
		return counts, err
	}
	return counts, tx.Commit()
}

func (s *Store) Vacuum() error {
	_, err := s.db.Exec("VACUUM")
	return err
}

func (s *Store) AppendAuditEntry(rec ledger.AuditEntryRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.AppendAuditEntry(rec) })
}

func (s *Store) AuditByTrace(traceID string) ([]ledger.AuditEntryRecord, error) {
	rows, err := s.db.Query(selectAudit+` WHERE trace_id = ?
ORDER BY created_at ASC, entry_id ASC`, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.AuditEntryRecord{}
	for rows.Next() {
		rec, err := auditFromRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) AuditTraceHeads(limit int) ([]ledger.TraceHead, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT trace_id, MAX(created_at) AS last_updated
FROM decision_audit
GROUP BY trace_id
ORDER BY last_updated DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.TraceHead{}
	for rows.Next() {
		var head ledger.TraceHead
		if err := rows.Scan(&head.TraceID, &head.LastUpdated); err != nil {
			return nil, err
		}
		out = append(out, head)
	}
	return out, rows.Err()
}

func (s *Store) ClearAudit() error {
	_, err := s.db.Exec(`DELETE FROM decision_audit`)
	return err
}

type Tx struct {
	tx *sql.Tx
}

func (t *Tx) SeedContract(rec ledger.ContractRecord) error {
	if rec.Version == "" {
		return fmt.Errorf("missing contract version")
	}
	_, err := t.tx.Exec(
		`INSERT INTO decision_contracts(version, status, created_at, created_by, effective_from, rules_json)
VALUES(?,?,?,?,?,?)
ON CONFLICT(version) DO NOTHING`,
		rec.Version,
		rec.Status,
		rec.CreatedAt,
		rec.CreatedBy,
		rec.EffectiveFrom,
		string(rec.RulesJSON),
	)
	return err
}

func (t *Tx) GetContract(version string) (ledger.ContractRecord, bool) {
	row := t.tx.QueryRow(`SELECT version, status, created_at, created_by, effective_from, rules_json
FROM decision_contracts WHERE version = ?`, version)
	return contractFromRow(row)
}

func (t *Tx) ActiveContract() (ledger.ContractRecord, bool) {
	row := t.tx.QueryRow(`SELECT version, status, created_at, created_by, effective_from, rules_json
FROM decision_contracts
WHERE status = 'active'
ORDER BY effective_from DESC, version DESC
LIMIT 1`)
	return contractFromRow(row)
}

// InsertRun inserts one run row. A duplicate idempotency key is not an
// error: the statement targets the unique index and reports zero rows,
// letting the caller fetch the winning row in the same transaction.
func (t *Tx) InsertRun(rec ledger.ExplainRunRecord) (bool, error) {
	if rec.RunID == "" {
		return false, fmt.Errorf("missing run_id")
	}
	res, err := t.tx.Exec(
		`INSERT INTO explain_runs(run_id, submission_id, submission_hash, policy_version, knowledge_version, status, risk, created_at, idempotency_key, previous_run_id, content_hash, chain_hash, payload_json)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(idempotency_key) DO NOTHING`,
		rec.RunID,
		rec.SubmissionID,
		rec.SubmissionHash,
		rec.PolicyVersion,
		rec.KnowledgeVersion,
		rec.Status,
		rec.Risk,
		rec.CreatedAt,
		rec.IdempotencyKey,
		rec.PreviousRunID,
		rec.ContentHash,
		rec.ChainHash,
		string(rec.PayloadJSON),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (t *Tx) GetRun(runID string) (ledger.ExplainRunRecord, bool) {
	row := t.tx.QueryRow(selectRun+` WHERE run_id = ?`, runID)
	return runFromRow(row)
}

func (t *Tx) GetRunByIdemKey(idemKey string) (ledger.ExplainRunRecord, bool) {
	row := t.tx.QueryRow(selectRun+` WHERE idempotency_key = ?`, idemKey)
	return runFromRow(row)
}

func (t *Tx) LatestRun(submissionID string) (ledger.ExplainRunRecord, bool) {
	row := t.tx.QueryRow(selectRun+` WHERE submission_id = ?
ORDER BY created_at DESC, run_id DESC
LIMIT 1`, submissionID)
	return runFromRow(row)
}

func (t *Tx) AppendAuditEntry(rec ledger.AuditEntryRecord) error {
	if rec.EntryID == "" {
		return fmt.Errorf("missing entry_id")
	}
	var override *string
	if rec.OverrideJSON != nil {
		s := string(rec.OverrideJSON)
		override = &s
	}
	_, err := t.tx.Exec(
		`INSERT INTO decision_audit(entry_id, trace_id, engine_family, decision_type, status, reason, risk_level, created_at, policy_contract_version_used, decision_json, override_json)
VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		rec.EntryID,
		rec.TraceID,
		rec.EngineFamily,
		rec.DecisionType,
		rec.Status,
		rec.Reason,
		rec.RiskLevel,
		rec.CreatedAt,
		rec.PolicyContractVersionUsed,
		string(rec.DecisionJSON),
		override,
	)
	return err
}

func (t *Tx) AuditByTrace(traceID string) ([]ledger.AuditEntryRecord, error) {
	rows, err := t.tx.Query(selectAudit+` WHERE trace_id = ?
ORDER BY created_at ASC, entry_id ASC`, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.AuditEntryRecord{}
	for rows.Next() {
		rec, err := auditFromRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const selectRun = `SELECT run_id, submission_id, submission_hash, policy_version, knowledge_version, status, risk, created_at, idempotency_key, previous_run_id, content_hash, chain_hash, payload_json
FROM explain_runs`

const selectAudit = `SELECT entry_id, trace_id, engine_family, decision_type, status, reason, risk_level, created_at, policy_contract_version_used, decision_json, override_json
FROM decision_audit`

type rowScanner interface {
	Scan(dest ...any) error
}

func contractFromRow(row rowScanner) (ledger.ContractRecord, bool) {
	var rec ledger.ContractRecord
	var rules string
	if err := row.Scan(&rec.Version, &rec.Status, &rec.CreatedAt, &rec.CreatedBy, &rec.EffectiveFrom, &rules); err != nil {
		return ledger.ContractRecord{}, false
	}
	rec.RulesJSON = []byte(rules)
	return rec, true
}

func runFromRow(row rowScanner) (ledger.ExplainRunRecord, bool) {
	var rec ledger.ExplainRunRecord
	var payload string
	if err := row.Scan(
		&rec.RunID,
		&rec.SubmissionID,
		&rec.SubmissionHash,
		&rec.PolicyVersion,
		&rec.KnowledgeVersion,
		&rec.Status,
		&rec.Risk,
		&rec.CreatedAt,
		&rec.IdempotencyKey,
		&rec.PreviousRunID,
		&rec.ContentHash,
		&rec.ChainHash,
		&payload,
	); err != nil {
		return ledger.ExplainRunRecord{}, false
	}
	rec.PayloadJSON = []byte(payload)
	return rec, true
}

func auditFromRow(row rowScanner) (ledger.AuditEntryRecord, error) {
	var rec ledger.AuditEntryRecord
	var decision string
	var override *string
	if err := row.Scan(
		&rec.EntryID,
		&rec.TraceID,
		&rec.EngineFamily,
		&rec.DecisionType,
		&rec.Status,
		&rec.Reason,
		&rec.RiskLevel,
		&rec.CreatedAt,
		&rec.PolicyContractVersionUsed,
		&decision,
		&override,
	); err != nil {
		return ledger.AuditEntryRecord{}, err
	}
	rec.DecisionJSON = []byte(decision)
	if override != nil {
		rec.OverrideJSON = []byte(*override)
	}
	return rec, nil
}

func collectRuns(rows *sql.Rows) ([]ledger.ExplainRunRecord, error) {
	defer rows.Close()

	out := []ledger.ExplainRunRecord{}
	for rows.Next() {
		rec, ok := runFromRow(rows)
		if !ok {
			return nil, fmt.Errorf("scan run row")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
