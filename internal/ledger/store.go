package ledger

// Store is the durable surface behind the governance core: contract
// version history, the explain-run chain, and the decision audit log.
// Getters return (record, false) when the row is absent.
type Store interface {
	WithTx(fn func(Tx) error) error

	SeedContract(rec ContractRecord) error
	GetContract(version string) (ContractRecord, bool)
	ListContracts() ([]ContractRecord, error)
	ActiveContract() (ContractRecord, bool)

	InsertRun(rec ExplainRunRecord) (bool, error)
	GetRun(runID string) (ExplainRunRecord, bool)
	GetRunByIdemKey(idemKey string) (ExplainRunRecord, bool)
	LatestRun(submissionID string) (ExplainRunRecord, bool)
	ListRuns(submissionID string, limit int) ([]ExplainRunRecord, error)
	RunsBySubmission(submissionID string) ([]ExplainRunRecord, error)
	CountRuns() (int, error)
	PruneRuns(cutoffCreatedAt string, maxRows int) (PruneCounts, error)
	Vacuum() error

	AppendAuditEntry(rec AuditEntryRecord) error
	AuditByTrace(traceID string) ([]AuditEntryRecord, error)
	AuditTraceHeads(limit int) ([]TraceHead, error)
	ClearAudit() error
}

// Tx exposes the per-row operations inside a store transaction. The
// idempotent insert-or-fetch for explain runs runs through here so the
// previous-run read and the insert land in one transaction.
type Tx interface {
	SeedContract(rec ContractRecord) error
	GetContract(version string) (ContractRecord, bool)
	ActiveContract() (ContractRecord, bool)

	InsertRun(rec ExplainRunRecord) (bool, error)
	GetRun(runID string) (ExplainRunRecord, bool)
	GetRunByIdemKey(idemKey string) (ExplainRunRecord, bool)
	LatestRun(submissionID string) (ExplainRunRecord, bool)

	AppendAuditEntry(rec AuditEntryRecord) error
	AuditByTrace(traceID string) ([]AuditEntryRecord, error)
}

// ChainLocker is an optional Tx upgrade. Backends whose transactions
// do not already serialize writers (postgres) implement it so that
// appends to one submission's chain happen one at a time.
type ChainLocker interface {
	LockChain(submissionID string) error
}

// ContractRecord is one immutable row of contract version history.
type ContractRecord struct {
	Version       string
	Status        string
	CreatedAt     string
	CreatedBy     string
	EffectiveFrom string
	RulesJSON     []byte
}

// ExplainRunRecord is one persisted explanation snapshot. Rows are
// append-only; the only delete path is bulk pruning.
type ExplainRunRecord struct {
	RunID            string
	SubmissionID     string
	SubmissionHash   string
	PolicyVersion    string
	KnowledgeVersion string
	Status           string
	Risk             string
	CreatedAt        string
	IdempotencyKey   *string
	PreviousRunID    *string
	ContentHash      string
	ChainHash        string
	PayloadJSON      []byte
}

// AuditEntryRecord is one immutable decision audit entry. Entries for a
// trace accumulate in insertion order, which is causal order.
type AuditEntryRecord struct {
	EntryID                   string
	TraceID                   string
	EngineFamily              string
	DecisionType              string
	Status                    string
	Reason                    string
	RiskLevel                 string
	CreatedAt                 string
	PolicyContractVersionUsed string
	DecisionJSON              []byte
	OverrideJSON              []byte
}

// TraceHead is a recency-index row: one trace and when it was last
// touched.
type TraceHead struct {
	TraceID     string
	LastUpdated string
}

type PruneCounts struct {
	Deleted   int
	Remaining int
}
