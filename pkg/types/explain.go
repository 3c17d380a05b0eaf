package types

type RunStatus string

const (
	RunApproved    RunStatus = "approved"
	RunNeedsReview RunStatus = "needs_review"
	RunBlocked     RunStatus = "blocked"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ExplainResult is one computed explanation snapshot, before it is
// assigned a run id and persisted.
type ExplainResult struct {
	SubmissionID     string         `json:"submission_id"`
	SubmissionHash   string         `json:"submission_hash"`
	PolicyVersion    string         `json:"policy_version"`
	KnowledgeVersion string         `json:"knowledge_version"`
	Status           RunStatus      `json:"status"`
	Risk             RiskLevel      `json:"risk"`
	Payload          ExplainPayload `json:"payload"`
}

// ExplainPayload is the full structured explanation body stored with a run.
type ExplainPayload struct {
	EngineVersion string             `json:"engine_version,omitempty"`
	Summary       string             `json:"summary,omitempty"`
	MissingFields []MissingField     `json:"missing_fields,omitempty"`
	FiredRules    []FiredRule        `json:"fired_rules,omitempty"`
	Citations     []Citation         `json:"citations,omitempty"`
	NextSteps     []string           `json:"next_steps,omitempty"`
	Debug         map[string]float64 `json:"debug,omitempty"`
}

type MissingField struct {
	Key         string `json:"key"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
}

type FiredRule struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

type Citation struct {
	DocID   string `json:"doc_id"`
	ChunkID string `json:"chunk_id"`
	Snippet string `json:"snippet,omitempty"`
}
