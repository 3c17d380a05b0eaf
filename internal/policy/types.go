package policy

type ContractStatus string

const (
	ContractActive     ContractStatus = "active"
	ContractInactive   ContractStatus = "inactive"
	ContractDeprecated ContractStatus = "deprecated"
)

type AuditLevel string

const (
	AuditStandard AuditLevel = "standard"
	AuditStrict   AuditLevel = "strict"
)

// Contract is a versioned, immutable rule set governing automated-decision
// gating. A stored contract never mutates; new behavior requires a new
// version.
type Contract struct {
	Version       string         `yaml:"version" json:"version"`
	Status        ContractStatus `yaml:"status" json:"status"`
	CreatedAt     string         `yaml:"created_at" json:"created_at"`
	CreatedBy     string         `yaml:"created_by" json:"created_by"`
	EffectiveFrom string         `yaml:"effective_from" json:"effective_from"`
	Rules         RuleSet        `yaml:"rules" json:"rules"`
}

type RuleSet struct {
	AutoDecisionAllowed bool                `yaml:"auto_decision_allowed" json:"auto_decision_allowed"`
	HumanReviewRequired bool                `yaml:"human_review_required" json:"human_review_required"`
	ConfidenceThreshold *float64            `yaml:"confidence_threshold" json:"confidence_threshold,omitempty"`
	OverrideMandatory   bool                `yaml:"override_mandatory" json:"override_mandatory"`
	AuditLevel          AuditLevel          `yaml:"audit_level" json:"audit_level"`
	EscalateOn          map[string][]string `yaml:"escalate_on" json:"escalate_on,omitempty"`
	BlockOn             map[string][]string `yaml:"block_on" json:"block_on,omitempty"`
}

// Context carries the runtime inputs gated by a contract. RiskLevel is
// expected lower-cased; Normalize takes care of that for legacy callers.
type Context struct {
	ModelConfidence *float64       `json:"model_confidence,omitempty"`
	RiskLevel       string         `json:"risk_level,omitempty"`
	FormType        string         `json:"form_type,omitempty"`
	UserRole        string         `json:"user_role,omitempty"`
	Jurisdiction    string         `json:"jurisdiction,omitempty"`
	Flags           map[string]any `json:"flags,omitempty"`
}
