package types

type AllowedAction string

const (
	ActionAutoDecide   AllowedAction = "auto_decide"
	ActionRequireHuman AllowedAction = "require_human"
	ActionEscalate     AllowedAction = "escalate"
	ActionBlock        AllowedAction = "block"
)

// DecisionOutcome is the status/reason/risk produced by a rules or ML
// evaluator, recorded verbatim into the audit log.
type DecisionOutcome struct {
	Status                    string         `json:"status"`
	Reason                    string         `json:"reason,omitempty"`
	RiskLevel                 string         `json:"risk_level,omitempty"`
	Confidence                *float64       `json:"confidence,omitempty"`
	PolicyContractVersionUsed string         `json:"policy_contract_version_used,omitempty"`
	Metadata                  map[string]any `json:"metadata,omitempty"`
}

// Override captures a human decision that supersedes an automated one.
type Override struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}
