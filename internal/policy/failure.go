package policy

import "github.com/provisohq/proviso/pkg/types"

type SafeFailureMode string

const (
	FailsafeMissingContract      SafeFailureMode = "POLICY_FAILSAFE_MISSING_CONTRACT"
	FailsafeEngineError          SafeFailureMode = "POLICY_FAILSAFE_ENGINE_ERROR"
	BlockedFlagConflict          SafeFailureMode = "POLICY_BLOCKED_FLAG_CONFLICT"
	BlockedHighConfidence        SafeFailureMode = "POLICY_BLOCKED_HIGH_CONFIDENCE"
	EscalatedCompleteSpec        SafeFailureMode = "POLICY_ESCALATED_COMPLETE_SPEC"
	RequiresReviewHighConfidence SafeFailureMode = "POLICY_REQUIRES_REVIEW_HIGH_CONFIDENCE"
	OverrideRequired             SafeFailureMode = "POLICY_OVERRIDE_REQUIRED"
)

// SafeFailureDetail explains why evaluation landed on a conservative
// action instead of an automated decision.
type SafeFailureDetail struct {
	Mode                SafeFailureMode     `json:"mode"`
	Summary             string              `json:"summary"`
	AIIntent            string              `json:"ai_intent,omitempty"`
	PolicyAction        types.AllowedAction `json:"policy_action"`
	Confidence          *float64            `json:"confidence,omitempty"`
	ContractVersion     string              `json:"contract_version"`
	ReasonCodes         []string            `json:"reason_codes"`
	RecommendedNextStep string              `json:"recommended_next_step"`
	Metadata            map[string]any      `json:"metadata,omitempty"`
}
