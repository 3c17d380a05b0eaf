package policy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/provisohq/proviso/pkg/types"
)

// MissingContractVersion is recorded as contract_version_used when no
// contract was available at evaluation time.
const MissingContractVersion = "missing"

// highConfidenceFloor separates "high but below threshold" review
// outcomes, which carry a safe-failure detail, from plain low-confidence
// ones, which do not.
const highConfidenceFloor = 0.5

const (
	ReasonMissingContract          = "missing_contract"
	ReasonEngineError              = "engine_error"
	ReasonBlockedByPolicy          = "blocked_by_policy"
	ReasonEscalateByPolicy         = "escalate_by_policy"
	ReasonAutoDecisionDisabled     = "auto_decision_disabled"
	ReasonHumanReviewRequired      = "human_review_required"
	ReasonConfidenceBelowThreshold = "confidence_below_threshold"
	ReasonOverrideMandatory        = "override_mandatory"
)

// Gate is one named rule check, recorded pass or fail so the full
// evaluation can be replayed from the audit record.
type Gate struct {
	GateName    string `json:"gate_name"`
	Input       string `json:"input"`
	Pass        bool   `json:"pass"`
	Explanation string `json:"explanation"`
}

type Result struct {
	AllowedAction       types.AllowedAction `json:"allowed_action"`
	ContractVersionUsed string              `json:"contract_version_used"`
	ReasonCodes         []string            `json:"reason_codes,omitempty"`
	Gates               []Gate              `json:"gates,omitempty"`
	FailSafe            bool                `json:"fail_safe"`
	SafeFailure         *SafeFailureDetail  `json:"safe_failure,omitempty"`
}

// Evaluate gates ctx through the contract's rules. It is deterministic
// and never panics: a nil contract fails safe to human review, and any
// panic inside gate evaluation is converted to an engine-error result.
func Evaluate(contract *Contract, ctx Context) (result Result) {
	if contract == nil {
		return missingContractResult(ctx)
	}

	defer func() {
		if cause := recover(); cause != nil {
			result = engineErrorResult(*contract, ctx, cause)
		}
	}()

	return evaluateGates(*contract, ctx)
}

func evaluateGates(contract Contract, ctx Context) Result {
	rules := contract.Rules
	result := Result{
		AllowedAction:       types.ActionAutoDecide,
		ContractVersionUsed: contract.Version,
	}

	// Block gate first: the most conservative outcome wins and stops
	// evaluation outright.
	for _, field := range sortedFields(rules.BlockOn) {
		matched, observed := fieldMatches(ctx, field, rules.BlockOn[field])
		if !matched {
			result.Gates = append(result.Gates, Gate{
				GateName:    "block_on",
				Input:       gateInput(field, observed),
				Pass:        true,
				Explanation: fmt.Sprintf("%s is not in the blocked set", field),
			})
			continue
		}
		result.AllowedAction = types.ActionBlock
		result.ReasonCodes = appendCode(result.ReasonCodes, ReasonBlockedByPolicy)
		result.Gates = append(result.Gates, Gate{
			GateName:    "block_on",
			Input:       gateInput(field, observed),
			Pass:        false,
			Explanation: fmt.Sprintf("%s value %q is in the blocked set", field, observed),
		})
		result.SafeFailure = &SafeFailureDetail{
			Mode:                BlockedFlagConflict,
			Summary:             fmt.Sprintf("decision blocked: %s value %q conflicts with contract %s", field, observed, contract.Version),
			PolicyAction:        types.ActionBlock,
			Confidence:          ctx.ModelConfidence,
			ContractVersion:     contract.Version,
			ReasonCodes:         result.ReasonCodes,
			RecommendedNextStep: "resolve the conflicting attribute before resubmitting",
			Metadata:            map[string]any{"field": field, "value": observed},
		}
		return result
	}

	for _, field := range sortedFields(rules.EscalateOn) {
		matched, observed := fieldMatches(ctx, field, rules.EscalateOn[field])
		if !matched {
			result.Gates = append(result.Gates, Gate{
				GateName:    "escalate_on",
				Input:       gateInput(field, observed),
				Pass:        true,
				Explanation: fmt.Sprintf("%s is not in the escalation set", field),
			})
			continue
		}
		result.AllowedAction = types.ActionEscalate
		result.ReasonCodes = appendCode(result.ReasonCodes, ReasonEscalateByPolicy)
		result.Gates = append(result.Gates, Gate{
			GateName:    "escalate_on",
			Input:       gateInput(field, observed),
			Pass:        false,
			Explanation: fmt.Sprintf("%s value %q requires escalation", field, observed),
		})
		result.SafeFailure = &SafeFailureDetail{
			Mode:                EscalatedCompleteSpec,
			Summary:             fmt.Sprintf("decision escalated: %s value %q matches contract %s escalation rules", field, observed, contract.Version),
			PolicyAction:        types.ActionEscalate,
			Confidence:          ctx.ModelConfidence,
			ContractVersion:     contract.Version,
			ReasonCodes:         result.ReasonCodes,
			RecommendedNextStep: "route to a senior reviewer for escalated handling",
			Metadata:            map[string]any{"field": field, "value": observed},
		}
		return result
	}

	if rules.AutoDecisionAllowed {
		result.Gates = append(result.Gates, Gate{
			GateName:    "auto_decision_allowed",
			Input:       "auto_decision_allowed=true",
			Pass:        true,
			Explanation: "automated decisions are allowed by contract",
		})
	} else {
		result.AllowedAction = types.ActionRequireHuman
		result.ReasonCodes = appendCode(result.ReasonCodes, ReasonAutoDecisionDisabled)
		result.Gates = append(result.Gates, Gate{
			GateName:    "auto_decision_allowed",
			Input:       "auto_decision_allowed=false",
			Pass:        false,
			Explanation: "automated decisions are disabled by contract",
		})
	}

	if rules.HumanReviewRequired {
		result.AllowedAction = types.ActionRequireHuman
		result.ReasonCodes = appendCode(result.ReasonCodes, ReasonHumanReviewRequired)
		result.Gates = append(result.Gates, Gate{
			GateName:    "human_review_required",
			Input:       "human_review_required=true",
			Pass:        false,
			Explanation: "contract requires human review for every decision",
		})
	} else {
		result.Gates = append(result.Gates, Gate{
			GateName:    "human_review_required",
			Input:       "human_review_required=false",
			Pass:        true,
			Explanation: "contract does not force human review",
		})
	}

	if rules.ConfidenceThreshold != nil {
		threshold := *rules.ConfidenceThreshold
		switch {
		case ctx.ModelConfidence == nil:
			result.AllowedAction = types.ActionRequireHuman
			result.ReasonCodes = appendCode(result.ReasonCodes, ReasonConfidenceBelowThreshold)
			result.Gates = append(result.Gates, Gate{
				GateName:    "confidence_threshold",
				Input:       fmt.Sprintf("model_confidence=<absent> threshold=%s", formatFloat(threshold)),
				Pass:        false,
				Explanation: "model confidence is absent",
			})
		case *ctx.ModelConfidence < threshold:
			confidence := *ctx.ModelConfidence
			result.AllowedAction = types.ActionRequireHuman
			result.ReasonCodes = appendCode(result.ReasonCodes, ReasonConfidenceBelowThreshold)
			result.Gates = append(result.Gates, Gate{
				GateName:    "confidence_threshold",
				Input:       fmt.Sprintf("model_confidence=%s threshold=%s", formatFloat(confidence), formatFloat(threshold)),
				Pass:        false,
				Explanation: fmt.Sprintf("model confidence %s is below threshold %s", formatFloat(confidence), formatFloat(threshold)),
			})
			if confidence >= highConfidenceFloor {
				result.SafeFailure = &SafeFailureDetail{
					Mode:                RequiresReviewHighConfidence,
					Summary:             fmt.Sprintf("confidence %s is high but below the contract threshold %s", formatFloat(confidence), formatFloat(threshold)),
					AIIntent:            string(types.ActionAutoDecide),
					PolicyAction:        types.ActionRequireHuman,
					Confidence:          ctx.ModelConfidence,
					ContractVersion:     contract.Version,
					ReasonCodes:         result.ReasonCodes,
					RecommendedNextStep: "have a reviewer confirm or correct the automated assessment",
				}
			}
		default:
			result.Gates = append(result.Gates, Gate{
				GateName:    "confidence_threshold",
				Input:       fmt.Sprintf("model_confidence=%s threshold=%s", formatFloat(*ctx.ModelConfidence), formatFloat(threshold)),
				Pass:        true,
				Explanation: "model confidence meets the contract threshold",
			})
		}
	}

	if result.AllowedAction != types.ActionAutoDecide {
		return result
	}

	// Override gate last: it only demotes a decision that would
	// otherwise be fully automated.
	if rules.OverrideMandatory {
		result.AllowedAction = types.ActionRequireHuman
		result.ReasonCodes = appendCode(result.ReasonCodes, ReasonOverrideMandatory)
		result.Gates = append(result.Gates, Gate{
			GateName:    "override_mandatory",
			Input:       "override_mandatory=true",
			Pass:        false,
			Explanation: "contract requires a human override record for automated decisions",
		})
		result.SafeFailure = &SafeFailureDetail{
			Mode:                OverrideRequired,
			Summary:             fmt.Sprintf("automated decision held for mandatory override under contract %s", contract.Version),
			AIIntent:            string(types.ActionAutoDecide),
			PolicyAction:        types.ActionRequireHuman,
			Confidence:          ctx.ModelConfidence,
			ContractVersion:     contract.Version,
			ReasonCodes:         result.ReasonCodes,
			RecommendedNextStep: "record a human override to release the decision",
		}
		return result
	}
	result.Gates = append(result.Gates, Gate{
		GateName:    "override_mandatory",
		Input:       "override_mandatory=false",
		Pass:        true,
		Explanation: "no override record is required",
	})

	return result
}

func missingContractResult(ctx Context) Result {
	codes := []string{ReasonMissingContract}
	return Result{
		AllowedAction:       types.ActionRequireHuman,
		ContractVersionUsed: MissingContractVersion,
		ReasonCodes:         codes,
		Gates: []Gate{{
			GateName:    "contract_present",
			Input:       "contract=<nil>",
			Pass:        false,
			Explanation: "no active decision contract was available",
		}},
		FailSafe: true,
		SafeFailure: &SafeFailureDetail{
			Mode:                FailsafeMissingContract,
			Summary:             "no active decision contract; failing safe to human review",
			PolicyAction:        types.ActionRequireHuman,
			Confidence:          ctx.ModelConfidence,
			ContractVersion:     MissingContractVersion,
			ReasonCodes:         codes,
			RecommendedNextStep: "seed and activate a decision contract before relying on automated decisions",
		},
	}
}

func engineErrorResult(contract Contract, ctx Context, cause any) Result {
	codes := []string{ReasonEngineError}
	return Result{
		AllowedAction:       types.ActionRequireHuman,
		ContractVersionUsed: contract.Version,
		ReasonCodes:         codes,
		FailSafe:            true,
		SafeFailure: &SafeFailureDetail{
			Mode:                FailsafeEngineError,
			Summary:             fmt.Sprintf("policy evaluation failed: %v", cause),
			PolicyAction:        types.ActionRequireHuman,
			Confidence:          ctx.ModelConfidence,
			ContractVersion:     contract.Version,
			ReasonCodes:         codes,
			RecommendedNextStep: "review the contract rule configuration and retry",
		},
	}
}

func sortedFields(m map[string][]string) []string {
	fields := make([]string, 0, len(m))
	for field := range m {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// fieldMatches reports whether the context value named by field matches
// any of the allowed values. The field "flags" names flag keys whose
// truthy presence matches; any other field resolves to a context
// attribute first and falls back to an individual flag entry.
func fieldMatches(ctx Context, field string, allowed []string) (bool, string) {
	if field == "flags" {
		for _, name := range allowed {
			if truthy(ctx.Flags[name]) {
				return true, name
			}
		}
		return false, ""
	}

	value, ok := contextValue(ctx, field)
	if !ok {
		return false, ""
	}
	observed := formatValue(value)
	for _, candidate := range allowed {
		if matchesValue(value, candidate) {
			return true, observed
		}
	}
	return false, observed
}

func contextValue(ctx Context, field string) (any, bool) {
	switch field {
	case "risk_level":
		return ctx.RiskLevel, ctx.RiskLevel != ""
	case "form_type":
		return ctx.FormType, ctx.FormType != ""
	case "user_role":
		return ctx.UserRole, ctx.UserRole != ""
	case "jurisdiction":
		return ctx.Jurisdiction, ctx.Jurisdiction != ""
	case "model_confidence":
		if ctx.ModelConfidence == nil {
			return nil, false
		}
		return *ctx.ModelConfidence, true
	}
	value, ok := ctx.Flags[field]
	return value, ok
}

func matchesValue(value any, candidate string) bool {
	switch v := value.(type) {
	case string:
		return strings.EqualFold(v, candidate)
	case bool:
		return v && (candidate == "true" || candidate == "1")
	case float64:
		parsed, err := strconv.ParseFloat(candidate, 64)
		return err == nil && parsed == v
	case int:
		return candidate == strconv.Itoa(v)
	default:
		return false
	}
}

func truthy(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case string:
		return value != "" && !strings.EqualFold(value, "false")
	case float64:
		return value != 0
	case int:
		return value != 0
	default:
		return true
	}
}

func gateInput(field, observed string) string {
	if observed == "" {
		return field + "=<unset>"
	}
	return field + "=" + observed
}

func formatValue(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case float64:
		return formatFloat(value)
	case int:
		return strconv.Itoa(value)
	default:
		return fmt.Sprintf("%v", value)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func appendCode(codes []string, code string) []string {
	for _, existing := range codes {
		if existing == code {
			return codes
		}
	}
	return append(codes, code)
}
