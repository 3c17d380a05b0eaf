package policy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Violation is one field-level validation failure. Validation reports
// violations as data so callers can distinguish bad input from defects
// without exception-style control flow.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return v.Field + ": " + v.Message
}

// LegacyContext is the flat request shape older callers still send.
// Field names differ from the canonical Context on purpose; Normalize
// maps them over.
type LegacyContext struct {
	Confidence *float64       `json:"confidence,omitempty"`
	Risk       string         `json:"risk,omitempty"`
	FormType   string         `json:"form_type,omitempty"`
	Role       string         `json:"role,omitempty"`
	State      string         `json:"state,omitempty"`
	Flags      map[string]any `json:"flags,omitempty"`
}

// EvaluationInput is a tagged union of the two accepted request shapes.
// Exactly one variant must be set.
type EvaluationInput struct {
	Context *Context       `json:"context,omitempty"`
	Legacy  *LegacyContext `json:"legacy,omitempty"`
}

// DecodeEvaluationInput parses raw JSON into an EvaluationInput. A body
// with neither a "context" nor a "legacy" envelope is treated as a bare
// legacy flat object, which is how pre-envelope callers sent it.
func DecodeEvaluationInput(raw []byte) (EvaluationInput, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return EvaluationInput{}, fmt.Errorf("decode evaluation input: %w", err)
	}

	_, hasContext := probe["context"]
	_, hasLegacy := probe["legacy"]
	if hasContext || hasLegacy {
		var input EvaluationInput
		if err := json.Unmarshal(raw, &input); err != nil {
			return EvaluationInput{}, fmt.Errorf("decode evaluation input: %w", err)
		}
		return input, nil
	}

	var legacy LegacyContext
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return EvaluationInput{}, fmt.Errorf("decode legacy input: %w", err)
	}
	return EvaluationInput{Legacy: &legacy}, nil
}

// Normalize converts an EvaluationInput into the canonical Context the
// engine evaluates. It is pure; problems come back as violations.
func Normalize(input EvaluationInput) (Context, []Violation) {
	switch {
	case input.Context != nil && input.Legacy != nil:
		return Context{}, []Violation{{Field: "input", Message: "exactly one of context or legacy may be set"}}
	case input.Context != nil:
		return normalizeContext(*input.Context)
	case input.Legacy != nil:
		return normalizeContext(Context{
			ModelConfidence: input.Legacy.Confidence,
			RiskLevel:       input.Legacy.Risk,
			FormType:        input.Legacy.FormType,
			UserRole:        input.Legacy.Role,
			Jurisdiction:    input.Legacy.State,
			Flags:           input.Legacy.Flags,
		})
	default:
		return Context{}, []Violation{{Field: "input", Message: "one of context or legacy must be set"}}
	}
}

func normalizeContext(ctx Context) (Context, []Violation) {
	var violations []Violation

	if ctx.ModelConfidence != nil {
		if c := *ctx.ModelConfidence; c < 0 || c > 1 {
			violations = append(violations, Violation{
				Field:   "model_confidence",
				Message: fmt.Sprintf("must be within [0,1], got %s", formatFloat(c)),
			})
		}
	}

	ctx.RiskLevel = strings.ToLower(strings.TrimSpace(ctx.RiskLevel))
	ctx.FormType = strings.TrimSpace(ctx.FormType)
	ctx.UserRole = strings.TrimSpace(ctx.UserRole)
	ctx.Jurisdiction = strings.TrimSpace(ctx.Jurisdiction)
	if ctx.Flags == nil {
		ctx.Flags = map[string]any{}
	}

	if len(violations) > 0 {
		return Context{}, violations
	}
	return ctx, nil
}
