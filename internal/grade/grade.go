package grade

import (
	"strings"

	"github.com/provisohq/proviso/internal/explain"
	"github.com/provisohq/proviso/pkg/types"
)

type Result struct {
	Grade   string
	Reasons []string
}

// Input is one persisted run plus the verification outcome of the
// chain it belongs to.
type Input struct {
	ChainValid bool
	Run        explain.Run
}

const minEvidenceCoverage = 0.5

func Evaluate(in Input) Result {
	if !in.ChainValid {
		return Result{Grade: "F", Reasons: []string{"broken_chain"}}
	}

	payload := in.Run.Payload
	missing := map[string]bool{}

	if strings.TrimSpace(payload.Summary) == "" {
		missing["summary"] = true
	}

	if len(payload.Citations) == 0 {
		missing["citations"] = true
	}

	if strings.TrimSpace(payload.EngineVersion) == "" {
		missing["engine_version"] = true
	}

	coverage, hasCoverage := payload.Debug["evidence_coverage"]
	if !hasCoverage || coverage < minEvidenceCoverage {
		missing["evidence_coverage"] = true
	}

	// A non-approved outcome with nothing fired and nothing flagged
	// offers the reviewer no trail to follow.
	unexplained := in.Run.Status != types.RunApproved &&
		len(payload.FiredRules) == 0 && len(payload.MissingFields) == 0

	// Heuristic grading.
	grade := "A"
	switch {
	case unexplained:
		grade = "D"
	case missing["summary"] && missing["citations"]:
		grade = "C"
	case missing["summary"] || missing["citations"] || missing["engine_version"] || missing["evidence_coverage"]:
		grade = "B"
	}

	reasons := []string{}
	if unexplained {
		reasons = append(reasons, "unexplained_outcome")
	}
	for _, k := range []string{"summary", "citations", "engine_version", "evidence_coverage"} {
		if missing[k] {
			reasons = append(reasons, "missing_"+k)
		}
	}

	return Result{Grade: grade, Reasons: reasons}
}
