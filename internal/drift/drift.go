package drift

import (
	"fmt"
	"sort"
	"strings"

	"github.com/provisohq/proviso/internal/explain"
)

// Reason names the highest-precedence version field that moved between
// two runs. Policy changes outrank knowledge changes outrank engine
// changes.
type Reason string

const (
	ReasonNone      Reason = "none"
	ReasonPolicy    Reason = "policy"
	ReasonKnowledge Reason = "knowledge"
	ReasonEngine    Reason = "engine"
)

type Result struct {
	Changed bool   `json:"changed"`
	Reason  Reason `json:"reason"`
}

// ValidationError carries every field-level violation that keeps two
// runs from being compared, so callers can report them all at once.
type ValidationError struct {
	Violations []string `json:"violations"`
}

func (e *ValidationError) Error() string {
	return "runs not comparable: " + strings.Join(e.Violations, "; ")
}

// Detect reports whether run b was computed under different versions
// than run a, and which version field is to blame. Both runs must be
// fully-formed persisted rows.
func Detect(a, b explain.Run) (Result, error) {
	if err := comparable(a, b); err != nil {
		return Result{}, err
	}
	switch {
	case a.PolicyVersion != b.PolicyVersion:
		return Result{Changed: true, Reason: ReasonPolicy}, nil
	case a.KnowledgeVersion != b.KnowledgeVersion:
		return Result{Changed: true, Reason: ReasonKnowledge}, nil
	case a.Payload.EngineVersion != b.Payload.EngineVersion:
		return Result{Changed: true, Reason: ReasonEngine}, nil
	}
	return Result{Reason: ReasonNone}, nil
}

// FieldChange records one scalar field's movement from run a to run b.
type FieldChange struct {
	Changed bool   `json:"changed"`
	Before  string `json:"before"`
	After   string `json:"after"`
}

// SetDiff holds the standard set difference of run b against run a:
// Added is in b but not a, Removed is in a but not b. Both sorted.
type SetDiff struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// Diff is the structured comparison of two explain runs.
type Diff struct {
	Status         FieldChange `json:"status"`
	Risk           FieldChange `json:"risk"`
	SubmissionHash FieldChange `json:"submission_hash"`
	Versions       []string    `json:"versions,omitempty"`
	MissingFields  SetDiff     `json:"missing_fields"`
	FiredRules     SetDiff     `json:"fired_rules"`
	Citations      SetDiff     `json:"citations"`
	Debug          []string    `json:"debug,omitempty"`
}

// DiffRuns compares two persisted runs field by field. Missing fields
// are keyed "key:category", citations "doc_id:chunk_id", fired rules
// by rule id; Debug lists the metric names whose values differ.
func DiffRuns(a, b explain.Run) (Diff, error) {
	if err := comparable(a, b); err != nil {
		return Diff{}, err
	}

	diff := Diff{
		Status:         fieldChange(string(a.Status), string(b.Status)),
		Risk:           fieldChange(string(a.Risk), string(b.Risk)),
		SubmissionHash: fieldChange(a.SubmissionHash, b.SubmissionHash),
		MissingFields:  setDiff(missingFieldKeys(a), missingFieldKeys(b)),
		FiredRules:     setDiff(firedRuleKeys(a), firedRuleKeys(b)),
		Citations:      setDiff(citationKeys(a), citationKeys(b)),
		Debug:          debugDiff(a.Payload.Debug, b.Payload.Debug),
	}
	if a.PolicyVersion != b.PolicyVersion {
		diff.Versions = append(diff.Versions, "policy_version")
	}
	if a.KnowledgeVersion != b.KnowledgeVersion {
		diff.Versions = append(diff.Versions, "knowledge_version")
	}
	if a.Payload.EngineVersion != b.Payload.EngineVersion {
		diff.Versions = append(diff.Versions, "engine_version")
	}
	return diff, nil
}

// comparable checks the version fields both operations key on. The
// knowledge version is optional in the schema, so only policy and
// engine versions are required here.
func comparable(runs ...explain.Run) error {
	violations := []string{}
	for _, run := range runs {
		if run.PolicyVersion == "" {
			violations = append(violations, fmt.Sprintf("run %s: policy_version is required", run.RunID))
		}
		if run.Payload.EngineVersion == "" {
			violations = append(violations, fmt.Sprintf("run %s: engine_version is required", run.RunID))
		}
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func fieldChange(before, after string) FieldChange {
	return FieldChange{Changed: before != after, Before: before, After: after}
}

func missingFieldKeys(run explain.Run) []string {
	keys := make([]string, 0, len(run.Payload.MissingFields))
	for _, field := range run.Payload.MissingFields {
		keys = append(keys, field.Key+":"+field.Category)
	}
	return keys
}

func firedRuleKeys(run explain.Run) []string {
	keys := make([]string, 0, len(run.Payload.FiredRules))
	for _, rule := range run.Payload.FiredRules {
		keys = append(keys, rule.ID)
	}
	return keys
}

func citationKeys(run explain.Run) []string {
	keys := make([]string, 0, len(run.Payload.Citations))
	for _, citation := range run.Payload.Citations {
		keys = append(keys, citation.DocID+":"+citation.ChunkID)
	}
	return keys
}

func setDiff(before, after []string) SetDiff {
	inBefore := toSet(before)
	inAfter := toSet(after)

	diff := SetDiff{}
	for key := range inAfter {
		if !inBefore[key] {
			diff.Added = append(diff.Added, key)
		}
	}
	for key := range inBefore {
		if !inAfter[key] {
			diff.Removed = append(diff.Removed, key)
		}
	}
	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	return diff
}

func toSet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, key := range keys {
		set[key] = true
	}
	return set
}

// debugDiff returns the sorted names of metrics whose values differ,
// counting a metric present on only one side as differing.
func debugDiff(before, after map[string]float64) []string {
	names := []string{}
	for name, value := range after {
		if prev, ok := before[name]; !ok || prev != value {
			names = append(names, name)
		}
	}
	for name := range before {
		if _, ok := after[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil
	}
	return names
}
