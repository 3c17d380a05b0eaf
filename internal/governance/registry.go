package governance

import (
	"strings"
	"time"

	"github.com/provisohq/proviso/internal/auditlog"
	"github.com/provisohq/proviso/internal/explain"
	"github.com/provisohq/proviso/internal/ledger"
	"github.com/provisohq/proviso/internal/policy"
	"github.com/provisohq/proviso/internal/sla"
	"github.com/provisohq/proviso/pkg/types"
)

// Registry is the one shared handle to the governance core: the
// contract store, the decision audit log, the explain-run chain, and
// the SLA clock. It is constructed once at process start and passed to
// everything that needs it; there is no package-level instance.
type Registry struct {
	Audit *auditlog.Log
	Runs  *explain.Service
	SLA   *sla.Clock

	store          ledger.Store
	throttle       *explain.Throttle
	throttleWindow time.Duration
	clock          func() time.Time
}

type Options struct {
	Store ledger.Store
	// ThrottleWindow debounces explain recomputation per submission.
	// Zero disables the throttle.
	ThrottleWindow time.Duration
	SLA            sla.Config
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		Audit:          auditlog.NewLog(opts.Store),
		Runs:           explain.NewService(opts.Store),
		SLA:            sla.NewClock(opts.SLA),
		store:          opts.Store,
		throttle:       explain.NewThrottle(opts.ThrottleWindow),
		throttleWindow: opts.ThrottleWindow,
		clock:          time.Now,
	}
}

// WithClock overrides the clock everywhere at once, for tests.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	r.Audit.WithClock(clock)
	r.Runs.WithClock(clock)
	r.throttle.WithClock(clock)
	return r
}

func (r *Registry) Store() ledger.Store {
	return r.store
}

// Evaluation is the full outcome of gating one request: either a
// policy result under the active contract, or the field-level
// violations that kept the input from being evaluated at all.
type Evaluation struct {
	Result     policy.Result      `json:"result"`
	Context    policy.Context     `json:"context"`
	Violations []policy.Violation `json:"violations,omitempty"`
}

// Evaluate normalizes the input and gates it through the currently
// active contract. A missing or undecodable active contract fails safe
// to human review inside the engine; invalid input comes back as
// violations without touching the engine.
func (r *Registry) Evaluate(input policy.EvaluationInput) Evaluation {
	ctx, violations := policy.Normalize(input)
	if len(violations) > 0 {
		return Evaluation{Violations: violations}
	}

	if contract, ok := r.ActiveContract(); ok {
		return Evaluation{Result: policy.Evaluate(&contract, ctx), Context: ctx}
	}
	return Evaluation{Result: policy.Evaluate(nil, ctx), Context: ctx}
}

// EvaluateAndRecord evaluates the input and, when it was evaluable,
// appends the outcome to the trace's audit log. No entry is recorded
// for inputs rejected with violations; bad requests are the caller's
// defect, not a decision.
func (r *Registry) EvaluateAndRecord(traceID, engineFamily, decisionType string, input policy.EvaluationInput) (Evaluation, *auditlog.Entry, error) {
	eval := r.Evaluate(input)
	if len(eval.Violations) > 0 {
		return eval, nil, nil
	}

	entry, err := r.Audit.Record(traceID, engineFamily, decisionType, outcomeFromEvaluation(eval), nil)
	if err != nil {
		return eval, nil, err
	}
	return eval, &entry, nil
}

func outcomeFromEvaluation(eval Evaluation) types.DecisionOutcome {
	outcome := types.DecisionOutcome{
		Status:                    string(eval.Result.AllowedAction),
		RiskLevel:                 eval.Context.RiskLevel,
		Confidence:                eval.Context.ModelConfidence,
		PolicyContractVersionUsed: eval.Result.ContractVersionUsed,
	}
	if len(eval.Result.ReasonCodes) > 0 {
		outcome.Reason = strings.Join(eval.Result.ReasonCodes, ", ")
	}
	if eval.Result.FailSafe || eval.Result.SafeFailure != nil {
		outcome.Metadata = map[string]any{"fail_safe": eval.Result.FailSafe}
		if eval.Result.SafeFailure != nil {
			outcome.Metadata["safe_failure_mode"] = string(eval.Result.SafeFailure.Mode)
		}
	}
	return outcome
}

// RunOutcome is an insert-or-skip result for one explain computation.
// Throttled means a recent computation already covered the submission
// and the returned run is that one.
type RunOutcome struct {
	explain.InsertedRun
	Throttled bool `json:"throttled"`
}

// RecordExplainRun persists an explanation snapshot unless one was
// recorded for the submission within the throttle window. A throttled
// call answers with the latest stored run; if there is none to answer
// with, the insert proceeds so the snapshot is not lost.
func (r *Registry) RecordExplainRun(result types.ExplainResult, idemKey string) (RunOutcome, error) {
	if !r.throttle.Allow(result.SubmissionID) {
		if latest, ok := r.Runs.LatestRun(result.SubmissionID); ok {
			return RunOutcome{InsertedRun: explain.InsertedRun{Run: latest}, Throttled: true}, nil
		}
	}

	inserted, err := r.Runs.InsertRun(result, idemKey)
	if err != nil {
		return RunOutcome{}, err
	}
	return RunOutcome{InsertedRun: inserted}, nil
}

// SweepThrottle evicts idle throttle stamps; maintenance loops call
// this alongside pruning.
func (r *Registry) SweepThrottle() int {
	return r.throttle.Sweep()
}

// Reset clears the audit log and forgets throttle state. Teardown hook
// for tests; contract and run history are append-only and stay.
func (r *Registry) Reset() error {
	r.throttle = explain.NewThrottle(r.throttleWindow).WithClock(r.clock)
	return r.Audit.Clear()
}
