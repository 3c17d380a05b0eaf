package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const contractSeed = `contracts:
  - version: "2025-07-01"
    status: inactive
    created_at: "2025-06-20T00:00:00.000Z"
    created_by: compliance-team
    effective_from: "2025-07-01T00:00:00.000Z"
    rules:
      auto_decision_allowed: false
      human_review_required: true
      audit_level: standard
  - version: "2025-08-01"
    status: active
    created_at: "2025-07-25T00:00:00.000Z"
    created_by: compliance-team
    effective_from: "2025-08-01T00:00:00.000Z"
    rules:
      auto_decision_allowed: true
      confidence_threshold: 0.8
      audit_level: strict
      escalate_on:
        risk_level: [high]
`

// writeConfig lays down a sqlite-backed config plus a contract seed file
// in a temp dir, so state persists across Execute calls in one test.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()

	seedPath := filepath.Join(dir, "contracts.yaml")
	if err := os.WriteFile(seedPath, []byte(contractSeed), 0o600); err != nil {
		t.Fatalf("write contracts: %v", err)
	}

	cfg := fmt.Sprintf("db:\n  driver: sqlite\n  dsn: %s\ncontracts_path: %s\n%s",
		filepath.Join(dir, "proviso.db"), seedPath, extra)
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := Execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// fieldValue pulls the value of the first key=value token in out.
func fieldValue(t *testing.T, out, key string) string {
	t.Helper()
	for _, token := range strings.Fields(out) {
		if strings.HasPrefix(token, key+"=") {
			return strings.TrimPrefix(token, key+"=")
		}
	}
	t.Fatalf("no %s= token in output %q", key, out)
	return ""
}

func TestRootHelp(t *testing.T) {
	code, stdout, stderr := runCLI(t)
	if code != 0 {
		t.Fatalf("expected code 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "proviso") {
		t.Fatalf("unexpected stdout: %q", stdout)
	}
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "unknown")
	if code != 1 {
		t.Fatalf("expected code 1, got %d", code)
	}
	if !strings.Contains(stderr, "unknown command") {
		t.Fatalf("unexpected stderr: %q", stderr)
	}
}

func TestContractsSeedListActiveShow(t *testing.T) {
	cfgPath := writeConfig(t, "")

	code, stdout, stderr := runCLI(t, "contracts", "seed", "--config", cfgPath)
	if code != 0 {
		t.Fatalf("seed: expected code 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "seeded contracts=2 hash=sha256:") {
		t.Fatalf("unexpected seed output: %q", stdout)
	}

	// Reseeding must not duplicate or mutate stored versions.
	code, _, stderr = runCLI(t, "contracts", "seed", "--config", cfgPath)
	if code != 0 {
		t.Fatalf("reseed: expected code 0, got %d: %s", code, stderr)
	}

	code, stdout, _ = runCLI(t, "contracts", "list", "--config", cfgPath)
	if code != 0 {
		t.Fatalf("list: expected code 0, got %d", code)
	}
	if strings.Count(stdout, "version=") != 2 {
		t.Fatalf("expected 2 contracts, got %q", stdout)
	}
	if !strings.Contains(stdout, "version=2025-08-01 status=active") {
		t.Fatalf("unexpected list output: %q", stdout)
	}

	code, stdout, _ = runCLI(t, "contracts", "active", "--config", cfgPath)
	if code != 0 {
		t.Fatalf("active: expected code 0, got %d", code)
	}
	if !strings.Contains(stdout, "version=2025-08-01") || !strings.Contains(stdout, "auto_decision_allowed=true") {
		t.Fatalf("unexpected active output: %q", stdout)
	}

	code, stdout, _ = runCLI(t, "contracts", "show", "2025-07-01", "--config", cfgPath)
	if code != 0 {
		t.Fatalf("show: expected code 0, got %d", code)
	}
	if !strings.Contains(stdout, `"version": "2025-07-01"`) {
		t.Fatalf("unexpected show output: %q", stdout)
	}

	code, _, _ = runCLI(t, "contracts", "show", "1999-01-01", "--config", cfgPath)
	if code != 1 {
		t.Fatalf("show missing: expected code 1, got %d", code)
	}
}

func TestContractsActiveWithoutSeed(t *testing.T) {
	code, _, stderr := runCLI(t, "contracts", "active")
	if code != 1 {
		t.Fatalf("expected code 1, got %d", code)
	}
	if !strings.Contains(stderr, "no active contract") {
		t.Fatalf("unexpected stderr: %q", stderr)
	}
}

func TestEvaluateFailsSafeWithoutContract(t *testing.T) {
	code, stdout, stderr := runCLI(t, "evaluate", "--input", `{"context":{"model_confidence":0.9,"risk_level":"low"}}`)
	if code != 0 {
		t.Fatalf("expected code 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "allowed_action=require_human contract_version=missing fail_safe=true") {
		t.Fatalf("unexpected stdout: %q", stdout)
	}
	if !strings.Contains(stdout, "reason_codes=missing_contract") {
		t.Fatalf("expected missing_contract reason: %q", stdout)
	}
	if !strings.Contains(stdout, "safe_failure=POLICY_FAILSAFE_MISSING_CONTRACT") {
		t.Fatalf("expected safe failure detail: %q", stdout)
	}
}

func TestEvaluateAgainstActiveContract(t *testing.T) {
	cfgPath := writeConfig(t, "")
	if code, _, stderr := runCLI(t, "contracts", "seed", "--config", cfgPath); code != 0 {
		t.Fatalf("seed failed: %s", stderr)
	}

	code, stdout, _ := runCLI(t, "evaluate", "--config", cfgPath,
		"--input", `{"context":{"model_confidence":0.9,"risk_level":"low"}}`)
	if code != 0 {
		t.Fatalf("expected code 0, got %d", code)
	}
	if !strings.Contains(stdout, "allowed_action=auto_decide contract_version=2025-08-01 fail_safe=false") {
		t.Fatalf("unexpected stdout: %q", stdout)
	}

	code, stdout, _ = runCLI(t, "evaluate", "--config", cfgPath,
		"--input", `{"context":{"model_confidence":0.6,"risk_level":"low"}}`)
	if code != 0 {
		t.Fatalf("expected code 0, got %d", code)
	}
	if !strings.Contains(stdout, "allowed_action=require_human") {
		t.Fatalf("unexpected stdout: %q", stdout)
	}
	if !strings.Contains(stdout, "reason_codes=confidence_below_threshold") {
		t.Fatalf("expected threshold reason: %q", stdout)
	}
	if !strings.Contains(stdout, "safe_failure=POLICY_REQUIRES_REVIEW_HIGH_CONFIDENCE") {
		t.Fatalf("expected review detail: %q", stdout)
	}

	code, stdout, _ = runCLI(t, "evaluate", "--config", cfgPath,
		"--input", `{"context":{"model_confidence":0.9,"risk_level":"high"}}`)
	if code != 0 {
		t.Fatalf("expected code 0, got %d", code)
	}
	if !strings.Contains(stdout, "allowed_action=escalate") {
		t.Fatalf("unexpected stdout: %q", stdout)
	}
}

func TestEvaluateLegacyShape(t *testing.T) {
	cfgPath := writeConfig(t, "")
	if code, _, stderr := runCLI(t, "contracts", "seed", "--config", cfgPath); code != 0 {
		t.Fatalf("seed failed: %s", stderr)
	}

	code, stdout, _ := runCLI(t, "evaluate", "--config", cfgPath,
		"--input", `{"confidence":0.9,"risk":"LOW"}`)
	if code != 0 {
		t.Fatalf("expected code 0, got %d", code)
	}
	if !strings.Contains(stdout, "allowed_action=auto_decide") {
		t.Fatalf("unexpected stdout: %q", stdout)
	}
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	code, stdout, stderr := runCLI(t, "evaluate", "--input", `{"context":{"model_confidence":1.5}}`)
	if code != 1 {
		t.Fatalf("expected code 1, got %d", code)
	}
	if !strings.Contains(stdout, "violation model_confidence") {
		t.Fatalf("unexpected stdout: %q", stdout)
	}
	if !strings.Contains(stderr, "rejected with 1 violation") {
		t.Fatalf("unexpected stderr: %q", stderr)
	}

	code, _, stderr = runCLI(t, "evaluate")
	if code != 1 {
		t.Fatalf("expected code 1 with no input, got %d", code)
	}
	if !strings.Contains(stderr, "no input given") {
		t.Fatalf("unexpected stderr: %q", stderr)
	}
}

func TestEvaluateInputFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.json")
	if err := os.WriteFile(path, []byte(`{"context":{"model_confidence":0.9}}`), 0o600); err != nil {
		t.Fatalf("write input: %v", err)
	}

	code, stdout, stderr := runCLI(t, "evaluate", "--file", path)
	if code != 0 {
		t.Fatalf("expected code 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "allowed_action=require_human") {
		t.Fatalf("unexpected stdout: %q", stdout)
	}
}

func TestEvaluateRecordWritesAuditTrail(t *testing.T) {
	cfgPath := writeConfig(t, "")
	if code, _, stderr := runCLI(t, "contracts", "seed", "--config", cfgPath); code != 0 {
		t.Fatalf("seed failed: %s", stderr)
	}

	code, stdout, stderr := runCLI(t, "evaluate", "--config", cfgPath,
		"--record", "--trace", "tr-1",
		"--input", `{"context":{"model_confidence":0.9,"risk_level":"low"}}`)
	if code != 0 {
		t.Fatalf("expected code 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "recorded entry_id=") || !strings.Contains(stdout, "trace_id=tr-1") {
		t.Fatalf("unexpected stdout: %q", stdout)
	}

	code, stdout, _ = runCLI(t, "traces", "recent", "--config", cfgPath)
	if code != 0 {
		t.Fatalf("recent: expected code 0, got %d", code)
	}
	if !strings.Contains(stdout, "trace_id=tr-1") || !strings.Contains(stdout, "last_status=auto_decide") {
		t.Fatalf("unexpected recent output: %q", stdout)
	}
	if !strings.Contains(stdout, "families=rules") {
		t.Fatalf("unexpected families: %q", stdout)
	}

	code, stdout, _ = runCLI(t, "traces", "show", "tr-1", "--config", cfgPath)
	if code != 0 {
		t.Fatalf("show: expected code 0, got %d", code)
	}
	if !strings.Contains(stdout, "family=rules type=verification status=auto_decide contract=2025-08-01 drift=false") {
		t.Fatalf("unexpected journey output: %q", stdout)
	}
}

func TestEvaluateRecordRequiresTrace(t *testing.T) {
	code, _, stderr := runCLI(t, "evaluate", "--record",
		"--input", `{"context":{"model_confidence":0.9}}`)
	if code != 1 {
		t.Fatalf("expected code 1, got %d", code)
	}
	if !strings.Contains(stderr, "--trace is required") {
		t.Fatalf("unexpected stderr: %q", stderr)
	}
}

func TestRunsInsertListVerifyGrade(t *testing.T) {
	cfgPath := writeConfig(t, "")

	fullPayload := `{"engine_version":"1.4.0","summary":"all checks passed",` +
		`"citations":[{"doc_id":"doc-1","chunk_id":"c-3","snippet":"TDDD registration current"}],` +
		`"debug":{"evidence_coverage":0.82}}`

	code, stdout, stderr := runCLI(t, "runs", "insert", "--config", cfgPath,
		"--submission", "sub-1", "--submission-hash", "sha256:aaa",
		"--policy-version", "2025-08-01", "--knowledge-version", "kb-7",
		"--status", "approved", "--risk", "low",
		"--payload", fullPayload)
	if code != 0 {
		t.Fatalf("insert: expected code 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "inserted=true throttled=false") {
		t.Fatalf("unexpected insert output: %q", stdout)
	}
	firstID := fieldValue(t, stdout, "run_id")

	code, stdout, stderr = runCLI(t, "runs", "insert", "--config", cfgPath,
		"--submission", "sub-1", "--submission-hash", "sha256:bbb",
		"--policy-version", "2025-08-01", "--knowledge-version", "kb-7",
		"--status", "needs_review", "--risk", "medium",
		"--payload", `{"engine_version":"1.4.0","summary":"missing licensing data"}`)
	if code != 0 {
		t.Fatalf("second insert: expected code 0, got %d: %s", code, stderr)
	}
	secondID := fieldValue(t, stdout, "run_id")

	code, stdout, _ = runCLI(t, "runs", "list", "--config", cfgPath, "--submission", "sub-1")
	if code != 0 {
		t.Fatalf("list: expected code 0, got %d", code)
	}
	if strings.Count(stdout, "run_id=") != 2 {
		t.Fatalf("expected 2 runs, got %q", stdout)
	}

	code, stdout, _ = runCLI(t, "runs", "list", "--config", cfgPath, "--submission", "sub-1", "--history")
	if code != 0 {
		t.Fatalf("history: expected code 0, got %d", code)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 history lines, got %q", stdout)
	}
	if !strings.Contains(lines[0], "previous=-") || !strings.Contains(lines[1], "previous="+firstID) {
		t.Fatalf("unexpected chain order: %q", stdout)
	}

	code, stdout, _ = runCLI(t, "runs", "verify", "--config", cfgPath, "--submission", "sub-1")
	if code != 0 {
		t.Fatalf("verify: expected code 0, got %d", code)
	}
	if !strings.Contains(stdout, "valid=true runs=2") {
		t.Fatalf("unexpected verify output: %q", stdout)
	}

	code, stdout, _ = runCLI(t, "runs", "show", secondID, "--config", cfgPath)
	if code != 0 {
		t.Fatalf("show: expected code 0, got %d", code)
	}
	if !strings.Contains(stdout, `"submission_id": "sub-1"`) {
		t.Fatalf("unexpected show output: %q", stdout)
	}

	code, stdout, _ = runCLI(t, "runs", "grade", firstID, "--config", cfgPath)
	if code != 0 {
		t.Fatalf("grade: expected code 0, got %d", code)
	}
	if !strings.Contains(stdout, "grade=A") {
		t.Fatalf("unexpected grade output: %q", stdout)
	}
}

func TestRunsIdempotentReplay(t *testing.T) {
	cfgPath := writeConfig(t, "")

	args := []string{"runs", "insert", "--config", cfgPath,
		"--submission", "sub-1", "--submission-hash", "sha256:aaa",
		"--policy-version", "2025-08-01",
		"--status", "approved", "--risk", "low",
		"--payload", `{"summary":"ok"}`,
		"--idempotency-key", "req-42"}

	code, stdout, stderr := runCLI(t, args...)
	if code != 0 {
		t.Fatalf("insert: expected code 0, got %d: %s", code, stderr)
	}
	firstID := fieldValue(t, stdout, "run_id")
	if !strings.Contains(stdout, "inserted=true") {
		t.Fatalf("unexpected insert output: %q", stdout)
	}

	code, stdout, _ = runCLI(t, args...)
	if code != 0 {
		t.Fatalf("replay: expected code 0, got %d", code)
	}
	if !strings.Contains(stdout, "inserted=false") {
		t.Fatalf("replay should not insert: %q", stdout)
	}
	if got := fieldValue(t, stdout, "run_id"); got != firstID {
		t.Fatalf("replay returned run %s, want %s", got, firstID)
	}

	code, stdout, _ = runCLI(t, "runs", "list", "--config", cfgPath, "--submission", "sub-1")
	if code != 0 {
		t.Fatalf("list: expected code 0, got %d", code)
	}
	if strings.Count(stdout, "run_id=") != 1 {
		t.Fatalf("expected a single stored run, got %q", stdout)
	}
}

func TestRunsDuplicatesAndDiff(t *testing.T) {
	cfgPath := writeConfig(t, "")

	insert := func(payload string) string {
		t.Helper()
		code, stdout, stderr := runCLI(t, "runs", "insert", "--config", cfgPath,
			"--submission", "sub-1", "--submission-hash", "sha256:aaa",
			"--policy-version", "2025-08-01", "--knowledge-version", "kb-7",
			"--status", "approved", "--risk", "low",
			"--payload", payload)
		if code != 0 {
			t.Fatalf("insert failed: %s", stderr)
		}
		return fieldValue(t, stdout, "run_id")
	}

	payload := `{"engine_version":"1.4.0","summary":"same outcome"}`
	firstID := insert(payload)
	secondID := insert(payload)

	code, stdout, _ := runCLI(t, "runs", "duplicates", "--config", cfgPath, "--submission", "sub-1")
	if code != 0 {
		t.Fatalf("duplicates: expected code 0, got %d", code)
	}
	if !strings.Contains(stdout, "content_hash=sha256:") || !strings.Contains(stdout, firstID) || !strings.Contains(stdout, secondID) {
		t.Fatalf("unexpected duplicates output: %q", stdout)
	}

	code, stdout, _ = runCLI(t, "runs", "diff", firstID, secondID, "--config", cfgPath)
	if code != 0 {
		t.Fatalf("diff: expected code 0, got %d", code)
	}
	if !strings.Contains(stdout, "changed=false reason=none") {
		t.Fatalf("unexpected diff output: %q", stdout)
	}
}

func TestRunsDuplicatesEmpty(t *testing.T) {
	code, stdout, _ := runCLI(t, "runs", "duplicates", "--submission", "sub-1")
	if code != 0 {
		t.Fatalf("expected code 0, got %d", code)
	}
	if !strings.Contains(stdout, "no duplicate computations") {
		t.Fatalf("unexpected stdout: %q", stdout)
	}
}

func TestRunsInsertWithThrottleConfigured(t *testing.T) {
	cfgPath := writeConfig(t, "throttle:\n  window: 10m\n")

	args := []string{"runs", "insert", "--config", cfgPath,
		"--submission", "sub-1", "--submission-hash", "sha256:aaa",
		"--policy-version", "2025-08-01",
		"--status", "approved", "--risk", "low",
		"--payload", `{"summary":"first"}`}

	code, stdout, stderr := runCLI(t, args...)
	if code != 0 {
		t.Fatalf("insert: expected code 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "inserted=true throttled=false") {
		t.Fatalf("unexpected insert output: %q", stdout)
	}

	// Throttle state is per process; a fresh invocation starts with an
	// empty window, so the second insert lands as a new run.
	code, stdout, _ = runCLI(t, args...)
	if code != 0 {
		t.Fatalf("second insert: expected code 0, got %d", code)
	}
	if !strings.Contains(stdout, "inserted=true") {
		t.Fatalf("unexpected second insert output: %q", stdout)
	}
}

func TestMaintainPrunesRows(t *testing.T) {
	cfgPath := writeConfig(t, "")

	for i := 0; i < 3; i++ {
		code, _, stderr := runCLI(t, "runs", "insert", "--config", cfgPath,
			"--submission", "sub-1", "--submission-hash", "sha256:aaa",
			"--policy-version", "2025-08-01",
			"--status", "approved", "--risk", "low",
			"--payload", fmt.Sprintf(`{"summary":"revision %d"}`, i))
		if code != 0 {
			t.Fatalf("insert %d failed: %s", i, stderr)
		}
	}
	code, _, stderr := runCLI(t, "runs", "insert", "--config", cfgPath,
		"--submission", "sub-2", "--submission-hash", "sha256:bbb",
		"--policy-version", "2025-08-01",
		"--status", "blocked", "--risk", "high",
		"--payload", `{"summary":"hold"}`)
	if code != 0 {
		t.Fatalf("sub-2 insert failed: %s", stderr)
	}

	code, stdout, stderr := runCLI(t, "maintain", "--config", cfgPath, "--max-rows", "2")
	if code != 0 {
		t.Fatalf("maintain: expected code 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "deleted=2 remaining=2") {
		t.Fatalf("unexpected maintain output: %q", stdout)
	}
	if !strings.Contains(stdout, "vacuum_ran=true") {
		t.Fatalf("expected vacuum to run: %q", stdout)
	}

	// The newest run per submission survives the cap.
	code, stdout, _ = runCLI(t, "runs", "list", "--config", cfgPath, "--submission", "sub-2")
	if code != 0 {
		t.Fatalf("list: expected code 0, got %d", code)
	}
	if strings.Count(stdout, "run_id=") != 1 {
		t.Fatalf("sub-2 run should survive: %q", stdout)
	}
}

func TestSlaCheck(t *testing.T) {
	code, stdout, stderr := runCLI(t, "sla", "check",
		"--due-at", "2025-08-20T10:00:00.000Z", "--now", "2025-08-20T05:00:00.000Z")
	if code != 0 {
		t.Fatalf("expected code 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "due_soon=true overdue=false") {
		t.Fatalf("unexpected stdout: %q", stdout)
	}
	if !strings.Contains(stdout, "escalation_level=0") {
		t.Fatalf("unexpected escalation: %q", stdout)
	}

	code, stdout, _ = runCLI(t, "sla", "check",
		"--due-at", "2025-08-20T10:00:00.000Z", "--now", "2025-08-21T10:00:00.000Z")
	if code != 0 {
		t.Fatalf("expected code 0, got %d", code)
	}
	if !strings.Contains(stdout, "due_soon=false overdue=true overdue_hours=24.00 escalation_level=2") {
		t.Fatalf("unexpected stdout: %q", stdout)
	}

	code, _, stderr = runCLI(t, "sla", "check", "--due-at", "not-a-stamp")
	if code != 1 {
		t.Fatalf("expected code 1, got %d", code)
	}
	if !strings.Contains(stderr, "parse --due-at") {
		t.Fatalf("unexpected stderr: %q", stderr)
	}
}

func TestSlaStats(t *testing.T) {
	entities := `[
		{"first_touch_due_at":"2025-08-20T10:00:00.000Z"},
		{"decision_due_at":"2025-08-19T00:00:00.000Z"}
	]`

	code, stdout, stderr := runCLI(t, "sla", "stats",
		"--input", entities, "--now", "2025-08-20T05:00:00.000Z")
	if code != 0 {
		t.Fatalf("expected code 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "total=2 first_touch=1/0 needs_info=0/0 decision=0/1 verifier=1/1") {
		t.Fatalf("unexpected stdout: %q", stdout)
	}

	code, _, stderr = runCLI(t, "sla", "stats", "--input", `[{"decision_due_at":"bogus"}]`)
	if code != 1 {
		t.Fatalf("expected code 1, got %d", code)
	}
	if !strings.Contains(stderr, "entity 0") {
		t.Fatalf("unexpected stderr: %q", stderr)
	}
}

func TestAuditRecordAndClear(t *testing.T) {
	cfgPath := writeConfig(t, "")

	code, stdout, stderr := runCLI(t, "audit", "record", "--config", cfgPath,
		"--trace", "tr-9",
		"--decision", `{"status":"approved","reason":"clean evidence","risk_level":"low","policy_contract_version_used":"2025-08-01"}`,
		"--override", `{"actor":"reviewer-7","reason":"senior sign-off"}`)
	if code != 0 {
		t.Fatalf("record: expected code 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "entry_id=") || !strings.Contains(stdout, "trace_id=tr-9") {
		t.Fatalf("unexpected record output: %q", stdout)
	}

	code, _, stderr = runCLI(t, "audit", "record", "--config", cfgPath,
		"--trace", "tr-9", "--decision", "{broken")
	if code != 1 {
		t.Fatalf("expected code 1, got %d", code)
	}
	if !strings.Contains(stderr, "decode decision") {
		t.Fatalf("unexpected stderr: %q", stderr)
	}

	code, stdout, _ = runCLI(t, "audit", "clear", "--config", cfgPath)
	if code != 0 {
		t.Fatalf("clear: expected code 0, got %d", code)
	}
	if !strings.Contains(stdout, "audit log cleared") {
		t.Fatalf("unexpected clear output: %q", stdout)
	}

	code, stdout, _ = runCLI(t, "traces", "recent", "--config", cfgPath)
	if code != 0 {
		t.Fatalf("recent: expected code 0, got %d", code)
	}
	if strings.Contains(stdout, "trace_id=") {
		t.Fatalf("expected no traces after clear: %q", stdout)
	}
}

func TestJSONOutput(t *testing.T) {
	cfgPath := writeConfig(t, "")
	if code, _, stderr := runCLI(t, "contracts", "seed", "--config", cfgPath); code != 0 {
		t.Fatalf("seed failed: %s", stderr)
	}

	code, stdout, _ := runCLI(t, "contracts", "list", "--config", cfgPath, "--json")
	if code != 0 {
		t.Fatalf("expected code 0, got %d", code)
	}
	if !strings.Contains(stdout, `"version": "2025-08-01"`) {
		t.Fatalf("unexpected JSON output: %q", stdout)
	}

	code, stdout, _ = runCLI(t, "evaluate", "--config", cfgPath, "--json",
		"--input", `{"context":{"model_confidence":0.9}}`)
	if code != 0 {
		t.Fatalf("expected code 0, got %d", code)
	}
	if !strings.Contains(stdout, `"allowed_action": "auto_decide"`) {
		t.Fatalf("unexpected JSON output: %q", stdout)
	}
}

func TestBadConfigPath(t *testing.T) {
	code, _, stderr := runCLI(t, "contracts", "list", "--config", "/does/not/exist.yaml")
	if code != 1 {
		t.Fatalf("expected code 1, got %d", code)
	}
	if !strings.Contains(stderr, "load config") {
		t.Fatalf("unexpected stderr: %q", stderr)
	}
}

func TestEnvOrDefault(t *testing.T) {
	os.Setenv("PROVISO_TEST_ENV", "value")
	defer os.Unsetenv("PROVISO_TEST_ENV")

	if got := envOrDefault("PROVISO_TEST_ENV", "fallback"); got != "value" {
		t.Fatalf("expected env value, got %s", got)
	}
	if got := envOrDefault("PROVISO_TEST_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %s", got)
	}
}
