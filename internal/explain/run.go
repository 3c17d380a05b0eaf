package explain

import (
	"bytes"
	"encoding/json"

	"github.com/provisohq/proviso/internal/crypto"
	"github.com/provisohq/proviso/internal/ledger"
	"github.com/provisohq/proviso/pkg/types"
)

// ChainSeed is the predecessor hash for the first run of a submission.
const ChainSeed = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Run is a stored explanation snapshot with its payload decoded.
type Run struct {
	RunID            string               `json:"run_id"`
	SubmissionID     string               `json:"submission_id"`
	SubmissionHash   string               `json:"submission_hash"`
	PolicyVersion    string               `json:"policy_version"`
	KnowledgeVersion string               `json:"knowledge_version,omitempty"`
	Status           types.RunStatus      `json:"status"`
	Risk             types.RiskLevel      `json:"risk"`
	CreatedAt        string               `json:"created_at"`
	IdempotencyKey   *string              `json:"idempotency_key,omitempty"`
	PreviousRunID    *string              `json:"previous_run_id,omitempty"`
	ContentHash      string               `json:"content_hash"`
	ChainHash        string               `json:"chain_hash"`
	Payload          types.ExplainPayload `json:"payload"`
}

func runFromRecord(rec ledger.ExplainRunRecord) (Run, error) {
	run := Run{
		RunID:            rec.RunID,
		SubmissionID:     rec.SubmissionID,
		SubmissionHash:   rec.SubmissionHash,
		PolicyVersion:    rec.PolicyVersion,
		KnowledgeVersion: rec.KnowledgeVersion,
		Status:           types.RunStatus(rec.Status),
		Risk:             types.RiskLevel(rec.Risk),
		CreatedAt:        rec.CreatedAt,
		IdempotencyKey:   rec.IdempotencyKey,
		PreviousRunID:    rec.PreviousRunID,
		ContentHash:      rec.ContentHash,
		ChainHash:        rec.ChainHash,
	}
	if err := json.Unmarshal(rec.PayloadJSON, &run.Payload); err != nil {
		return Run{}, err
	}
	return run, nil
}

// contentHashFor hashes the durable content of a run: every stored
// field except run_id and created_at, so the same result hashes the
// same no matter when or under which id it was stored.
func contentHashFor(rec ledger.ExplainRunRecord) (string, error) {
	payloadDoc, err := decodeDoc(rec.PayloadJSON)
	if err != nil {
		return "", err
	}
	view := map[string]any{
		"submission_id":     rec.SubmissionID,
		"submission_hash":   rec.SubmissionHash,
		"policy_version":    rec.PolicyVersion,
		"knowledge_version": rec.KnowledgeVersion,
		"status":            rec.Status,
		"risk":              rec.Risk,
		"payload":           payloadDoc,
	}
	canonical, err := crypto.Canonicalize(view)
	if err != nil {
		return "", err
	}
	return crypto.DigestWithPrefix(canonical), nil
}

// chainHashFor binds a run's content hash to its predecessor's chain
// hash, or to ChainSeed for the first run of a submission.
func chainHashFor(contentHash, prevChainHash string) string {
	if prevChainHash == "" {
		prevChainHash = ChainSeed
	}
	return crypto.DigestWithPrefix([]byte(contentHash + prevChainHash))
}

// decodeDoc round-trips JSON through json.Number so numeric fields
// canonicalize by value, not by how the storage backend rendered them.
func decodeDoc(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
