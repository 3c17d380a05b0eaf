package governance

import (
	"encoding/json"
	"fmt"

	"github.com/provisohq/proviso/internal/ledger"
	"github.com/provisohq/proviso/internal/policy"
)

// SeedContracts stores every contract from a loaded seed file,
// skipping versions that already exist. Returns how many contracts the
// file carried.
func (r *Registry) SeedContracts(loaded policy.LoadedContracts) (int, error) {
	for _, contract := range loaded.Contracts {
		rec, err := recordFromContract(contract)
		if err != nil {
			return 0, fmt.Errorf("contract %s: %w", contract.Version, err)
		}
		if err := r.store.SeedContract(rec); err != nil {
			return 0, fmt.Errorf("contract %s: %w", contract.Version, err)
		}
	}
	return len(loaded.Contracts), nil
}

// ActiveContract returns the decoded active contract. A decode failure
// reads as absent, so evaluation fails safe to human review instead of
// trusting rules that cannot be parsed.
func (r *Registry) ActiveContract() (policy.Contract, bool) {
	rec, ok := r.store.ActiveContract()
	if !ok {
		return policy.Contract{}, false
	}
	contract, err := contractFromRecord(rec)
	if err != nil {
		return policy.Contract{}, false
	}
	return contract, true
}

func (r *Registry) GetContract(version string) (policy.Contract, bool) {
	rec, ok := r.store.GetContract(version)
	if !ok {
		return policy.Contract{}, false
	}
	contract, err := contractFromRecord(rec)
	if err != nil {
		return policy.Contract{}, false
	}
	return contract, true
}

// ListContracts returns the stored version history, most recent
// effective_from first.
func (r *Registry) ListContracts() ([]policy.Contract, error) {
	recs, err := r.store.ListContracts()
	if err != nil {
		return nil, err
	}
	contracts := make([]policy.Contract, 0, len(recs))
	for _, rec := range recs {
		contract, err := contractFromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("contract %s: %w", rec.Version, err)
		}
		contracts = append(contracts, contract)
	}
	return contracts, nil
}

func recordFromContract(contract policy.Contract) (ledger.ContractRecord, error) {
	rules, err := json.Marshal(contract.Rules)
	if err != nil {
		return ledger.ContractRecord{}, fmt.Errorf("encode rules: %w", err)
	}
	return ledger.ContractRecord{
		Version:       contract.Version,
		Status:        string(contract.Status),
		CreatedAt:     contract.CreatedAt,
		CreatedBy:     contract.CreatedBy,
		EffectiveFrom: contract.EffectiveFrom,
		RulesJSON:     rules,
	}, nil
}

func contractFromRecord(rec ledger.ContractRecord) (policy.Contract, error) {
	contract := policy.Contract{
		Version:       rec.Version,
		Status:        policy.ContractStatus(rec.Status),
		CreatedAt:     rec.CreatedAt,
		CreatedBy:     rec.CreatedBy,
		EffectiveFrom: rec.EffectiveFrom,
	}
	if len(rec.RulesJSON) > 0 {
		if err := json.Unmarshal(rec.RulesJSON, &contract.Rules); err != nil {
			return policy.Contract{}, fmt.Errorf("decode rules: %w", err)
		}
	}
	return contract, nil
}
