package policy

import (
	"fmt"
	"os"

	"github.com/provisohq/proviso/internal/crypto"
	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Contracts []Contract `yaml:"contracts"`
}

type LoadedContracts struct {
	Contracts []Contract
	Hash      string
	Bytes     []byte
}

// LoadContracts loads a YAML contract seed file and computes its hash
// from the raw bytes.
func LoadContracts(path string) (LoadedContracts, error) {
	// #nosec G304 -- path comes from operator-configured contracts path.
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadedContracts{}, err
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return LoadedContracts{}, err
	}

	for i, contract := range file.Contracts {
		if violations := ValidateContract(contract); len(violations) > 0 {
			return LoadedContracts{}, fmt.Errorf("contract %d (%s): %s", i, contract.Version, violations[0])
		}
	}

	return LoadedContracts{
		Contracts: file.Contracts,
		Hash:      crypto.DigestWithPrefix(data),
		Bytes:     data,
	}, nil
}

// ValidateContract checks a contract for structural problems before it
// is stored or evaluated.
func ValidateContract(c Contract) []Violation {
	var violations []Violation

	if c.Version == "" {
		violations = append(violations, Violation{Field: "version", Message: "is required"})
	}
	switch c.Status {
	case ContractActive, ContractInactive, ContractDeprecated:
	case "":
		violations = append(violations, Violation{Field: "status", Message: "is required"})
	default:
		violations = append(violations, Violation{Field: "status", Message: fmt.Sprintf("unknown status %q", c.Status)})
	}
	switch c.Rules.AuditLevel {
	case AuditStandard, AuditStrict, "":
	default:
		violations = append(violations, Violation{Field: "rules.audit_level", Message: fmt.Sprintf("unknown audit level %q", c.Rules.AuditLevel)})
	}
	if t := c.Rules.ConfidenceThreshold; t != nil && (*t < 0 || *t > 1) {
		violations = append(violations, Violation{
			Field:   "rules.confidence_threshold",
			Message: fmt.Sprintf("must be within [0,1], got %s", formatFloat(*t)),
		})
	}

	return violations
}
