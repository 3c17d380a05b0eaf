package explain

// DuplicateGroup names one set of runs that recomputed identical
// content under identical versions: wasted work, not an error.
type DuplicateGroup struct {
	ContentHash      string   `json:"content_hash"`
	PolicyVersion    string   `json:"policy_version"`
	KnowledgeVersion string   `json:"knowledge_version,omitempty"`
	RunIDs           []string `json:"run_ids"`
}

// DetectDuplicateComputations groups a submission's runs by content
// hash and version pair, returning only groups with more than one
// member, oldest group first.
func (s *Service) DetectDuplicateComputations(submissionID string) ([]DuplicateGroup, error) {
	recs, err := s.store.RunsBySubmission(submissionID)
	if err != nil {
		return nil, err
	}

	type groupKey struct {
		content   string
		policy    string
		knowledge string
	}
	order := []groupKey{}
	groups := map[groupKey][]string{}
	for _, rec := range recs {
		key := groupKey{content: rec.ContentHash, policy: rec.PolicyVersion, knowledge: rec.KnowledgeVersion}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec.RunID)
	}

	out := []DuplicateGroup{}
	for _, key := range order {
		ids := groups[key]
		if len(ids) < 2 {
			continue
		}
		out = append(out, DuplicateGroup{
			ContentHash:      key.content,
			PolicyVersion:    key.policy,
			KnowledgeVersion: key.knowledge,
			RunIDs:           ids,
		})
	}
	return out, nil
}
