package store

import "github.com/sells-group/leadgen-cli/internal/model"

// mergeCandidates appends incoming candidates whose IDs are not already
// present. Existing records win; enrichment never drops a cached row.
func mergeCandidates(existing, incoming []model.Candidate) []model.Candidate {
	seen := make(map[string]bool, len(existing))
	for _, c := range existing {
		seen[c.ID] = true
	}
	merged := existing
	for _, c := range incoming {
		if !seen[c.ID] {
			merged = append(merged, c)
			seen[c.ID] = true
		}
	}
	return merged
}
