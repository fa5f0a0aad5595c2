package engine

import "igmutual/pkg/models"

// Diff returns the accounts in following that are not in followers,
// compared by ExternalID. Order follows the following list and repeated
// identities are kept once.
func Diff(following, followers []models.Identity) []models.Identity {
	back := make(map[string]struct{}, len(followers))
	for _, f := range followers {
		back[f.ExternalID] = struct{}{}
	}

	seen := make(map[string]struct{}, len(following))
	out := make([]models.Identity, 0)
	for _, f := range following {
		if _, ok := seen[f.ExternalID]; ok {
			continue
		}
		seen[f.ExternalID] = struct{}{}
		if _, ok := back[f.ExternalID]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// Unique counts distinct identities by ExternalID
func Unique(ids []models.Identity) int {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id.ExternalID] = struct{}{}
	}
	return len(seen)
}

func toResults(checkID string, ids []models.Identity) []models.NonMutualResult {
	out := make([]models.NonMutualResult, len(ids))
	for i, id := range ids {
		out[i] = models.NonMutualResult{CheckID: checkID, Ordinal: i + 1, Identity: id}
	}
	return out
}

func identitiesOf(results []models.NonMutualResult) []models.Identity {
	out := make([]models.Identity, len(results))
	for i, r := range results {
		out[i] = r.Identity
	}
	return out
}
