package mirrorup

import "sort"

const maxAcceptableDelay = 3600 // seconds

// Eligible reports whether the candidate is fully synced and fresh enough
// to be worth probing: http/https protocol, 100% completion, and a sync
// delay under one hour.
func (c *Candidate) Eligible() bool {
	if c.Protocol != "http" && c.Protocol != "https" {
		return false
	}
	if c.Completion != 1.0 {
		return false
	}
	return c.Delay < maxAcceptableDelay
}

// FilterEligible keeps eligible candidates, preserving input order.
func FilterEligible(candidates []Candidate) []Candidate {
	eligible := make([]Candidate, 0, len(candidates))
	for i := range candidates {
		if candidates[i].Eligible() {
			eligible = append(eligible, candidates[i])
		}
	}
	return eligible
}

// CapCandidates bounds probe cost: candidates are ordered by published
// score ascending (lower is better, URL breaks ties for determinism) and
// truncated to maxCheck. The input slice is not modified.
func CapCandidates(candidates []Candidate, maxCheck int) []Candidate {
	capped := make([]Candidate, len(candidates))
	copy(capped, candidates)

	sort.Slice(capped, func(i, j int) bool {
		if capped[i].Score != capped[j].Score {
			return capped[i].Score < capped[j].Score
		}
		return capped[i].URL < capped[j].URL
	})

	if len(capped) > maxCheck {
		capped = capped[:maxCheck]
	}
	return capped
}
