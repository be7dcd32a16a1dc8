package mirrorup

import "sort"

// RankedMirror is a candidate that survived probing, together with its
// probe outcome and final ranking score. Lower ranking is better.
type RankedMirror struct {
	Candidate
	Probe   *ProbeResult
	Ranking float64
}

// Rank combines the published mirror score with the measured transfer
// rate. Both conventions point the same way: a lower published score and a
// higher transfer rate give a lower (better) ranking, so
//
//	ranking = published score / transfer rate
//
// Failed probes and zero-rate probes are dropped. The result is sorted
// ascending by ranking with URL as tiebreak and truncated to n. Fewer than
// n survivors is not an error; the caller decides what an empty result
// means.
func Rank(candidates []Candidate, probes map[string]*ProbeResult, n int) []RankedMirror {
	ranked := make([]RankedMirror, 0, len(candidates))
	for i := range candidates {
		probe, found := probes[candidates[i].URL]
		if !found || !probe.OK || probe.Rate <= 0 {
			continue
		}
		ranked = append(ranked, RankedMirror{
			Candidate: candidates[i],
			Probe:     probe,
			Ranking:   candidates[i].Score / probe.Rate,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Ranking != ranked[j].Ranking {
			return ranked[i].Ranking < ranked[j].Ranking
		}
		return ranked[i].URL < ranked[j].URL
	})

	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
