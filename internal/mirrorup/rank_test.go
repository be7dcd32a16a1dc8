package mirrorup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okProbe(url string, rate float64) *ProbeResult {
	return &ProbeResult{URL: url, OK: true, Rate: rate, SmoothedRate: rate, Bytes: 1 << 20}
}

func failedProbe(url string) *ProbeResult {
	return &ProbeResult{URL: url, OK: false}
}

func TestRankFasterMirrorWins(t *testing.T) {
	t.Parallel()

	a := Candidate{URL: "https://a.example/", Score: 1.0}
	b := Candidate{URL: "https://b.example/", Score: 2.0}

	probes := map[string]*ProbeResult{
		a.URL: okProbe(a.URL, 100),  // ranking 0.01
		b.URL: okProbe(b.URL, 1000), // ranking 0.002
	}

	ranked := Rank([]Candidate{a, b}, probes, 1)
	require.Len(t, ranked, 1)
	assert.Equal(t, b.URL, ranked[0].URL)
	assert.InDelta(t, 0.002, ranked[0].Ranking, 1e-12)
}

func TestRankIsMonotonicInRate(t *testing.T) {
	t.Parallel()

	candidate := Candidate{URL: "https://a.example/", Score: 3.5}

	var previous float64
	for i, rate := range []float64{10, 100, 1000, 10000} {
		ranked := Rank([]Candidate{candidate}, map[string]*ProbeResult{
			candidate.URL: okProbe(candidate.URL, rate),
		}, 1)
		require.Len(t, ranked, 1)
		if i > 0 {
			assert.Less(t, ranked[0].Ranking, previous, "higher rate must rank better")
		}
		previous = ranked[0].Ranking
	}
}

func TestRankDropsFailedAndZeroRateProbes(t *testing.T) {
	t.Parallel()

	candidates := []Candidate{
		{URL: "https://ok.example/", Score: 1.0},
		{URL: "https://failed.example/", Score: 0.5},
		{URL: "https://stalled.example/", Score: 0.5},
		{URL: "https://unprobed.example/", Score: 0.5},
	}
	probes := map[string]*ProbeResult{
		"https://ok.example/":      okProbe("https://ok.example/", 500),
		"https://failed.example/":  failedProbe("https://failed.example/"),
		"https://stalled.example/": {URL: "https://stalled.example/", OK: true, Rate: 0},
	}

	ranked := Rank(candidates, probes, 10)
	require.Len(t, ranked, 1)
	assert.Equal(t, "https://ok.example/", ranked[0].URL)
}

func TestRankNeverReturnsMoreThanN(t *testing.T) {
	t.Parallel()

	var candidates []Candidate
	probes := make(map[string]*ProbeResult)
	for _, url := range []string{
		"https://a.example/", "https://b.example/", "https://c.example/",
		"https://d.example/", "https://e.example/",
	} {
		candidates = append(candidates, Candidate{URL: url, Score: 1.0})
		probes[url] = okProbe(url, 100)
	}

	assert.Len(t, Rank(candidates, probes, 3), 3)
	assert.Len(t, Rank(candidates, probes, 5), 5)
	assert.Len(t, Rank(candidates, probes, 50), 5, "fewer survivors than n is not an error")
	assert.Empty(t, Rank(nil, probes, 3))
}

func TestRankBreaksTiesByURL(t *testing.T) {
	t.Parallel()

	candidates := []Candidate{
		{URL: "https://z.example/", Score: 1.0},
		{URL: "https://a.example/", Score: 1.0},
	}
	probes := map[string]*ProbeResult{
		"https://z.example/": okProbe("https://z.example/", 100),
		"https://a.example/": okProbe("https://a.example/", 100),
	}

	ranked := Rank(candidates, probes, 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, "https://a.example/", ranked[0].URL)
	assert.Equal(t, "https://z.example/", ranked[1].URL)
}
