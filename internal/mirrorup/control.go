package mirrorup

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
)

// Terminal pipeline failures. Per-candidate failures (malformed records,
// exclusions, failed probes) are absorbed; only an empty stage escalates.
var (
	// ErrNoEligibleMirrors means filtering left no fully synced mirror.
	ErrNoEligibleMirrors = errors.New("no fully synced mirrors")

	// ErrAllMirrorsExcluded means the exclusion rules removed every
	// eligible mirror.
	ErrAllMirrorsExcluded = errors.New("all mirrors are excluded")

	// ErrNoSurvivors means every speed probe failed.
	ErrNoSurvivors = errors.New("no mirrors survived speed testing")
)

// Selection is the outcome of one pipeline run: the ranked mirrors to
// write out, plus the probed candidates and their probe results for the
// optional statistics output.
type Selection struct {
	Mirrors    []RankedMirror
	Candidates []Candidate
	Probes     map[string]*ProbeResult
}

// Run executes the selection pipeline once: fetch status, normalize,
// filter, apply exclusion rules, cap, probe, rank. Data flows strictly
// forward; no stage re-enters an earlier one and no state survives the
// run.
func Run(ctx context.Context, config *Config, rules Rules) (*Selection, error) {
	status, err := FetchStatus(ctx, config.SourceURL.String())
	if err != nil {
		return nil, errors.Wrap(err, config.SourceURL.String())
	}

	candidates := status.Normalize()
	slog.Debug("mirrors normalized", "total", len(status.URLs), "candidates", len(candidates))

	eligible := FilterEligible(candidates)
	if len(eligible) == 0 {
		return nil, ErrNoEligibleMirrors
	}
	slog.Debug("mirrors filtered", "eligible", len(eligible))

	included := rules.Apply(eligible)
	if len(included) == 0 {
		return nil, ErrAllMirrorsExcluded
	}
	if len(included) < len(eligible) {
		slog.Debug("mirrors excluded by rules", "excluded", len(eligible)-len(included), "remaining", len(included))
	}

	capped := CapCandidates(included, config.MaxCheck)
	slog.Info("measuring transfer rate", "mirrors", len(capped), "threads", config.Threads, "target_db", string(config.TargetDB))

	prober := NewProber(config)
	probes, err := prober.Probe(ctx, capped)
	if err != nil {
		return nil, errors.Wrap(err, "speed test")
	}

	ranked := Rank(capped, probes, config.Mirrors)
	if len(ranked) == 0 {
		return nil, ErrNoSurvivors
	}
	slog.Info("mirrors selected", "count", len(ranked), "best", ranked[0].URL)

	return &Selection{
		Mirrors:    ranked,
		Candidates: capped,
		Probes:     probes,
	}, nil
}
