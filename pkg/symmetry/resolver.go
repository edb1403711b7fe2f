// Package symmetry selects the space group of a job from indexing candidates.
package symmetry

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/cmcf/autoprocess/pkg/domain"
)

// scores closer than this are ties.
const tieTolerance = 1e-9

// Config tunes candidate scoring.
type Config struct {
	// Threshold is the largest acceptable quality score.
	Threshold float64

	// ChiralityPenalty is added to a chirality-flagged candidate when the sample is chiral.
	ChiralityPenalty float64

	// FriedelPenalty is added to a Friedel-flagged candidate unless anomalous signal is kept.
	FriedelPenalty float64
}

func DefaultConfig() Config {
	return Config{
		Threshold:        0.5,
		ChiralityPenalty: 0.25,
		FriedelPenalty:   0.1,
	}
}

func (c Config) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("symmetry threshold should be positive: %g", c.Threshold)
	}
	if c.ChiralityPenalty <= 0 || c.FriedelPenalty <= 0 {
		return fmt.Errorf(
			"symmetry penalties should be positive: chirality=%g, friedel=%g",
			c.ChiralityPenalty, c.FriedelPenalty,
		)
	}
	return nil
}

// NoViableSymmetry is returned when no candidate is acceptable.
type NoViableSymmetry struct {
	Threshold float64

	// Candidates are all candidates with their scores, best first.
	Candidates []domain.SymmetryCandidate
}

func (e *NoViableSymmetry) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("%s: no candidates", domain.ErrNoViableSymmetry)
	}
	return fmt.Sprintf(
		"%s: all of %d candidates exceed threshold %g (best: %s)",
		domain.ErrNoViableSymmetry, len(e.Candidates), e.Threshold, e.Candidates[0],
	)
}

func (e *NoViableSymmetry) Unwrap() error {
	return domain.ErrNoViableSymmetry
}

// Resolver scores candidates and selects the best one.
type Resolver struct {
	config Config
}

func New(config Config) *Resolver {
	return &Resolver{config: config}
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	// Selected is the best viable candidate.
	Selected domain.SymmetryCandidate

	// Candidates are all candidates with their scores, best first.
	Candidates []domain.SymmetryCandidate
}

// Score computes the quality score of a candidate under the options. Lower is better.
func (r *Resolver) Score(c domain.SymmetryCandidate, opts domain.Options) float64 {
	score := c.MetricResidual
	if c.Penalties.Chirality && opts.Chiral {
		score += r.config.ChiralityPenalty
	}
	if c.Penalties.Friedel && !opts.Anomalous {
		score += r.config.FriedelPenalty
	}
	return score
}

// Resolve selects the symmetry of a job from candidates.
//
// Candidates are sorted by score, then by lattice symmetry (higher first),
// then by space group identifier, then by metric residual and unit cell.
// The first acceptable candidate is selected.
// With hint, only candidates of that space group are acceptable.
//
// It returns *NoViableSymmetry when no candidate is acceptable.
func (r *Resolver) Resolve(candidates []domain.SymmetryCandidate, opts domain.Options, hint string) (Resolution, error) {
	opts = opts.Effective()

	scored := make([]domain.SymmetryCandidate, len(candidates))
	for i, c := range candidates {
		c.QualityScore = r.Score(c, opts)
		scored[i] = c
	}
	slices.SortStableFunc(scored, compare)

	for _, c := range scored {
		if hint != "" && c.SpaceGroup != hint {
			continue
		}
		if !r.viable(c) {
			continue
		}
		return Resolution{Selected: c, Candidates: scored}, nil
	}

	return Resolution{Candidates: scored}, &NoViableSymmetry{
		Threshold:  r.config.Threshold,
		Candidates: scored,
	}
}

func (r *Resolver) viable(c domain.SymmetryCandidate) bool {
	if math.IsNaN(c.QualityScore) {
		return false
	}
	return c.QualityScore <= r.config.Threshold
}

func compare(a, b domain.SymmetryCandidate) int {
	if c := cmp.Compare(scoreKey(a.QualityScore), scoreKey(b.QualityScore)); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Lattice.Rank(), a.Lattice.Rank()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.SpaceGroup, b.SpaceGroup); c != 0 {
		return c
	}
	// same space group from different indexing solutions
	if c := cmp.Compare(a.MetricResidual, b.MetricResidual); c != 0 {
		return c
	}
	for i := range a.UnitCell {
		if c := cmp.Compare(a.UnitCell[i], b.UnitCell[i]); c != 0 {
			return c
		}
	}
	return 0
}

// scoreKey quantizes a score so that scores closer than tieTolerance tie.
// NaN goes last.
func scoreKey(score float64) float64 {
	if math.IsNaN(score) {
		return math.Inf(1)
	}
	return math.Round(score / tieTolerance)
}

// Select finds a retained candidate by space group, for operator overrides.
func Select(candidates []domain.SymmetryCandidate, spaceGroup string) (domain.SymmetryCandidate, bool) {
	i := slices.IndexFunc(candidates, func(c domain.SymmetryCandidate) bool {
		return c.SpaceGroup == spaceGroup
	})
	if i < 0 {
		return domain.SymmetryCandidate{}, false
	}
	return candidates[i], true
}
