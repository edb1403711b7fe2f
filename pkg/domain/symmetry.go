package domain

import "fmt"

// LatticeType is a crystal family of a Bravais lattice.
type LatticeType string

const (
	Cubic        LatticeType = "cubic"
	Hexagonal    LatticeType = "hexagonal"
	Rhombohedral LatticeType = "rhombohedral"
	Tetragonal   LatticeType = "tetragonal"
	Orthorhombic LatticeType = "orthorhombic"
	Monoclinic   LatticeType = "monoclinic"
	Triclinic    LatticeType = "triclinic"
)

func AsLatticeType(s string) (LatticeType, error) {
	switch l := LatticeType(s); l {
	case Cubic, Hexagonal, Rhombohedral, Tetragonal, Orthorhombic, Monoclinic, Triclinic:
		return l, nil
	default:
		return "", fmt.Errorf("'%s' is not a LatticeType", s)
	}
}

// Rank orders lattices by symmetry. Higher is more symmetric.
//
// Unknown lattices rank 0.
func (l LatticeType) Rank() int {
	switch l {
	case Cubic:
		return 7
	case Hexagonal:
		return 6
	case Rhombohedral:
		return 5
	case Tetragonal:
		return 4
	case Orthorhombic:
		return 3
	case Monoclinic:
		return 2
	case Triclinic:
		return 1
	}
	return 0
}

// UnitCell is (a, b, c, alpha, beta, gamma), in Ångström and degrees.
type UnitCell [6]float64

func (u UnitCell) String() string {
	return fmt.Sprintf("%.1f %.1f %.1f %.1f %.1f %.1f", u[0], u[1], u[2], u[3], u[4], u[5])
}

// PenaltyFlags are symmetry constraint violations found by the engine.
type PenaltyFlags struct {
	// Chirality is set when the space group is inconsistent with a chiral sample.
	Chirality bool `json:"chirality,omitempty"`

	// Friedel is set when Friedel pairs do not agree with the space group.
	Friedel bool `json:"friedel,omitempty"`
}

// SymmetryCandidate is a lattice / space group proposed by Indexing.
type SymmetryCandidate struct {
	Lattice    LatticeType `json:"lattice_type"`
	SpaceGroup string      `json:"space_group"`
	UnitCell   UnitCell    `json:"unit_cell"`

	// MetricResidual is the metric-fit residual reported by the engine. Lower is better.
	MetricResidual float64 `json:"metric_residual"`

	// QualityScore is the residual with penalties. It is computed on resolution.
	QualityScore float64 `json:"quality_score"`

	Penalties PenaltyFlags `json:"penalty_flags"`
}

func (c SymmetryCandidate) String() string {
	return fmt.Sprintf("%s (%s) [%s] score=%.4g", c.SpaceGroup, c.Lattice, c.UnitCell, c.QualityScore)
}
