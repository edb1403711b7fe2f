package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Checkpoint is stage-specific opaque data letting a stage resume without recomputation.
type Checkpoint = json.RawMessage

// StageReport is the structured outcome of one stage, as parsed from the engine output.
type StageReport struct {
	UnitCell   *UnitCell           `json:"unit_cell,omitempty"`
	SpaceGroup string              `json:"space_group,omitempty"`
	Resolution float64             `json:"resolution,omitempty"`
	Candidates []SymmetryCandidate `json:"candidates,omitempty"`

	// Statistics are named scalars, like completeness, r_meas, i_sigma or multiplicity.
	Statistics map[string]float64 `json:"statistics,omitempty"`

	Summary string `json:"summary,omitempty"`
}

func (r StageReport) Clone() StageReport {
	c := r
	if r.UnitCell != nil {
		u := *r.UnitCell
		c.UnitCell = &u
	}
	c.Candidates = slices.Clone(r.Candidates)
	c.Statistics = maps.Clone(r.Statistics)
	return c
}

// FailureKind classifies a pipeline failure.
type FailureKind string

const (
	// Timeout means the engine did not finish in the stage timeout.
	Timeout FailureKind = "timeout"

	// EngineError means the engine exited with an error.
	EngineError FailureKind = "engine_error"

	// NoViableSymmetry means Indexing found no acceptable symmetry.
	NoViableSymmetry FailureKind = "no_viable_symmetry"

	// Canceled means the job is canceled by request.
	Canceled FailureKind = "canceled"
)

// EngineFailure is a failed engine invocation captured as data.
type EngineFailure struct {
	Kind     FailureKind  `json:"kind"`
	Message  string       `json:"message,omitempty"`
	ExitCode int          `json:"exit_code,omitempty"`
	Partial  *StageReport `json:"partial,omitempty"`
}

func (f *EngineFailure) Error() string {
	if f.Kind == EngineError {
		return fmt.Sprintf("%s: %s (exit code %d): %s", ErrEngineFailure, f.Kind, f.ExitCode, f.Message)
	}
	return fmt.Sprintf("%s: %s: %s", ErrEngineFailure, f.Kind, f.Message)
}

func (f *EngineFailure) Unwrap() error {
	return ErrEngineFailure
}

// StageResult is what a node reports after running a stage.
type StageResult struct {
	Stage   Stage `json:"stage"`
	Attempt int   `json:"attempt"`

	// Success is true when the engine finished the stage.
	Success bool `json:"success"`

	// Checkpoint to resume the next stage (or to retry this one).
	Checkpoint Checkpoint `json:"checkpoint,omitempty"`

	Report  *StageReport   `json:"report,omitempty"`
	Failure *EngineFailure `json:"failure,omitempty"`

	// ArtifactDir is the directory where the engine wrote artifacts of this stage.
	ArtifactDir string `json:"artifact_dir,omitempty"`
}

// Failure is the terminal failure of a job.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Stage   Stage       `json:"stage"`
	Message string      `json:"message,omitempty"`
}

func (f Failure) String() string {
	return fmt.Sprintf("%s at %s: %s", f.Kind, f.Stage, f.Message)
}
