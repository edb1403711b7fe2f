// Package engine invokes the external crystallographic engine for a stage.
package engine

import (
	"context"

	"github.com/cmcf/autoprocess/pkg/domain"
)

// Invocation is the input of one engine run.
type Invocation struct {
	Descriptor domain.JobDescriptor `json:"descriptor"`
	Stage      domain.Stage         `json:"stage"`
	Attempt    int                  `json:"attempt"`

	// Checkpoint the stage starts with. It is empty for the first stage.
	Checkpoint domain.Checkpoint `json:"checkpoint,omitempty"`

	// Symmetry resolved on Indexing, for downstream stages.
	Symmetry *domain.SymmetryCandidate `json:"symmetry,omitempty"`
}

// Result is the output of a successful engine run.
type Result struct {
	Checkpoint  domain.Checkpoint
	Report      domain.StageReport
	ArtifactDir string
}

// Engine runs a stage.
type Engine interface {
	// Run blocks until the engine finishes the stage.
	//
	// # Returns
	//
	// - Result: on success.
	//
	// - error: *domain.EngineFailure when the engine failed or timed out.
	// When ctx is done before the engine finishes, ctx's error is returned as it is.
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// Func is an Engine of a function.
type Func func(ctx context.Context, inv Invocation) (Result, error)

func (f Func) Run(ctx context.Context, inv Invocation) (Result, error) {
	return f(ctx, inv)
}

// AsStageResult converts a return value of Engine.Run into a StageResult of inv.
//
// It returns ok=false when err is not an engine failure.
func AsStageResult(inv Invocation, r Result, err error) (res domain.StageResult, ok bool) {
	res = domain.StageResult{Stage: inv.Stage, Attempt: inv.Attempt}
	if err == nil {
		report := r.Report
		res.Success = true
		res.Checkpoint = r.Checkpoint
		res.Report = &report
		res.ArtifactDir = r.ArtifactDir
		return res, true
	}

	f, isFailure := err.(*domain.EngineFailure)
	if !isFailure {
		return domain.StageResult{}, false
	}
	res.Failure = f
	res.ArtifactDir = r.ArtifactDir
	return res, true
}
