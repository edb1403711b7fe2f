package domain

import (
	"fmt"
	"slices"
)

// Stage is a phase of the processing pipeline, including its entry and terminal states.
type Stage string

const (
	// Queued jobs are waiting for the first assignment.
	Queued Stage = "queued"

	// Indexing determines the lattice and symmetry candidates.
	Indexing Stage = "indexing"

	// Integration measures reflection intensities.
	Integration Stage = "integration"

	// Scaling puts intensities on a common scale.
	Scaling Stage = "scaling"

	// Merging merges symmetry equivalents and reports merge statistics.
	Merging Stage = "merging"

	// Strategy calculates a data collection strategy.
	Strategy Stage = "strategy"

	// Done is terminal. Every stage of the plan is completed.
	Done Stage = "done"

	// Failed is terminal. Processing stopped with a failure.
	Failed Stage = "failed"
)

// ProcessingStages returns the engine stages in pipeline order.
func ProcessingStages() []Stage {
	return []Stage{Indexing, Integration, Scaling, Merging, Strategy}
}

func AsStage(s string) (Stage, error) {
	switch Stage(s) {
	case Queued, Indexing, Integration, Scaling, Merging, Strategy, Done, Failed:
		return Stage(s), nil
	default:
		return "", fmt.Errorf("'%s' is not a Stage", s)
	}
}

func (s Stage) String() string {
	return string(s)
}

// Terminal reports whether s is Done or Failed.
func (s Stage) Terminal() bool {
	return s == Done || s == Failed
}

// Processing reports whether s is a stage run by the engine.
func (s Stage) Processing() bool {
	return slices.Contains(ProcessingStages(), s)
}

// Ordinal is the 1-based position of an engine stage in the pipeline order.
// It is 0 for other stages.
func (s Stage) Ordinal() int {
	return slices.Index(ProcessingStages(), s) + 1
}

// Plan is the ordered list of engine stages a job goes through.
type Plan []Stage

// First returns the first stage of the plan, or Done for an empty plan.
func (p Plan) First() Stage {
	if len(p) == 0 {
		return Done
	}
	return p[0]
}

// Next returns the stage after s. It is Done after the last stage.
//
// For Queued, it is the first stage.
// It returns ErrInvalidTransition when s is neither Queued nor a stage of the plan.
func (p Plan) Next(s Stage) (Stage, error) {
	if s == Queued {
		return p.First(), nil
	}
	i := slices.Index(p, s)
	if i < 0 {
		return "", fmt.Errorf("%w: %s is not in plan %v", ErrInvalidTransition, s, p)
	}
	if i+1 == len(p) {
		return Done, nil
	}
	return p[i+1], nil
}

// Position returns the order of s in this plan.
//
// Queued is 0, plan stages are 1..len(p), Done is len(p)+1.
// It returns -1 for Failed and for stages outside the plan.
func (p Plan) Position(s Stage) int {
	switch s {
	case Queued:
		return 0
	case Done:
		return len(p) + 1
	}
	i := slices.Index(p, s)
	if i < 0 {
		return -1
	}
	return i + 1
}

func (p Plan) Contains(s Stage) bool {
	return slices.Contains(p, s)
}
