package domain

import (
	"slices"
	"time"
)

// TransitionEvent says why a pipeline transition happened.
type TransitionEvent string

const (
	EventStart   TransitionEvent = "start"
	EventAdvance TransitionEvent = "advance"
	EventRetry   TransitionEvent = "retry"
	EventSkip    TransitionEvent = "skip"
	EventFail    TransitionEvent = "fail"
	EventCancel  TransitionEvent = "cancel"
	EventResume  TransitionEvent = "resume"
)

// Transition is an entry of the pipeline history.
type Transition struct {
	From    Stage           `json:"from"`
	To      Stage           `json:"to"`
	Attempt int             `json:"attempt"`
	Event   TransitionEvent `json:"event"`
	At      time.Time       `json:"at"`
	NodeId  string          `json:"node_id,omitempty"`
	Note    string          `json:"note,omitempty"`
}

// OverrideKind is a kind of operator intervention.
type OverrideKind string

const (
	OverrideSkip     OverrideKind = "skip"
	OverrideSymmetry OverrideKind = "symmetry"
	OverrideRetry    OverrideKind = "retry"
)

// Override records an operator intervention.
type Override struct {
	Kind     OverrideKind `json:"kind"`
	Stage    Stage        `json:"stage"`
	Operator string       `json:"operator"`
	Reason   string       `json:"reason"`
	At       time.Time    `json:"at"`

	// Previous and Selected space groups, for symmetry overrides.
	Previous string `json:"previous,omitempty"`
	Selected string `json:"selected,omitempty"`
}

// Presatisfied is a stage an operator marked as pre-satisfied before the job reached it.
type Presatisfied struct {
	Operator string `json:"operator"`
	Reason   string `json:"reason"`

	// Checkpoint to start the next stage with. When empty, the current checkpoint is kept.
	Checkpoint Checkpoint `json:"checkpoint,omitempty"`
}

// PipelineState is the processing state of a job.
type PipelineState struct {
	JobId string `json:"job_id"`

	// Stage is the current stage. A job occupies exactly one stage at any instant.
	Stage Stage `json:"current_stage"`

	Plan Plan `json:"plan"`

	// Checkpoint is the data to start (or retry) the current stage with.
	Checkpoint Checkpoint `json:"checkpoint_data,omitempty"`

	// Attempts is the number of failed attempts at the current stage.
	Attempts int `json:"attempt_count"`

	LastCompleted Stage `json:"last_completed_stage,omitempty"`

	// Resolved is the symmetry selected on Indexing. It is kept for all downstream stages.
	Resolved *SymmetryCandidate `json:"resolved_symmetry,omitempty"`

	// Candidates are all symmetry candidates of Indexing, best first.
	Candidates []SymmetryCandidate `json:"candidates,omitempty"`

	// Reports of completed stages.
	Reports map[Stage]StageReport `json:"reports,omitempty"`

	// Partial is the latest partial report of a failed attempt.
	Partial *StageReport `json:"partial_report,omitempty"`

	Failure *Failure `json:"failure,omitempty"`

	// CancelRequested is set when a cancel arrives during an engine invocation.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	// Presatisfied stages are completed without the engine when the job reaches them.
	Presatisfied map[Stage]Presatisfied `json:"presatisfied,omitempty"`

	Overrides []Override   `json:"overrides,omitempty"`
	History   []Transition `json:"history,omitempty"`
}

// NewPipelineState returns the Queued state of a job.
func NewPipelineState(d JobDescriptor) PipelineState {
	return PipelineState{
		JobId: d.JobId,
		Stage: Queued,
		Plan:  d.Plan(),
	}
}

// Clone returns a deep copy.
func (p PipelineState) Clone() PipelineState {
	c := p
	c.Plan = slices.Clone(p.Plan)
	c.Checkpoint = slices.Clone(p.Checkpoint)
	if p.Resolved != nil {
		r := *p.Resolved
		c.Resolved = &r
	}
	c.Candidates = slices.Clone(p.Candidates)
	if p.Reports != nil {
		c.Reports = make(map[Stage]StageReport, len(p.Reports))
		for k, v := range p.Reports {
			c.Reports[k] = v.Clone()
		}
	}
	if p.Partial != nil {
		pr := p.Partial.Clone()
		c.Partial = &pr
	}
	if p.Failure != nil {
		f := *p.Failure
		c.Failure = &f
	}
	if p.Presatisfied != nil {
		c.Presatisfied = make(map[Stage]Presatisfied, len(p.Presatisfied))
		for k, v := range p.Presatisfied {
			v.Checkpoint = slices.Clone(v.Checkpoint)
			c.Presatisfied[k] = v
		}
	}
	c.Overrides = slices.Clone(p.Overrides)
	c.History = slices.Clone(p.History)
	return c
}

// Completed reports whether stage s has been completed (by the engine or by a skip).
func (p PipelineState) Completed(s Stage) bool {
	if !p.Plan.Contains(s) {
		return false
	}
	if p.Stage == Done {
		return true
	}
	last := p.Plan.Position(p.LastCompleted)
	return 0 < last && p.Plan.Position(s) <= last
}

// Report is the final (or latest) report of a job, as returned to clients.
type Report struct {
	JobId         string                `json:"job_id"`
	Stage         Stage                 `json:"stage"`
	LastCompleted Stage                 `json:"last_completed_stage,omitempty"`
	Symmetry      *SymmetryCandidate    `json:"symmetry,omitempty"`
	Stages        map[Stage]StageReport `json:"stages,omitempty"`
	Partial       *StageReport          `json:"partial_report,omitempty"`
	Failure       *Failure              `json:"failure,omitempty"`
}

// Report summarizes the state.
func (p PipelineState) Report() Report {
	c := p.Clone()
	return Report{
		JobId:         c.JobId,
		Stage:         c.Stage,
		LastCompleted: c.LastCompleted,
		Symmetry:      c.Resolved,
		Stages:        c.Reports,
		Partial:       c.Partial,
		Failure:       c.Failure,
	}
}
