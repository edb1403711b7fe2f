// Package pipeline implements the stage transitions of a job.
//
// A Machine mutates a domain.PipelineState in place. It never touches storage;
// callers load a state, apply transitions in their atomic section and persist it.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/cmcf/autoprocess/pkg/domain"
	"github.com/cmcf/autoprocess/pkg/symmetry"
)

// Outcome is what Apply did with a stage result.
type Outcome string

const (
	// Ignored results are duplicates or stale. The state is not changed.
	Ignored Outcome = "ignored"

	// Advanced to the next stage.
	Advanced Outcome = "advanced"

	// Completed every stage. The job is Done.
	Completed Outcome = "completed"

	// Retrying the same stage.
	Retrying Outcome = "retrying"

	// Failed terminally.
	Failed Outcome = "failed"

	// Discarded the result because the job is canceled. The job is Failed.
	Discarded Outcome = "discarded"
)

// Releases reports whether the assignment of the job should be released.
func (o Outcome) Releases() bool {
	switch o {
	case Completed, Failed, Discarded:
		return true
	}
	return false
}

type Machine struct {
	maxAttempts int
	resolver    *symmetry.Resolver
	now         func() time.Time
}

type Option func(*Machine) *Machine

// WithClock replaces the clock recording transition times.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) *Machine {
		m.now = now
		return m
	}
}

// New creates a Machine.
//
// maxAttempts is the number of engine attempts at a stage before the job fails.
func New(maxAttempts int, resolver *symmetry.Resolver, options ...Option) *Machine {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	m := &Machine{maxAttempts: maxAttempts, resolver: resolver, now: time.Now}
	for _, opt := range options {
		m = opt(m)
	}
	return m
}

func (m *Machine) MaxAttempts() int {
	return m.maxAttempts
}

func (m *Machine) record(st *domain.PipelineState, from domain.Stage, event domain.TransitionEvent, nodeId, note string) {
	st.History = append(st.History, domain.Transition{
		From:    from,
		To:      st.Stage,
		Attempt: st.Attempts,
		Event:   event,
		At:      m.now(),
		NodeId:  nodeId,
		Note:    note,
	})
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidTransition, fmt.Sprintf(format, args...))
}

// Start begins processing on a node.
//
// A Queued job enters the first stage of its plan.
// A job already in a stage resumes it, keeping the checkpoint and attempt count.
func (m *Machine) Start(st *domain.PipelineState, nodeId string) error {
	switch {
	case st.Stage == domain.Queued:
		st.Stage = st.Plan.First()
		m.record(st, domain.Queued, domain.EventStart, nodeId, "")
		return nil
	case st.Stage.Terminal():
		return invalid("%s job can not be started", st.Stage)
	default:
		m.record(st, st.Stage, domain.EventResume, nodeId, "")
		return nil
	}
}

// Apply applies a stage result reported by nodeId.
//
// Duplicate or stale results are Ignored.
// A result for a stage which is not the current one and not completed yet is ErrInvalidTransition.
func (m *Machine) Apply(d domain.JobDescriptor, st *domain.PipelineState, nodeId string, r domain.StageResult) (Outcome, error) {
	if st.Stage.Terminal() {
		return Ignored, nil
	}

	if r.Stage != st.Stage {
		if st.Completed(r.Stage) {
			return Ignored, nil
		}
		return Ignored, invalid("result of %s arrived while the job is at %s", r.Stage, st.Stage)
	}

	switch {
	case r.Attempt < st.Attempts:
		return Ignored, nil
	case st.Attempts < r.Attempt:
		return Ignored, invalid("result of %s attempt %d arrived before attempt %d", r.Stage, r.Attempt, st.Attempts)
	}

	if st.CancelRequested {
		m.fail(st, domain.Failure{Kind: domain.Canceled, Stage: st.Stage, Message: "canceled during engine invocation"}, domain.EventCancel, nodeId)
		return Discarded, nil
	}

	if r.Success {
		return m.advance(d, st, nodeId, r)
	}
	return m.retryOrFail(st, nodeId, r), nil
}

func (m *Machine) advance(d domain.JobDescriptor, st *domain.PipelineState, nodeId string, r domain.StageResult) (Outcome, error) {
	report := domain.StageReport{}
	if r.Report != nil {
		report = r.Report.Clone()
	}

	if r.Stage == domain.Indexing && st.Resolved == nil && (d.NeedsSymmetry() || len(report.Candidates) != 0) {
		res, err := m.resolver.Resolve(report.Candidates, d.Options, d.SpaceGroupHint)
		st.Candidates = res.Candidates
		if err != nil {
			var nv *symmetry.NoViableSymmetry
			if !errors.As(err, &nv) {
				return Ignored, err
			}
			st.Partial = &report
			if len(r.Checkpoint) != 0 {
				st.Checkpoint = r.Checkpoint
			}
			m.fail(st, domain.Failure{Kind: domain.NoViableSymmetry, Stage: r.Stage, Message: err.Error()}, domain.EventFail, nodeId)
			return Failed, nil
		}
		selected := res.Selected
		st.Resolved = &selected
	}

	m.complete(st, report, r.Checkpoint, domain.EventAdvance, nodeId, "")
	if st.Stage == domain.Done {
		return Completed, nil
	}
	return Advanced, nil
}

// complete marks the current stage completed and moves to the next one.
func (m *Machine) complete(st *domain.PipelineState, report domain.StageReport, checkpoint domain.Checkpoint, event domain.TransitionEvent, nodeId, note string) {
	from := st.Stage
	next, err := st.Plan.Next(from)
	if err != nil {
		// the current stage is always in the plan.
		panic(err)
	}

	if st.Reports == nil {
		st.Reports = map[domain.Stage]domain.StageReport{}
	}
	st.Reports[from] = report
	if len(checkpoint) != 0 {
		st.Checkpoint = checkpoint
	}
	st.LastCompleted = from
	st.Attempts = 0
	st.Partial = nil
	st.Stage = next
	m.record(st, from, event, nodeId, note)

	if p, ok := st.Presatisfied[next]; ok {
		delete(st.Presatisfied, next)
		if len(st.Presatisfied) == 0 {
			st.Presatisfied = nil
		}
		m.complete(st, skipped(p.Operator, p.Reason), p.Checkpoint, domain.EventSkip, "", p.Reason)
	}
}

func (m *Machine) retryOrFail(st *domain.PipelineState, nodeId string, r domain.StageResult) Outcome {
	failure := r.Failure
	if failure == nil {
		failure = &domain.EngineFailure{Kind: domain.EngineError, Message: "failed without details"}
	}
	if failure.Partial != nil {
		p := failure.Partial.Clone()
		st.Partial = &p
	}

	st.Attempts += 1
	if st.Attempts < m.maxAttempts {
		m.record(st, st.Stage, domain.EventRetry, nodeId, failure.Error())
		return Retrying
	}

	m.fail(st, domain.Failure{Kind: failure.Kind, Stage: st.Stage, Message: failure.Error()}, domain.EventFail, nodeId)
	return Failed
}

func (m *Machine) fail(st *domain.PipelineState, f domain.Failure, event domain.TransitionEvent, nodeId string) {
	from := st.Stage
	st.Stage = domain.Failed
	st.Failure = &f
	st.CancelRequested = false
	m.record(st, from, event, nodeId, f.Message)
}

// Skip is an operator request to mark a stage of the plan as pre-satisfied.
type Skip struct {
	Stage    domain.Stage `json:"stage"`
	Operator string       `json:"operator"`
	Reason   string       `json:"reason"`

	// Checkpoint to start the next stage with. Optional.
	Checkpoint domain.Checkpoint `json:"checkpoint,omitempty"`

	// Symmetry to be used downstream, when Indexing is skipped. Optional.
	Symmetry *domain.SymmetryCandidate `json:"symmetry,omitempty"`
}

// Skip records a synthetic completion of a stage without the engine.
//
// The current stage, or the first stage of a Queued job, is completed at once.
// A stage ahead of the current one is kept as presatisfied and completed when
// the job reaches it. Either way, the Override is recorded now.
//
// Callers must not skip the current stage while the engine is running it.
func (m *Machine) Skip(st *domain.PipelineState, req Skip) error {
	if req.Operator == "" || req.Reason == "" {
		return invalid("skip needs operator and reason")
	}
	if st.Stage.Terminal() {
		return invalid("stages of %s job can not be skipped", st.Stage)
	}
	if !st.Plan.Contains(req.Stage) {
		return invalid("%s is not in the plan %v", req.Stage, st.Plan)
	}
	if st.Completed(req.Stage) {
		return invalid("%s is already completed", req.Stage)
	}
	if _, ok := st.Presatisfied[req.Stage]; ok {
		return invalid("%s is already marked to be skipped", req.Stage)
	}
	if st.CancelRequested {
		return invalid("job is being canceled")
	}
	if req.Symmetry != nil && req.Stage != domain.Indexing {
		return invalid("symmetry can be given only on skipping %s", domain.Indexing)
	}

	atOnce := st.Stage == req.Stage || (st.Stage == domain.Queued && req.Stage == st.Plan.First())

	ov := domain.Override{
		Kind:     domain.OverrideSkip,
		Stage:    req.Stage,
		Operator: req.Operator,
		Reason:   req.Reason,
		At:       m.now(),
	}
	if req.Symmetry != nil {
		sym := *req.Symmetry
		if st.Resolved != nil {
			ov.Previous = st.Resolved.SpaceGroup
		}
		ov.Selected = sym.SpaceGroup
		st.Resolved = &sym
		if _, ok := symmetry.Select(st.Candidates, sym.SpaceGroup); !ok {
			st.Candidates = append(st.Candidates, sym)
		}
	}
	st.Overrides = append(st.Overrides, ov)

	if !atOnce {
		if st.Presatisfied == nil {
			st.Presatisfied = map[domain.Stage]domain.Presatisfied{}
		}
		st.Presatisfied[req.Stage] = domain.Presatisfied{
			Operator:   req.Operator,
			Reason:     req.Reason,
			Checkpoint: req.Checkpoint,
		}
		return nil
	}

	if st.Stage == domain.Queued {
		st.Stage = req.Stage
		m.record(st, domain.Queued, domain.EventStart, "", "skip: "+req.Reason)
	}
	m.complete(
		st, skipped(req.Operator, req.Reason),
		req.Checkpoint, domain.EventSkip, "", req.Reason,
	)
	return nil
}

func skipped(operator, reason string) domain.StageReport {
	return domain.StageReport{Summary: "skipped by " + operator + ": " + reason}
}

// Cancel cancels the job.
//
// When inFlight, an engine invocation is running for the current stage.
// Then cancellation is deferred (returns true) and recorded when its result arrives.
//
// Canceling a job already failed by cancellation does nothing.
func (m *Machine) Cancel(st *domain.PipelineState, inFlight bool) (deferred bool, err error) {
	if st.Stage.Terminal() {
		if st.Stage == domain.Failed && st.Failure != nil && st.Failure.Kind == domain.Canceled {
			return false, nil
		}
		return false, invalid("%s job can not be canceled", st.Stage)
	}

	if inFlight {
		st.CancelRequested = true
		return true, nil
	}

	m.fail(st, domain.Failure{Kind: domain.Canceled, Stage: st.Stage, Message: "canceled"}, domain.EventCancel, "")
	return false, nil
}

// Retry is an operator request to re-enter the stage where a failed job stopped.
type Retry struct {
	Operator string `json:"operator"`
	Reason   string `json:"reason"`
}

// Retry re-enters the failed stage, with attempts reset and the last checkpoint.
func (m *Machine) Retry(st *domain.PipelineState, req Retry) error {
	if req.Operator == "" || req.Reason == "" {
		return invalid("retry needs operator and reason")
	}
	if st.Stage != domain.Failed || st.Failure == nil {
		return invalid("%s job can not be retried", st.Stage)
	}
	target := st.Failure.Stage
	if target == domain.Queued {
		target = st.Plan.First()
	}
	if !st.Plan.Contains(target) {
		return invalid("failed stage %s is not in the plan", target)
	}

	st.Overrides = append(st.Overrides, domain.Override{
		Kind:     domain.OverrideRetry,
		Stage:    target,
		Operator: req.Operator,
		Reason:   req.Reason,
		At:       m.now(),
	})
	st.Stage = target
	st.Attempts = 0
	st.Failure = nil
	m.record(st, domain.Failed, domain.EventResume, "", req.Reason)
	return nil
}

// SymmetryOverride is an operator request to select another symmetry candidate.
type SymmetryOverride struct {
	SpaceGroup string `json:"space_group"`
	Operator   string `json:"operator"`
	Reason     string `json:"reason"`
}

// OverrideSymmetry replaces the resolved symmetry with a retained candidate.
//
// It is allowed for active jobs which have a resolved symmetry,
// and for jobs failed with no viable symmetry. The latter resume
// at the stage after Indexing with the selected candidate.
func (m *Machine) OverrideSymmetry(st *domain.PipelineState, req SymmetryOverride) error {
	if req.Operator == "" || req.Reason == "" {
		return invalid("symmetry override needs operator and reason")
	}

	noViable := st.Stage == domain.Failed && st.Failure != nil && st.Failure.Kind == domain.NoViableSymmetry
	switch {
	case noViable:
	case st.Stage.Terminal():
		return invalid("symmetry of %s job can not be changed", st.Stage)
	case st.Resolved == nil:
		return invalid("symmetry is not resolved yet")
	}

	selected, ok := symmetry.Select(st.Candidates, req.SpaceGroup)
	if !ok {
		return invalid("%s is not a candidate", req.SpaceGroup)
	}

	ov := domain.Override{
		Kind:     domain.OverrideSymmetry,
		Stage:    domain.Indexing,
		Operator: req.Operator,
		Reason:   req.Reason,
		At:       m.now(),
		Selected: selected.SpaceGroup,
	}
	if st.Resolved != nil {
		ov.Previous = st.Resolved.SpaceGroup
	}
	st.Overrides = append(st.Overrides, ov)
	st.Resolved = &selected

	if noViable {
		report := domain.StageReport{}
		if st.Partial != nil {
			report = *st.Partial
		}
		st.Stage = domain.Indexing
		st.Failure = nil
		m.complete(st, report, nil, domain.EventResume, "", "symmetry override: "+req.Reason)
	}
	return nil
}
