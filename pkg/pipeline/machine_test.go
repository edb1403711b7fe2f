package pipeline_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cmcf/autoprocess/pkg/cmp"
	"github.com/cmcf/autoprocess/pkg/domain"
	"github.com/cmcf/autoprocess/pkg/pipeline"
	"github.com/cmcf/autoprocess/pkg/symmetry"
)

var epoch = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func newMachine(maxAttempts int) *pipeline.Machine {
	return pipeline.New(
		maxAttempts, symmetry.New(symmetry.DefaultConfig()),
		pipeline.WithClock(func() time.Time { return epoch }),
	)
}

func mxDescriptor() domain.JobDescriptor {
	return domain.JobDescriptor{
		JobId:        "job-1",
		Kind:         domain.ProcessMX,
		DatasetPaths: []string{"/data/lyso_0001.cbf"},
		Options:      domain.DefaultOptions(),
	}
}

func candidates() []domain.SymmetryCandidate {
	return []domain.SymmetryCandidate{
		{Lattice: domain.Tetragonal, SpaceGroup: "P41212", MetricResidual: 0.1},
		{Lattice: domain.Orthorhombic, SpaceGroup: "P212121", MetricResidual: 0.2},
		{Lattice: domain.Triclinic, SpaceGroup: "P1", MetricResidual: 0.9},
	}
}

func checkpoint(s string) domain.Checkpoint {
	b, _ := json.Marshal(map[string]string{"after": s})
	return b
}

func success(st domain.PipelineState) domain.StageResult {
	r := domain.StageResult{
		Stage:      st.Stage,
		Attempt:    st.Attempts,
		Success:    true,
		Checkpoint: checkpoint(st.Stage.String()),
		Report:     &domain.StageReport{Summary: st.Stage.String() + " ok"},
	}
	if st.Stage == domain.Indexing {
		r.Report.Candidates = candidates()
	}
	return r
}

func failure(st domain.PipelineState) domain.StageResult {
	return domain.StageResult{
		Stage:   st.Stage,
		Attempt: st.Attempts,
		Failure: &domain.EngineFailure{
			Kind:     domain.EngineError,
			Message:  "segmentation fault",
			ExitCode: 139,
			Partial:  &domain.StageReport{Summary: "partial " + st.Stage.String()},
		},
	}
}

func mustApply(t *testing.T, m *pipeline.Machine, d domain.JobDescriptor, st *domain.PipelineState, r domain.StageResult, want pipeline.Outcome) {
	t.Helper()
	got, err := m.Apply(d, st, "node-1", r)
	if err != nil {
		t.Fatalf("Apply(%s#%d): unexpected error: %v", r.Stage, r.Attempt, err)
	}
	if got != want {
		t.Fatalf("Apply(%s#%d): outcome: (actual, expected) = (%s, %s)", r.Stage, r.Attempt, got, want)
	}
}

func started(t *testing.T, m *pipeline.Machine, d domain.JobDescriptor) domain.PipelineState {
	t.Helper()
	st := domain.NewPipelineState(d)
	if err := m.Start(&st, "node-1"); err != nil {
		t.Fatal(err)
	}
	return st
}

func TestMachine_RunsThroughThePlan(t *testing.T) {
	d := mxDescriptor()
	m := newMachine(3)
	st := started(t, m, d)

	if st.Stage != domain.Indexing {
		t.Fatalf("started at %s", st.Stage)
	}

	visited := []domain.Stage{}
	for !st.Stage.Terminal() {
		visited = append(visited, st.Stage)
		want := pipeline.Advanced
		if st.Stage == domain.Strategy {
			want = pipeline.Completed
		}
		mustApply(t, m, d, &st, success(st), want)
	}

	if !cmp.SliceEq(visited, domain.ProcessingStages()) {
		t.Errorf("visited stages: %v", visited)
	}
	if st.Stage != domain.Done {
		t.Errorf("final stage: %s", st.Stage)
	}
	if st.Resolved == nil || st.Resolved.SpaceGroup != "P41212" {
		t.Errorf("resolved symmetry: %+v", st.Resolved)
	}
	if len(st.Reports) != len(domain.ProcessingStages()) {
		t.Errorf("reports: %+v", st.Reports)
	}

	rep := st.Report()
	if rep.Symmetry == nil || rep.Symmetry.SpaceGroup != "P41212" {
		t.Errorf("report symmetry: %+v", rep.Symmetry)
	}
	if rep.Failure != nil {
		t.Errorf("report failure: %+v", rep.Failure)
	}
}

func TestMachine_AnalyseFrameNeedsNoSymmetry(t *testing.T) {
	d := mxDescriptor()
	d.Kind = domain.AnalyseFrame
	m := newMachine(3)
	st := started(t, m, d)

	mustApply(t, m, d, &st, domain.StageResult{
		Stage: domain.Indexing, Success: true,
		Report: &domain.StageReport{Summary: "spots found"},
	}, pipeline.Completed)

	if st.Resolved != nil {
		t.Errorf("resolved: %+v", st.Resolved)
	}
}

func TestMachine_DuplicateResultsAreIgnored(t *testing.T) {
	d := mxDescriptor()

	once := newMachine(3)
	stOnce := started(t, once, d)

	many := newMachine(3)
	stMany := started(t, many, d)

	for !stOnce.Stage.Terminal() {
		r := success(stOnce)
		want := pipeline.Advanced
		if stOnce.Stage == domain.Strategy {
			want = pipeline.Completed
		}
		mustApply(t, once, d, &stOnce, r, want)

		mustApply(t, many, d, &stMany, r, want)
		for range 3 {
			mustApply(t, many, d, &stMany, r, pipeline.Ignored)
		}
	}

	if stOnce.Stage != stMany.Stage || len(stOnce.History) != len(stMany.History) {
		t.Errorf(
			"states differ:\n- once: %s %d transitions\n- many: %s %d transitions",
			stOnce.Stage, len(stOnce.History), stMany.Stage, len(stMany.History),
		)
	}
	if !cmp.MapEqWith(stOnce.Reports, stMany.Reports, func(a, b domain.StageReport) bool {
		return a.Summary == b.Summary
	}) {
		t.Errorf("reports differ: %+v vs %+v", stOnce.Reports, stMany.Reports)
	}
}

func TestMachine_NoBackwardTransition(t *testing.T) {
	d := mxDescriptor()
	m := newMachine(3)
	st := started(t, m, d)

	indexed := success(st)
	mustApply(t, m, d, &st, indexed, pipeline.Advanced)
	mustApply(t, m, d, &st, success(st), pipeline.Advanced)

	if st.Stage != domain.Scaling {
		t.Fatalf("stage: %s", st.Stage)
	}

	// old result: ignored, stays at Scaling
	mustApply(t, m, d, &st, indexed, pipeline.Ignored)
	if st.Stage != domain.Scaling {
		t.Errorf("moved back to %s", st.Stage)
	}

	// result from ahead: rejected
	ahead := success(st)
	ahead.Stage = domain.Strategy
	if _, err := m.Apply(d, &st, "node-1", ahead); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("result from ahead: unexpected error: %v", err)
	}

	later := success(st)
	later.Attempt = 2
	if _, err := m.Apply(d, &st, "node-1", later); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("result of future attempt: unexpected error: %v", err)
	}

	for i := 1; i < len(st.History); i++ {
		prev, cur := st.History[i-1], st.History[i]
		if st.Plan.Position(cur.To) < st.Plan.Position(prev.To) {
			t.Errorf("history moved backward: %+v -> %+v", prev, cur)
		}
	}
}

func TestMachine_RetryThenSucceed(t *testing.T) {
	d := mxDescriptor()
	m := newMachine(3)
	st := started(t, m, d)
	mustApply(t, m, d, &st, success(st), pipeline.Advanced)

	beforeCheckpoint := string(st.Checkpoint)

	mustApply(t, m, d, &st, failure(st), pipeline.Retrying)
	if st.Stage != domain.Integration || st.Attempts != 1 {
		t.Fatalf("state after failure: %s #%d", st.Stage, st.Attempts)
	}
	if string(st.Checkpoint) != beforeCheckpoint {
		t.Errorf("checkpoint changed on failure: %s", st.Checkpoint)
	}
	if st.Partial == nil || st.Partial.Summary != "partial integration" {
		t.Errorf("partial: %+v", st.Partial)
	}

	// the same failure again is a duplicate
	dup := failure(st)
	dup.Attempt = 0
	mustApply(t, m, d, &st, dup, pipeline.Ignored)
	if st.Attempts != 1 {
		t.Errorf("attempts after duplicate: %d", st.Attempts)
	}

	mustApply(t, m, d, &st, success(st), pipeline.Advanced)
	if st.Stage != domain.Scaling || st.Attempts != 0 || st.Partial != nil {
		t.Errorf("state after success: %s #%d partial=%+v", st.Stage, st.Attempts, st.Partial)
	}
}

func TestMachine_RetryExhaustion(t *testing.T) {
	d := mxDescriptor()
	m := newMachine(2)
	st := started(t, m, d)
	mustApply(t, m, d, &st, success(st), pipeline.Advanced)

	mustApply(t, m, d, &st, failure(st), pipeline.Retrying)
	mustApply(t, m, d, &st, failure(st), pipeline.Failed)

	if st.Stage != domain.Failed {
		t.Fatalf("stage: %s", st.Stage)
	}
	if st.Failure == nil || st.Failure.Stage != domain.Integration || st.Failure.Kind != domain.EngineError {
		t.Errorf("failure: %+v", st.Failure)
	}

	rep := st.Report()
	if rep.LastCompleted != domain.Indexing {
		t.Errorf("last completed: %s", rep.LastCompleted)
	}
	if rep.Partial == nil || rep.Partial.Summary != "partial integration" {
		t.Errorf("partial: %+v", rep.Partial)
	}

	if outcome, err := m.Apply(d, &st, "node-1", success(st)); err != nil || outcome != pipeline.Ignored {
		t.Errorf("result for failed job: %s, %v", outcome, err)
	}
}

func TestMachine_NoViableSymmetry(t *testing.T) {
	d := mxDescriptor()
	m := newMachine(3)
	st := started(t, m, d)

	r := success(st)
	r.Report.Candidates = []domain.SymmetryCandidate{
		{Lattice: domain.Cubic, SpaceGroup: "P23", MetricResidual: 0.8},
		{Lattice: domain.Triclinic, SpaceGroup: "P1", MetricResidual: 0.7},
	}
	mustApply(t, m, d, &st, r, pipeline.Failed)

	if st.Failure == nil || st.Failure.Kind != domain.NoViableSymmetry || st.Failure.Stage != domain.Indexing {
		t.Fatalf("failure: %+v", st.Failure)
	}
	if len(st.Candidates) != 2 || st.Candidates[0].SpaceGroup != "P1" {
		t.Errorf("candidates: %+v", st.Candidates)
	}
	if st.Resolved != nil {
		t.Errorf("resolved: %+v", st.Resolved)
	}

	t.Run("operator can pick a candidate and resume", func(t *testing.T) {
		st := st.Clone()
		err := m.OverrideSymmetry(&st, pipeline.SymmetryOverride{
			SpaceGroup: "P23", Operator: "beamline-staff", Reason: "known crystal form",
		})
		if err != nil {
			t.Fatal(err)
		}
		if st.Stage != domain.Integration || st.Failure != nil {
			t.Errorf("state: %s failure=%+v", st.Stage, st.Failure)
		}
		if st.Resolved == nil || st.Resolved.SpaceGroup != "P23" {
			t.Errorf("resolved: %+v", st.Resolved)
		}
		if string(st.Checkpoint) != string(checkpoint("indexing")) {
			t.Errorf("checkpoint: %s", st.Checkpoint)
		}
		if len(st.Overrides) != 1 || st.Overrides[0].Kind != domain.OverrideSymmetry || st.Overrides[0].Selected != "P23" {
			t.Errorf("overrides: %+v", st.Overrides)
		}
	})
}

func TestMachine_HintSelectsSpaceGroup(t *testing.T) {
	d := mxDescriptor()
	d.SpaceGroupHint = "P212121"
	m := newMachine(3)
	st := started(t, m, d)

	mustApply(t, m, d, &st, success(st), pipeline.Advanced)
	if st.Resolved == nil || st.Resolved.SpaceGroup != "P212121" {
		t.Errorf("resolved: %+v", st.Resolved)
	}
}

func TestMachine_ResumeIsEquivalent(t *testing.T) {
	d := mxDescriptor()

	straight := newMachine(3)
	a := started(t, straight, d)
	for !a.Stage.Terminal() {
		r := success(a)
		if _, err := straight.Apply(d, &a, "node-1", r); err != nil {
			t.Fatal(err)
		}
	}

	resumed := newMachine(3)
	b := started(t, resumed, d)
	for !b.Stage.Terminal() {
		if b.Stage == domain.Integration {
			// lease lost, reassigned to another node from the persisted state
			persisted, err := json.Marshal(b)
			if err != nil {
				t.Fatal(err)
			}
			b = domain.PipelineState{}
			if err := json.Unmarshal(persisted, &b); err != nil {
				t.Fatal(err)
			}
			if err := resumed.Start(&b, "node-2"); err != nil {
				t.Fatal(err)
			}
			if b.Stage != domain.Integration {
				t.Fatalf("resumed at %s", b.Stage)
			}
			if string(b.Checkpoint) != string(checkpoint("indexing")) {
				t.Fatalf("resumed with checkpoint %s", b.Checkpoint)
			}
		}
		if _, err := resumed.Apply(d, &b, "node-2", success(b)); err != nil {
			t.Fatal(err)
		}
	}

	ra, rb := a.Report(), b.Report()
	if ra.Stage != rb.Stage || ra.LastCompleted != rb.LastCompleted {
		t.Errorf("stage differ: %+v vs %+v", ra, rb)
	}
	if ra.Symmetry.SpaceGroup != rb.Symmetry.SpaceGroup {
		t.Errorf("symmetry differ: %s vs %s", ra.Symmetry, rb.Symmetry)
	}
	if !cmp.MapEqWith(ra.Stages, rb.Stages, func(x, y domain.StageReport) bool {
		return x.Summary == y.Summary
	}) {
		t.Errorf("reports differ: %+v vs %+v", ra.Stages, rb.Stages)
	}
	if string(a.Checkpoint) != string(b.Checkpoint) {
		t.Errorf("checkpoint differ: %s vs %s", a.Checkpoint, b.Checkpoint)
	}
}

func TestMachine_Start(t *testing.T) {
	d := mxDescriptor()
	m := newMachine(3)

	st := domain.NewPipelineState(d)
	st.Stage = domain.Done
	if err := m.Start(&st, "node-1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("start Done: unexpected error: %v", err)
	}

	st = started(t, m, d)
	if len(st.History) != 1 || st.History[0].Event != domain.EventStart || st.History[0].NodeId != "node-1" {
		t.Errorf("history: %+v", st.History)
	}
	if !st.History[0].At.Equal(epoch) {
		t.Errorf("transition time: %s", st.History[0].At)
	}
}

func TestMachine_Cancel(t *testing.T) {
	d := mxDescriptor()
	m := newMachine(3)

	t.Run("not in flight: fails now", func(t *testing.T) {
		st := started(t, m, d)
		deferred, err := m.Cancel(&st, false)
		if err != nil || deferred {
			t.Fatalf("Cancel: %v, %v", deferred, err)
		}
		if st.Stage != domain.Failed || st.Failure.Kind != domain.Canceled || st.Failure.Stage != domain.Indexing {
			t.Errorf("state: %s %+v", st.Stage, st.Failure)
		}

		// again: nothing happens
		if deferred, err := m.Cancel(&st, false); err != nil || deferred {
			t.Errorf("Cancel again: %v, %v", deferred, err)
		}
	})

	t.Run("in flight: the next result is discarded", func(t *testing.T) {
		st := started(t, m, d)
		deferred, err := m.Cancel(&st, true)
		if err != nil || !deferred {
			t.Fatalf("Cancel: %v, %v", deferred, err)
		}
		if st.Stage != domain.Indexing || !st.CancelRequested {
			t.Fatalf("state: %s cancel=%v", st.Stage, st.CancelRequested)
		}

		mustApply(t, m, d, &st, success(st), pipeline.Discarded)
		if st.Stage != domain.Failed || st.Failure.Kind != domain.Canceled {
			t.Errorf("state: %s %+v", st.Stage, st.Failure)
		}
		if st.Resolved != nil || len(st.Reports) != 0 {
			t.Errorf("result was not discarded: %+v", st.Reports)
		}
	})

	t.Run("done job can not be canceled", func(t *testing.T) {
		d := d
		d.Kind = domain.AnalyseFrame
		st := started(t, m, d)
		mustApply(t, m, d, &st, success(st), pipeline.Completed)
		if _, err := m.Cancel(&st, false); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestMachine_Skip(t *testing.T) {
	d := mxDescriptor()
	m := newMachine(3)

	t.Run("skipping Indexing with a symmetry", func(t *testing.T) {
		st := started(t, m, d)
		sym := domain.SymmetryCandidate{Lattice: domain.Hexagonal, SpaceGroup: "P6122"}
		err := m.Skip(&st, pipeline.Skip{
			Stage: domain.Indexing, Operator: "op", Reason: "indexed offline",
			Checkpoint: checkpoint("offline"), Symmetry: &sym,
		})
		if err != nil {
			t.Fatal(err)
		}
		if st.Stage != domain.Integration || st.LastCompleted != domain.Indexing {
			t.Errorf("state: %s last=%s", st.Stage, st.LastCompleted)
		}
		if st.Resolved == nil || st.Resolved.SpaceGroup != "P6122" {
			t.Errorf("resolved: %+v", st.Resolved)
		}
		if string(st.Checkpoint) != string(checkpoint("offline")) {
			t.Errorf("checkpoint: %s", st.Checkpoint)
		}
		if len(st.Overrides) != 1 || st.Overrides[0].Kind != domain.OverrideSkip {
			t.Errorf("overrides: %+v", st.Overrides)
		}
		last := st.History[len(st.History)-1]
		if last.Event != domain.EventSkip {
			t.Errorf("last transition: %+v", last)
		}
	})

	t.Run("skipping Indexing of a queued job", func(t *testing.T) {
		st := domain.NewPipelineState(d)
		err := m.Skip(&st, pipeline.Skip{
			Stage: domain.Indexing, Operator: "op", Reason: "reuse previous indexing",
			Checkpoint: checkpoint("previous"),
			Symmetry:   &domain.SymmetryCandidate{Lattice: domain.Tetragonal, SpaceGroup: "P41212"},
		})
		if err != nil {
			t.Fatal(err)
		}
		if st.Stage != domain.Integration || st.LastCompleted != domain.Indexing {
			t.Errorf("state: %s last=%s", st.Stage, st.LastCompleted)
		}
		if len(st.History) != 2 || st.History[0].Event != domain.EventStart || st.History[1].Event != domain.EventSkip {
			t.Errorf("history: %+v", st.History)
		}

		// a node resumes it at Integration
		if err := m.Start(&st, "node-1"); err != nil || st.Stage != domain.Integration {
			t.Errorf("start: %s, %v", st.Stage, err)
		}
	})

	t.Run("a stage ahead is completed when the job reaches it", func(t *testing.T) {
		st := started(t, m, d)
		err := m.Skip(&st, pipeline.Skip{
			Stage: domain.Scaling, Operator: "op", Reason: "scaled offline",
			Checkpoint: checkpoint("offline scaling"),
		})
		if err != nil {
			t.Fatal(err)
		}
		if st.Stage != domain.Indexing || len(st.Overrides) != 1 {
			t.Fatalf("skipping ahead should not move the job: %s %+v", st.Stage, st.Overrides)
		}

		mustApply(t, m, d, &st, success(st), pipeline.Advanced)
		if st.Stage != domain.Integration {
			t.Fatalf("stage: %s", st.Stage)
		}
		mustApply(t, m, d, &st, success(st), pipeline.Advanced)
		if st.Stage != domain.Merging || st.LastCompleted != domain.Scaling {
			t.Errorf("scaling should be skipped: %s last=%s", st.Stage, st.LastCompleted)
		}
		if string(st.Checkpoint) != string(checkpoint("offline scaling")) {
			t.Errorf("checkpoint: %s", st.Checkpoint)
		}
		if st.Presatisfied != nil {
			t.Errorf("presatisfied: %+v", st.Presatisfied)
		}

		// a late result of the skipped stage is a duplicate.
		late := success(st)
		late.Stage = domain.Scaling
		mustApply(t, m, d, &st, late, pipeline.Ignored)
	})

	t.Run("skipping every remaining stage completes the job", func(t *testing.T) {
		st := started(t, m, d)
		for _, s := range []domain.Stage{domain.Merging, domain.Strategy, domain.Scaling, domain.Integration} {
			if err := m.Skip(&st, pipeline.Skip{Stage: s, Operator: "op", Reason: "r"}); err != nil {
				t.Fatal(err)
			}
		}
		mustApply(t, m, d, &st, success(st), pipeline.Completed)
		if st.Stage != domain.Done || st.LastCompleted != domain.Strategy {
			t.Errorf("state: %s last=%s", st.Stage, st.LastCompleted)
		}
	})

	for name, req := range map[string]pipeline.Skip{
		"not a stage of the plan": {Stage: domain.Done, Operator: "op", Reason: "r"},
		"completed stage":         {Stage: domain.Indexing, Operator: "op", Reason: "r"},
		"skipped twice":           {Stage: domain.Merging, Operator: "op", Reason: "r"},
		"without operator":        {Stage: domain.Indexing, Reason: "r"},
		"without reason":          {Stage: domain.Indexing, Operator: "op"},
		"symmetry on other stage": {
			Stage: domain.Scaling, Operator: "op", Reason: "r",
			Symmetry: &domain.SymmetryCandidate{SpaceGroup: "P1"},
		},
	} {
		t.Run(name, func(t *testing.T) {
			st := started(t, m, d)
			switch name {
			case "completed stage":
				mustApply(t, m, d, &st, success(st), pipeline.Advanced)
			case "skipped twice":
				if err := m.Skip(&st, pipeline.Skip{Stage: domain.Merging, Operator: "op", Reason: "first"}); err != nil {
					t.Fatal(err)
				}
			}
			before := st.Clone()
			if err := m.Skip(&st, req); !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
			}
			if st.Stage != before.Stage || len(st.Overrides) != len(before.Overrides) {
				t.Errorf("state changed: %s -> %s, overrides %d -> %d",
					before.Stage, st.Stage, len(before.Overrides), len(st.Overrides))
			}
		})
	}
}

func TestMachine_Retry(t *testing.T) {
	d := mxDescriptor()
	m := newMachine(1)
	st := started(t, m, d)
	mustApply(t, m, d, &st, success(st), pipeline.Advanced)
	mustApply(t, m, d, &st, failure(st), pipeline.Failed)

	if err := m.Retry(&st, pipeline.Retry{Operator: "op"}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("retry without reason: %v", err)
	}

	if err := m.Retry(&st, pipeline.Retry{Operator: "op", Reason: "fixed mount"}); err != nil {
		t.Fatal(err)
	}
	if st.Stage != domain.Integration || st.Attempts != 0 || st.Failure != nil {
		t.Errorf("state: %s #%d %+v", st.Stage, st.Attempts, st.Failure)
	}
	if string(st.Checkpoint) != string(checkpoint("indexing")) {
		t.Errorf("checkpoint: %s", st.Checkpoint)
	}
	if len(st.Overrides) != 1 || st.Overrides[0].Kind != domain.OverrideRetry {
		t.Errorf("overrides: %+v", st.Overrides)
	}

	if err := m.Retry(&st, pipeline.Retry{Operator: "op", Reason: "again"}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("retry active job: %v", err)
	}
}

func TestMachine_OverrideSymmetry(t *testing.T) {
	d := mxDescriptor()
	m := newMachine(3)
	st := started(t, m, d)

	req := pipeline.SymmetryOverride{SpaceGroup: "P212121", Operator: "op", Reason: "twinning"}
	if err := m.OverrideSymmetry(&st, req); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("override before indexing: %v", err)
	}

	mustApply(t, m, d, &st, success(st), pipeline.Advanced)

	if err := m.OverrideSymmetry(&st, pipeline.SymmetryOverride{
		SpaceGroup: "C2", Operator: "op", Reason: "r",
	}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("override with unknown candidate: %v", err)
	}

	if err := m.OverrideSymmetry(&st, req); err != nil {
		t.Fatal(err)
	}
	if st.Stage != domain.Integration {
		t.Errorf("stage: %s", st.Stage)
	}
	if st.Resolved.SpaceGroup != "P212121" {
		t.Errorf("resolved: %+v", st.Resolved)
	}
	ov := st.Overrides[len(st.Overrides)-1]
	if ov.Previous != "P41212" || ov.Selected != "P212121" || ov.Operator != "op" {
		t.Errorf("override: %+v", ov)
	}
}
