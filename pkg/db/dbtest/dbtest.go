// Package dbtest is a conformance suite of db.JobInterface implementations.
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cmcf/autoprocess/pkg/cmp"
	"github.com/cmcf/autoprocess/pkg/db"
	"github.com/cmcf/autoprocess/pkg/domain"
)

// Opener provides an empty database for a test.
type Opener func(t *testing.T) db.Database

var epoch = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

// NewJob returns a Queued job submitted at epoch + n seconds.
func NewJob(id string, n int) domain.Job {
	d := domain.JobDescriptor{
		JobId:        id,
		Kind:         domain.ProcessMX,
		DatasetPaths: []string{"/data/" + id + "/lyso_0001.cbf"},
		FrameRange:   &domain.FrameRange{First: 1, Last: 90},
		Options:      domain.DefaultOptions(),
	}
	at := epoch.Add(time.Duration(n) * time.Second)
	return domain.Job{
		Descriptor: d,
		State:      domain.NewPipelineState(d),
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

func assignTo(node domain.Node, leaseId string, expiry time.Time) db.Mutation {
	return func(job *domain.Job) error {
		job.Assignment = &domain.NodeAssignment{
			JobId:       job.Id(),
			NodeId:      node.Id,
			LeaseId:     leaseId,
			LeaseExpiry: expiry,
			AssignedAt:  epoch,
		}
		if job.State.Stage == domain.Queued {
			job.State.Stage = job.State.Plan.First()
		}
		return nil
	}
}

func ids(jobs []domain.Job) []string {
	ret := make([]string, len(jobs))
	for i, j := range jobs {
		ret[i] = j.Id()
	}
	return ret
}

func mustNew(t *testing.T, jobs db.JobInterface, job domain.Job) {
	t.Helper()
	if err := jobs.New(context.Background(), job); err != nil {
		t.Fatalf("New(%s): %v", job.Id(), err)
	}
}

func terminate(stage domain.Stage) db.Mutation {
	return func(job *domain.Job) error {
		job.State.Stage = stage
		job.Assignment = nil
		return nil
	}
}

// Run runs the suite.
func Run(t *testing.T, open Opener) {
	ctx := context.Background()

	t.Run("New and Get", func(t *testing.T) {
		jobs := open(t).Jobs()
		job := NewJob("job-1", 0)
		job.State.Candidates = []domain.SymmetryCandidate{
			{Lattice: domain.Tetragonal, SpaceGroup: "P41212", UnitCell: domain.UnitCell{78, 78, 37, 90, 90, 90}, MetricResidual: 0.1},
		}
		job.Artifacts = map[domain.Stage]string{domain.Indexing: "/work/job-1/01-indexing/attempt-0"}
		mustNew(t, jobs, job)

		got, err := jobs.Get(ctx, "job-1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Id() != "job-1" || got.Descriptor.Kind != domain.ProcessMX || *got.Descriptor.FrameRange != *job.Descriptor.FrameRange {
			t.Errorf("descriptor: %+v", got.Descriptor)
		}
		if !got.Descriptor.Options.Chiral {
			t.Errorf("options: %+v", got.Descriptor.Options)
		}
		if got.State.Stage != domain.Queued || !cmp.SliceEq(got.State.Plan, job.State.Plan) {
			t.Errorf("state: %+v", got.State)
		}
		if len(got.State.Candidates) != 1 || got.State.Candidates[0].UnitCell != job.State.Candidates[0].UnitCell {
			t.Errorf("candidates: %+v", got.State.Candidates)
		}
		if !cmp.MapEq(got.Artifacts, job.Artifacts) {
			t.Errorf("artifacts: %+v", got.Artifacts)
		}
		if !got.CreatedAt.Equal(job.CreatedAt) || got.Assignment != nil {
			t.Errorf("record: created=%s assignment=%+v", got.CreatedAt, got.Assignment)
		}
	})

	t.Run("Get missing", func(t *testing.T) {
		jobs := open(t).Jobs()
		_, err := jobs.Get(ctx, "nothing")
		if !errors.Is(err, db.ErrMissing) {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("New rejects an active duplicate and replaces a terminal one", func(t *testing.T) {
		jobs := open(t).Jobs()
		mustNew(t, jobs, NewJob("job-1", 0))
		mustNew(t, jobs, NewJob("job-2", 1))

		if err := jobs.New(ctx, NewJob("job-1", 2)); !errors.Is(err, domain.ErrDuplicateJob) {
			t.Fatalf("duplicate: unexpected error: %v", err)
		}

		if _, err := jobs.Update(ctx, "job-1", terminate(domain.Failed)); err != nil {
			t.Fatal(err)
		}
		mustNew(t, jobs, NewJob("job-1", 3))

		got, err := jobs.Get(ctx, "job-1")
		if err != nil {
			t.Fatal(err)
		}
		if got.State.Stage != domain.Queued {
			t.Errorf("resubmitted job: %s", got.State.Stage)
		}

		all, err := jobs.List(ctx, domain.JobQuery{})
		if err != nil {
			t.Fatal(err)
		}
		if want := []string{"job-2", "job-1"}; !cmp.SliceEq(ids(all), want) {
			t.Errorf("order: (actual, expected) = (%v, %v)", ids(all), want)
		}
	})

	t.Run("List", func(t *testing.T) {
		jobs := open(t).Jobs()
		for i, id := range []string{"a", "b", "c", "d"} {
			mustNew(t, jobs, NewJob(id, i))
		}
		if _, err := jobs.Update(ctx, "b", terminate(domain.Done)); err != nil {
			t.Fatal(err)
		}
		if _, err := jobs.Update(ctx, "d", terminate(domain.Failed)); err != nil {
			t.Fatal(err)
		}

		for name, testcase := range map[string]struct {
			query domain.JobQuery
			want  []string
		}{
			"all":       {query: domain.JobQuery{}, want: []string{"a", "b", "c", "d"}},
			"queued":    {query: domain.JobQuery{Stages: []domain.Stage{domain.Queued}}, want: []string{"a", "c"}},
			"terminals": {query: domain.JobQuery{Stages: []domain.Stage{domain.Done, domain.Failed}}, want: []string{"b", "d"}},
			"limited":   {query: domain.JobQuery{Limit: 3}, want: []string{"a", "b", "c"}},
			"nothing":   {query: domain.JobQuery{Stages: []domain.Stage{domain.Merging}}, want: []string{}},
		} {
			t.Run(name, func(t *testing.T) {
				got, err := jobs.List(ctx, testcase.query)
				if err != nil {
					t.Fatal(err)
				}
				if !cmp.SliceEq(ids(got), testcase.want) {
					t.Errorf("(actual, expected) = (%v, %v)", ids(got), testcase.want)
				}
			})
		}
	})

	t.Run("Update", func(t *testing.T) {
		jobs := open(t).Jobs()
		mustNew(t, jobs, NewJob("job-1", 0))

		got, err := jobs.Update(ctx, "job-1", func(job *domain.Job) error {
			job.State.Stage = domain.Integration
			job.State.Checkpoint = []byte(`{"spots":1200}`)
			job.UpdatedAt = epoch.Add(time.Hour)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if got.State.Stage != domain.Integration {
			t.Errorf("returned: %s", got.State.Stage)
		}

		stored, err := jobs.Get(ctx, "job-1")
		if err != nil {
			t.Fatal(err)
		}
		if stored.State.Stage != domain.Integration || string(stored.State.Checkpoint) != `{"spots":1200}` {
			t.Errorf("stored: %s %s", stored.State.Stage, stored.State.Checkpoint)
		}
		if !stored.UpdatedAt.Equal(epoch.Add(time.Hour)) {
			t.Errorf("updated at: %s", stored.UpdatedAt)
		}

		boom := errors.New("boom")
		if _, err := jobs.Update(ctx, "job-1", func(job *domain.Job) error {
			job.State.Stage = domain.Done
			return boom
		}); !errors.Is(err, boom) {
			t.Errorf("unexpected error: %v", err)
		}
		stored, err = jobs.Get(ctx, "job-1")
		if err != nil {
			t.Fatal(err)
		}
		if stored.State.Stage != domain.Integration {
			t.Errorf("failed mutation was persisted: %s", stored.State.Stage)
		}

		if _, err := jobs.Update(ctx, "nothing", terminate(domain.Done)); !errors.Is(err, db.ErrMissing) {
			t.Errorf("missing: unexpected error: %v", err)
		}
	})

	t.Run("Assign", func(t *testing.T) {
		jobs := open(t).Jobs()
		node := domain.Node{Id: "node-1", Capacity: 2}
		for i, id := range []string{"a", "b", "c", "done"} {
			mustNew(t, jobs, NewJob(id, i))
		}
		if _, err := jobs.Update(ctx, "done", terminate(domain.Done)); err != nil {
			t.Fatal(err)
		}
		expiry := epoch.Add(time.Minute)

		got, err := jobs.Assign(ctx, "a", node, assignTo(node, "lease-a", expiry))
		if err != nil {
			t.Fatal(err)
		}
		if got.Assignment == nil || got.Assignment.LeaseId != "lease-a" || got.State.Stage != domain.Indexing {
			t.Errorf("assigned: %+v %s", got.Assignment, got.State.Stage)
		}
		stored, err := jobs.Get(ctx, "a")
		if err != nil {
			t.Fatal(err)
		}
		if stored.Assignment == nil || stored.Assignment.NodeId != "node-1" || !stored.Assignment.LeaseExpiry.Equal(expiry) {
			t.Errorf("stored assignment: %+v", stored.Assignment)
		}

		other := domain.Node{Id: "node-2", Capacity: 1}
		if _, err := jobs.Assign(ctx, "a", other, assignTo(other, "lease-x", expiry)); !errors.Is(err, domain.ErrAlreadyAssigned) {
			t.Errorf("already assigned: unexpected error: %v", err)
		}
		if _, err := jobs.Assign(ctx, "done", other, assignTo(other, "lease-x", expiry)); !errors.Is(err, domain.ErrNotAssignable) {
			t.Errorf("terminal: unexpected error: %v", err)
		}
		if _, err := jobs.Assign(ctx, "nothing", other, assignTo(other, "lease-x", expiry)); !errors.Is(err, db.ErrMissing) {
			t.Errorf("missing: unexpected error: %v", err)
		}
		if _, err := jobs.Assign(ctx, "b", other, func(*domain.Job) error { return nil }); err == nil {
			t.Errorf("mutation without assignment: expected error")
		}

		if _, err := jobs.Assign(ctx, "b", node, assignTo(node, "lease-b", expiry)); err != nil {
			t.Fatal(err)
		}
		if _, err := jobs.Assign(ctx, "c", node, assignTo(node, "lease-c", expiry)); !errors.Is(err, domain.ErrNodeBusy) {
			t.Errorf("busy: unexpected error: %v", err)
		}

		// releasing frees capacity
		if _, err := jobs.Update(ctx, "a", func(job *domain.Job) error {
			job.Assignment = nil
			return nil
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := jobs.Assign(ctx, "c", node, assignTo(node, "lease-c", expiry)); err != nil {
			t.Errorf("after release: %v", err)
		}

		assignments, err := jobs.Assignments(ctx)
		if err != nil {
			t.Fatal(err)
		}
		leases := []string{}
		for _, a := range assignments["node-1"] {
			leases = append(leases, a.LeaseId)
		}
		if !cmp.SliceEq(leases, []string{"lease-b", "lease-c"}) || len(assignments) != 1 {
			t.Errorf("assignments: %+v", assignments)
		}
	})

	t.Run("concurrent Assign of a job: exactly one wins", func(t *testing.T) {
		jobs := open(t).Jobs()
		mustNew(t, jobs, NewJob("job-1", 0))

		const contenders = 8
		errs := make([]error, contenders)
		wg := new(sync.WaitGroup)
		start := make(chan struct{})
		for i := range contenders {
			wg.Add(1)
			go func() {
				defer wg.Done()
				node := domain.Node{Id: fmt.Sprintf("node-%d", i), Capacity: 1}
				<-start
				_, errs[i] = jobs.Assign(ctx, "job-1", node, assignTo(node, fmt.Sprintf("lease-%d", i), epoch.Add(time.Minute)))
			}()
		}
		close(start)
		wg.Wait()

		won := 0
		for i, err := range errs {
			switch {
			case err == nil:
				won += 1
			case errors.Is(err, domain.ErrAlreadyAssigned):
			default:
				t.Errorf("contender %d: unexpected error: %v", i, err)
			}
		}
		if won != 1 {
			t.Errorf("winners: %d", won)
		}
	})

	t.Run("Claim", func(t *testing.T) {
		jobs := open(t).Jobs()
		node := domain.Node{Id: "node-1", Capacity: 2}
		expiry := epoch.Add(time.Minute)

		if _, err := jobs.Claim(ctx, node, assignTo(node, "l0", expiry)); !errors.Is(err, domain.ErrNoJob) {
			t.Errorf("empty: unexpected error: %v", err)
		}

		for i, id := range []string{"done", "a", "b", "c"} {
			mustNew(t, jobs, NewJob(id, i))
		}
		if _, err := jobs.Update(ctx, "done", terminate(domain.Done)); err != nil {
			t.Fatal(err)
		}

		got, err := jobs.Claim(ctx, node, assignTo(node, "l1", expiry))
		if err != nil {
			t.Fatal(err)
		}
		if got.Id() != "a" {
			t.Errorf("claimed %s, expected a", got.Id())
		}
		got, err = jobs.Claim(ctx, node, assignTo(node, "l2", expiry))
		if err != nil {
			t.Fatal(err)
		}
		if got.Id() != "b" {
			t.Errorf("claimed %s, expected b", got.Id())
		}
		if _, err := jobs.Claim(ctx, node, assignTo(node, "l3", expiry)); !errors.Is(err, domain.ErrNodeBusy) {
			t.Errorf("busy: unexpected error: %v", err)
		}

		other := domain.Node{Id: "node-2", Capacity: 5}
		got, err = jobs.Claim(ctx, other, assignTo(other, "l4", expiry))
		if err != nil {
			t.Fatal(err)
		}
		if got.Id() != "c" {
			t.Errorf("claimed %s, expected c", got.Id())
		}
		if _, err := jobs.Claim(ctx, other, assignTo(other, "l5", expiry)); !errors.Is(err, domain.ErrNoJob) {
			t.Errorf("drained: unexpected error: %v", err)
		}
	})

	t.Run("concurrent Claim never assigns a job twice", func(t *testing.T) {
		jobs := open(t).Jobs()
		for i := range 3 {
			mustNew(t, jobs, NewJob(fmt.Sprintf("job-%d", i), i))
		}

		const nodes = 6
		claimed := make([]string, nodes)
		errs := make([]error, nodes)
		wg := new(sync.WaitGroup)
		start := make(chan struct{})
		for i := range nodes {
			wg.Add(1)
			go func() {
				defer wg.Done()
				node := domain.Node{Id: fmt.Sprintf("node-%d", i), Capacity: 1}
				<-start
				job, err := jobs.Claim(ctx, node, assignTo(node, fmt.Sprintf("lease-%d", i), epoch.Add(time.Minute)))
				claimed[i], errs[i] = job.Id(), err
			}()
		}
		close(start)
		wg.Wait()

		seen := map[string]int{}
		for i, err := range errs {
			switch {
			case err == nil:
				seen[claimed[i]] += 1
			case errors.Is(err, domain.ErrNoJob):
			default:
				t.Errorf("node %d: unexpected error: %v", i, err)
			}
		}
		if len(seen) != 3 {
			t.Errorf("claimed jobs: %v", seen)
		}
		for id, n := range seen {
			if n != 1 {
				t.Errorf("%s is claimed %d times", id, n)
			}
		}
	})

	t.Run("Expired", func(t *testing.T) {
		jobs := open(t).Jobs()
		node := domain.Node{Id: "node-1", Capacity: 3}
		for i, id := range []string{"a", "b", "c"} {
			mustNew(t, jobs, NewJob(id, i))
		}
		if _, err := jobs.Assign(ctx, "a", node, assignTo(node, "la", epoch.Add(time.Minute))); err != nil {
			t.Fatal(err)
		}
		if _, err := jobs.Assign(ctx, "b", node, assignTo(node, "lb", epoch.Add(time.Hour))); err != nil {
			t.Fatal(err)
		}

		for name, testcase := range map[string]struct {
			now  time.Time
			want []string
		}{
			"before any expiry": {now: epoch, want: []string{}},
			"at expiry":         {now: epoch.Add(time.Minute), want: []string{"a"}},
			"after all":         {now: epoch.Add(2 * time.Hour), want: []string{"a", "b"}},
		} {
			t.Run(name, func(t *testing.T) {
				got, err := jobs.Expired(ctx, testcase.now)
				if err != nil {
					t.Fatal(err)
				}
				if !cmp.SliceEq(got, testcase.want) {
					t.Errorf("(actual, expected) = (%v, %v)", got, testcase.want)
				}
			})
		}
	})
}
