// Package memory is an in-process job registry.
//
// Jobs are held as encoded JSON so that no caller shares memory with the registry.
package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cmcf/autoprocess/pkg/db"
	"github.com/cmcf/autoprocess/pkg/domain"
	xe "github.com/cmcf/autoprocess/pkg/errors"
)

type record struct {
	seq  uint64
	body []byte
}

type memoryDB struct {
	jobs *jobs
}

// New creates an empty registry.
func New() db.Database {
	return &memoryDB{jobs: &jobs{records: map[string]record{}}}
}

func (m *memoryDB) Jobs() db.JobInterface {
	return m.jobs
}

func (m *memoryDB) Close() error {
	return nil
}

type jobs struct {
	mu      sync.Mutex
	seq     uint64
	records map[string]record
}

var _ db.JobInterface = &jobs{}

func (j *jobs) load(jobId string) (domain.Job, error) {
	r, ok := j.records[jobId]
	if !ok {
		return domain.Job{}, db.Missing{Table: "jobs", Identity: jobId}
	}
	var job domain.Job
	if err := json.Unmarshal(r.body, &job); err != nil {
		return domain.Job{}, xe.Wrap(err)
	}
	return job, nil
}

func (j *jobs) store(job domain.Job, seq uint64) error {
	body, err := json.Marshal(job)
	if err != nil {
		return xe.Wrap(err)
	}
	j.records[job.Id()] = record{seq: seq, body: body}
	return nil
}

// sorted returns job ids in submission order.
func (j *jobs) sorted() []string {
	ids := make([]string, 0, len(j.records))
	for id := range j.records {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return cmp.Compare(j.records[a].seq, j.records[b].seq)
	})
	return ids
}

func (j *jobs) active(nodeId string) (int, error) {
	n := 0
	for id := range j.records {
		job, err := j.load(id)
		if err != nil {
			return 0, err
		}
		if job.Assignment != nil && job.Assignment.NodeId == nodeId {
			n += 1
		}
	}
	return n, nil
}

func (j *jobs) New(ctx context.Context, job domain.Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if old, err := j.load(job.Id()); err == nil && !old.State.Stage.Terminal() {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateJob, job.Id())
	}
	j.seq += 1
	return j.store(job, j.seq)
}

func (j *jobs) Get(ctx context.Context, jobId string) (domain.Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.load(jobId)
}

func (j *jobs) List(ctx context.Context, query domain.JobQuery) ([]domain.Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ret := []domain.Job{}
	for _, id := range j.sorted() {
		job, err := j.load(id)
		if err != nil {
			return nil, err
		}
		if len(query.Stages) != 0 && !slices.Contains(query.Stages, job.State.Stage) {
			continue
		}
		ret = append(ret, job)
		if 0 < query.Limit && query.Limit <= len(ret) {
			break
		}
	}
	return ret, nil
}

func (j *jobs) mutate(job domain.Job, mutation db.Mutation) (domain.Job, error) {
	if err := mutation(&job); err != nil {
		return domain.Job{}, err
	}
	if err := j.store(job, j.records[job.Id()].seq); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

func (j *jobs) Update(ctx context.Context, jobId string, mutation db.Mutation) (domain.Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	job, err := j.load(jobId)
	if err != nil {
		return domain.Job{}, err
	}
	return j.mutate(job, mutation)
}

func (j *jobs) assign(job domain.Job, node domain.Node, mutation db.Mutation) (domain.Job, error) {
	active, err := j.active(node.Id)
	if err != nil {
		return domain.Job{}, err
	}
	if err := db.CheckAssignable(job, node, active); err != nil {
		return domain.Job{}, err
	}
	return j.mutate(job, func(job *domain.Job) error {
		if err := mutation(job); err != nil {
			return err
		}
		return db.CheckAssigned(*job, node)
	})
}

func (j *jobs) Assign(ctx context.Context, jobId string, node domain.Node, mutation db.Mutation) (domain.Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	job, err := j.load(jobId)
	if err != nil {
		return domain.Job{}, err
	}
	return j.assign(job, node, mutation)
}

func (j *jobs) Claim(ctx context.Context, node domain.Node, mutation db.Mutation) (domain.Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	active, err := j.active(node.Id)
	if err != nil {
		return domain.Job{}, err
	}
	if err := db.CheckCapacity(node, active); err != nil {
		return domain.Job{}, err
	}

	for _, id := range j.sorted() {
		job, err := j.load(id)
		if err != nil {
			return domain.Job{}, err
		}
		if !job.Assignable() {
			continue
		}
		return j.assign(job, node, mutation)
	}
	return domain.Job{}, domain.ErrNoJob
}

func (j *jobs) Expired(ctx context.Context, now time.Time) ([]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ret := []string{}
	for _, id := range j.sorted() {
		job, err := j.load(id)
		if err != nil {
			return nil, err
		}
		if job.Assignment != nil && job.Assignment.Expired(now) {
			ret = append(ret, id)
		}
	}
	return ret, nil
}

func (j *jobs) Assignments(ctx context.Context) (map[string][]domain.NodeAssignment, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ret := map[string][]domain.NodeAssignment{}
	for _, id := range j.sorted() {
		job, err := j.load(id)
		if err != nil {
			return nil, err
		}
		if a := job.Assignment; a != nil {
			ret[a.NodeId] = append(ret[a.NodeId], *a)
		}
	}
	return ret, nil
}
