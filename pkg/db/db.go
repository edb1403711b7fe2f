// Package db is the job registry: durable job records and node assignments.
//
// Implementations live in subpackages (memory, sqlite, postgres).
// All of them share the semantics documented on JobInterface.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cmcf/autoprocess/pkg/domain"
)

var (
	// ErrMissing is returned when a requested record is not found.
	ErrMissing = domain.ErrMissing
)

// Missing is an error for a record not found.
type Missing struct {
	Table    string
	Identity string
}

var _ error = Missing{}

func (m Missing) Error() string {
	return fmt.Sprintf("%s is not found in %s", m.Identity, m.Table)
}

func (m Missing) Unwrap() error {
	return ErrMissing
}

// Mutation changes a job in an atomic section.
//
// When it returns an error, nothing is persisted and the error is returned as it is.
// Assignment of the job is persisted as it is left by the mutation:
// setting nil releases the assignment, and a new value replaces it.
type Mutation func(job *domain.Job) error

type Database interface {
	Jobs() JobInterface
	Close() error
}

type JobInterface interface {
	// New persists a new job.
	//
	// # Returns
	//
	// - error: domain.ErrDuplicateJob if an active (not terminal) job has the same id.
	// A terminal job with the same id is replaced.
	New(ctx context.Context, job domain.Job) error

	// Get returns a snapshot of a job.
	//
	// # Returns
	//
	// - error: Missing (ErrMissing) if there are no such job.
	Get(ctx context.Context, jobId string) (domain.Job, error)

	// List returns jobs in submission order.
	List(ctx context.Context, query domain.JobQuery) ([]domain.Job, error)

	// Update runs mutation in the atomic section of the job and persists the result.
	//
	// # Returns
	//
	// - domain.Job: the persisted job.
	//
	// - error: Missing if there are no such job, or an error from mutation.
	Update(ctx context.Context, jobId string, mutation Mutation) (domain.Job, error)

	// Assign runs mutation in the atomic section of the job and the node.
	//
	// Before mutation, it checks that
	//
	// - the job exists (Missing),
	//
	// - the job is not terminal (domain.ErrNotAssignable),
	//
	// - the job has no assignment (domain.ErrAlreadyAssigned), and
	//
	// - the node has less assignments than its capacity (domain.ErrNodeBusy).
	//
	// mutation should set an assignment to the node.
	Assign(ctx context.Context, jobId string, node domain.Node, mutation Mutation) (domain.Job, error)

	// Claim picks the oldest assignable job and runs mutation as Assign does.
	//
	// # Returns
	//
	// - error: domain.ErrNoJob if there are no assignable jobs, or domain.ErrNodeBusy.
	Claim(ctx context.Context, node domain.Node, mutation Mutation) (domain.Job, error)

	// Expired returns ids of jobs whose lease is expired at now.
	//
	// Callers release them with Update, checking expiry again in the atomic section.
	Expired(ctx context.Context, now time.Time) ([]string, error)

	// Assignments returns active assignments, grouped by node id.
	Assignments(ctx context.Context) (map[string][]domain.NodeAssignment, error)
}

// CheckAssignable returns an error when job can not be assigned to node
// which already has active assignments.
func CheckAssignable(job domain.Job, node domain.Node, active int) error {
	switch {
	case job.State.Stage.Terminal():
		return fmt.Errorf("%w: job %s is %s", domain.ErrNotAssignable, job.Id(), job.State.Stage)
	case job.Assignment != nil:
		return fmt.Errorf("%w: job %s is assigned to %s", domain.ErrAlreadyAssigned, job.Id(), job.Assignment.NodeId)
	}
	return CheckCapacity(node, active)
}

// CheckCapacity returns domain.ErrNodeBusy when node is full.
func CheckCapacity(node domain.Node, active int) error {
	if node.Capacity <= active {
		return fmt.Errorf("%w: node %s runs %d of %d", domain.ErrNodeBusy, node.Id, active, node.Capacity)
	}
	return nil
}

// CheckAssigned returns an error when mutation of Assign left the job without an assignment to node.
func CheckAssigned(job domain.Job, node domain.Node) error {
	if job.Assignment == nil || job.Assignment.NodeId != node.Id {
		return errors.New("assignment is not set")
	}
	return nil
}
