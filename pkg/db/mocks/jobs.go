package mocks

import (
	"context"
	"errors"
	"time"

	"github.com/cmcf/autoprocess/pkg/db"
	"github.com/cmcf/autoprocess/pkg/domain"
)

type JobInterface struct {
	Impl struct {
		New         func(ctx context.Context, job domain.Job) error
		Get         func(ctx context.Context, jobId string) (domain.Job, error)
		List        func(ctx context.Context, query domain.JobQuery) ([]domain.Job, error)
		Update      func(ctx context.Context, jobId string, mutation db.Mutation) (domain.Job, error)
		Assign      func(ctx context.Context, jobId string, node domain.Node, mutation db.Mutation) (domain.Job, error)
		Claim       func(ctx context.Context, node domain.Node, mutation db.Mutation) (domain.Job, error)
		Expired     func(ctx context.Context, now time.Time) ([]string, error)
		Assignments func(ctx context.Context) (map[string][]domain.NodeAssignment, error)
	}
	Calls struct {
		New    CallLog[domain.Job]
		Get    CallLog[string]
		List   CallLog[domain.JobQuery]
		Update CallLog[string]
		Assign CallLog[struct {
			JobId string
			Node  domain.Node
		}]
		Claim       CallLog[domain.Node]
		Expired     CallLog[time.Time]
		Assignments CallLog[struct{}]
	}
}

func NewJobInterface() *JobInterface {
	return &JobInterface{}
}

var _ db.JobInterface = &JobInterface{}

func (m *JobInterface) New(ctx context.Context, job domain.Job) error {
	m.Calls.New = append(m.Calls.New, job)
	if m.Impl.New != nil {
		return m.Impl.New(ctx, job)
	}
	panic(errors.New("it should not be called"))
}

func (m *JobInterface) Get(ctx context.Context, jobId string) (domain.Job, error) {
	m.Calls.Get = append(m.Calls.Get, jobId)
	if m.Impl.Get != nil {
		return m.Impl.Get(ctx, jobId)
	}
	panic(errors.New("it should not be called"))
}

func (m *JobInterface) List(ctx context.Context, query domain.JobQuery) ([]domain.Job, error) {
	m.Calls.List = append(m.Calls.List, query)
	if m.Impl.List != nil {
		return m.Impl.List(ctx, query)
	}
	panic(errors.New("it should not be called"))
}

func (m *JobInterface) Update(ctx context.Context, jobId string, mutation db.Mutation) (domain.Job, error) {
	m.Calls.Update = append(m.Calls.Update, jobId)
	if m.Impl.Update != nil {
		return m.Impl.Update(ctx, jobId, mutation)
	}
	panic(errors.New("it should not be called"))
}

func (m *JobInterface) Assign(ctx context.Context, jobId string, node domain.Node, mutation db.Mutation) (domain.Job, error) {
	m.Calls.Assign = append(m.Calls.Assign, struct {
		JobId string
		Node  domain.Node
	}{JobId: jobId, Node: node})
	if m.Impl.Assign != nil {
		return m.Impl.Assign(ctx, jobId, node, mutation)
	}
	panic(errors.New("it should not be called"))
}

func (m *JobInterface) Claim(ctx context.Context, node domain.Node, mutation db.Mutation) (domain.Job, error) {
	m.Calls.Claim = append(m.Calls.Claim, node)
	if m.Impl.Claim != nil {
		return m.Impl.Claim(ctx, node, mutation)
	}
	panic(errors.New("it should not be called"))
}

func (m *JobInterface) Expired(ctx context.Context, now time.Time) ([]string, error) {
	m.Calls.Expired = append(m.Calls.Expired, now)
	if m.Impl.Expired != nil {
		return m.Impl.Expired(ctx, now)
	}
	panic(errors.New("it should not be called"))
}

func (m *JobInterface) Assignments(ctx context.Context) (map[string][]domain.NodeAssignment, error) {
	m.Calls.Assignments = append(m.Calls.Assignments, struct{}{})
	if m.Impl.Assignments != nil {
		return m.Impl.Assignments(ctx)
	}
	panic(errors.New("it should not be called"))
}

type Database struct {
	Impl struct {
		Jobs  func() db.JobInterface
		Close func() error
	}
}

var _ db.Database = &Database{}

func (m *Database) Jobs() db.JobInterface {
	if m.Impl.Jobs != nil {
		return m.Impl.Jobs()
	}
	panic(errors.New("it should not be called"))
}

func (m *Database) Close() error {
	if m.Impl.Close != nil {
		return m.Impl.Close()
	}
	return nil
}
