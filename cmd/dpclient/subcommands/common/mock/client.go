package mock

import (
	"context"
	"sync"

	"github.com/cmcf/autoprocess/cmd/dpclient/subcommands/common"
	"github.com/cmcf/autoprocess/pkg/domain"
)

type Client struct {
	mu sync.Mutex

	Impl struct {
		Submit func(ctx context.Context, d domain.JobDescriptor) (domain.Job, error)
		Status func(ctx context.Context, jobId string) (domain.Job, error)
		Cancel func(ctx context.Context, jobId string) (domain.Job, bool, error)
	}

	Calls struct {
		Submit []domain.JobDescriptor
		Status []string
		Cancel []string
	}
}

var _ common.Client = &Client{}

func New() *Client {
	return &Client{}
}

func (m *Client) Submit(ctx context.Context, d domain.JobDescriptor) (domain.Job, error) {
	m.mu.Lock()
	m.Calls.Submit = append(m.Calls.Submit, d)
	m.mu.Unlock()
	if m.Impl.Submit == nil {
		panic("it should not be called")
	}
	return m.Impl.Submit(ctx, d)
}

func (m *Client) Status(ctx context.Context, jobId string) (domain.Job, error) {
	m.mu.Lock()
	m.Calls.Status = append(m.Calls.Status, jobId)
	m.mu.Unlock()
	if m.Impl.Status == nil {
		panic("it should not be called")
	}
	return m.Impl.Status(ctx, jobId)
}

func (m *Client) Cancel(ctx context.Context, jobId string) (domain.Job, bool, error) {
	m.mu.Lock()
	m.Calls.Cancel = append(m.Calls.Cancel, jobId)
	m.mu.Unlock()
	if m.Impl.Cancel == nil {
		panic("it should not be called")
	}
	return m.Impl.Cancel(ctx, jobId)
}
