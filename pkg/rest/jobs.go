package rest

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/cmcf/autoprocess/pkg/api/types"
	"github.com/cmcf/autoprocess/pkg/domain"
	"github.com/cmcf/autoprocess/pkg/pipeline"
	"github.com/cmcf/autoprocess/pkg/utils"
)

// Submit registers a new job.
//
// # Returns
//
// - domain.Job: the queued job. Its id is generated when d has no id.
//
// - error: it unwraps to *domain.ValidationError or domain.ErrDuplicateJob when the server refuses.
func (c *Client) Submit(ctx context.Context, d domain.JobDescriptor) (domain.Job, error) {
	return call[domain.Job](ctx, c, http.MethodPost, c.apipath("jobs"), d)
}

// Status gets a snapshot of the job.
func (c *Client) Status(ctx context.Context, jobId string) (domain.Job, error) {
	return call[domain.Job](ctx, c, http.MethodGet, c.apipath("jobs", jobId), nil)
}

// List lists jobs in submission order.
func (c *Client) List(ctx context.Context, q domain.JobQuery) ([]domain.Job, error) {
	options := []requestOption{}
	if len(q.Stages) != 0 {
		options = append(options, query(
			"stage", strings.Join(utils.Map(q.Stages, domain.Stage.String), ","),
		))
	}
	if q.Limit != 0 {
		options = append(options, query("limit", strconv.Itoa(q.Limit)))
	}
	return call[[]domain.Job](ctx, c, http.MethodGet, c.apipath("jobs"), nil, options...)
}

// Cancel requests cancellation of the job.
//
// # Returns
//
// - domain.Job: the job after the request.
//
// - bool: true when cancellation is deferred until the running stage is reported.
//
// - error
func (c *Client) Cancel(ctx context.Context, jobId string) (domain.Job, bool, error) {
	res, err := call[types.CancelResult](ctx, c, http.MethodPut, c.apipath("jobs", jobId, "cancel"), nil)
	if err != nil {
		return domain.Job{}, false, err
	}
	return res.Job, res.Deferred, nil
}

// Retry re-enters the failed stage of the job.
func (c *Client) Retry(ctx context.Context, jobId string, req pipeline.Retry) (domain.Job, error) {
	return call[domain.Job](ctx, c, http.MethodPut, c.apipath("jobs", jobId, "retry"), req)
}

// Skip completes the current stage of the job without the engine.
func (c *Client) Skip(ctx context.Context, jobId string, req pipeline.Skip) (domain.Job, error) {
	return call[domain.Job](ctx, c, http.MethodPut, c.apipath("jobs", jobId, "skip"), req)
}

// OverrideSymmetry replaces the resolved symmetry of the job.
func (c *Client) OverrideSymmetry(ctx context.Context, jobId string, req pipeline.SymmetryOverride) (domain.Job, error) {
	return call[domain.Job](ctx, c, http.MethodPut, c.apipath("jobs", jobId, "symmetry"), req)
}
