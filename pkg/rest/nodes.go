package rest

import (
	"context"
	"net/http"

	"github.com/cmcf/autoprocess/pkg/api/types"
	"github.com/cmcf/autoprocess/pkg/dispatch"
	"github.com/cmcf/autoprocess/pkg/domain"
)

// Assign assigns the job to the node.
func (c *Client) Assign(ctx context.Context, jobId string, nodeId string) (domain.Ticket, error) {
	return call[domain.Ticket](
		ctx, c, http.MethodPost, c.apipath("jobs", jobId, "assignment"),
		types.AssignRequest{NodeId: nodeId},
	)
}

// Claim assigns the oldest assignable job to the node.
//
// # Returns
//
// - error: domain.ErrNoJob when there are nothing to do.
func (c *Client) Claim(ctx context.Context, nodeId string) (domain.Ticket, error) {
	resp, err := c.do(ctx, http.MethodPost, c.apipath("nodes", nodeId, "claim"), nil)
	if err != nil {
		return domain.Ticket{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return domain.Ticket{}, domain.ErrNoJob
	}

	var t domain.Ticket
	if err := unmarshalJsonResponse(resp, &t); err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

// Report sends a stage result with the lease token.
func (c *Client) Report(ctx context.Context, jobId string, token string, result domain.StageResult) (dispatch.Applied, error) {
	return call[dispatch.Applied](
		ctx, c, http.MethodPost, c.apipath("jobs", jobId, "reports"), result, bearer(token),
	)
}

// Heartbeat extends the lease.
func (c *Client) Heartbeat(ctx context.Context, jobId string, token string) (domain.Heartbeat, error) {
	return call[domain.Heartbeat](
		ctx, c, http.MethodPost, c.apipath("jobs", jobId, "heartbeat"), nil, bearer(token),
	)
}

// Nodes lists registered nodes and their assignments.
func (c *Client) Nodes(ctx context.Context) ([]domain.NodeStatus, error) {
	return call[[]domain.NodeStatus](ctx, c, http.MethodGet, c.apipath("nodes"), nil)
}
