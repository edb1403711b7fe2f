package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	apierr "github.com/cmcf/autoprocess/pkg/api/errors"
	apitypes "github.com/cmcf/autoprocess/pkg/api/types"
	"github.com/cmcf/autoprocess/pkg/dispatch"
	"github.com/cmcf/autoprocess/pkg/domain"
	"github.com/cmcf/autoprocess/pkg/utils/echoutil"
)

// NodeService is the node-facing part of *dispatch.Service.
type NodeService interface {
	Assign(ctx context.Context, jobId string, nodeId string) (domain.Ticket, error)
	Claim(ctx context.Context, nodeId string) (domain.Ticket, error)
	Report(ctx context.Context, jobId string, token string, result domain.StageResult) (dispatch.Applied, error)
	Heartbeat(ctx context.Context, jobId string, token string) (domain.Heartbeat, error)
	Nodes(ctx context.Context) ([]domain.NodeStatus, error)
}

func AssignHandler(svc NodeService, paramJobId string) echo.HandlerFunc {
	return func(c echo.Context) error {
		req, err := bind[apitypes.AssignRequest](c)
		if err != nil {
			return err
		}
		if req.NodeId == "" {
			return apierr.BadRequest(`"node_id" is required`, nil)
		}
		ticket, err := svc.Assign(c.Request().Context(), c.Param(paramJobId), req.NodeId)
		if err != nil {
			return apierr.FromError(err)
		}
		return c.JSON(http.StatusCreated, ticket)
	}
}

// ClaimHandler assigns the oldest waiting job to the node.
//
// It responds 204 No Content when no jobs are waiting.
func ClaimHandler(svc NodeService, paramNodeId string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ticket, err := svc.Claim(c.Request().Context(), c.Param(paramNodeId))
		if errors.Is(err, domain.ErrNoJob) {
			return c.NoContent(http.StatusNoContent)
		}
		if err != nil {
			return apierr.FromError(err)
		}
		return c.JSON(http.StatusCreated, ticket)
	}
}

func leaseToken(c echo.Context) (string, error) {
	token, ok := echoutil.BearerToken(c)
	if !ok {
		return "", apierr.Unauthorized("lease token is required", nil)
	}
	return token, nil
}

func ReportHandler(svc NodeService, paramJobId string) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, err := leaseToken(c)
		if err != nil {
			return err
		}
		result, err := bind[domain.StageResult](c)
		if err != nil {
			return err
		}
		applied, err := svc.Report(c.Request().Context(), c.Param(paramJobId), token, result)
		if err != nil {
			return apierr.FromError(err)
		}
		return c.JSON(http.StatusOK, applied)
	}
}

func HeartbeatHandler(svc NodeService, paramJobId string) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, err := leaseToken(c)
		if err != nil {
			return err
		}
		hb, err := svc.Heartbeat(c.Request().Context(), c.Param(paramJobId), token)
		if err != nil {
			return apierr.FromError(err)
		}
		return c.JSON(http.StatusOK, hb)
	}
}

func NodesHandler(svc NodeService) echo.HandlerFunc {
	return func(c echo.Context) error {
		nodes, err := svc.Nodes(c.Request().Context())
		if err != nil {
			return apierr.FromError(err)
		}
		return c.JSON(http.StatusOK, nodes)
	}
}
