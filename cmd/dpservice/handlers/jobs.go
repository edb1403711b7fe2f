package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	apierr "github.com/cmcf/autoprocess/pkg/api/errors"
	apitypes "github.com/cmcf/autoprocess/pkg/api/types"
	"github.com/cmcf/autoprocess/pkg/domain"
	"github.com/cmcf/autoprocess/pkg/pipeline"
)

// JobService is the job-facing part of *dispatch.Service.
type JobService interface {
	Submit(ctx context.Context, d domain.JobDescriptor) (domain.Job, error)
	Status(ctx context.Context, jobId string) (domain.Job, error)
	List(ctx context.Context, query domain.JobQuery) ([]domain.Job, error)
	Cancel(ctx context.Context, jobId string) (domain.Job, bool, error)
	Retry(ctx context.Context, jobId string, req pipeline.Retry) (domain.Job, error)
	Skip(ctx context.Context, jobId string, req pipeline.Skip) (domain.Job, error)
	OverrideSymmetry(ctx context.Context, jobId string, req pipeline.SymmetryOverride) (domain.Job, error)
}

// bind decodes a JSON request body strictly.
func bind[T any](c echo.Context) (T, error) {
	var v T
	dec := json.NewDecoder(c.Request().Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		if verr := new(domain.ValidationError); errors.As(err, &verr) {
			return v, apierr.Invalid(verr)
		}
		return v, apierr.BadRequest("request body should be a JSON object of the API", err)
	}
	return v, nil
}

func SubmitHandler(svc JobService) echo.HandlerFunc {
	return func(c echo.Context) error {
		d, err := bind[domain.JobDescriptor](c)
		if err != nil {
			return err
		}
		job, err := svc.Submit(c.Request().Context(), d)
		if err != nil {
			return apierr.FromError(err)
		}
		return c.JSON(http.StatusCreated, job)
	}
}

// ListHandler lists jobs.
//
// Query "stage" filters by stages, comma separated. Query "limit" limits the count.
func ListHandler(svc JobService) echo.HandlerFunc {
	return func(c echo.Context) error {
		query := domain.JobQuery{}
		if s := c.QueryParam("stage"); s != "" {
			for _, name := range strings.Split(s, ",") {
				st, err := domain.AsStage(strings.TrimSpace(name))
				if err != nil {
					return apierr.BadRequest(
						`"stage" should be comma separated stages like "queued,indexing,failed"`, err,
					)
				}
				query.Stages = append(query.Stages, st)
			}
		}
		if l := c.QueryParam("limit"); l != "" {
			limit, err := strconv.Atoi(l)
			if err != nil || limit < 0 {
				return apierr.BadRequest(`"limit" should be a non-negative integer`, err)
			}
			query.Limit = limit
		}

		jobs, err := svc.List(c.Request().Context(), query)
		if err != nil {
			return apierr.FromError(err)
		}
		if jobs == nil {
			jobs = []domain.Job{}
		}
		return c.JSON(http.StatusOK, jobs)
	}
}

func StatusHandler(svc JobService, paramJobId string) echo.HandlerFunc {
	return func(c echo.Context) error {
		job, err := svc.Status(c.Request().Context(), c.Param(paramJobId))
		if err != nil {
			return apierr.FromError(err)
		}
		return c.JSON(http.StatusOK, job)
	}
}

func CancelHandler(svc JobService, paramJobId string) echo.HandlerFunc {
	return func(c echo.Context) error {
		job, deferred, err := svc.Cancel(c.Request().Context(), c.Param(paramJobId))
		if err != nil {
			return apierr.FromError(err)
		}
		status := http.StatusOK
		if deferred {
			status = http.StatusAccepted
		}
		return c.JSON(status, apitypes.CancelResult{Job: job, Deferred: deferred})
	}
}

// operatorHandler builds a handler of an operator request with body R.
func operatorHandler[R any](
	paramJobId string,
	apply func(ctx context.Context, jobId string, req R) (domain.Job, error),
) echo.HandlerFunc {
	return func(c echo.Context) error {
		req, err := bind[R](c)
		if err != nil {
			return err
		}
		job, err := apply(c.Request().Context(), c.Param(paramJobId), req)
		if err != nil {
			return apierr.FromError(err)
		}
		return c.JSON(http.StatusOK, job)
	}
}

func RetryHandler(svc JobService, paramJobId string) echo.HandlerFunc {
	return operatorHandler(paramJobId, svc.Retry)
}

func SkipHandler(svc JobService, paramJobId string) echo.HandlerFunc {
	return operatorHandler(paramJobId, svc.Skip)
}

func SymmetryHandler(svc JobService, paramJobId string) echo.HandlerFunc {
	return operatorHandler(paramJobId, svc.OverrideSymmetry)
}
