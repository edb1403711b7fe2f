// Package client submits processing requests to dpservice and waits for their results.
//
// The client holds no job state. Everything it knows is asked to the service.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/cmcf/autoprocess/pkg/domain"
	"github.com/cmcf/autoprocess/pkg/utils/retry"
)

// Service is the job-facing part of dpservice. *rest.Client implements this.
type Service interface {
	Submit(ctx context.Context, d domain.JobDescriptor) (domain.Job, error)
	Status(ctx context.Context, jobId string) (domain.Job, error)
}

// Request is a processing request other than its kind and datasets.
type Request struct {
	// JobId of the new job. When empty, the service generates one.
	JobId string

	FrameRange      *domain.FrameRange
	ResolutionRange *domain.ResolutionRange
	SpaceGroupHint  string

	// Options of processing. When nil, domain.DefaultOptions is used.
	Options *domain.Options

	// Wait makes the call block until the job reaches a terminal stage.
	Wait bool
}

// Result is the outcome of a processing request.
type Result struct {
	// Job is the latest snapshot. It is Queued when the request does not wait.
	Job domain.Job

	// Report is the report of the last stage of the plan, when the job is done.
	Report *domain.StageReport
}

// JobFailure is the error of a job terminated without success.
type JobFailure struct {
	JobId   string
	Failure domain.Failure

	// LastCompleted is the last stage which succeeded. It is empty when no stages succeeded.
	LastCompleted domain.Stage

	// Partial is the latest partial report, if any.
	Partial *domain.StageReport

	// Candidates are symmetry candidates found on Indexing.
	Candidates []domain.SymmetryCandidate
}

func (f *JobFailure) Error() string {
	last := string(f.LastCompleted)
	if last == "" {
		last = "(none)"
	}
	return fmt.Sprintf("job %s failed: %s (last completed stage: %s)", f.JobId, f.Failure, last)
}

// Unwrap returns the sentinel of the failure kind.
func (f *JobFailure) Unwrap() error {
	switch f.Failure.Kind {
	case domain.NoViableSymmetry:
		return domain.ErrNoViableSymmetry
	case domain.Canceled:
		return domain.ErrCanceled
	default:
		return domain.ErrEngineFailure
	}
}

type Client struct {
	svc      Service
	backoff  func() retry.Backoff
	progress func(domain.Job)
}

type Option func(*Client) *Client

// WithPollBackoff sets the backoff between status polls while waiting.
func WithPollBackoff(b func() retry.Backoff) Option {
	return func(c *Client) *Client {
		c.backoff = b
		return c
	}
}

// WithProgress sets a function which receives every snapshot polled while waiting.
func WithProgress(f func(domain.Job)) Option {
	return func(c *Client) *Client {
		c.progress = f
		return c
	}
}

// New creates a Client.
//
// By default, it polls every 1s at first, and backs off up to 30s.
func New(svc Service, options ...Option) *Client {
	c := &Client{
		svc: svc,
		backoff: func() retry.Backoff {
			return retry.ExponentialBackoff(time.Second, 1.5, 30*time.Second)
		},
		progress: func(domain.Job) {},
	}
	for _, opt := range options {
		c = opt(c)
	}
	return c
}

// AnalyseFrame requests analysis of a single frame.
func (c *Client) AnalyseFrame(ctx context.Context, framePath string, req Request) (Result, error) {
	return c.submit(ctx, domain.AnalyseFrame, []string{framePath}, req)
}

// ProcessMX requests macromolecular processing of datasets.
func (c *Client) ProcessMX(ctx context.Context, datasetPaths []string, req Request) (Result, error) {
	return c.submit(ctx, domain.ProcessMX, datasetPaths, req)
}

// ProcessXRD requests powder diffraction processing of datasets.
func (c *Client) ProcessXRD(ctx context.Context, datasetPaths []string, req Request) (Result, error) {
	return c.submit(ctx, domain.ProcessXRD, datasetPaths, req)
}

func (c *Client) submit(ctx context.Context, kind domain.JobKind, paths []string, req Request) (Result, error) {
	opts := domain.DefaultOptions()
	if req.Options != nil {
		opts = *req.Options
	}
	job, err := c.svc.Submit(ctx, domain.JobDescriptor{
		JobId:           req.JobId,
		Kind:            kind,
		DatasetPaths:    paths,
		FrameRange:      req.FrameRange,
		ResolutionRange: req.ResolutionRange,
		SpaceGroupHint:  req.SpaceGroupHint,
		Options:         opts,
	})
	if err != nil {
		return Result{}, err
	}
	if !req.Wait {
		return Result{Job: job}, nil
	}
	return c.Wait(ctx, job.Id())
}

// Wait polls the job until it reaches a terminal stage.
//
// # Returns
//
// - Result: the final snapshot and report.
//
// - error: *JobFailure when the job failed, or errors on polling.
// When ctx is done, ctx.Err() with the latest snapshot in Result.
func (c *Client) Wait(ctx context.Context, jobId string) (Result, error) {
	job, err := retry.Blocking(ctx, c.backoff(), func() (domain.Job, error) {
		job, err := c.svc.Status(ctx, jobId)
		if err != nil {
			return job, err
		}
		c.progress(job)
		if !job.State.Stage.Terminal() {
			return job, retry.ErrRetry
		}
		return job, nil
	})
	if err != nil {
		return Result{Job: job}, err
	}
	return Outcome(job)
}

// Outcome makes Result of a terminal job.
//
// It returns *JobFailure when the job is failed.
func Outcome(job domain.Job) (Result, error) {
	st := job.State
	switch st.Stage {
	case domain.Done:
		res := Result{Job: job}
		if last := st.LastCompleted; last != "" {
			if r, ok := st.Reports[last]; ok {
				res.Report = &r
			}
		}
		return res, nil
	case domain.Failed:
		f := &JobFailure{
			JobId:         job.Id(),
			LastCompleted: st.LastCompleted,
			Partial:       st.Partial,
			Candidates:    st.Candidates,
		}
		if st.Failure != nil {
			f.Failure = *st.Failure
		}
		return Result{Job: job}, f
	}
	return Result{Job: job}, fmt.Errorf("job %s is not finished: %s", job.Id(), st.Stage)
}
