// Package worker drives the engine for jobs assigned to a processing node.
//
// A Worker claims a job from dpservice, runs the remaining stages of its plan
// one by one, and reports each stage result. While the engine runs, the worker
// sends heartbeats to keep its lease.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cmcf/autoprocess/pkg/dispatch"
	"github.com/cmcf/autoprocess/pkg/domain"
	"github.com/cmcf/autoprocess/pkg/engine"
	xe "github.com/cmcf/autoprocess/pkg/errors"
	"github.com/cmcf/autoprocess/pkg/lease"
	"github.com/cmcf/autoprocess/pkg/loop"
	"github.com/cmcf/autoprocess/pkg/metrics"
	"github.com/cmcf/autoprocess/pkg/outbox"
	"github.com/cmcf/autoprocess/pkg/utils/retry"
)

// Coordinator is the node-facing part of dpservice.
//
// *rest.Client and *dispatch.Service implement this.
type Coordinator interface {
	Claim(ctx context.Context, nodeId string) (domain.Ticket, error)
	Report(ctx context.Context, jobId string, token string, result domain.StageResult) (dispatch.Applied, error)
	Heartbeat(ctx context.Context, jobId string, token string) (domain.Heartbeat, error)
}

var (
	errCancelRequested = errors.New("cancel is requested")
)

type Worker struct {
	nodeId string
	coord  Coordinator
	engine engine.Engine
	outbox outbox.Outbox

	pollInterval      time.Duration
	heartbeatInterval time.Duration
	backoff           func() retry.Backoff
	now               func() time.Time
	logger            *log.Logger
}

type Option func(*Worker) *Worker

// WithPollInterval sets the interval of claims while there are no jobs.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) *Worker {
		w.pollInterval = d
		return w
	}
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(w *Worker) *Worker {
		w.heartbeatInterval = d
		return w
	}
}

// WithReportBackoff sets how long to wait before resending a report
// which failed for network or server problems.
func WithReportBackoff(b func() retry.Backoff) Option {
	return func(w *Worker) *Worker {
		w.backoff = b
		return w
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) *Worker {
		w.now = now
		return w
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(w *Worker) *Worker {
		w.logger = logger
		return w
	}
}

// New creates a Worker of the node.
//
// Reports are kept in ob until coord accepts them.
func New(nodeId string, coord Coordinator, eng engine.Engine, ob outbox.Outbox, options ...Option) *Worker {
	w := &Worker{
		nodeId:            nodeId,
		coord:             coord,
		engine:            eng,
		outbox:            ob,
		pollInterval:      5 * time.Second,
		heartbeatInterval: 15 * time.Second,
		now:               time.Now,
		logger:            log.New(os.Stderr, fmt.Sprintf("[worker %s] ", nodeId), log.LstdFlags),
	}
	for _, opt := range options {
		w = opt(w)
	}
	if w.backoff == nil {
		poll := w.pollInterval
		w.backoff = func() retry.Backoff {
			return retry.ExponentialBackoff(time.Second, 2, poll)
		}
	}
	return w
}

// permanent tells the service will never accept the report.
func permanent(err error) bool {
	return errors.Is(err, domain.ErrLeaseLost) ||
		errors.Is(err, lease.ErrInvalidToken) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrMissing) ||
		errors.Is(err, domain.ErrValidation)
}

// Run claims and processes jobs until ctx is done.
//
// # Returns
//
// - int: the number of jobs processed.
//
// - error: ctx.Err().
func (w *Worker) Run(ctx context.Context) (int, error) {
	return loop.Start(ctx, 0, func(ctx context.Context, processed int) (int, loop.Next) {
		ticket, err := w.coord.Claim(ctx, w.nodeId)
		if errors.Is(err, domain.ErrNoJob) {
			return processed, loop.Continue(w.pollInterval)
		}
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Printf("failed to claim: %s", err)
			}
			return processed, loop.Continue(w.pollInterval)
		}

		if err := w.Process(ctx, ticket); err != nil && ctx.Err() == nil {
			w.logger.Printf("job %s: %s", ticket.Assignment.JobId, err)
		}
		return processed + 1, loop.Continue(0)
	})
}

// Process runs stages of the assigned job until the service releases the assignment.
//
// # Returns
//
// - error: domain.ErrLeaseLost when the job is taken by others,
// a permanent error from the service, or ctx.Err().
func (w *Worker) Process(ctx context.Context, ticket domain.Ticket) error {
	jobId := ticket.Assignment.JobId
	token := ticket.Assignment.Token
	state := ticket.State
	w.logger.Printf("job %s: assigned (resume at %s, attempt %d)", jobId, state.Stage, state.Attempts)

	for state.Stage.Processing() {
		inv := engine.Invocation{
			Descriptor: ticket.Descriptor,
			Stage:      state.Stage,
			Attempt:    state.Attempts,
			Checkpoint: state.Checkpoint,
			Symmetry:   state.Resolved,
		}
		result, err := w.runStage(ctx, jobId, token, inv)
		if err != nil {
			return err
		}

		applied, err := w.deliver(ctx, jobId, token, result)
		if err != nil {
			return err
		}
		if !applied.Applied {
			w.logger.Printf("job %s: report of %s (attempt %d) is a duplicate", jobId, inv.Stage, inv.Attempt)
		} else {
			w.logger.Printf("job %s: %s (attempt %d) %s", jobId, inv.Stage, inv.Attempt, applied.Outcome)
		}

		state = applied.State
		if applied.Released {
			if state.Failure != nil {
				w.logger.Printf("job %s: %s", jobId, state.Failure)
			}
			return nil
		}
	}
	return nil
}

// runStage runs the engine with heartbeats, and converts the outcome into a StageResult.
func (w *Worker) runStage(ctx context.Context, jobId string, token string, inv engine.Invocation) (domain.StageResult, error) {
	ectx, stop := context.WithCancelCause(ctx)
	defer stop(nil)

	heartbeats := make(chan struct{})
	go func() {
		defer close(heartbeats)
		w.heartbeat(ectx, jobId, token, stop)
	}()

	metrics.RunningStages.Inc()
	started := w.now()
	r, err := w.engine.Run(ectx, inv)
	elapsed := w.now().Sub(started)
	metrics.RunningStages.Dec()

	cause := context.Cause(ectx)
	stop(nil)
	<-heartbeats

	if ctx.Err() != nil {
		return domain.StageResult{}, ctx.Err()
	}
	if errors.Is(cause, domain.ErrLeaseLost) || errors.Is(cause, lease.ErrInvalidToken) {
		metrics.RecordEngineRun(inv.Stage, "abandoned", elapsed)
		return domain.StageResult{}, cause
	}

	result, ok := engine.AsStageResult(inv, r, err)
	switch {
	case ok:
	case errors.Is(cause, errCancelRequested):
		result = domain.StageResult{
			Stage: inv.Stage, Attempt: inv.Attempt,
			Failure: &domain.EngineFailure{Kind: domain.Canceled, Message: "engine is stopped by cancel"},
		}
	default:
		result = domain.StageResult{
			Stage: inv.Stage, Attempt: inv.Attempt,
			Failure: &domain.EngineFailure{Kind: domain.EngineError, Message: err.Error(), ExitCode: -1},
		}
	}

	label := "success"
	if result.Failure != nil {
		label = string(result.Failure.Kind)
	}
	metrics.RecordEngineRun(inv.Stage, label, elapsed)
	return result, nil
}

// heartbeat keeps the lease until ctx is done.
//
// It stops the engine with stop when a cancel is requested or the lease is lost.
func (w *Worker) heartbeat(ctx context.Context, jobId string, token string, stop context.CancelCauseFunc) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		hb, err := w.coord.Heartbeat(ctx, jobId, token)
		switch {
		case err == nil && hb.CancelRequested:
			w.logger.Printf("job %s: cancel is requested. stopping engine.", jobId)
			stop(errCancelRequested)
			return
		case err == nil:
		case permanent(err):
			w.logger.Printf("job %s: lease is lost. abandoning. (%s)", jobId, err)
			stop(xe.Wrap(err))
			return
		case ctx.Err() == nil:
			w.logger.Printf("job %s: heartbeat failed: %s", jobId, err)
		}
	}
}

// deliver puts the result into the outbox, and sends it until the service answers.
func (w *Worker) deliver(ctx context.Context, jobId string, token string, result domain.StageResult) (dispatch.Applied, error) {
	seq, err := w.outbox.Put(ctx, outbox.Entry{
		JobId: jobId, Token: token, Result: result, QueuedAt: w.now(),
	})
	if err != nil {
		return dispatch.Applied{}, xe.WrapWithNote("failed to keep a report in the outbox", err)
	}

	applied, err := w.send(ctx, jobId, token, result)
	if err != nil && !permanent(err) {
		// left in the outbox. It is sent on Flush.
		return applied, err
	}
	if aerr := w.outbox.Ack(ctx, seq); aerr != nil {
		w.logger.Printf("job %s: failed to remove a report from the outbox: %s", jobId, aerr)
	}
	return applied, err
}

func (w *Worker) send(ctx context.Context, jobId string, token string, result domain.StageResult) (dispatch.Applied, error) {
	return retry.Blocking(ctx, w.backoff(), func() (dispatch.Applied, error) {
		applied, err := w.coord.Report(ctx, jobId, token, result)
		if err == nil || permanent(err) || ctx.Err() != nil {
			return applied, err
		}
		w.logger.Printf("job %s: failed to report %s. retrying: %s", jobId, result.Stage, err)
		return applied, retry.ErrRetry
	})
}

// Flush sends reports left in the outbox, in the order they are kept.
//
// Reports the service refuses permanently are dropped.
//
// # Returns
//
// - int: the number of reports the service accepted.
//
// - error: when a report could not be sent. The report and the followings are left.
func (w *Worker) Flush(ctx context.Context) (int, error) {
	pending, err := w.outbox.Pending(ctx)
	if err != nil {
		return 0, err
	}

	accepted := 0
	for _, e := range pending {
		_, err := w.coord.Report(ctx, e.JobId, e.Token, e.Result)
		switch {
		case err == nil:
			accepted += 1
		case permanent(err):
			w.logger.Printf(
				"job %s: report of %s queued at %s is refused. dropped: %s",
				e.JobId, e.Result.Stage, e.QueuedAt.Format(time.RFC3339), err,
			)
		default:
			return accepted, err
		}
		if err := w.outbox.Ack(ctx, e.Seq); err != nil {
			return accepted, err
		}
	}
	return accepted, nil
}
