// Package dispatch coordinates jobs, nodes and the pipeline.
//
// Every mutation of a job runs in the atomic section of the job registry,
// so concurrent requests for one job are serialized.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/cmcf/autoprocess/pkg/db"
	"github.com/cmcf/autoprocess/pkg/domain"
	"github.com/cmcf/autoprocess/pkg/lease"
	"github.com/cmcf/autoprocess/pkg/metrics"
	"github.com/cmcf/autoprocess/pkg/pipeline"
)

// errUnchanged aborts a mutation which has nothing to persist.
var errUnchanged = errors.New("unchanged")

type Service struct {
	jobs    db.JobInterface
	nodes   NodeRegistry
	prober  domain.DatasetProber
	issuer  *lease.Issuer
	machine *pipeline.Machine
	window  time.Duration

	now    func() time.Time
	newId  func() string
	logger *log.Logger
}

type Option func(*Service) *Service

func WithClock(now func() time.Time) Option {
	return func(s *Service) *Service {
		s.now = now
		return s
	}
}

// WithIdGenerator replaces the generator of job ids and lease ids.
func WithIdGenerator(newId func() string) Option {
	return func(s *Service) *Service {
		s.newId = newId
		return s
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Service) *Service {
		s.logger = logger
		return s
	}
}

// New creates a Service.
//
// # Args
//
// - jobs: job registry
//
// - nodes: node registry
//
// - prober: dataset prober validating submissions
//
// - issuer: lease token issuer
//
// - machine: pipeline state machine
//
// - window: lease duration. Heartbeats and reports extend leases by window.
func New(
	jobs db.JobInterface,
	nodes NodeRegistry,
	prober domain.DatasetProber,
	issuer *lease.Issuer,
	machine *pipeline.Machine,
	window time.Duration,
	options ...Option,
) *Service {
	s := &Service{
		jobs:    jobs,
		nodes:   nodes,
		prober:  prober,
		issuer:  issuer,
		machine: machine,
		window:  window,
		now:     time.Now,
		newId:   uuid.NewString,
		logger:  log.New(os.Stderr, "[dispatch] ", log.LstdFlags),
	}
	for _, opt := range options {
		s = opt(s)
	}
	return s
}

// Submit validates d and enqueues a new job.
//
// When d has no job id, an id is generated.
//
// # Returns
//
// - domain.Job: the Queued job.
//
// - error: *domain.ValidationError, or domain.ErrDuplicateJob.
// On error, no state is created.
func (s *Service) Submit(ctx context.Context, d domain.JobDescriptor) (domain.Job, error) {
	d = d.Clone()
	if d.JobId == "" {
		d.JobId = s.newId()
	}
	if err := d.Validate(s.prober); err != nil {
		metrics.RecordRejection("submit", "validation")
		return domain.Job{}, err
	}

	now := s.now()
	job := domain.Job{
		Descriptor: d,
		State:      domain.NewPipelineState(d),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.jobs.New(ctx, job); err != nil {
		if errors.Is(err, domain.ErrDuplicateJob) {
			metrics.RecordRejection("submit", "duplicate")
		}
		return domain.Job{}, err
	}
	metrics.RecordSubmission(d.Kind)
	s.logger.Printf("job %s (%s) is queued: plan %v", d.JobId, d.Kind, job.State.Plan)
	return job, nil
}

func (s *Service) assignTo(node domain.Node) db.Mutation {
	return func(job *domain.Job) error {
		now := s.now()
		if err := s.machine.Start(&job.State, node.Id); err != nil {
			return err
		}
		job.Assignment = &domain.NodeAssignment{
			JobId:       job.Id(),
			NodeId:      node.Id,
			LeaseId:     s.newId(),
			LeaseExpiry: now.Add(s.window),
			AssignedAt:  now,
		}
		job.UpdatedAt = now
		return nil
	}
}

func (s *Service) ticket(job domain.Job) (domain.Ticket, error) {
	a := *job.Assignment
	token, err := s.issuer.Issue(a)
	if err != nil {
		return domain.Ticket{}, err
	}
	a.Token = token
	metrics.RecordAssignment(a.NodeId)
	s.logger.Printf(
		"job %s is assigned to %s at %s (attempt %d), lease %s until %s",
		job.Id(), a.NodeId, job.State.Stage, job.State.Attempts, a.LeaseId, a.LeaseExpiry.Format(time.RFC3339),
	)
	return domain.Ticket{Assignment: a, Descriptor: job.Descriptor, State: job.State}, nil
}

func rejected(op string, err error) {
	for reason, sentinel := range map[string]error{
		"unknown_node":     domain.ErrUnknownNode,
		"node_busy":        domain.ErrNodeBusy,
		"already_assigned": domain.ErrAlreadyAssigned,
		"not_assignable":   domain.ErrNotAssignable,
		"no_job":           domain.ErrNoJob,
		"lease_lost":       domain.ErrLeaseLost,
		"invalid_token":    lease.ErrInvalidToken,
		"transition":       domain.ErrInvalidTransition,
	} {
		if errors.Is(err, sentinel) {
			metrics.RecordRejection(op, reason)
			return
		}
	}
}

// Assign assigns a job to a node.
//
// Queued jobs enter their first stage. Others resume at their current stage.
//
// # Returns
//
// - error: domain.ErrUnknownNode, domain.ErrNodeBusy, domain.ErrAlreadyAssigned,
// domain.ErrNotAssignable or db.ErrMissing.
func (s *Service) Assign(ctx context.Context, jobId string, nodeId string) (domain.Ticket, error) {
	node, err := s.nodes.Node(nodeId)
	if err != nil {
		rejected("assign", err)
		return domain.Ticket{}, err
	}
	job, err := s.jobs.Assign(ctx, jobId, node, s.assignTo(node))
	if err != nil {
		rejected("assign", err)
		return domain.Ticket{}, err
	}
	return s.ticket(job)
}

// Claim assigns the oldest waiting job to the node.
//
// # Returns
//
// - error: domain.ErrNoJob when no job is waiting, domain.ErrUnknownNode or domain.ErrNodeBusy.
func (s *Service) Claim(ctx context.Context, nodeId string) (domain.Ticket, error) {
	node, err := s.nodes.Node(nodeId)
	if err != nil {
		rejected("claim", err)
		return domain.Ticket{}, err
	}
	job, err := s.jobs.Claim(ctx, node, s.assignTo(node))
	if err != nil {
		if !errors.Is(err, domain.ErrNoJob) {
			rejected("claim", err)
		}
		return domain.Ticket{}, err
	}
	return s.ticket(job)
}

// checkLease verifies that token is of the current, unexpired assignment of job.
func (s *Service) checkLease(token string, job domain.Job, now time.Time) (lease.Claims, error) {
	claims, err := s.issuer.Check(token, job)
	if err != nil {
		return claims, err
	}
	if job.Assignment.Expired(now) {
		return claims, fmt.Errorf("%w: lease %s has expired at %s", domain.ErrLeaseLost, claims.ID, job.Assignment.LeaseExpiry.Format(time.RFC3339))
	}
	return claims, nil
}

// Applied is the outcome of Report.
type Applied struct {
	// Applied is false when the report was a duplicate or stale. Then nothing is changed.
	Applied bool `json:"applied"`

	Outcome pipeline.Outcome `json:"outcome"`

	// State after the report. The node continues with it.
	State domain.PipelineState `json:"state"`

	// Released is true when the assignment is released.
	Released bool `json:"released"`
}

// Report applies a stage result reported by a node.
//
// Reports are idempotent: a duplicate of an applied result is not an error
// even if the lease is lost, and changes nothing.
//
// # Returns
//
// - error: domain.ErrLeaseLost when token is not of the current assignment,
// lease.ErrInvalidToken, domain.ErrInvalidTransition, or db.ErrMissing.
func (s *Service) Report(ctx context.Context, jobId string, token string, result domain.StageResult) (Applied, error) {
	var outcome pipeline.Outcome
	job, err := s.jobs.Update(ctx, jobId, func(job *domain.Job) error {
		now := s.now()
		claims, leaseErr := s.checkLease(token, *job, now)
		if leaseErr != nil {
			if errors.Is(leaseErr, lease.ErrInvalidToken) {
				return leaseErr
			}
			probe := job.State.Clone()
			if o, err := s.machine.Apply(job.Descriptor, &probe, claims.Subject, result); err == nil && o == pipeline.Ignored {
				outcome = pipeline.Ignored
				return errUnchanged
			}
			return leaseErr
		}

		o, err := s.machine.Apply(job.Descriptor, &job.State, claims.Subject, result)
		if err != nil {
			return err
		}
		outcome = o
		if o == pipeline.Ignored {
			return errUnchanged
		}

		if result.ArtifactDir != "" {
			if job.Artifacts == nil {
				job.Artifacts = map[domain.Stage]string{}
			}
			job.Artifacts[result.Stage] = result.ArtifactDir
		}
		job.UpdatedAt = now
		if o.Releases() {
			job.Assignment = nil
		} else {
			job.Assignment.LeaseExpiry = now.Add(s.window)
		}
		return nil
	})

	if errors.Is(err, errUnchanged) {
		current, err := s.jobs.Get(ctx, jobId)
		if err != nil {
			return Applied{}, err
		}
		metrics.RecordReport(result.Stage, string(pipeline.Ignored))
		s.logger.Printf("job %s: report of %s#%d is ignored as duplicate", jobId, result.Stage, result.Attempt)
		return Applied{Applied: false, Outcome: outcome, State: current.State, Released: current.Assignment == nil}, nil
	}
	if err != nil {
		rejected("report", err)
		return Applied{}, err
	}

	metrics.RecordReport(result.Stage, string(outcome))
	s.logger.Printf("job %s: report of %s#%d is %s, now at %s", jobId, result.Stage, result.Attempt, outcome, job.State.Stage)
	if job.State.Stage.Terminal() {
		metrics.RecordFinish(job.State)
		s.logFinish(job)
	}
	return Applied{Applied: true, Outcome: outcome, State: job.State, Released: job.Assignment == nil}, nil
}

func (s *Service) logFinish(job domain.Job) {
	if f := job.State.Failure; f != nil {
		s.logger.Printf("job %s failed: %s", job.Id(), f)
		return
	}
	s.logger.Printf("job %s is done", job.Id())
}

// Heartbeat extends the lease of an assignment.
//
// # Returns
//
// - domain.Heartbeat: new lease expiry, and whether cancellation is requested.
//
// - error: domain.ErrLeaseLost, lease.ErrInvalidToken or db.ErrMissing.
func (s *Service) Heartbeat(ctx context.Context, jobId string, token string) (domain.Heartbeat, error) {
	job, err := s.jobs.Update(ctx, jobId, func(job *domain.Job) error {
		now := s.now()
		if _, err := s.checkLease(token, *job, now); err != nil {
			return err
		}
		job.Assignment.LeaseExpiry = now.Add(s.window)
		return nil
	})
	if err != nil {
		rejected("heartbeat", err)
		return domain.Heartbeat{}, err
	}
	return domain.Heartbeat{
		LeaseExpiry:     job.Assignment.LeaseExpiry,
		CancelRequested: job.State.CancelRequested,
	}, nil
}

// Status returns a snapshot of a job.
func (s *Service) Status(ctx context.Context, jobId string) (domain.Job, error) {
	return s.jobs.Get(ctx, jobId)
}

// List lists jobs in submission order.
func (s *Service) List(ctx context.Context, query domain.JobQuery) ([]domain.Job, error) {
	return s.jobs.List(ctx, query)
}

// Nodes lists nodes with their active assignments.
func (s *Service) Nodes(ctx context.Context) ([]domain.NodeStatus, error) {
	assignments, err := s.jobs.Assignments(ctx)
	if err != nil {
		return nil, err
	}
	nodes := s.nodes.Nodes()
	ret := make([]domain.NodeStatus, 0, len(nodes))
	for _, n := range nodes {
		as := assignments[n.Id]
		if as == nil {
			as = []domain.NodeAssignment{}
		}
		ret = append(ret, domain.NodeStatus{Node: n, Assignments: as})
	}
	return ret, nil
}

// Cancel cancels a job.
//
// A job running on a node is canceled when the node reports the running stage.
// The result is discarded.
//
// # Returns
//
// - domain.Job: the job after the request.
//
// - bool: true when the cancellation is deferred.
//
// - error: domain.ErrInvalidTransition for Done jobs, or db.ErrMissing.
func (s *Service) Cancel(ctx context.Context, jobId string) (domain.Job, bool, error) {
	var deferred bool
	job, err := s.jobs.Update(ctx, jobId, func(job *domain.Job) error {
		before := job.State.Stage
		d, err := s.machine.Cancel(&job.State, job.Assignment != nil)
		if err != nil {
			return err
		}
		if !d && before == job.State.Stage && !job.State.CancelRequested {
			// already canceled
			return errUnchanged
		}
		deferred = d
		job.UpdatedAt = s.now()
		return nil
	})
	if errors.Is(err, errUnchanged) {
		job, err := s.jobs.Get(ctx, jobId)
		return job, false, err
	}
	if err != nil {
		rejected("cancel", err)
		return domain.Job{}, false, err
	}

	if deferred {
		s.logger.Printf("job %s: cancel requested while running on %s", jobId, job.Assignment.NodeId)
	} else {
		metrics.RecordFinish(job.State)
		s.logFinish(job)
	}
	return job, deferred, nil
}

func (s *Service) operate(ctx context.Context, op string, jobId string, f func(job *domain.Job) error) (domain.Job, error) {
	job, err := s.jobs.Update(ctx, jobId, func(job *domain.Job) error {
		if err := f(job); err != nil {
			return err
		}
		job.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		rejected(op, err)
		return domain.Job{}, err
	}
	return job, nil
}

// Skip marks a stage of a job as pre-satisfied by an operator.
//
// Stages ahead of the current one can be skipped while the job runs on a node.
// They are completed without the engine when the job reaches them.
//
// # Returns
//
// - error: domain.ErrAlreadyAssigned when the stage is running on a node,
// domain.ErrInvalidTransition, or db.ErrMissing.
func (s *Service) Skip(ctx context.Context, jobId string, req pipeline.Skip) (domain.Job, error) {
	job, err := s.operate(ctx, "skip", jobId, func(job *domain.Job) error {
		if a := job.Assignment; a != nil && job.State.Stage == req.Stage {
			return fmt.Errorf("%w: %s is running on %s", domain.ErrAlreadyAssigned, job.State.Stage, a.NodeId)
		}
		return s.machine.Skip(&job.State, req)
	})
	if err != nil {
		return job, err
	}
	if _, pending := job.State.Presatisfied[req.Stage]; pending {
		s.logger.Printf("job %s: %s will be skipped by %s (%s)", jobId, req.Stage, req.Operator, req.Reason)
	} else {
		s.logger.Printf("job %s: %s is skipped by %s (%s)", jobId, req.Stage, req.Operator, req.Reason)
	}
	if job.State.Stage == domain.Done {
		metrics.RecordFinish(job.State)
		s.logFinish(job)
	}
	return job, nil
}

// OverrideSymmetry replaces the resolved symmetry of a job by an operator.
func (s *Service) OverrideSymmetry(ctx context.Context, jobId string, req pipeline.SymmetryOverride) (domain.Job, error) {
	job, err := s.operate(ctx, "symmetry", jobId, func(job *domain.Job) error {
		return s.machine.OverrideSymmetry(&job.State, req)
	})
	if err != nil {
		return job, err
	}
	s.logger.Printf("job %s: symmetry is set to %s by %s (%s)", jobId, req.SpaceGroup, req.Operator, req.Reason)
	return job, nil
}

// Retry resumes a failed job at the failed stage, by an operator.
func (s *Service) Retry(ctx context.Context, jobId string, req pipeline.Retry) (domain.Job, error) {
	job, err := s.operate(ctx, "retry", jobId, func(job *domain.Job) error {
		return s.machine.Retry(&job.State, req)
	})
	if err != nil {
		return job, err
	}
	s.logger.Printf("job %s: retried at %s by %s (%s)", jobId, job.State.Stage, req.Operator, req.Reason)
	return job, nil
}

// ExpireLeases releases assignments whose lease has expired.
//
// Released jobs keep their stage and checkpoint, and wait for the next assignment.
// A job with a pending cancel is canceled instead.
//
// # Returns
//
// - []string: ids of released jobs.
func (s *Service) ExpireLeases(ctx context.Context) ([]string, error) {
	ids, err := s.jobs.Expired(ctx, s.now())
	if err != nil {
		return nil, err
	}

	released := []string{}
	for _, id := range ids {
		var nodeId string
		job, err := s.jobs.Update(ctx, id, func(job *domain.Job) error {
			now := s.now()
			a := job.Assignment
			if a == nil || !a.Expired(now) {
				return errUnchanged
			}
			nodeId = a.NodeId
			job.Assignment = nil
			job.UpdatedAt = now
			if job.State.CancelRequested {
				if _, err := s.machine.Cancel(&job.State, false); err != nil {
					return err
				}
			}
			return nil
		})
		switch {
		case errors.Is(err, errUnchanged), errors.Is(err, db.ErrMissing):
			continue
		case err != nil:
			return released, err
		}

		released = append(released, id)
		metrics.RecordLeaseExpiry()
		s.logger.Printf("job %s: lease of %s has expired at %s; released", id, nodeId, job.State.Stage)
		if job.State.Stage.Terminal() {
			metrics.RecordFinish(job.State)
			s.logFinish(job)
		}
	}
	return released, nil
}
