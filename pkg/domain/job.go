package domain

import (
	"maps"
	"time"
)

// Node is an entry of the node registry.
type Node struct {
	Id string `json:"node_id"`

	// Capacity is how many jobs the node runs at once.
	Capacity int `json:"capacity"`
}

// NodeAssignment is a time-bounded exclusive claim by a node on a job.
type NodeAssignment struct {
	JobId  string `json:"job_id"`
	NodeId string `json:"node_id"`

	// LeaseId identifies this assignment. It changes on every assignment.
	LeaseId     string    `json:"lease_id"`
	LeaseExpiry time.Time `json:"lease_expiry"`
	AssignedAt  time.Time `json:"assigned_at"`

	// Token is a lease token the node presents on report and heartbeat.
	//
	// It is issued on assignment and not persisted.
	Token string `json:"token,omitempty"`
}

// Expired reports whether the lease is expired at now.
func (a NodeAssignment) Expired(now time.Time) bool {
	return !now.Before(a.LeaseExpiry)
}

// Job is the durable record of a job.
type Job struct {
	Descriptor JobDescriptor `json:"descriptor"`
	State      PipelineState `json:"state"`

	// Assignment is the active assignment, if any.
	Assignment *NodeAssignment `json:"assignment,omitempty"`

	// Artifacts are directories of stage artifacts.
	Artifacts map[Stage]string `json:"artifacts,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (j Job) Id() string {
	return j.Descriptor.JobId
}

// Assignable reports whether the job can be assigned to a node now.
func (j Job) Assignable() bool {
	return j.Assignment == nil && !j.State.Stage.Terminal()
}

// Clone returns a deep copy.
func (j Job) Clone() Job {
	c := j
	c.Descriptor = j.Descriptor.Clone()
	c.State = j.State.Clone()
	if j.Assignment != nil {
		a := *j.Assignment
		c.Assignment = &a
	}
	c.Artifacts = maps.Clone(j.Artifacts)
	return c
}

// Heartbeat is the answer to a heartbeat.
type Heartbeat struct {
	LeaseExpiry time.Time `json:"lease_expiry"`

	// CancelRequested tells the node that the result of the running stage will be discarded.
	CancelRequested bool `json:"cancel_requested"`
}

// JobQuery filters job listings.
type JobQuery struct {
	// Stages to be listed. Empty means any.
	Stages []Stage

	// Limit of listed jobs. Zero means no limit.
	Limit int
}

// Ticket is what a node receives on assignment: the lease and the work to resume.
type Ticket struct {
	Assignment NodeAssignment `json:"assignment"`
	Descriptor JobDescriptor  `json:"descriptor"`
	State      PipelineState  `json:"state"`
}

// NodeStatus is an entry of the node listing.
type NodeStatus struct {
	Node
	Assignments []NodeAssignment `json:"assignments"`
}
