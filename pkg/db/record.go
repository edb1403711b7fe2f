package db

import (
	"encoding/json"
	"time"

	"github.com/cmcf/autoprocess/pkg/domain"
	xe "github.com/cmcf/autoprocess/pkg/errors"
)

// Record is a job encoded as columns of a job table.
//
// The assignment is not a part of Record. It is stored in its own table.
type Record struct {
	JobId      string
	Stage      domain.Stage
	Descriptor []byte
	State      []byte
	Artifacts  []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Encode splits job into a Record and its assignment.
func Encode(job domain.Job) (Record, *domain.NodeAssignment, error) {
	desc, err := json.Marshal(job.Descriptor)
	if err != nil {
		return Record{}, nil, xe.Wrap(err)
	}
	state, err := json.Marshal(job.State)
	if err != nil {
		return Record{}, nil, xe.Wrap(err)
	}
	artifacts := job.Artifacts
	if artifacts == nil {
		artifacts = map[domain.Stage]string{}
	}
	arts, err := json.Marshal(artifacts)
	if err != nil {
		return Record{}, nil, xe.Wrap(err)
	}

	var a *domain.NodeAssignment
	if job.Assignment != nil {
		c := *job.Assignment
		c.Token = ""
		a = &c
	}

	return Record{
		JobId:      job.Id(),
		Stage:      job.State.Stage,
		Descriptor: desc,
		State:      state,
		Artifacts:  arts,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	}, a, nil
}

// Decode restores a job from a Record and its assignment.
func Decode(r Record, a *domain.NodeAssignment) (domain.Job, error) {
	job := domain.Job{
		Assignment: a,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Descriptor, &job.Descriptor); err != nil {
		return domain.Job{}, xe.WrapWithNote("descriptor of "+r.JobId, err)
	}
	if err := json.Unmarshal(r.State, &job.State); err != nil {
		return domain.Job{}, xe.WrapWithNote("state of "+r.JobId, err)
	}
	if len(r.Artifacts) != 0 {
		if err := json.Unmarshal(r.Artifacts, &job.Artifacts); err != nil {
			return domain.Job{}, xe.WrapWithNote("artifacts of "+r.JobId, err)
		}
	}
	if len(job.Artifacts) == 0 {
		job.Artifacts = nil
	}
	return job, nil
}
