// Package types are request and response bodies of dpservice API
// which are not domain types themselves.
package types

import "github.com/cmcf/autoprocess/pkg/domain"

// AssignRequest is the body of POST /api/jobs/:jobId/assignment.
type AssignRequest struct {
	NodeId string `json:"node_id"`
}

// CancelResult is the response of PUT /api/jobs/:jobId/cancel.
type CancelResult struct {
	Job domain.Job `json:"job"`

	// Deferred is true when the job is running on a node.
	// It is canceled on the next report of the node.
	Deferred bool `json:"deferred"`
}
