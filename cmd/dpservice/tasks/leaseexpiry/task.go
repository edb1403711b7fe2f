// Package leaseexpiry releases assignments of silent nodes.
package leaseexpiry

import (
	"context"
	"log"

	"github.com/cmcf/autoprocess/pkg/loop/recurring"
)

// Expirer is the part of *dispatch.Service this task uses.
type Expirer interface {
	ExpireLeases(ctx context.Context) ([]string, error)
}

// Seed is the initial value of the task: the number of released jobs.
func Seed() int {
	return 0
}

// Task sweeps expired leases once per run.
//
// It returns the total count of released jobs, and true when it releases some.
func Task(logger *log.Logger, svc Expirer) recurring.Task[int] {
	return func(ctx context.Context, total int) (int, bool, error) {
		released, err := svc.ExpireLeases(ctx)
		total += len(released)
		if err != nil {
			logger.Printf("failed to expire leases: %s", err)
			return total, false, err
		}
		if len(released) != 0 {
			logger.Printf("released %d job(s): %v", len(released), released)
		}
		return total, len(released) != 0, nil
	}
}
