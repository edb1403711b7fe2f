package leaseexpiry_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/cmcf/autoprocess/cmd/dpservice/tasks/leaseexpiry"
)

type expirer struct {
	released []string
	err      error
	calls    int
}

func (e *expirer) ExpireLeases(context.Context) ([]string, error) {
	e.calls += 1
	return e.released, e.err
}

func TestTask(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	type when struct {
		released []string
		err      error
	}
	type then struct {
		total   int
		updated bool
		err     error
	}

	expectedErr := errors.New("fake error")

	theory := func(when when, then then) func(*testing.T) {
		return func(t *testing.T) {
			svc := &expirer{released: when.released, err: when.err}
			testee := leaseexpiry.Task(logger, svc)

			total, updated, err := testee(context.Background(), 3)
			if total != then.total || updated != then.updated || !errors.Is(err, then.err) {
				t.Errorf(
					"(total, updated, err) = (%d, %v, %v), want (%d, %v, %v)",
					total, updated, err, then.total, then.updated, then.err,
				)
			}
			if svc.calls != 1 {
				t.Errorf("ExpireLeases is called %d times", svc.calls)
			}
		}
	}

	t.Run("when some leases expire, it counts them", theory(
		when{released: []string{"job-1", "job-2"}},
		then{total: 5, updated: true},
	))

	t.Run("when no leases expire, it is not updated", theory(
		when{released: []string{}},
		then{total: 3, updated: false},
	))

	t.Run("when it fails in the middle, it counts released ones", theory(
		when{released: []string{"job-1"}, err: expectedErr},
		then{total: 4, updated: false, err: expectedErr},
	))
}
