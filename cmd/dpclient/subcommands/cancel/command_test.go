package cancel_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/cmcf/autoprocess/cmd/dpclient/subcommands/cancel"
	"github.com/cmcf/autoprocess/cmd/dpclient/subcommands/common/mock"
	"github.com/cmcf/autoprocess/internal/testutils/commandline"
	"github.com/cmcf/autoprocess/pkg/domain"
)

func TestTask(t *testing.T) {
	type when struct {
		stage    domain.Stage
		deferred bool
	}
	type then struct {
		log string
	}

	theory := func(when when, then then) func(*testing.T) {
		return func(t *testing.T) {
			c := mock.New()
			c.Impl.Cancel = func(_ context.Context, jobId string) (domain.Job, bool, error) {
				d := domain.JobDescriptor{JobId: jobId, Kind: domain.ProcessXRD}
				job := domain.Job{Descriptor: d, State: domain.NewPipelineState(d)}
				job.State.Stage = when.stage
				job.State.CancelRequested = when.deferred
				return job, when.deferred, nil
			}

			stdout := new(bytes.Buffer)
			stderr := new(bytes.Buffer)
			cl := commandline.MockCommandline[cancel.Flags]{
				Stdout_: stdout,
				Stderr_: stderr,
				Args_:   map[string][]string{cancel.ARG_JOBID: {"job-1"}},
			}
			l := log.New(stderr, "", 0)
			if err := cancel.Task(context.Background(), l, c, cl, nil); err != nil {
				t.Fatal(err)
			}

			if len(c.Calls.Cancel) != 1 || c.Calls.Cancel[0] != "job-1" {
				t.Errorf("unexpected calls: %v", c.Calls.Cancel)
			}
			if !strings.Contains(stderr.String(), then.log) {
				t.Errorf("log: actual = %q, expected to contain %q", stderr, then.log)
			}
			var job domain.Job
			if err := json.Unmarshal(stdout.Bytes(), &job); err != nil {
				t.Fatal(err)
			}
			if job.State.Stage != when.stage {
				t.Errorf("stage: actual = %s, expected = %s", job.State.Stage, when.stage)
			}
		}
	}

	t.Run("waiting job is canceled at once", theory(
		when{stage: domain.Failed},
		then{log: "job job-1 is canceled."},
	))
	t.Run("running job is canceled after its stage", theory(
		when{stage: domain.Integration, deferred: true},
		then{log: "job job-1 is running at integration."},
	))

	t.Run("terminal job can not be canceled", func(t *testing.T) {
		c := mock.New()
		c.Impl.Cancel = func(_ context.Context, jobId string) (domain.Job, bool, error) {
			return domain.Job{}, false, domain.ErrInvalidTransition
		}
		cl := commandline.MockCommandline[cancel.Flags]{
			Stdout_: new(bytes.Buffer),
			Stderr_: new(bytes.Buffer),
			Args_:   map[string][]string{cancel.ARG_JOBID: {"job-1"}},
		}
		err := cancel.Task(context.Background(), log.New(new(bytes.Buffer), "", 0), c, cl, nil)
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
