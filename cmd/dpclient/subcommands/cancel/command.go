package cancel

import (
	"context"
	"fmt"
	"log"

	"github.com/youta-t/flarc"

	"github.com/cmcf/autoprocess/cmd/dpclient/subcommands/common"
)

type Flags struct{}

const ARG_JOBID = "JOB_ID"

func New() (flarc.Command, error) {
	return flarc.NewCommand(
		"Cancel a job.",
		Flags{},
		flarc.Args{
			{
				Name: ARG_JOBID, Required: true,
				Help: "id of the job to be canceled",
			},
		},
		common.NewTask(Task),
		flarc.WithDescription(`
Cancel a job.

A job waiting for a node is canceled at once.
A job running on a node is canceled when the node reports the running stage.
`),
	)
}

func Task(
	ctx context.Context,
	logger *log.Logger,
	client common.Client,
	cl flarc.Commandline[Flags],
	_ []any,
) error {
	jobId := cl.Args()[ARG_JOBID][0]
	job, deferred, err := client.Cancel(ctx, jobId)
	if err != nil {
		return fmt.Errorf("%w: job id: %s", err, jobId)
	}
	if deferred {
		logger.Printf("job %s is running at %s. it will be canceled after the stage.", jobId, job.State.Stage)
	} else {
		logger.Printf("job %s is canceled.", jobId)
	}
	return common.PrintJSON(cl.Stdout(), job)
}
