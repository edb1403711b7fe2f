package status

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
		"Show the state of a job.",
		Flags{},
		flarc.Args{
			{
				Name: ARG_JOBID, Required: true,
				Help: "id of the job to be shown",
			},
		},
		common.NewTask(Task),
		flarc.WithDescription(`
Show the state of a job as JSON: its descriptor, stage, symmetry candidates,
stage reports and overrides.
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
	job, err := client.Status(ctx, jobId)
	if err != nil {
		return fmt.Errorf("%w: job id: %s", err, jobId)
	}
	return common.PrintJSON(cl.Stdout(), job)
}
