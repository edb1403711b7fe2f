// Package submit implements analyse-frame, process-mx and process-xrd subcommands.
package submit

import (
	"context"
	"errors"
	"io"
	"log"

	"github.com/cheggaaa/pb/v3"
	"github.com/youta-t/flarc"

	"github.com/cmcf/autoprocess/cmd/dpclient/subcommands/common"
	"github.com/cmcf/autoprocess/pkg/client"
	"github.com/cmcf/autoprocess/pkg/domain"
	"github.com/cmcf/autoprocess/pkg/utils/retry"
)

const (
	ARG_FRAME   = "FRAME"
	ARG_DATASET = "DATASET"
)

type Option struct {
	backoff func() retry.Backoff
}

// WithPollBackoff sets the backoff of polling for --wait.
func WithPollBackoff(b func() retry.Backoff) func(*Option) *Option {
	return func(o *Option) *Option {
		o.backoff = b
		return o
	}
}

func options(opts []func(*Option) *Option) *Option {
	o := &Option{}
	for _, opt := range opts {
		o = opt(o)
	}
	return o
}

func NewAnalyseFrame(opts ...func(*Option) *Option) (flarc.Command, error) {
	return flarc.NewCommand(
		"Analyse a diffraction frame.",
		Flags{},
		flarc.Args{
			{
				Name: ARG_FRAME, Required: true,
				Help: "path to a frame file, like /data/lyso_1_0001.img",
			},
		},
		common.NewTask(Task[Flags](domain.AnalyseFrame, ARG_FRAME, options(opts))),
		flarc.WithDescription(`
Analyse a single diffraction frame: find its lattice and symmetry candidates.

Pass --wait to wait for the result.
`),
	)
}

func NewProcessMX(opts ...func(*Option) *Option) (flarc.Command, error) {
	return flarc.NewCommand(
		"Process macromolecular crystallography datasets.",
		MXFlags{},
		flarc.Args{
			{
				Name: ARG_DATASET, Required: true, Repeatable: true,
				Help: "path to a frame file of each dataset",
			},
		},
		common.NewTask(Task[MXFlags](domain.ProcessMX, ARG_DATASET, options(opts))),
		flarc.WithDescription(`
Process datasets through indexing, integration, scaling, merging and strategy.

With --screen, only indexing, integration and strategy are done.
With --mad, pass one dataset per wavelength.
`),
	)
}

func NewProcessXRD(opts ...func(*Option) *Option) (flarc.Command, error) {
	return flarc.NewCommand(
		"Process powder diffraction datasets.",
		Flags{},
		flarc.Args{
			{
				Name: ARG_DATASET, Required: true, Repeatable: true,
				Help: "path to a frame file of each dataset",
			},
		},
		common.NewTask(Task[Flags](domain.ProcessXRD, ARG_DATASET, options(opts))),
		flarc.WithDescription(`
Process powder diffraction datasets through indexing, integration and scaling.
`),
	)
}

// completed returns the number of completed stages.
func completed(st domain.PipelineState) int {
	switch st.Stage {
	case domain.Done:
		return len(st.Plan)
	case domain.Failed:
		return max(st.Plan.Position(st.LastCompleted), 0)
	}
	return max(st.Plan.Position(st.Stage)-1, 0)
}

// progress shows stages of a job with a progress bar.
type progress struct {
	w   io.Writer
	bar *pb.ProgressBar
}

func (p *progress) update(job domain.Job) {
	st := job.State
	if p.bar == nil {
		p.bar = pb.New(len(st.Plan))
		p.bar.SetWriter(p.w)
		p.bar.Start()
	}
	p.bar.SetCurrent(int64(completed(st)))
	p.bar.Set("prefix", job.Id()+" "+st.Stage.String()+": ")
}

func (p *progress) finish() {
	if p.bar != nil {
		p.bar.Finish()
	}
}

func Task[F RequestFlags](kind domain.JobKind, argName string, option *Option) common.Task[F] {
	return func(
		ctx context.Context,
		logger *log.Logger,
		c common.Client,
		cl flarc.Commandline[F],
		_ []any,
	) error {
		req, err := cl.Flags().Request()
		if err != nil {
			return err
		}
		paths := cl.Args()[argName]

		prog := &progress{w: cl.Stderr()}
		opts := []client.Option{client.WithProgress(prog.update)}
		if option.backoff != nil {
			opts = append(opts, client.WithPollBackoff(option.backoff))
		}
		dpc := client.New(c, opts...)

		var res client.Result
		switch kind {
		case domain.AnalyseFrame:
			res, err = dpc.AnalyseFrame(ctx, paths[0], req)
		case domain.ProcessMX:
			res, err = dpc.ProcessMX(ctx, paths, req)
		case domain.ProcessXRD:
			res, err = dpc.ProcessXRD(ctx, paths, req)
		}
		prog.finish()

		var jf *client.JobFailure
		switch {
		case errors.As(err, &jf):
			logger.Printf("%s", jf)
			if jf.Partial != nil {
				logger.Printf("latest partial report: %s", jf.Partial.Summary)
			}
			if perr := common.PrintJSON(cl.Stdout(), res.Job); perr != nil {
				return errors.Join(err, perr)
			}
			return err
		case err != nil:
			return err
		}

		if !req.Wait {
			logger.Printf("job %s is queued.", res.Job.Id())
			return common.PrintJSON(cl.Stdout(), res.Job)
		}
		logger.Printf("job %s is done.", res.Job.Id())
		return common.PrintJSON(cl.Stdout(), res)
	}
}
