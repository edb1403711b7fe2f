// Package common is the shared part of dpclient subcommands.
package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/youta-t/flarc"

	"github.com/cmcf/autoprocess/pkg/domain"
	"github.com/cmcf/autoprocess/pkg/rest"
)

// CommonFlags are flags of the dpclient command group.
type CommonFlags struct {
	Server string `flag:"server" alias:"s" help:"URL of dpservice. (envvar: AUTOPROCESS_SERVER)"`
}

// Client is the part of dpservice API which dpclient uses.
type Client interface {
	Submit(ctx context.Context, d domain.JobDescriptor) (domain.Job, error)
	Status(ctx context.Context, jobId string) (domain.Job, error)
	Cancel(ctx context.Context, jobId string) (domain.Job, bool, error)
}

var _ Client = &rest.Client{}

// Task is a body of a dpclient subcommand.
type Task[T any] func(
	ctx context.Context,
	logger *log.Logger,
	client Client,
	cl flarc.Commandline[T],
	params []any,
) error

// NewTask converts Task into flarc.Task, with a client of the server given by CommonFlags.
func NewTask[T any](task Task[T]) flarc.Task[T] {
	return func(ctx context.Context, cl flarc.Commandline[T], pos []any) error {
		var commonFlag CommonFlags
		found := false
		newpos := make([]any, 0, len(pos))
		for _, p := range pos {
			switch v := p.(type) {
			case CommonFlags:
				found = true
				commonFlag = v
			default:
				newpos = append(newpos, p)
			}
		}
		if !found {
			return errors.New("programming error: common flags not found")
		}

		logger := log.New(cl.Stderr(), fmt.Sprintf("[%s] ", cl.Fullname()), log.LstdFlags)

		client, err := rest.NewClient(commonFlag.Server)
		if err != nil {
			return fmt.Errorf("%w: --server: %s", flarc.ErrUsage, err)
		}
		return task(ctx, logger, client, cl, newpos)
	}
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}
