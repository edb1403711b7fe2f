// dpclient submits processing requests to dpservice and shows their states.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"

	"github.com/youta-t/flarc"

	subcancel "github.com/cmcf/autoprocess/cmd/dpclient/subcommands/cancel"
	"github.com/cmcf/autoprocess/cmd/dpclient/subcommands/common"
	substatus "github.com/cmcf/autoprocess/cmd/dpclient/subcommands/status"
	"github.com/cmcf/autoprocess/cmd/dpclient/subcommands/submit"
	"github.com/cmcf/autoprocess/pkg/utils/try"
)

func main() {
	name := path.Base(os.Args[0])
	logger := log.New(os.Stderr, fmt.Sprintf("[%s] ", name), log.LstdFlags)

	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, os.Kill,
	)
	defer cancel()

	analyse := try.To(submit.NewAnalyseFrame()).OrFatal(logger)
	mx := try.To(submit.NewProcessMX()).OrFatal(logger)
	xrd := try.To(submit.NewProcessXRD()).OrFatal(logger)
	status := try.To(substatus.New()).OrFatal(logger)
	cancelJob := try.To(subcancel.New()).OrFatal(logger)

	dpclient := try.To(
		flarc.NewCommandGroup(
			"AutoProcess client",
			common.CommonFlags{
				Server: envFallback("AUTOPROCESS_SERVER", "http://localhost:8080"),
			},
			flarc.WithSubcommand("analyse-frame", analyse),
			flarc.WithSubcommand("process-mx", mx),
			flarc.WithSubcommand("process-xrd", xrd),
			flarc.WithSubcommand("status", status),
			flarc.WithSubcommand("cancel", cancelJob),
		),
	).OrFatal(logger)

	os.Exit(flarc.Run(ctx, dpclient, flarc.WithHelp(true)))
}

func envFallback(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
