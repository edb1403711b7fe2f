// dpservice dispatches crystallography processing jobs to processing nodes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/youta-t/flarc"

	"github.com/cmcf/autoprocess/cmd/dpservice/tasks/leaseexpiry"
	"github.com/cmcf/autoprocess/pkg/configs/service"
	"github.com/cmcf/autoprocess/pkg/dataset"
	"github.com/cmcf/autoprocess/pkg/dispatch"
	"github.com/cmcf/autoprocess/pkg/lease"
	"github.com/cmcf/autoprocess/pkg/loop"
	"github.com/cmcf/autoprocess/pkg/loop/recurring"
	"github.com/cmcf/autoprocess/pkg/pipeline"
	"github.com/cmcf/autoprocess/pkg/symmetry"
	"github.com/cmcf/autoprocess/pkg/utils/filewatch"
	"github.com/cmcf/autoprocess/pkg/utils/try"
)

type Flags struct {
	Config   string `flag:"config" alias:"c" help:"path to dpservice config file (yaml)"`
	Port     int    `flag:"port" help:"port to listen. overrides the config file"`
	Loglevel string `flag:"loglevel" help:"log level of http access logs. debug|info|warn|error|off"`
}

func main() {
	logger := log.New(os.Stderr, "[dpservice] ", log.LstdFlags)
	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, os.Kill,
	)
	defer cancel()

	cmd := try.To(flarc.NewCommand(
		"AutoProcess job dispatch service",
		Flags{
			Config:   envFallback("AUTOPROCESS_CONFIG", "/etc/autoprocess/dpservice.yaml"),
			Loglevel: envFallback("AUTOPROCESS_LOGLEVEL", "info"),
		},
		flarc.Args{},
		func(ctx context.Context, c flarc.Commandline[Flags], _ []any) error {
			flags := c.Flags()
			for {
				err := serve(ctx, logger, flags)
				if errors.Is(err, errReload) {
					logger.Println("config file is updated. restarting.")
					continue
				}
				return err
			}
		},
	)).OrFatal(logger)

	os.Exit(flarc.Run(ctx, cmd))
}

var errReload = errors.New("config is modified")

// serve runs dpservice until ctx is done or the config file is modified.
//
// It returns errReload on modification of the config file.
func serve(ctx context.Context, logger *log.Logger, flags Flags) error {
	conf, err := service.LoadServiceConfig(flags.Config)
	if err != nil {
		return fmt.Errorf("can not read configuration: %w", err)
	}

	wctx, stopWatch, err := filewatch.UntilModifyContext(ctx, flags.Config)
	if err != nil {
		return fmt.Errorf("can not watch configuration: %w", err)
	}
	defer stopWatch()

	store, err := openStore(ctx, conf.Store())
	if err != nil {
		return fmt.Errorf("can not open %s store: %w", conf.Store().Type(), err)
	}
	defer store.Close()

	nodes, err := dispatch.NewStaticNodes(conf.Nodes()...)
	if err != nil {
		return err
	}
	issuer, err := lease.NewIssuer([]byte(conf.Lease().Secret()))
	if err != nil {
		return err
	}
	if conf.Lease().Secret() == "" {
		logger.Println("lease.secret is not set. lease tokens do not survive restarts.")
	}
	machine := pipeline.New(conf.Pipeline().MaxAttempts(), symmetry.New(conf.Symmetry()))
	svc := dispatch.New(
		store.Jobs(), nodes, dataset.Filesystem{}, issuer, machine, conf.Lease().Window(),
	)

	port := int(conf.Port())
	if flags.Port != 0 {
		port = flags.Port
	}
	server := BuildServer(svc, flags.Loglevel)

	lctx, stopLoop := context.WithCancel(wctx)
	defer stopLoop()
	sweeper := make(chan error, 1)
	go func() {
		defer close(sweeper)
		sweepLogger := log.New(os.Stderr, "[lease expiry loop] ", log.LstdFlags)
		_, err := loop.Start(
			lctx, leaseexpiry.Seed(),
			recurring.Bind(
				leaseexpiry.Task(sweepLogger, svc),
				conf.Lease().SweepPolicy(),
			),
			loop.WithTimeout(conf.Lease().Window()),
		)
		if lctx.Err() == nil {
			sweepLogger.Printf("stopped (policy: %s): %v", conf.Lease().SweepPolicy(), err)
		}
		sweeper <- err
	}()

	context.AfterFunc(wctx, func() {
		graceful, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(graceful); err != nil {
			logger.Printf("error on shutdown: %s", err)
		}
	})

	logger.Printf(
		"listening :%d (store: %s, nodes: %d, lease window: %s)",
		port, conf.Store().Type(), len(conf.Nodes()), conf.Lease().Window(),
	)
	if err := server.Start(fmt.Sprintf(":%d", port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	stopLoop()
	<-sweeper

	if ctx.Err() != nil {
		return nil
	}
	if cause := context.Cause(wctx); cause != nil && wctx.Err() != nil {
		logger.Printf("%s", cause)
		return errReload
	}
	return nil
}

func envFallback(envname string, defaultVal string) string {
	if value := os.Getenv(envname); value != "" {
		return value
	}
	return defaultVal
}
