// dpnode runs processing jobs dispatched by dpservice on this node.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/youta-t/flarc"

	"github.com/cmcf/autoprocess/pkg/configs/node"
	"github.com/cmcf/autoprocess/pkg/engine"
	"github.com/cmcf/autoprocess/pkg/outbox"
	"github.com/cmcf/autoprocess/pkg/rest"
	"github.com/cmcf/autoprocess/pkg/utils/filewatch"
	"github.com/cmcf/autoprocess/pkg/utils/try"
	"github.com/cmcf/autoprocess/pkg/worker"
)

type Flags struct {
	Config  string `flag:"config" alias:"c" help:"path to dpnode config file (yaml)"`
	Metrics string `flag:"metrics" help:"address to serve Prometheus metrics, like \":9100\". empty to disable"`
}

func main() {
	logger := log.New(os.Stderr, "[dpnode] ", log.LstdFlags)
	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, os.Kill,
	)
	defer cancel()

	cmd := try.To(flarc.NewCommand(
		"AutoProcess processing node",
		Flags{
			Config:  envFallback("AUTOPROCESS_NODE_CONFIG", "/etc/autoprocess/dpnode.yaml"),
			Metrics: os.Getenv("AUTOPROCESS_NODE_METRICS"),
		},
		flarc.Args{},
		func(ctx context.Context, c flarc.Commandline[Flags], _ []any) error {
			flags := c.Flags()
			if flags.Metrics != "" {
				go serveMetrics(logger, flags.Metrics)
			}
			for {
				err := run(ctx, logger, flags.Config)
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

func serveMetrics(logger *log.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Printf("metrics server is stopped: %s", err)
	}
}

// run starts workers of the node until ctx is done or the config file is modified.
func run(ctx context.Context, logger *log.Logger, configPath string) error {
	conf, err := node.LoadNodeConfig(configPath)
	if err != nil {
		return fmt.Errorf("can not read configuration: %w", err)
	}

	wctx, stopWatch, err := filewatch.UntilModifyContext(ctx, configPath)
	if err != nil {
		return fmt.Errorf("can not watch configuration: %w", err)
	}
	defer stopWatch()

	coord, err := rest.NewClient(conf.Server())
	if err != nil {
		return err
	}
	eng, err := engine.NewExec(conf.Workdir(), conf.Engine().DefaultTimeout(), conf.Engine().Stages())
	if err != nil {
		return err
	}

	var ob outbox.Outbox
	if dir := conf.Outbox(); dir != "" {
		if ob, err = outbox.Open(dir); err != nil {
			return err
		}
	} else {
		logger.Println("outbox is not configured. reports not delivered are lost on restart.")
		ob = outbox.Memory()
	}
	defer ob.Close()

	workers := make([]*worker.Worker, conf.Concurrency())
	for i := range workers {
		workers[i] = worker.New(
			conf.NodeId(), coord, eng, ob,
			worker.WithPollInterval(conf.PollInterval()),
			worker.WithHeartbeatInterval(conf.HeartbeatInterval()),
			worker.WithLogger(log.New(
				os.Stderr, fmt.Sprintf("[worker %s/%d] ", conf.NodeId(), i), log.LstdFlags,
			)),
		)
	}

	if n, err := workers[0].Flush(wctx); err != nil {
		logger.Printf("failed to send reports in the outbox (%d sent). they are sent on next start: %s", n, err)
	} else if n != 0 {
		logger.Printf("%d report(s) in the outbox are sent", n)
	}

	logger.Printf(
		"node %s: %d worker(s) for %s (workdir: %s)",
		conf.NodeId(), len(workers), conf.Server(), conf.Workdir(),
	)

	wg := new(sync.WaitGroup)
	for _, w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(wctx)
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil
	}
	if cause := context.Cause(wctx); cause != nil {
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
