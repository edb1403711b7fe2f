package main

import (
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cmcf/autoprocess/cmd/dpservice/handlers"
	"github.com/cmcf/autoprocess/pkg/dispatch"
	"github.com/cmcf/autoprocess/pkg/utils/echoutil"
)

var API_ROOT = "/api"

func api(subpath string) string {
	return fmt.Sprintf("%s/%s", API_ROOT, strings.TrimPrefix(subpath, "/"))
}

// BuildServer builds the HTTP API of dpservice on svc.
func BuildServer(svc *dispatch.Service, loglevel string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	echoutil.SetLevel(e, loglevel)

	e.HTTPErrorHandler = func(err error, ctx echo.Context) {
		e.DefaultHTTPErrorHandler(err, ctx)
		e.Logger.Error(err)
	}
	e.Use(echoutil.LogHandlerFunc)

	const jobId = "jobId"
	const nodeId = "nodeId"

	e.POST(api("jobs"), handlers.SubmitHandler(svc))
	e.GET(api("jobs"), handlers.ListHandler(svc))
	e.GET(api("jobs/:"+jobId), handlers.StatusHandler(svc, jobId))
	e.PUT(api("jobs/:"+jobId+"/cancel"), handlers.CancelHandler(svc, jobId))
	e.PUT(api("jobs/:"+jobId+"/retry"), handlers.RetryHandler(svc, jobId))
	e.PUT(api("jobs/:"+jobId+"/skip"), handlers.SkipHandler(svc, jobId))
	e.PUT(api("jobs/:"+jobId+"/symmetry"), handlers.SymmetryHandler(svc, jobId))

	e.POST(api("jobs/:"+jobId+"/assignment"), handlers.AssignHandler(svc, jobId))
	e.POST(api("jobs/:"+jobId+"/reports"), handlers.ReportHandler(svc, jobId))
	e.POST(api("jobs/:"+jobId+"/heartbeat"), handlers.HeartbeatHandler(svc, jobId))
	e.GET(api("nodes"), handlers.NodesHandler(svc))
	e.POST(api("nodes/:"+nodeId+"/claim"), handlers.ClaimHandler(svc, nodeId))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}
