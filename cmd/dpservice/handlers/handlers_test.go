package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cmcf/autoprocess/cmd/dpservice/handlers"
	httptestutil "github.com/cmcf/autoprocess/internal/testutils/http"
	apierr "github.com/cmcf/autoprocess/pkg/api/errors"
	apitypes "github.com/cmcf/autoprocess/pkg/api/types"
	"github.com/cmcf/autoprocess/pkg/db/memory"
	"github.com/cmcf/autoprocess/pkg/dispatch"
	"github.com/cmcf/autoprocess/pkg/domain"
	"github.com/cmcf/autoprocess/pkg/lease"
	"github.com/cmcf/autoprocess/pkg/pipeline"
	"github.com/cmcf/autoprocess/pkg/symmetry"
	"github.com/cmcf/autoprocess/pkg/utils/try"
)

type prober struct{}

func (prober) Probe(path string) (domain.FrameCollection, error) {
	return domain.FrameCollection{Name: "lyso", Template: "/data/lyso_????.cbf", First: 1, Last: 100, Count: 100}, nil
}

func newService(t *testing.T) *dispatch.Service {
	t.Helper()
	nodes := try.To(dispatch.NewStaticNodes(domain.Node{Id: "node-1", Capacity: 1})).OrFatal(t)
	issuer := try.To(lease.NewIssuer([]byte("secret"))).OrFatal(t)
	return dispatch.New(
		memory.New().Jobs(), nodes, prober{}, issuer,
		pipeline.New(3, symmetry.New(symmetry.DefaultConfig())),
		time.Minute,
		dispatch.WithLogger(log.New(io.Discard, "", 0)),
	)
}

const descriptor = `{
	"job_id": "job-1",
	"kind": "process_mx",
	"dataset_paths": ["/data/lyso_0001.cbf"],
	"frame_range": {"first": 1, "last": 90}
}`

// assertHTTPError checks err is *echo.HTTPError with status and code.
func assertHTTPError(t *testing.T, err error, status int, code apierr.Code) {
	t.Helper()
	he := new(echo.HTTPError)
	if !errors.As(err, &he) {
		t.Fatalf("error is not HTTPError: %v", err)
	}
	if he.Code != status {
		t.Errorf("status: (actual, expected) = (%d, %d)", he.Code, status)
	}
	if code == "" {
		return
	}
	msg, ok := he.Message.(apierr.ErrorMessage)
	if !ok {
		t.Fatalf("message is %T", he.Message)
	}
	if msg.Code != code {
		t.Errorf("code: (actual, expected) = (%s, %s)", msg.Code, code)
	}
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(resp.Body.Bytes(), &v); err != nil {
		t.Fatalf("response body %s: %v", resp.Body.String(), err)
	}
	return v
}

func withJob(c echo.Context, jobId string) echo.Context {
	c.SetParamNames("jobId")
	c.SetParamValues(jobId)
	return c
}

func submit(t *testing.T, svc *dispatch.Service, body string) {
	t.Helper()
	e := echo.New()
	c, _ := httptestutil.Post(e, "/api/jobs", strings.NewReader(body), httptestutil.ContentType("application/json"))
	if err := handlers.SubmitHandler(svc)(c); err != nil {
		t.Fatal(err)
	}
}

func TestSubmitHandler(t *testing.T) {
	t.Run("it responds 201 with the queued job", func(t *testing.T) {
		e := echo.New()
		c, resp := httptestutil.Post(e, "/api/jobs", strings.NewReader(descriptor))
		if err := handlers.SubmitHandler(newService(t))(c); err != nil {
			t.Fatal(err)
		}
		if resp.Code != http.StatusCreated {
			t.Errorf("status: %d", resp.Code)
		}
		job := decode[domain.Job](t, resp)
		if job.Id() != "job-1" || job.State.Stage != domain.Queued {
			t.Errorf("job: %+v", job)
		}
		if !job.Descriptor.Options.Chiral {
			t.Errorf("options do not take defaults: %+v", job.Descriptor.Options)
		}
	})

	for name, testcase := range map[string]struct {
		body   string
		status int
		code   apierr.Code
	}{
		"invalid descriptor": {
			body:   `{"job_id": "job-1", "kind": "process_mx", "dataset_paths": ["/data/lyso_0001.cbf"], "frame_range": {"first": 50, "last": 150}}`,
			status: http.StatusBadRequest, code: apierr.CodeValidation,
		},
		"unknown option": {
			body:   `{"job_id": "job-1", "kind": "process_mx", "dataset_paths": ["/data/a_0001.cbf"], "options": {"fast": true}}`,
			status: http.StatusBadRequest, code: apierr.CodeValidation,
		},
		"broken json": {
			body:   `{"job_id": `,
			status: http.StatusBadRequest,
		},
	} {
		t.Run("it rejects "+name, func(t *testing.T) {
			e := echo.New()
			c, _ := httptestutil.Post(e, "/api/jobs", strings.NewReader(testcase.body))
			err := handlers.SubmitHandler(newService(t))(c)
			assertHTTPError(t, err, testcase.status, testcase.code)
		})
	}

	t.Run("it responds 409 for duplicates", func(t *testing.T) {
		svc := newService(t)
		submit(t, svc, descriptor)

		e := echo.New()
		c, _ := httptestutil.Post(e, "/api/jobs", strings.NewReader(descriptor))
		err := handlers.SubmitHandler(svc)(c)
		assertHTTPError(t, err, http.StatusConflict, apierr.CodeDuplicateJob)
	})
}

func TestListHandler(t *testing.T) {
	svc := newService(t)
	submit(t, svc, descriptor)
	submit(t, svc, strings.Replace(descriptor, "job-1", "job-2", 1))
	if _, _, err := cancel(t, svc, "job-2"); err != nil {
		t.Fatal(err)
	}

	for name, testcase := range map[string]struct {
		target string
		want   []string
	}{
		"all":      {target: "/api/jobs", want: []string{"job-1", "job-2"}},
		"queued":   {target: "/api/jobs?stage=queued", want: []string{"job-1"}},
		"multiple": {target: "/api/jobs?stage=queued,failed", want: []string{"job-1", "job-2"}},
		"limited":  {target: "/api/jobs?limit=1", want: []string{"job-1"}},
		"none":     {target: "/api/jobs?stage=done", want: []string{}},
	} {
		t.Run(name, func(t *testing.T) {
			e := echo.New()
			c, resp := httptestutil.Get(e, testcase.target)
			if err := handlers.ListHandler(svc)(c); err != nil {
				t.Fatal(err)
			}
			jobs := decode[[]domain.Job](t, resp)
			got := []string{}
			for _, j := range jobs {
				got = append(got, j.Id())
			}
			if strings.Join(got, ",") != strings.Join(testcase.want, ",") {
				t.Errorf("jobs: (actual, expected) = (%v, %v)", got, testcase.want)
			}
		})
	}

	for name, target := range map[string]string{
		"unknown stage":  "/api/jobs?stage=queued,running",
		"negative limit": "/api/jobs?limit=-1",
		"broken limit":   "/api/jobs?limit=ten",
	} {
		t.Run("it rejects "+name, func(t *testing.T) {
			e := echo.New()
			c, _ := httptestutil.Get(e, target)
			assertHTTPError(t, handlers.ListHandler(svc)(c), http.StatusBadRequest, "")
		})
	}
}

func cancel(t *testing.T, svc *dispatch.Service, jobId string) (echo.Context, *httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	c, resp := httptestutil.Put(e, "/api/jobs/"+jobId+"/cancel", nil)
	err := handlers.CancelHandler(svc, "jobId")(withJob(c, jobId))
	return c, resp, err
}

func TestStatusHandler(t *testing.T) {
	svc := newService(t)
	submit(t, svc, descriptor)

	t.Run("it responds the job", func(t *testing.T) {
		e := echo.New()
		c, resp := httptestutil.Get(e, "/api/jobs/job-1")
		if err := handlers.StatusHandler(svc, "jobId")(withJob(c, "job-1")); err != nil {
			t.Fatal(err)
		}
		if job := decode[domain.Job](t, resp); job.Id() != "job-1" || len(job.State.Plan) != 5 {
			t.Errorf("job: %+v", job)
		}
	})

	t.Run("it responds 404 for unknown jobs", func(t *testing.T) {
		e := echo.New()
		c, _ := httptestutil.Get(e, "/api/jobs/job-9")
		err := handlers.StatusHandler(svc, "jobId")(withJob(c, "job-9"))
		assertHTTPError(t, err, http.StatusNotFound, apierr.CodeMissing)
	})
}

func TestCancelHandler(t *testing.T) {
	t.Run("a waiting job is canceled now", func(t *testing.T) {
		svc := newService(t)
		submit(t, svc, descriptor)
		_, resp, err := cancel(t, svc, "job-1")
		if err != nil {
			t.Fatal(err)
		}
		if resp.Code != http.StatusOK {
			t.Errorf("status: %d", resp.Code)
		}
		result := decode[apitypes.CancelResult](t, resp)
		if result.Deferred || result.Job.State.Stage != domain.Failed {
			t.Errorf("result: %+v", result)
		}
	})

	t.Run("a running job is canceled later", func(t *testing.T) {
		svc := newService(t)
		submit(t, svc, descriptor)
		try.To(svc.Assign(context.Background(), "job-1", "node-1")).OrFatal(t)

		_, resp, err := cancel(t, svc, "job-1")
		if err != nil {
			t.Fatal(err)
		}
		if resp.Code != http.StatusAccepted {
			t.Errorf("status: %d", resp.Code)
		}
		if result := decode[apitypes.CancelResult](t, resp); !result.Deferred || !result.Job.State.CancelRequested {
			t.Errorf("result: %+v", result)
		}
	})

	t.Run("an unknown job is not found", func(t *testing.T) {
		_, _, err := cancel(t, newService(t), "job-9")
		assertHTTPError(t, err, http.StatusNotFound, apierr.CodeMissing)
	})
}

func TestOperatorHandlers(t *testing.T) {
	svc := newService(t)
	submit(t, svc, descriptor)
	if _, _, err := svc.Cancel(context.Background(), "job-1"); err != nil {
		t.Fatal(err)
	}

	t.Run("retry", func(t *testing.T) {
		e := echo.New()
		c, resp := httptestutil.Put(e, "/api/jobs/job-1/retry", strings.NewReader(`{"operator": "op", "reason": "by mistake"}`))
		if err := handlers.RetryHandler(svc, "jobId")(withJob(c, "job-1")); err != nil {
			t.Fatal(err)
		}
		if job := decode[domain.Job](t, resp); job.State.Stage != domain.Indexing {
			t.Errorf("stage: %s", job.State.Stage)
		}
	})

	t.Run("skip", func(t *testing.T) {
		e := echo.New()
		c, resp := httptestutil.Put(e, "/api/jobs/job-1/skip", strings.NewReader(`{
			"stage": "indexing", "operator": "op", "reason": "indexed by hand",
			"symmetry": {"lattice_type": "orthorhombic", "space_group": "P212121"}
		}`))
		if err := handlers.SkipHandler(svc, "jobId")(withJob(c, "job-1")); err != nil {
			t.Fatal(err)
		}
		job := decode[domain.Job](t, resp)
		if job.State.Stage != domain.Integration || job.State.Resolved == nil || job.State.Resolved.SpaceGroup != "P212121" {
			t.Errorf("state: %+v", job.State)
		}
	})

	t.Run("symmetry override of a missing candidate", func(t *testing.T) {
		e := echo.New()
		c, _ := httptestutil.Put(e, "/api/jobs/job-1/symmetry", strings.NewReader(`{"space_group": "P1", "operator": "op", "reason": "r"}`))
		err := handlers.SymmetryHandler(svc, "jobId")(withJob(c, "job-1"))
		assertHTTPError(t, err, http.StatusConflict, apierr.CodeInvalidTransition)
	})

	t.Run("unknown fields", func(t *testing.T) {
		e := echo.New()
		c, _ := httptestutil.Put(e, "/api/jobs/job-1/retry", strings.NewReader(`{"operator": "op", "reason": "r", "force": true}`))
		err := handlers.RetryHandler(svc, "jobId")(withJob(c, "job-1"))
		assertHTTPError(t, err, http.StatusBadRequest, "")
	})
}
