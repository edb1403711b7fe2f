package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cmcf/autoprocess/pkg/domain"
	"github.com/cmcf/autoprocess/pkg/metrics"
)

func TestRecording(t *testing.T) {
	// collectors are global; compare deltas.
	before := testutil.ToFloat64(metrics.Reports.WithLabelValues("scaling", "retrying"))
	metrics.RecordReport(domain.Scaling, "retrying")
	metrics.RecordReport(domain.Scaling, "retrying")
	if got := testutil.ToFloat64(metrics.Reports.WithLabelValues("scaling", "retrying")); got-before != 2 {
		t.Errorf("reports: delta = %g", got-before)
	}

	before = testutil.ToFloat64(metrics.JobsFinished.WithLabelValues("failed", "timeout"))
	metrics.RecordFinish(domain.PipelineState{
		Stage:   domain.Failed,
		Failure: &domain.Failure{Kind: domain.Timeout, Stage: domain.Integration},
	})
	if got := testutil.ToFloat64(metrics.JobsFinished.WithLabelValues("failed", "timeout")); got-before != 1 {
		t.Errorf("finished: delta = %g", got-before)
	}

	before = testutil.ToFloat64(metrics.LeasesExpired)
	metrics.RecordLeaseExpiry()
	if got := testutil.ToFloat64(metrics.LeasesExpired); got-before != 1 {
		t.Errorf("leases expired: delta = %g", got-before)
	}

	metrics.RecordEngineRun(domain.Indexing, "success", 3*time.Second)
	if n := testutil.CollectAndCount(metrics.EngineDuration); n == 0 {
		t.Errorf("engine duration has no series")
	}
}
