package outbox_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cmcf/autoprocess/pkg/domain"
	"github.com/cmcf/autoprocess/pkg/outbox"
	"github.com/cmcf/autoprocess/pkg/utils/try"
)

func entry(jobId string, stage domain.Stage) outbox.Entry {
	return outbox.Entry{
		JobId: jobId,
		Token: "token-" + jobId,
		Result: domain.StageResult{
			Stage:      stage,
			Success:    true,
			Checkpoint: json.RawMessage(`{"after":"` + stage.String() + `"}`),
		},
		QueuedAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func seqs(entries []outbox.Entry) []uint64 {
	ret := make([]uint64, 0, len(entries))
	for _, e := range entries {
		ret = append(ret, e.Seq)
	}
	return ret
}

// conformance runs the common behaviour of Outbox implementations.
func conformance(t *testing.T, open func(t *testing.T) outbox.Outbox) {
	ctx := context.Background()

	t.Run("it returns pending entries in order", func(t *testing.T) {
		testee := open(t)
		defer testee.Close()

		s1 := try.To(testee.Put(ctx, entry("job-1", domain.Indexing))).OrFatal(t)
		s2 := try.To(testee.Put(ctx, entry("job-2", domain.Indexing))).OrFatal(t)
		s3 := try.To(testee.Put(ctx, entry("job-1", domain.Integration))).OrFatal(t)
		if !(s1 < s2 && s2 < s3) {
			t.Fatalf("sequence is not increasing: %d, %d, %d", s1, s2, s3)
		}

		pending := try.To(testee.Pending(ctx)).OrFatal(t)
		if len(pending) != 3 {
			t.Fatalf("pending: %+v", pending)
		}
		if s := seqs(pending); s[0] != s1 || s[1] != s2 || s[2] != s3 {
			t.Errorf("order: %v", s)
		}
		last := pending[2]
		if last.JobId != "job-1" || last.Token != "token-job-1" || last.Result.Stage != domain.Integration {
			t.Errorf("entry: %+v", last)
		}
		if string(last.Result.Checkpoint) != `{"after":"integration"}` {
			t.Errorf("checkpoint: %s", last.Result.Checkpoint)
		}
		if !last.QueuedAt.Equal(entry("", "").QueuedAt) {
			t.Errorf("queued at: %s", last.QueuedAt)
		}
	})

	t.Run("acknowledged entries are removed", func(t *testing.T) {
		testee := open(t)
		defer testee.Close()

		s1 := try.To(testee.Put(ctx, entry("job-1", domain.Indexing))).OrFatal(t)
		s2 := try.To(testee.Put(ctx, entry("job-2", domain.Indexing))).OrFatal(t)

		if err := testee.Ack(ctx, s1); err != nil {
			t.Fatal(err)
		}
		if err := testee.Ack(ctx, s1+1000); err != nil {
			t.Errorf("ack of unknown entry: %v", err)
		}

		pending := try.To(testee.Pending(ctx)).OrFatal(t)
		if s := seqs(pending); len(s) != 1 || s[0] != s2 {
			t.Errorf("pending: %v", s)
		}
	})

	t.Run("empty outbox has no pending entries", func(t *testing.T) {
		testee := open(t)
		defer testee.Close()
		if pending := try.To(testee.Pending(ctx)).OrFatal(t); len(pending) != 0 {
			t.Errorf("pending: %+v", pending)
		}
	})
}

func TestMemory(t *testing.T) {
	conformance(t, func(*testing.T) outbox.Outbox { return outbox.Memory() })
}

func TestBadger(t *testing.T) {
	conformance(t, func(t *testing.T) outbox.Outbox {
		return try.To(outbox.Open(t.TempDir())).OrFatal(t)
	})

	t.Run("entries survive reopening", func(t *testing.T) {
		ctx := context.Background()
		dir := t.TempDir()

		first := try.To(outbox.Open(dir)).OrFatal(t)
		s1 := try.To(first.Put(ctx, entry("job-1", domain.Indexing))).OrFatal(t)
		try.To(first.Put(ctx, entry("job-2", domain.Indexing))).OrFatal(t)
		if err := first.Ack(ctx, s1); err != nil {
			t.Fatal(err)
		}
		if err := first.Close(); err != nil {
			t.Fatal(err)
		}

		second := try.To(outbox.Open(dir)).OrFatal(t)
		defer second.Close()
		pending := try.To(second.Pending(ctx)).OrFatal(t)
		if len(pending) != 1 || pending[0].JobId != "job-2" {
			t.Fatalf("pending: %+v", pending)
		}

		s3 := try.To(second.Put(ctx, entry("job-3", domain.Indexing))).OrFatal(t)
		if s3 <= pending[0].Seq {
			t.Errorf("sequence goes back after reopening: %d <= %d", s3, pending[0].Seq)
		}
	})
}
