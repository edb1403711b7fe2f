package filewatch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cmcf/autoprocess/pkg/utils/filewatch"
)

func waitDone(t *testing.T, ctx context.Context) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context is not canceled")
	}
}

func TestUntilModifyContext(t *testing.T) {
	t.Run("writing a watched file cancels context", func(t *testing.T) {
		dir := t.TempDir()
		file := filepath.Join(dir, "service.yaml")
		if err := os.WriteFile(file, []byte("port: 8080\n"), 0o644); err != nil {
			t.Fatal(err)
		}

		ctx, cancel, err := filewatch.UntilModifyContext(context.Background(), file)
		if err != nil {
			t.Fatal(err)
		}
		defer cancel()

		if err := ctx.Err(); err != nil {
			t.Fatalf("context is done before modification: %v", err)
		}
		if err := os.WriteFile(file, []byte("port: 8081\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		waitDone(t, ctx)
		if context.Cause(ctx) == nil {
			t.Error("cause is not set")
		}
	})

	t.Run("creating a file in a watched directory cancels context", func(t *testing.T) {
		dir := t.TempDir()
		ctx, cancel, err := filewatch.UntilModifyContext(context.Background(), dir)
		if err != nil {
			t.Fatal(err)
		}
		defer cancel()

		if err := os.WriteFile(filepath.Join(dir, "new"), nil, 0o644); err != nil {
			t.Fatal(err)
		}
		waitDone(t, ctx)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, _, err := filewatch.UntilModifyContext(
			context.Background(), filepath.Join(t.TempDir(), "missing"),
		)
		if err == nil {
			t.Error("expected error")
		}
	})
}
