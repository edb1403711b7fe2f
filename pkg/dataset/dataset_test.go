package dataset_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cmcf/autoprocess/pkg/dataset"
	"github.com/cmcf/autoprocess/pkg/domain"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestFilesystem_Probe(t *testing.T) {
	t.Run("it finds the extent of a collection", func(t *testing.T) {
		dir := t.TempDir()
		touch(
			t, dir,
			"lyso_1_0000.img", // reference frame
			"lyso_1_0002.img", "lyso_1_0003.img", "lyso_1_0010.img",
			"lyso_1_001.img",  // other width
			"lyso_2_0001.img", // other collection
			"lyso_1_0004.cbf", // other extension
			"notes.txt",
		)

		actual, err := dataset.Filesystem{}.Probe(filepath.Join(dir, "lyso_1_0003.img"))
		if err != nil {
			t.Fatal(err)
		}
		expected := domain.FrameCollection{
			Name:     "lyso_1",
			Template: filepath.Join(dir, "lyso_1_????.img"),
			First:    2,
			Last:     10,
			Count:    3,
		}
		if actual != expected {
			t.Errorf("(actual, expected) = (%+v, %+v)", actual, expected)
		}
	})

	t.Run("file name without frame number is not a frame", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "lyso.img")
		_, err := dataset.Filesystem{}.Probe(filepath.Join(dir, "lyso.img"))
		if !errors.Is(err, dataset.ErrNotFrame) {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("missing frame file is an error", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "lyso_1_0001.img")
		_, err := dataset.Filesystem{}.Probe(filepath.Join(dir, "lyso_1_0002.img"))
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("a collection of only the reference frame has no frames", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "lyso_1_0000.img")
		_, err := dataset.Filesystem{}.Probe(filepath.Join(dir, "lyso_1_0000.img"))
		if !errors.Is(err, dataset.ErrNoFrames) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
