// Package dataset resolves frame files to the frame collections they belong to.
//
// A frame file is named as BASE_NUM.EXT, where NUM is a 3 to 6 digit frame number
// (e.g. "lyso_1_0001.img"). Files in the same directory with the same BASE, EXT and
// width of NUM form a collection.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/cmcf/autoprocess/pkg/domain"
)

var (
	// ErrNotFrame means the file name does not look like a frame file.
	ErrNotFrame = errors.New("not a frame file name")

	// ErrNoFrames means no frames are found for the file.
	ErrNoFrames = errors.New("no frames found")
)

var framePattern = regexp.MustCompile(`^(?P<base>.+_)(?P<num>\d{3,6})(?P<ext>\.?[\w.]+)?$`)

type name struct {
	base  string
	num   string
	ext   string
	frame int
}

func parse(filename string) (name, bool) {
	m := framePattern.FindStringSubmatch(filename)
	if m == nil {
		return name{}, false
	}
	n := name{
		base: m[framePattern.SubexpIndex("base")],
		num:  m[framePattern.SubexpIndex("num")],
		ext:  m[framePattern.SubexpIndex("ext")],
	}
	frame, err := strconv.Atoi(n.num)
	if err != nil {
		return name{}, false
	}
	n.frame = frame
	return n, true
}

func (n name) template() string {
	return n.base + strings.Repeat("?", len(n.num)) + n.ext
}

func (n name) sameCollection(o name) bool {
	return n.base == o.base && n.ext == o.ext && len(n.num) == len(o.num)
}

// Filesystem finds frame collections on the local filesystem.
type Filesystem struct{}

var _ domain.DatasetProber = Filesystem{}

// Probe resolves path to its frame collection.
//
// The frame file itself must exist.
// Frame number 0 is a reference frame and is not counted in the extent.
func (Filesystem) Probe(path string) (domain.FrameCollection, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return domain.FrameCollection{}, err
	}
	dir, filename := filepath.Split(abs)

	target, ok := parse(filename)
	if !ok {
		return domain.FrameCollection{}, fmt.Errorf("%w: %s", ErrNotFrame, filename)
	}

	if _, err := os.Stat(abs); err != nil {
		return domain.FrameCollection{}, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return domain.FrameCollection{}, err
	}

	fc := domain.FrameCollection{
		Name:     strings.TrimRight(target.base, "_.-"),
		Template: filepath.Join(dir, target.template()),
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, ok := parse(e.Name())
		if !ok || !n.sameCollection(target) || n.frame == 0 {
			continue
		}
		if fc.Count == 0 || n.frame < fc.First {
			fc.First = n.frame
		}
		if fc.Count == 0 || fc.Last < n.frame {
			fc.Last = n.frame
		}
		fc.Count += 1
	}

	if fc.Count == 0 {
		return domain.FrameCollection{}, fmt.Errorf("%w: %s", ErrNoFrames, fc.Template)
	}
	return fc, nil
}
