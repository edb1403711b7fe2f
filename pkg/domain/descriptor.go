package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// JobKind is the kind of processing request.
type JobKind string

const (
	// AnalyseFrame analyses a single diffraction frame.
	AnalyseFrame JobKind = "analyse_frame"

	// ProcessMX processes macromolecular crystallography datasets.
	ProcessMX JobKind = "process_mx"

	// ProcessXRD processes powder diffraction datasets.
	ProcessXRD JobKind = "process_xrd"
)

func AsJobKind(s string) (JobKind, error) {
	switch JobKind(s) {
	case AnalyseFrame, ProcessMX, ProcessXRD:
		return JobKind(s), nil
	default:
		return "", fmt.Errorf("'%s' is not a JobKind", s)
	}
}

func (k JobKind) String() string {
	return string(k)
}

// Options are the recognized processing flags of a job.
type Options struct {
	// Anomalous keeps Friedel pairs separate.
	Anomalous bool `json:"anomalous"`

	// Chiral tells the sample is a chiral molecule. It is true by default.
	Chiral bool `json:"chiral"`

	// Screen runs the screening plan (Indexing, Integration, Strategy). MX only.
	Screen bool `json:"screen"`

	// MAD processes multi-wavelength datasets. It implies Anomalous.
	MAD bool `json:"mad"`

	// Optimize asks the engine to re-integrate with refined parameters.
	Optimize bool `json:"optimize"`

	// Prefixes names outputs per dataset.
	Prefixes []string `json:"prefixes,omitempty"`
}

func DefaultOptions() Options {
	return Options{Chiral: true}
}

// Effective returns options with implications applied.
func (o Options) Effective() Options {
	e := o
	e.Prefixes = slices.Clone(o.Prefixes)
	if e.MAD {
		e.Anomalous = true
	}
	return e
}

// UnmarshalJSON decodes options strictly. Unknown keys fail.
//
// Absent keys take the default values.
func (o *Options) UnmarshalJSON(b []byte) error {
	type plain Options
	p := plain(DefaultOptions())

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return NewValidationError("options", "%s", err)
	}
	*o = Options(p)
	return nil
}

// FrameRange is a closed range of frame numbers.
type FrameRange struct {
	First int `json:"first"`
	Last  int `json:"last"`
}

func (f FrameRange) String() string {
	return fmt.Sprintf("%d-%d", f.First, f.Last)
}

// ResolutionRange is a resolution limit pair in Ångström.
//
// Low is the low-resolution limit, which is numerically larger than High.
// Zero means "not limited".
type ResolutionRange struct {
	Low  float64 `json:"low,omitempty"`
	High float64 `json:"high,omitempty"`
}

// FrameCollection is a set of frame files sharing one file template.
type FrameCollection struct {
	// Name of the dataset, e.g. "lyso_1".
	Name string `json:"name"`

	// Template of frame files, e.g. "/data/lyso_1_????.img".
	Template string `json:"template"`

	// First frame number.
	First int `json:"first"`

	// Last frame number.
	Last int `json:"last"`

	// Count of frame files.
	Count int `json:"count"`
}

func (fc FrameCollection) Covers(r FrameRange) bool {
	return fc.First <= r.First && r.Last <= fc.Last
}

// DatasetProber resolves a frame file path to the collection it belongs to.
type DatasetProber interface {
	Probe(path string) (FrameCollection, error)
}

// JobDescriptor describes one processing request. It is immutable once submitted.
type JobDescriptor struct {
	JobId           string           `json:"job_id"`
	Kind            JobKind          `json:"kind"`
	DatasetPaths    []string         `json:"dataset_paths"`
	FrameRange      *FrameRange      `json:"frame_range,omitempty"`
	ResolutionRange *ResolutionRange `json:"resolution_range,omitempty"`
	SpaceGroupHint  string           `json:"space_group_hint,omitempty"`
	Options         Options          `json:"options"`
}

// UnmarshalJSON decodes a descriptor. Options take the default values when absent.
func (d *JobDescriptor) UnmarshalJSON(b []byte) error {
	type plain JobDescriptor
	p := plain{Options: DefaultOptions()}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = JobDescriptor(p)
	return nil
}

// Clone returns a deep copy.
func (d JobDescriptor) Clone() JobDescriptor {
	c := d
	c.DatasetPaths = slices.Clone(d.DatasetPaths)
	c.Options.Prefixes = slices.Clone(d.Options.Prefixes)
	if d.FrameRange != nil {
		fr := *d.FrameRange
		c.FrameRange = &fr
	}
	if d.ResolutionRange != nil {
		rr := *d.ResolutionRange
		c.ResolutionRange = &rr
	}
	return c
}

// Plan returns the stages this job goes through.
func (d JobDescriptor) Plan() Plan {
	switch d.Kind {
	case AnalyseFrame:
		return Plan{Indexing}
	case ProcessXRD:
		return Plan{Indexing, Integration, Scaling}
	case ProcessMX:
		if d.Options.Screen {
			return Plan{Indexing, Integration, Strategy}
		}
		return Plan{Indexing, Integration, Scaling, Merging, Strategy}
	}
	return Plan{}
}

// NeedsSymmetry reports whether Indexing of this job must resolve a symmetry.
func (d JobDescriptor) NeedsSymmetry() bool {
	return d.Kind == ProcessMX || d.Kind == ProcessXRD
}

// Validate checks the descriptor. Dataset paths are resolved with prober.
//
// It returns *ValidationError for the first problem found.
func (d JobDescriptor) Validate(prober DatasetProber) error {
	if d.JobId == "" {
		return NewValidationError("job_id", "required")
	}
	if strings.TrimSpace(d.JobId) != d.JobId || strings.ContainsAny(d.JobId, "/\\") {
		return NewValidationError("job_id", "must not contain spaces or path separators: %q", d.JobId)
	}

	if _, err := AsJobKind(string(d.Kind)); err != nil {
		return NewValidationError("kind", "%s", err)
	}

	switch {
	case len(d.DatasetPaths) == 0:
		return NewValidationError("dataset_paths", "at least one dataset is required")
	case d.Kind == AnalyseFrame && len(d.DatasetPaths) != 1:
		return NewValidationError("dataset_paths", "%s takes exactly one frame, but got %d", d.Kind, len(d.DatasetPaths))
	}

	if fr := d.FrameRange; fr != nil {
		if fr.First < 1 || fr.Last < fr.First {
			return NewValidationError("frame_range", "malformed range %s", fr)
		}
	}

	if rr := d.ResolutionRange; rr != nil {
		if rr.Low < 0 || rr.High < 0 {
			return NewValidationError("resolution_range", "limits must not be negative: low=%g, high=%g", rr.Low, rr.High)
		}
		if rr.Low != 0 && rr.High != 0 && rr.Low < rr.High {
			return NewValidationError(
				"resolution_range",
				"low resolution limit (%g Å) must not be smaller than high resolution limit (%g Å)",
				rr.Low, rr.High,
			)
		}
	}

	if hint := d.SpaceGroupHint; hint != "" && strings.TrimSpace(hint) == "" {
		return NewValidationError("space_group_hint", "blank space group")
	}

	opts := d.Options.Effective()
	if opts.Screen && d.Kind != ProcessMX {
		return NewValidationError("options.screen", "screening is supported only by %s", ProcessMX)
	}
	if opts.MAD && len(d.DatasetPaths) < 2 {
		return NewValidationError("options.mad", "MAD needs two or more datasets, but got %d", len(d.DatasetPaths))
	}
	if len(opts.Prefixes) != 0 && len(opts.Prefixes) != len(d.DatasetPaths) {
		return NewValidationError(
			"options.prefixes", "%d prefixes for %d datasets", len(opts.Prefixes), len(d.DatasetPaths),
		)
	}

	for i, p := range d.DatasetPaths {
		field := fmt.Sprintf("dataset_paths[%d]", i)
		fc, err := prober.Probe(p)
		if err != nil {
			return NewValidationError(field, "%s", err)
		}
		if d.FrameRange != nil && !fc.Covers(*d.FrameRange) {
			return NewValidationError(
				"frame_range", "%s is out of the extent of %s (%d-%d)",
				d.FrameRange, fc.Name, fc.First, fc.Last,
			)
		}
	}

	return nil
}
