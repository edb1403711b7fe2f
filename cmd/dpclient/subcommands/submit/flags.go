package submit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/youta-t/flarc"

	"github.com/cmcf/autoprocess/pkg/client"
	"github.com/cmcf/autoprocess/pkg/domain"
)

// Flags are flags of analyse-frame and process-xrd.
type Flags struct {
	JobId      string  `flag:"job-id" help:"id of the new job. generated when omitted"`
	Frames     string  `flag:"frames" help:"frame range to be processed, like \"1-90\""`
	LowRes     float64 `flag:"low-res" help:"low resolution limit, in Ångström"`
	HighRes    float64 `flag:"high-res" help:"high resolution limit, in Ångström"`
	SpaceGroup string  `flag:"space-group" help:"space group of the crystal if known, like P212121"`
	Wait       bool    `flag:"wait" alias:"w" help:"wait until the job finishes, and show its final report"`
}

// MXFlags are flags of process-mx.
type MXFlags struct {
	JobId      string  `flag:"job-id" help:"id of the new job. generated when omitted"`
	Frames     string  `flag:"frames" help:"frame range to be processed, like \"1-90\""`
	LowRes     float64 `flag:"low-res" help:"low resolution limit, in Ångström"`
	HighRes    float64 `flag:"high-res" help:"high resolution limit, in Ångström"`
	SpaceGroup string  `flag:"space-group" help:"space group of the crystal if known, like P212121"`
	Wait       bool    `flag:"wait" alias:"w" help:"wait until the job finishes, and show its final report"`

	Anomalous bool `flag:"anomalous" alias:"a" help:"keep Friedel pairs separate"`
	Screen    bool `flag:"screen" help:"screen the crystal (indexing, integration and strategy only)"`
	MAD       bool `flag:"mad" help:"process multi-wavelength datasets. implies --anomalous"`
	Optimize  bool `flag:"optimize" help:"re-integrate with refined parameters"`
	Achiral   bool `flag:"achiral" help:"the sample is not a chiral molecule"`
}

// RequestFlags are flags which make a client.Request.
type RequestFlags interface {
	Request() (client.Request, error)
}

func (f Flags) Request() (client.Request, error) {
	opts := domain.DefaultOptions()
	req := client.Request{
		JobId:          f.JobId,
		SpaceGroupHint: f.SpaceGroup,
		Options:        &opts,
		Wait:           f.Wait,
	}

	if f.Frames != "" {
		fr, err := parseFrameRange(f.Frames)
		if err != nil {
			return client.Request{}, fmt.Errorf("%w: --frames: %s", flarc.ErrUsage, err)
		}
		req.FrameRange = &fr
	}
	if f.LowRes != 0 || f.HighRes != 0 {
		req.ResolutionRange = &domain.ResolutionRange{Low: f.LowRes, High: f.HighRes}
	}
	return req, nil
}

func (f MXFlags) Request() (client.Request, error) {
	req, err := Flags{
		JobId:      f.JobId,
		Frames:     f.Frames,
		LowRes:     f.LowRes,
		HighRes:    f.HighRes,
		SpaceGroup: f.SpaceGroup,
		Wait:       f.Wait,
	}.Request()
	if err != nil {
		return client.Request{}, err
	}
	req.Options.Anomalous = f.Anomalous
	req.Options.Screen = f.Screen
	req.Options.MAD = f.MAD
	req.Options.Optimize = f.Optimize
	req.Options.Chiral = !f.Achiral
	return req, nil
}

// parseFrameRange parses "FIRST-LAST", or "N" for a single frame.
func parseFrameRange(s string) (domain.FrameRange, error) {
	first, last, ranged := strings.Cut(s, "-")
	if !ranged {
		last = first
	}
	f, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return domain.FrameRange{}, fmt.Errorf("bad frame number %q", first)
	}
	l, err := strconv.Atoi(strings.TrimSpace(last))
	if err != nil {
		return domain.FrameRange{}, fmt.Errorf("bad frame number %q", last)
	}
	return domain.FrameRange{First: f, Last: l}, nil
}
