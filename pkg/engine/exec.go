package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/cmcf/autoprocess/pkg/domain"
)

const (
	InputFile  = "input.json"
	ResultFile = "result.json"
	StdoutFile = "stdout.log"
	StderrFile = "stderr.log"

	// length of the stderr tail put in failure messages
	stderrTail = 1024
)

// Command is an engine command of a stage.
type Command struct {
	// Args is argv of the engine. Each element is a text/template.
	//
	// Available fields are .Stage, .JobId, .Workdir and .Input (path to input.json).
	Args []string

	// Timeout of the stage. Zero means the default timeout.
	Timeout time.Duration
}

type stageCommand struct {
	args    []*template.Template
	timeout time.Duration
}

// Exec is an Engine running an external program per stage.
//
// Each run has its own working directory, <root>/<job id>/<NN>-<stage>/attempt-<k>/,
// where input.json, stdout.log, stderr.log and result.json are placed.
// A directory is never reused by later runs.
//
// The program should write result.json as
//
//	{"checkpoint": {...}, "report": {...}}
//
// and exit with 0 on success. On failure, result.json is optional and
// its report is taken as a partial report.
type Exec struct {
	root     string
	commands map[domain.Stage]stageCommand
}

// NewExec creates an Exec rooted at root.
func NewExec(root string, defaultTimeout time.Duration, commands map[domain.Stage]Command) (*Exec, error) {
	if defaultTimeout <= 0 {
		return nil, fmt.Errorf("default timeout should be positive: %s", defaultTimeout)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	e := &Exec{root: abs, commands: map[domain.Stage]stageCommand{}}
	for stage, c := range commands {
		if !stage.Processing() {
			return nil, fmt.Errorf("%s is not an engine stage", stage)
		}
		if len(c.Args) == 0 {
			return nil, fmt.Errorf("command for %s is empty", stage)
		}
		sc := stageCommand{timeout: c.Timeout}
		if sc.timeout <= 0 {
			sc.timeout = defaultTimeout
		}
		for i, a := range c.Args {
			t, err := template.New(fmt.Sprintf("%s[%d]", stage, i)).Option("missingkey=error").Parse(a)
			if err != nil {
				return nil, fmt.Errorf("command for %s: %w", stage, err)
			}
			sc.args = append(sc.args, t)
		}
		e.commands[stage] = sc
	}
	return e, nil
}

// Workdir returns the working directory named for an attempt.
func (e *Exec) Workdir(jobId string, stage domain.Stage, attempt int) string {
	return filepath.Join(
		e.root, jobId,
		fmt.Sprintf("%02d-%s", stage.Ordinal(), stage),
		fmt.Sprintf("attempt-%d", attempt),
	)
}

// newWorkdir creates a working directory which no runs have used.
//
// It is the directory of the attempt when it is unused. Otherwise, the attempt is
// a rerun (after an operator retry or a lease expiry) and the next unused
// attempt-<k> is taken, so artifacts of earlier runs are kept.
func (e *Exec) newWorkdir(jobId string, stage domain.Stage, attempt int) (string, error) {
	if err := os.MkdirAll(filepath.Dir(e.Workdir(jobId, stage, attempt)), 0o755); err != nil {
		return "", err
	}
	for k := max(attempt, 0); ; k++ {
		dir := e.Workdir(jobId, stage, k)
		err := os.Mkdir(dir, 0o755)
		switch {
		case err == nil:
			return dir, nil
		case errors.Is(err, os.ErrExist):
			continue
		default:
			return "", err
		}
	}
}

type templateParams struct {
	Stage   domain.Stage
	JobId   string
	Workdir string
	Input   string
}

type output struct {
	Checkpoint domain.Checkpoint   `json:"checkpoint,omitempty"`
	Report     *domain.StageReport `json:"report,omitempty"`
}

func engineError(exitCode int, format string, args ...any) *domain.EngineFailure {
	return &domain.EngineFailure{
		Kind:     domain.EngineError,
		Message:  fmt.Sprintf(format, args...),
		ExitCode: exitCode,
	}
}

func (e *Exec) Run(ctx context.Context, inv Invocation) (Result, error) {
	cmd, ok := e.commands[inv.Stage]
	if !ok {
		return Result{}, engineError(-1, "no command is configured for %s", inv.Stage)
	}

	workdir, err := e.newWorkdir(inv.Descriptor.JobId, inv.Stage, inv.Attempt)
	if err != nil {
		return Result{}, engineError(-1, "preparing working directory: %s", err)
	}
	result := Result{ArtifactDir: workdir}

	input := filepath.Join(workdir, InputFile)
	if err := writeJSON(input, inv); err != nil {
		return result, engineError(-1, "writing %s: %s", InputFile, err)
	}

	params := templateParams{Stage: inv.Stage, JobId: inv.Descriptor.JobId, Workdir: workdir, Input: input}
	argv := make([]string, 0, len(cmd.args))
	for _, t := range cmd.args {
		buf := new(strings.Builder)
		if err := t.Execute(buf, params); err != nil {
			return result, engineError(-1, "rendering command: %s", err)
		}
		argv = append(argv, buf.String())
	}

	stdout, err := os.Create(filepath.Join(workdir, StdoutFile))
	if err != nil {
		return result, engineError(-1, "creating %s: %s", StdoutFile, err)
	}
	defer stdout.Close()
	stderr, err := os.Create(filepath.Join(workdir, StderrFile))
	if err != nil {
		return result, engineError(-1, "creating %s: %s", StderrFile, err)
	}
	defer stderr.Close()

	tctx, cancel := context.WithTimeout(ctx, cmd.timeout)
	defer cancel()

	c := exec.CommandContext(tctx, argv[0], argv[1:]...)
	c.Dir = workdir
	c.Stdout = stdout
	c.Stderr = stderr
	runErr := c.Run()

	out, outErr := readOutput(filepath.Join(workdir, ResultFile))

	if runErr != nil {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		var f *domain.EngineFailure
		var exitErr *exec.ExitError
		switch {
		case errors.Is(tctx.Err(), context.DeadlineExceeded):
			f = &domain.EngineFailure{
				Kind:     domain.Timeout,
				Message:  fmt.Sprintf("%s did not finish in %s", inv.Stage, cmd.timeout),
				ExitCode: -1,
			}
		case errors.As(runErr, &exitErr):
			f = engineError(exitErr.ExitCode(), "%s", tail(stderr.Name()))
		default:
			f = engineError(-1, "starting engine: %s", runErr)
		}
		if outErr == nil && out.Report != nil {
			f.Partial = out.Report
		}
		return result, f
	}

	if outErr != nil {
		return result, engineError(0, "reading %s: %s", ResultFile, outErr)
	}
	result.Checkpoint = out.Checkpoint
	if out.Report != nil {
		result.Report = *out.Report
	}
	return result, nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func readOutput(path string) (output, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return output{}, err
	}
	var out output
	if err := json.Unmarshal(b, &out); err != nil {
		return output{}, err
	}
	return out, nil
}

// tail returns the last part of a file, trimmed.
func tail(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	if st, err := f.Stat(); err == nil && stderrTail < st.Size() {
		if _, err := f.Seek(-stderrTail, io.SeekEnd); err != nil {
			return ""
		}
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(b))
}
