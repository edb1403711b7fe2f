// Package errors annotates errors with the place they are passed through.
//
// Usage:
//
//	return xe.Wrap(err)
//
// The message of an annotated error reads like
//
//	@ pkg.Func "file.go" l42 <- @ pkg.Caller "caller.go" l10 <- cause
//
// so replacing " <- " with newlines gives a trace of the marked places.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// Located is an error annotated with the location where it is wrapped.
type Located struct {
	file     string
	line     int
	funcname string
	note     string
	err      error
}

func (e *Located) File() string {
	return e.file
}

func (e *Located) Line() int {
	return e.line
}

func (e *Located) Func() string {
	return e.funcname
}

func (e *Located) Error() string {
	where := fmt.Sprintf(`@ %s "%s" l%d`, e.funcname, e.file, e.line)
	if e.note != "" {
		where = fmt.Sprintf("%s (%s)", where, e.note)
	}
	return where + " <- " + e.err.Error()
}

func (e *Located) Unwrap() error {
	return e.err
}

// New creates a new error annotated with the location of the caller.
func New(text string) error {
	return locate("", errors.New(text), 1)
}

// Wrap annotates err with the location of the caller.
//
// It returns nil when err is nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return locate("", err, 1)
}

// WrapAsOuter annotates err with the location of depth-th caller of the caller.
func WrapAsOuter(err error, depth int) error {
	if err == nil {
		return nil
	}
	return locate("", err, depth+1)
}

// WrapWithNote annotates err with the location of the caller and a note.
func WrapWithNote(note string, err error) error {
	if err == nil {
		return nil
	}
	return locate(note, err, 1)
}

func locate(note string, err error, depth int) error {
	pc, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		file, line = "?", -1
	}
	funcname := "(unknown func)"
	if fn := runtime.FuncForPC(pc); fn != nil {
		funcname = fn.Name()
	}

	return &Located{
		funcname: funcname,
		file:     file,
		line:     line,
		note:     note,
		err:      err,
	}
}
