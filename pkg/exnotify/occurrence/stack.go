package occurrence

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

const maxDepth = 64

// Frame is a single resolved stack frame.
type Frame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

func (f Frame) String() string {
	return fmt.Sprintf("%s\n\t%s:%d", f.Function, f.File, f.Line)
}

// FormatStack renders frames the way runtime/debug.Stack does, one function and one
// file:line per frame.
func FormatStack(frames []Frame) string {
	var sb strings.Builder

	for i, f := range frames {
		if i > 0 {
			sb.WriteByte('\n')
		}

		sb.WriteString(f.String())
	}

	return sb.String()
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// stackOf returns the deepest stack recorded by github.com/pkg/errors in the chain, or nil.
func stackOf(err error) []Frame {
	var deepest pkgerrors.StackTrace

	for e := err; e != nil; e = errors.Unwrap(e) {
		if st, ok := e.(stackTracer); ok { //nolint:errorlint // every link of the chain is inspected
			deepest = st.StackTrace()
		}
	}

	if deepest == nil {
		return nil
	}

	frames := make([]Frame, 0, len(deepest))

	for _, f := range deepest {
		pc := uintptr(f) - 1

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		file, line := fn.FileLine(pc)
		frames = append(frames, Frame{Function: fn.Name(), File: file, Line: line})
	}

	return frames
}

func callers(skip int) []Frame {
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(skip, pcs)

	return resolve(pcs[:n])
}

// panicStack returns the frames of the panicking goroutine below runtime.gopanic. Outside
// of a deferred recover it returns the caller's stack.
func panicStack() []Frame {
	frames := callers(3) //nolint:mnd // skips runtime.Callers, callers and panicStack

	for i, f := range frames {
		if f.Function == "runtime.gopanic" {
			return frames[i+1:]
		}
	}

	return frames
}

func resolve(pcs []uintptr) []Frame {
	if len(pcs) == 0 {
		return nil
	}

	frames := make([]Frame, 0, len(pcs))
	it := runtime.CallersFrames(pcs)

	for {
		f, more := it.Next()

		frames = append(frames, Frame{Function: f.Function, File: f.File, Line: f.Line})

		if !more {
			break
		}
	}

	return frames
}

// ErrorStack returns the stack recorded in the chain of err by github.com/pkg/errors, or
// nil when none was recorded.
func ErrorStack(err error) []Frame {
	return stackOf(err)
}
