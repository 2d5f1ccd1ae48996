package logging

import (
	"exnotify.dev/pkg/exnotify/occurrence"
)

type PanicLog struct {
	Error      string `json:"error,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`
}

// LogPanic logs the panic error and the stack of the panicking goroutine. It must be
// called from the deferred function that recovered re.
func LogPanic(re any, logger Logger) {
	if re == nil {
		return
	}

	o := occurrence.FromPanic(re)

	logger.Error(PanicLog{
		Error:      o.Message(),
		StackTrace: occurrence.FormatStack(o.Stack()),
	})
}
