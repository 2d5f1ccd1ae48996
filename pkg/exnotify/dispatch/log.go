package dispatch

import (
	"fmt"
	"io"
	"strings"
)

// NotifierFailureLog is logged at WARN for every failed notifier.
type NotifierFailureLog struct {
	Notifier   string `json:"notifier"`
	ErrorKind  string `json:"error_kind"`
	Message    string `json:"message"`
	StackTrace string `json:"stack_trace,omitempty"`
}

func (l *NotifierFailureLog) PrettyPrint(writer io.Writer) {
	fmt.Fprintf(writer, "\u001B[38;5;8m%-12s \u001B[38;5;160m%s\u001B[0m %s\n",
		l.Notifier, l.ErrorKind, l.Message)

	if l.StackTrace != "" {
		fmt.Fprintf(writer, "\u001B[38;5;8m%s\u001B[0m\n", indent(l.StackTrace))
	}
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(s, "\n", "\n    ")
}

// DispatchLog summarizes one dispatch at DEBUG.
type DispatchLog struct {
	OccurrenceID string `json:"occurrence_id"`
	Kind         string `json:"kind"`
	Fingerprint  string `json:"fingerprint"`
	Count        int64  `json:"count"`
	Delivered    bool   `json:"delivered"`
	Suppressed   string `json:"suppressed,omitempty"`
	Notifiers    int    `json:"notifiers"`
	Failures     int    `json:"failures"`
	Duration     int64  `json:"duration"`
}

func (l *DispatchLog) PrettyPrint(writer io.Writer) {
	status := "DELIVERED"
	if !l.Delivered {
		status = "SKIPPED"
	}

	fmt.Fprintf(writer, "\u001B[38;5;8m%s \u001B[38;5;24m%-9s\u001B[0m %8d\u001B[38;5;8mµs\u001B[0m count=%d notifiers=%d failures=%d %s %s\n",
		l.OccurrenceID, status, l.Duration, l.Count, l.Notifiers, l.Failures, l.Kind, l.Suppressed)
}
