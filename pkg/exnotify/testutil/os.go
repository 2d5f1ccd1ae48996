// Package testutil holds helpers shared by the exnotify test suites.
package testutil

import (
	"io"
	"os"
)

// StdoutOutputForFunc runs f with os.Stdout redirected and returns everything written to it.
func StdoutOutputForFunc(f func()) string {
	r, w, _ := os.Pipe()

	old := os.Stdout
	os.Stdout = w

	f()

	_ = w.Close()

	out, _ := io.ReadAll(r)
	os.Stdout = old

	return string(out)
}

// StderrOutputForFunc runs f with os.Stderr redirected and returns everything written to it.
func StderrOutputForFunc(f func()) string {
	r, w, _ := os.Pipe()

	old := os.Stderr
	os.Stderr = w

	f()

	_ = w.Close()

	out, _ := io.ReadAll(r)
	os.Stderr = old

	return string(out)
}
