package logging

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"exnotify.dev/pkg/exnotify/testutil"
)

func TestLogger_Log(t *testing.T) {
	testLogStatement := "hello info log!"

	output := testutil.StdoutOutputForFunc(func() {
		logger := NewLogger(DEBUG)
		logger.Log(testLogStatement)
	})

	assertMessageInJSONLog(t, output, testLogStatement)
}

func TestLogger_Warnf(t *testing.T) {
	output := testutil.StdoutOutputForFunc(func() {
		logger := NewLogger(DEBUG)
		logger.Warnf("notifier %s failed", "email")
	})

	assertMessageInJSONLog(t, output, "notifier email failed")
}

func TestLogger_Error(t *testing.T) {
	testLogStatement := "hello error log!"

	output := testutil.StderrOutputForFunc(func() {
		logger := NewLogger(DEBUG)
		logger.Error(testLogStatement)
	})

	assertMessageInJSONLog(t, output, testLogStatement)
}

func TestLogger_LevelFiltering(t *testing.T) {
	output := testutil.StdoutOutputForFunc(func() {
		logger := NewLogger(WARN)
		logger.Info("should not be printed")
		logger.Debugf("%s", "neither should this")
	})

	assert.Empty(t, output)
}

func TestLogger_ChangeLevel(t *testing.T) {
	output := testutil.StdoutOutputForFunc(func() {
		logger := NewLogger(ERROR)
		logger.ChangeLevel(DEBUG)
		logger.Debug("visible now")
	})

	assertMessageInJSONLog(t, output, "visible now")
}

func TestLogPanic(t *testing.T) {
	output := testutil.StderrOutputForFunc(func() {
		LogPanic(errors.New("boom"), NewLogger(DEBUG))
	})

	assert.Contains(t, output, "boom")
	assert.Contains(t, output, "stack_trace")
}

func explode() {
	var m map[string]int

	m["boom"]++
}

func TestLogPanic_StackStartsAtPanicSite(t *testing.T) {
	output := testutil.StderrOutputForFunc(func() {
		defer func() {
			LogPanic(recover(), NewLogger(DEBUG))
		}()

		explode()
	})

	var l struct {
		Message PanicLog `json:"message"`
	}

	assert.NoError(t, json.Unmarshal([]byte(output), &l))
	assert.Contains(t, l.Message.Error, "assignment to entry in nil map")
	assert.Contains(t, l.Message.StackTrace, "logging.explode")
	assert.NotContains(t, l.Message.StackTrace, "runtime/debug.Stack")
	assert.NotContains(t, l.Message.StackTrace, "logging.LogPanic")
}

func TestLogPanic_Nil(t *testing.T) {
	output := testutil.StderrOutputForFunc(func() {
		LogPanic(nil, NewLogger(DEBUG))
	})

	assert.Empty(t, output)
}

func assertMessageInJSONLog(t *testing.T, logLine, expectation string) {
	t.Helper()

	var l struct {
		Message string `json:"message"`
	}

	_ = json.Unmarshal([]byte(logLine), &l)

	if l.Message != expectation {
		t.Errorf("Log mismatch. Expected: %s Got: %s", expectation, l.Message)
	}
}
