// cmd/shotprep/main_test.go
package main

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

func panicking(t *testing.T) {
	t.Helper()
	defer handlePanic()
	panic("boom")
}

func TestHandlePanicWritesLog(t *testing.T) {
	t.Cleanup(resetMocks)

	var written string
	var code int
	osWriteFile = func(name string, data []byte, _ os.FileMode) error {
		assert.Equal(t, panicLogFile, name)
		written = string(data)
		return nil
	}
	osExit = func(c int) { code = c }

	panicking(t)

	assert.Equal(t, 2, code)
	assert.Contains(t, written, "panic: boom")
	assert.Contains(t, written, "goroutine", "the stack trace is included")
}

func TestHandlePanicLogFailure(t *testing.T) {
	t.Cleanup(resetMocks)

	code := -1
	osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only fs") }
	osExit = func(c int) { code = c }

	panicking(t)
	require.Equal(t, 2, code)
}

func TestHandlePanicWithoutPanic(t *testing.T) {
	t.Cleanup(resetMocks)

	called := false
	osExit = func(int) { called = true }
	func() {
		defer handlePanic()
	}()
	assert.False(t, called)
}
