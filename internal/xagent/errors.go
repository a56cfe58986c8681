package xagent

import (
	"errors"
	"fmt"
)

// ErrTimeout is wrapped by execution errors caused by the configured timeout expiring.
var ErrTimeout = errors.New("xagent: execution timed out")

// ErrorKind classifies an ExecutionError.
type ErrorKind string

const (
	KindExit    ErrorKind = "exit"    // child exited non-zero
	KindTimeout ErrorKind = "timeout" // configured timeout expired
	KindStart   ErrorKind = "start"   // child could not be started
	KindFacade  ErrorKind = "facade"  // any failure surfaced by Integration.RunTask
)

// ConfigError reports a missing file or directory of the XAgent installation.
// It is returned at construction time and is not recoverable by retrying.
type ConfigError struct {
	Path string // missing path, relative to Home
	Home string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("XAgent file not found: %s. Please ensure XAgent is properly cloned at %s", e.Path, e.Home)
}

// ExecutionError reports a failed XAgent run.
type ExecutionError struct {
	Kind     ErrorKind
	Message  string
	ExitCode int // -1 when the child never exited normally
	Err      error
}

func (e *ExecutionError) Error() string {
	return e.Message
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
