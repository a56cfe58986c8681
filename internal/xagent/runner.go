package xagent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Executor runs one XAgent task and returns its captured output.
// Implementations fail with *ExecutionError.
type Executor interface {
	Execute(ctx context.Context, task string, opts Options) (*Output, error)
}

// Output is what a finished child process left behind.
type Output struct {
	Args     []string
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// ProcessRunner executes XAgent's entry script with a Python interpreter.
type ProcessRunner struct {
	Interpreter string        // interpreter binary, "python3" if empty
	Home        string        // XAgent checkout; also the working directory
	EntryScript string        // relative to Home, "run.py" if empty
	ConfigFile  string        // passed as --config_file
	Timeout     time.Duration // zero disables the timeout
}

// waitDelay bounds how long Wait blocks on pipes held open by orphaned grandchildren.
const waitDelay = 5 * time.Second

func (r *ProcessRunner) interpreter() string {
	if r.Interpreter == "" {
		return DefaultInterpreter
	}
	return r.Interpreter
}

func (r *ProcessRunner) programPath() string {
	entry := r.EntryScript
	if entry == "" {
		entry = DefaultEntryScript
	}
	if filepath.IsAbs(entry) {
		return entry
	}
	return filepath.Join(r.Home, entry)
}

// BuildArgs returns the arguments passed to the interpreter:
// the program path, --task, --config_file, then one "--key value" pair per
// option with a non-nil value, in option order.
func (r *ProcessRunner) BuildArgs(task string, opts Options) []string {
	args := []string{
		r.programPath(),
		"--task", task,
		"--config_file", r.ConfigFile,
	}
	for _, opt := range opts {
		value, ok := FormatValue(opt.Value)
		if !ok {
			continue
		}
		args = append(args, "--"+opt.Key, value)
	}
	return args
}

// Execute runs XAgent to completion. Output is buffered, never streamed.
func (r *ProcessRunner) Execute(ctx context.Context, task string, opts Options) (*Output, error) {
	parent := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	args := r.BuildArgs(task, opts)
	cmd := exec.CommandContext(ctx, r.interpreter(), args...)
	cmd.Dir = r.Home
	cmd.WaitDelay = waitDelay
	setupProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	out := &Output{
		Args:     append([]string{r.interpreter()}, args...),
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: -1,
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case err == nil:
		return out, nil
	case r.Timeout > 0 && parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return out, &ExecutionError{
			Kind:     KindTimeout,
			Message:  fmt.Sprintf("XAgent exceeded timeout of %v", r.Timeout),
			ExitCode: out.ExitCode,
			Err:      ErrTimeout,
		}
	case ctx.Err() != nil:
		return out, &ExecutionError{
			Kind:     KindExit,
			Message:  fmt.Sprintf("XAgent interrupted: %v", ctx.Err()),
			ExitCode: out.ExitCode,
			Err:      ctx.Err(),
		}
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return out, &ExecutionError{
			Kind:     KindStart,
			Message:  fmt.Sprintf("starting XAgent: %v", err),
			ExitCode: -1,
			Err:      err,
		}
	}

	msg := decode(out.Stderr)
	if msg == "" {
		msg = decode(out.Stdout)
	}
	if msg == "" {
		msg = err.Error()
	}
	return out, &ExecutionError{
		Kind:     KindExit,
		Message:  msg,
		ExitCode: out.ExitCode,
		Err:      err,
	}
}

func decode(b []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(b), "�"))
}
