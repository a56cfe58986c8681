// Package adapter presents an XAgent integration through the callable agent
// interface used by agent frameworks: a call never fails, it returns a
// Response describing success or failure.
package adapter

import (
	"context"
	"fmt"

	"phobos.org.uk/xbridge/internal/xagent"
)

// TaskRunner runs one task. *xagent.Integration implements it.
type TaskRunner interface {
	RunTask(ctx context.Context, task string, opts xagent.Options) (*xagent.Result, error)
}

// Response is the outcome of one adapter call.
type Response struct {
	Output            string   `json:"output"`
	IntermediateSteps []string `json:"intermediate_steps"`
	Success           bool     `json:"success"`
	ErrorMessage      string   `json:"error_message,omitempty"`
}

// Agent adapts a TaskRunner. It holds no per-call state and may be shared.
type Agent struct {
	runner   TaskRunner
	defaults xagent.Options
	tools    []string
}

// Option configures an Agent.
type Option func(*Agent)

// WithDefaults sets instance options; per-call options win on conflict.
func WithDefaults(opts xagent.Options) Option {
	return func(a *Agent) { a.defaults = opts }
}

// WithTools records the tool names the caller registered. They are reported by
// Tools but not forwarded to XAgent, which brings its own tool server.
func WithTools(tools ...string) Option {
	return func(a *Agent) { a.tools = append([]string(nil), tools...) }
}

// New returns an Agent backed by runner.
func New(runner TaskRunner, opts ...Option) *Agent {
	a := &Agent{runner: runner}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Initialize builds an Agent from the runner, tool names and instance options in one call.
func Initialize(runner TaskRunner, tools []string, defaults xagent.Options) *Agent {
	return New(runner, WithTools(tools...), WithDefaults(defaults))
}

// Tools returns the registered tool names.
func (a *Agent) Tools() []string {
	return append([]string(nil), a.tools...)
}

// Capabilities forwards to the runner when it can describe itself.
func (a *Agent) Capabilities() []string {
	if c, ok := a.runner.(interface{ Capabilities() []string }); ok {
		return c.Capabilities()
	}
	return nil
}

// RunAsync starts input on its own goroutine. The returned channel receives
// exactly one Response and is then closed.
func (a *Agent) RunAsync(ctx context.Context, input string, opts xagent.Options) <-chan Response {
	ch := make(chan Response, 1)
	go func() {
		defer close(ch)
		ch <- a.run(ctx, input, opts)
	}()
	return ch
}

// Run blocks until input has been processed.
func (a *Agent) Run(ctx context.Context, input string, opts xagent.Options) Response {
	return <-a.RunAsync(ctx, input, opts)
}

// Call is Run without a caller context.
func (a *Agent) Call(input string, opts xagent.Options) Response {
	return a.Run(context.Background(), input, opts)
}

func (a *Agent) run(ctx context.Context, input string, opts xagent.Options) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = failure(fmt.Sprintf("panic: %v", r))
		}
	}()

	if a.runner == nil {
		return failure("no task runner configured")
	}

	res, err := a.runner.RunTask(ctx, input, xagent.Merge(a.defaults, opts))
	if err != nil {
		return failure(err.Error())
	}
	if res == nil {
		return failure("task runner returned no result")
	}

	steps := res.Steps
	if steps == nil {
		steps = []string{}
	}
	return Response{
		Output:            res.Answer,
		IntermediateSteps: steps,
		Success:           res.Success,
	}
}

func failure(msg string) Response {
	return Response{
		Output:            "Error: " + msg,
		IntermediateSteps: []string{},
		Success:           false,
		ErrorMessage:      msg,
	}
}
