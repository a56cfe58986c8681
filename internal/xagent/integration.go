package xagent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"phobos.org.uk/xbridge/internal/history"
	"phobos.org.uk/xbridge/internal/kvstore"
	"phobos.org.uk/xbridge/internal/logging"
	"phobos.org.uk/xbridge/internal/metrics"
	"phobos.org.uk/xbridge/internal/taskstate"
)

// Defaults for an XAgent checkout.
const (
	DefaultInterpreter = "python3"
	DefaultEntryScript = "run.py"
	DefaultConfigFile  = "config/xagent_config.yaml"
)

// Task states recorded in history and the status store.
const (
	StateWorking   = string(taskstate.Working)
	StateCompleted = string(taskstate.Completed)
	StateFailed    = string(taskstate.Failed)
)

// statusTTL bounds how long a task status stays in a store that honours expiry.
const statusTTL = 24 * time.Hour

// MarkerFiles must exist under Home for the installation to be usable.
var MarkerFiles = []string{
	DefaultEntryScript,
	"XAgent/__init__.py",
	"XAgent/core.py",
}

// Settings is the static configuration of an Integration.
type Settings struct {
	Home        string
	ConfigFile  string // defaults to <Home>/config/xagent_config.yaml
	Interpreter string
	EntryScript string
	Timeout     time.Duration
	Defaults    Options // instance-level options; caller options win
	Parse       ParseOptions
}

// Deps are optional collaborators. Nil fields are disabled.
type Deps struct {
	Executor Executor // defaults to a ProcessRunner built from Settings
	Logger   *logging.Logger
	History  *history.Store
	Metrics  *metrics.Metrics
	Status   kvstore.Store
}

// Integration runs tasks on an installed XAgent.
type Integration struct {
	settings Settings
	exec     Executor
	log      *logging.Logger
	history  *history.Store
	metrics  *metrics.Metrics
	status   kvstore.Store
}

// New verifies the XAgent installation and returns an Integration.
// A missing marker file fails with *ConfigError.
func New(s Settings, deps Deps) (*Integration, error) {
	if s.Home == "" {
		return nil, &ConfigError{Path: ".", Home: s.Home}
	}
	home, err := filepath.Abs(s.Home)
	if err != nil {
		return nil, fmt.Errorf("resolving XAgent home: %w", err)
	}
	s.Home = home
	if s.ConfigFile == "" {
		s.ConfigFile = filepath.Join(home, DefaultConfigFile)
	}

	if err := VerifyInstallation(home); err != nil {
		return nil, err
	}

	x := &Integration{
		settings: s,
		exec:     deps.Executor,
		log:      deps.Logger,
		history:  deps.History,
		metrics:  deps.Metrics,
		status:   deps.Status,
	}
	if x.exec == nil {
		x.exec = &ProcessRunner{
			Interpreter: s.Interpreter,
			Home:        home,
			EntryScript: s.EntryScript,
			ConfigFile:  s.ConfigFile,
			Timeout:     s.Timeout,
		}
	}
	if x.log == nil {
		x.log = logging.New(logging.Config{Output: io.Discard, Component: "xagent"})
	}
	return x, nil
}

// VerifyInstallation checks that every marker file exists under home.
func VerifyInstallation(home string) error {
	for _, marker := range MarkerFiles {
		if _, err := os.Stat(filepath.Join(home, filepath.FromSlash(marker))); err != nil {
			return &ConfigError{Path: marker, Home: home}
		}
	}
	return nil
}

// Settings returns the effective settings.
func (x *Integration) Settings() Settings {
	return x.settings
}

var capabilities = []string{
	"reasoning",
	"tool_usage",
	"web_search",
	"code_execution",
	"problem_solving",
}

// Capabilities lists what XAgent can do for a caller.
func Capabilities() []string {
	return append([]string(nil), capabilities...)
}

// Capabilities lists what XAgent can do for a caller.
func (x *Integration) Capabilities() []string {
	return Capabilities()
}

// RunTask runs task with opts merged over the instance defaults and parses the
// output. Any failure is returned as *ExecutionError wrapping the cause.
func (x *Integration) RunTask(ctx context.Context, task string, opts Options) (*Result, error) {
	id := TaskIDFromContext(ctx)
	if id == "" {
		id = "run-" + uuid.New().String()[:8]
	}
	taskLog := x.log.WithTask(id)
	merged := Merge(x.settings.Defaults, opts)

	x.setStatus(ctx, id, StateWorking)
	if x.metrics != nil {
		x.metrics.TaskStarted()
		defer x.metrics.TaskFinished()
	}
	taskLog.Info("task started", map[string]any{"options": len(merged)})

	startedAt := time.Now()
	out, err := x.exec.Execute(ctx, task, merged)
	completedAt := time.Now()
	duration := completedAt.Sub(startedAt)

	entry := &history.Entry{
		TaskID:          id,
		Task:            task,
		StartedAt:       startedAt,
		CompletedAt:     completedAt,
		DurationSeconds: duration.Seconds(),
	}
	if out != nil {
		entry.Args = out.Args
		if out.ExitCode >= 0 {
			code := out.ExitCode
			entry.ExitCode = &code
		}
	}

	if err != nil {
		wrapped := wrapError(err)
		entry.State = StateFailed
		entry.Error = &history.EntryError{Type: string(wrapped.Kind), Message: wrapped.Message}
		taskLog.Error("task failed", map[string]any{
			"error_type":       string(wrapped.Kind),
			"exit_code":        wrapped.ExitCode,
			"duration_seconds": duration.Seconds(),
		})
		x.finish(ctx, entry, out, duration)
		return nil, wrapped
	}

	res := ParseOutput(string(out.Stdout), x.settings.Parse)
	if !res.Structured {
		reason := "no_structured_line"
		if len(out.Stdout) == 0 {
			reason = "empty_output"
		}
		if x.metrics != nil {
			x.metrics.ParseFallback(reason)
		}
		taskLog.Debug("no structured result, using text fallback", map[string]any{"reason": reason})
	}

	entry.State = StateCompleted
	entry.Answer = res.Answer
	entry.Steps = res.Steps
	entry.Structured = res.Structured
	taskLog.Info("task completed", map[string]any{
		"duration_seconds": duration.Seconds(),
		"structured":       res.Structured,
		"steps":            len(res.Steps),
	})
	x.finish(ctx, entry, out, duration)
	return &res, nil
}

func (x *Integration) finish(ctx context.Context, entry *history.Entry, out *Output, duration time.Duration) {
	x.setStatus(ctx, entry.TaskID, entry.State)
	if x.metrics != nil {
		x.metrics.ObserveExecution(entry.State, duration)
	}
	if x.history == nil {
		return
	}
	taskLog := x.log.WithTask(entry.TaskID)
	if err := x.history.Save(entry); err != nil {
		taskLog.Warn("failed to save task history", map[string]any{"error": err.Error()})
		return
	}
	if out != nil && len(out.Stdout) > 0 {
		if err := x.history.SaveDebugLog(entry.TaskID, out.Stdout); err != nil {
			taskLog.Warn("failed to save debug log", map[string]any{"error": err.Error()})
		}
	}
}

func (x *Integration) setStatus(ctx context.Context, id, state string) {
	if x.status == nil {
		return
	}
	// Status is advisory; a detached context keeps it consistent after cancellation.
	if err := x.status.Set(context.WithoutCancel(ctx), StatusKey(id), []byte(state), statusTTL); err != nil {
		x.log.WithTask(id).Warn("failed to record task status", map[string]any{"error": err.Error()})
	}
}

// StatusKey is the store key holding the state of task id.
func StatusKey(id string) string {
	return "xbridge:task:" + id + ":status"
}

func wrapError(err error) *ExecutionError {
	wrapped := &ExecutionError{
		Kind:     KindFacade,
		Message:  "running xagent: " + err.Error(),
		ExitCode: -1,
		Err:      err,
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		wrapped.Kind = execErr.Kind
		wrapped.ExitCode = execErr.ExitCode
	}
	return wrapped
}

type taskIDKey struct{}

// WithTaskID attaches the identifier used for logs, history and status of a run.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, id)
}

// TaskIDFromContext returns the task identifier set by WithTaskID.
func TaskIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(taskIDKey{}).(string)
	return id
}
