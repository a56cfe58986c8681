// Package logging writes structured JSON log lines and keeps a bounded,
// queryable window of recent entries for the /logs endpoints.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// rank orders levels; unknown levels rank as info.
func (lv Level) rank() int {
	if r, ok := levelRank[lv]; ok {
		return r
	}
	return levelRank[LevelInfo]
}

// ParseLevel maps a config or environment value to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Entry is one log line.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Config holds logger configuration
type Config struct {
	Output     io.Writer // default: os.Stderr
	Level      Level     // default: info
	Component  string
	MaxEntries int // default: 1000
}

// sink is the state shared by a Logger and the loggers derived from it.
type sink struct {
	mu     sync.RWMutex
	out    io.Writer
	level  Level
	ring   []Entry // circular; next is the slot written next
	next   int
	filled bool
	counts [4]int64 // indexed by rank
}

func (s *sink) record(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Level.rank() < s.level.rank() {
		return
	}
	s.counts[e.Level.rank()]++
	s.ring[s.next] = e
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.filled = true
	}

	line, err := json.Marshal(e)
	if err != nil {
		fmt.Fprintf(s.out, "{\"level\":\"error\",\"message\":%q}\n", "unencodable log entry: "+err.Error())
		return
	}
	s.out.Write(append(line, '\n'))
}

// window returns the buffered entries, oldest first. Callers hold mu.
func (s *sink) window() []Entry {
	if !s.filled {
		return s.ring[:s.next]
	}
	out := make([]Entry, 0, len(s.ring))
	out = append(out, s.ring[s.next:]...)
	return append(out, s.ring[:s.next]...)
}

// Logger writes entries for one component. Loggers derived with With share
// the output, level and query window of their parent.
type Logger struct {
	sink      *sink
	component string
	fields    map[string]any
}

// New creates a new logger with the given configuration
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.Level == "" {
		cfg.Level = LevelInfo
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	return &Logger{
		sink: &sink{
			out:   cfg.Output,
			level: cfg.Level,
			ring:  make([]Entry, cfg.MaxEntries),
		},
		component: cfg.Component,
	}
}

// SetLevel changes the minimum level for this logger and everything sharing its output.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	l.sink.level = level
	l.sink.mu.Unlock()
}

// With returns a logger that adds fields to every entry. Per-call fields win.
func (l *Logger) With(fields map[string]any) *Logger {
	merged := make(map[string]any, len(l.fields)+len(fields))
	maps.Copy(merged, l.fields)
	maps.Copy(merged, fields)
	return &Logger{sink: l.sink, component: l.component, fields: merged}
}

func (l *Logger) write(level Level, taskID, msg string, fields []map[string]any) {
	var f map[string]any
	switch {
	case len(l.fields) == 0 && len(fields) > 0:
		f = fields[0]
	case len(l.fields) > 0:
		f = maps.Clone(l.fields)
		if len(fields) > 0 {
			maps.Copy(f, fields[0])
		}
	}
	l.sink.record(Entry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   msg,
		Component: l.component,
		TaskID:    taskID,
		Fields:    f,
	})
}

func (l *Logger) Debug(msg string, fields ...map[string]any) { l.write(LevelDebug, "", msg, fields) }
func (l *Logger) Info(msg string, fields ...map[string]any)  { l.write(LevelInfo, "", msg, fields) }
func (l *Logger) Warn(msg string, fields ...map[string]any)  { l.write(LevelWarn, "", msg, fields) }
func (l *Logger) Error(msg string, fields ...map[string]any) { l.write(LevelError, "", msg, fields) }

// WithTask returns a logger that tags every entry with taskID.
func (l *Logger) WithTask(taskID string) *TaskLogger {
	return &TaskLogger{parent: l, taskID: taskID}
}

// TaskLogger tags entries with a task ID.
type TaskLogger struct {
	parent *Logger
	taskID string
}

func (t *TaskLogger) Debug(msg string, fields ...map[string]any) {
	t.parent.write(LevelDebug, t.taskID, msg, fields)
}

func (t *TaskLogger) Info(msg string, fields ...map[string]any) {
	t.parent.write(LevelInfo, t.taskID, msg, fields)
}

func (t *TaskLogger) Warn(msg string, fields ...map[string]any) {
	t.parent.write(LevelWarn, t.taskID, msg, fields)
}

func (t *TaskLogger) Error(msg string, fields ...map[string]any) {
	t.parent.write(LevelError, t.taskID, msg, fields)
}

// Query filters the buffered window. Zero fields match everything.
type Query struct {
	Level     Level // minimum level
	TaskID    string
	Since     time.Time
	Until     time.Time
	Limit     int // most recent N matches (0 = all)
	Component string
}

func (q Query) match(e Entry) bool {
	switch {
	case q.Level != "" && e.Level.rank() < q.Level.rank():
		return false
	case q.TaskID != "" && e.TaskID != q.TaskID:
		return false
	case q.Component != "" && e.Component != q.Component:
		return false
	case !q.Since.IsZero() && e.Timestamp.Before(q.Since):
		return false
	case !q.Until.IsZero() && e.Timestamp.After(q.Until):
		return false
	}
	return true
}

// QueryResult contains filtered log entries and metadata
type QueryResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`  // matches before limit
	Counts  Stats   `json:"counts"` // all entries ever logged, by level
}

// Stats counts entries by level since creation or the last Clear.
type Stats struct {
	Debug int64 `json:"debug"`
	Info  int64 `json:"info"`
	Warn  int64 `json:"warn"`
	Error int64 `json:"error"`
	Total int64 `json:"total"`
}

func (s *sink) stats() Stats {
	st := Stats{
		Debug: s.counts[levelRank[LevelDebug]],
		Info:  s.counts[levelRank[LevelInfo]],
		Warn:  s.counts[levelRank[LevelWarn]],
		Error: s.counts[levelRank[LevelError]],
	}
	st.Total = st.Debug + st.Info + st.Warn + st.Error
	return st
}

// Query returns buffered entries matching q, oldest first.
func (l *Logger) Query(q Query) QueryResult {
	l.sink.mu.RLock()
	defer l.sink.mu.RUnlock()

	var matched []Entry
	for _, e := range l.sink.window() {
		if q.match(e) {
			matched = append(matched, e)
		}
	}
	total := len(matched)
	if q.Limit > 0 && total > q.Limit {
		matched = matched[total-q.Limit:]
	}
	return QueryResult{Entries: matched, Total: total, Counts: l.sink.stats()}
}

// Stats returns the level counters.
func (l *Logger) Stats() Stats {
	l.sink.mu.RLock()
	defer l.sink.mu.RUnlock()
	return l.sink.stats()
}

// Clear empties the window and resets the counters.
func (l *Logger) Clear() {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.ring)
	s.next = 0
	s.filled = false
	s.counts = [4]int64{}
}
