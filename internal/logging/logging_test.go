package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []Entry {
	t.Helper()
	var entries []Entry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e Entry
		require.NoError(t, json.Unmarshal([]byte(line), &e), "line should be valid JSON: %s", line)
		entries = append(entries, e)
	}
	return entries
}

func TestLogger_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Level: LevelDebug, Component: "xagent"})

	logger.Debug("spawning child")
	logger.Info("task started", map[string]any{"options": 2})
	logger.Warn("status store unavailable")
	logger.Error("task failed")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 4)
	for _, e := range entries {
		assert.Equal(t, "xagent", e.Component)
		assert.False(t, e.Timestamp.IsZero())
	}
	assert.Equal(t, LevelDebug, entries[0].Level)
	assert.Equal(t, float64(2), entries[1].Fields["options"]) // JSON numbers are float64
	assert.Equal(t, LevelError, entries[3].Level)
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Level: LevelWarn})

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")
	logger.Error("shown")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, LevelWarn, entries[0].Level)

	logger.SetLevel(LevelDebug)
	logger.Debug("now shown")
	assert.Contains(t, buf.String(), "now shown")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]Level{
		"debug":   LevelDebug,
		"DEBUG":   LevelDebug,
		"warning": LevelWarn,
		"warn":    LevelWarn,
		"error":   LevelError,
		"info":    LevelInfo,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

func TestLogger_TaskScope(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Component: "bridge"})

	taskLog := logger.WithTask("run-1234abcd")
	taskLog.Info("task started")
	taskLog.Debug("filtered at info")
	taskLog.Error("task failed", map[string]any{"exit_code": 2})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "run-1234abcd", e.TaskID)
		assert.Equal(t, "bridge", e.Component)
	}
	assert.Equal(t, float64(2), entries[1].Fields["exit_code"])
}

func TestLogger_Query(t *testing.T) {
	logger := New(Config{Output: &bytes.Buffer{}, Level: LevelDebug, Component: "xagent"})

	logger.Debug("debug entry")
	logger.Info("info entry")
	taskLog := logger.WithTask("run-1")
	taskLog.Warn("task warning")
	taskLog.Error("task error")
	logger.Error("general error")

	t.Run("no filter", func(t *testing.T) {
		result := logger.Query(Query{})
		assert.Len(t, result.Entries, 5)
		assert.Equal(t, int64(5), result.Counts.Total)
	})

	t.Run("by level", func(t *testing.T) {
		result := logger.Query(Query{Level: LevelWarn})
		assert.Len(t, result.Entries, 3)
	})

	t.Run("by task and level", func(t *testing.T) {
		result := logger.Query(Query{Level: LevelError, TaskID: "run-1"})
		require.Len(t, result.Entries, 1)
		assert.Equal(t, "task error", result.Entries[0].Message)
	})

	t.Run("by component", func(t *testing.T) {
		assert.Empty(t, logger.Query(Query{Component: "other"}).Entries)
	})

	t.Run("limit keeps most recent", func(t *testing.T) {
		result := logger.Query(Query{Limit: 2})
		require.Len(t, result.Entries, 2)
		assert.Equal(t, 5, result.Total)
		assert.Equal(t, "general error", result.Entries[1].Message)
	})
}

func TestLogger_QueryTimeFilter(t *testing.T) {
	logger := New(Config{Output: &bytes.Buffer{}})

	logger.Info("entry 1")
	time.Sleep(10 * time.Millisecond)
	midpoint := time.Now().UTC()
	time.Sleep(10 * time.Millisecond)
	logger.Info("entry 2")

	assert.Len(t, logger.Query(Query{Since: midpoint}).Entries, 1)
	assert.Len(t, logger.Query(Query{Until: midpoint}).Entries, 1)
}

func TestLogger_RingBufferAndClear(t *testing.T) {
	logger := New(Config{Output: &bytes.Buffer{}, MaxEntries: 3})

	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		logger.Info(msg)
	}

	result := logger.Query(Query{})
	require.Len(t, result.Entries, 3)
	assert.Equal(t, "c", result.Entries[0].Message)
	assert.Equal(t, "e", result.Entries[2].Message)
	assert.Equal(t, int64(5), logger.Stats().Info)

	logger.Clear()
	assert.Equal(t, int64(0), logger.Stats().Total)
	assert.Empty(t, logger.Query(Query{}).Entries)
}

func TestLogger_Concurrency(t *testing.T) {
	logger := New(Config{Output: &bytes.Buffer{}, Level: LevelDebug, MaxEntries: 100})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			taskLog := logger.WithTask("run-concurrent")
			for j := 0; j < 100; j++ {
				taskLog.Info("message", map[string]any{"goroutine": id, "iteration": j})
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1000), logger.Stats().Info)
	assert.Len(t, logger.Query(Query{}).Entries, 100)
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Component: "bridge"})
	scoped := logger.With(map[string]any{"bridge": "lab", "attempt": 1})

	scoped.Info("plain")
	scoped.WithTask("task-1").Warn("override", map[string]any{"attempt": 2})
	logger.Info("parent untouched")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 3)
	assert.Equal(t, map[string]any{"bridge": "lab", "attempt": float64(1)}, entries[0].Fields)
	assert.Equal(t, map[string]any{"bridge": "lab", "attempt": float64(2)}, entries[1].Fields)
	assert.Equal(t, "task-1", entries[1].TaskID)
	assert.Nil(t, entries[2].Fields)

	assert.Equal(t, 3, logger.Query(Query{}).Total, "derived loggers share the window")
}
