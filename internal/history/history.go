// Package history keeps a bounded on-disk record of XAgent executions.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"phobos.org.uk/xbridge/internal/fsutil"
)

// ErrNotFound is returned for unknown task IDs and pruned debug logs.
var ErrNotFound = errors.New("not found in history")

// Store keeps one JSON file per execution plus, for the most recent ones, the
// raw XAgent stdout.
type Store struct {
	dir        string
	maxEntries int
	maxDebug   int

	mu      sync.RWMutex
	entries map[string]*Entry // keyed by task ID
}

// Option configures a Store.
type Option func(*Store)

// WithRetention overrides how many entries and debug logs are kept.
func WithRetention(entries, debugLogs int) Option {
	return func(s *Store) {
		if entries > 0 {
			s.maxEntries = entries
		}
		if debugLogs >= 0 {
			s.maxDebug = debugLogs
		}
	}
}

// Entry records one execution.
type Entry struct {
	TaskID          string      `json:"task_id"`
	State           string      `json:"state"`
	Task            string      `json:"task"`
	TaskPreview     string      `json:"task_preview"`
	Args            []string    `json:"args,omitempty"` // full child command line
	StartedAt       time.Time   `json:"started_at"`
	CompletedAt     time.Time   `json:"completed_at"`
	DurationSeconds float64     `json:"duration_seconds"`
	ExitCode        *int        `json:"exit_code,omitempty"`
	Answer          string      `json:"answer,omitempty"`
	AnswerPreview   string      `json:"answer_preview,omitempty"`
	Steps           []string    `json:"steps,omitempty"`
	Structured      bool        `json:"structured"`
	Error           *EntryError `json:"error,omitempty"`
	HasDebugLog     bool        `json:"has_debug_log"` // raw stdout kept on disk
}

// EntryError captures error details.
type EntryError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ListOptions controls pagination and filtering for List.
type ListOptions struct {
	Page  int    // 1-indexed
	Limit int    // at most MaxPageSize
	State string // only entries in this state; empty matches all
}

// ListResult contains paginated history entries.
type ListResult struct {
	Entries    []EntrySummary `json:"entries"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	Total      int            `json:"total"`
	TotalPages int            `json:"total_pages"`
}

// EntrySummary is Entry without the bulky fields.
type EntrySummary struct {
	TaskID          string      `json:"task_id"`
	State           string      `json:"state"`
	TaskPreview     string      `json:"task_preview"`
	AnswerPreview   string      `json:"answer_preview,omitempty"`
	StartedAt       time.Time   `json:"started_at"`
	CompletedAt     time.Time   `json:"completed_at"`
	DurationSeconds float64     `json:"duration_seconds"`
	ExitCode        *int        `json:"exit_code,omitempty"`
	Error           *EntryError `json:"error,omitempty"`
	HasDebugLog     bool        `json:"has_debug_log"`
}

// Defaults and limits.
const (
	DefaultMaxEntries      = 100
	DefaultMaxDebugEntries = 20
	DefaultPageSize        = 20
	MaxPageSize            = 100
	PreviewLength          = 200
)

// NewStore opens (creating if needed) a history store in dir.
func NewStore(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	s := &Store{
		dir:        dir,
		maxEntries: DefaultMaxEntries,
		maxDebug:   DefaultMaxDebugEntries,
		entries:    make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return s, nil
}

// Save persists an entry and applies the retention limits.
func (s *Store) Save(entry *Entry) error {
	if err := checkID(entry.TaskID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry.TaskPreview = preview(entry.Task)
	entry.AnswerPreview = preview(entry.Answer)
	entry.HasDebugLog = fsutil.Exists(s.debugPath(entry.TaskID))

	if err := s.persist(entry); err != nil {
		return err
	}
	s.entries[entry.TaskID] = entry
	s.retain()
	return nil
}

// SaveDebugLog stores the raw stdout of an execution.
func (s *Store) SaveDebugLog(taskID string, raw []byte) error {
	if err := checkID(taskID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fsutil.AtomicWrite(s.debugPath(taskID), raw, 0644); err != nil {
		return fmt.Errorf("saving debug log: %w", err)
	}
	entry, ok := s.entries[taskID]
	if !ok || entry.HasDebugLog {
		return nil
	}
	entry.HasDebugLog = true
	return s.persist(entry)
}

// Get retrieves an entry by task ID.
func (s *Store) Get(taskID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if entry, ok := s.entries[taskID]; ok {
		return entry, nil
	}
	return nil, fmt.Errorf("task %s %w", taskID, ErrNotFound)
}

// GetDebugLog retrieves the raw stdout of an execution.
func (s *Store) GetDebugLog(taskID string) ([]byte, error) {
	if checkID(taskID) != nil {
		return nil, fmt.Errorf("debug log for %s %w", taskID, ErrNotFound)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.debugPath(taskID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("debug log for %s %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading debug log: %w", err)
	}
	return data, nil
}

// List returns entries newest first, one page at a time.
func (s *Store) List(opts ListOptions) ListResult {
	page := max(opts.Page, 1)
	limit := opts.Limit
	if limit < 1 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.newestFirst()
	if opts.State != "" {
		matched = slices.DeleteFunc(matched, func(e *Entry) bool { return e.State != opts.State })
	}

	total := len(matched)
	start := min((page-1)*limit, total)
	end := min(start+limit, total)

	summaries := make([]EntrySummary, 0, end-start)
	for _, e := range matched[start:end] {
		summaries = append(summaries, e.summary())
	}
	return ListResult{
		Entries:    summaries,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}
}

func (e *Entry) summary() EntrySummary {
	return EntrySummary{
		TaskID:          e.TaskID,
		State:           e.State,
		TaskPreview:     e.TaskPreview,
		AnswerPreview:   e.AnswerPreview,
		StartedAt:       e.StartedAt,
		CompletedAt:     e.CompletedAt,
		DurationSeconds: e.DurationSeconds,
		ExitCode:        e.ExitCode,
		Error:           e.Error,
		HasDebugLog:     e.HasDebugLog,
	}
}

// load reads every entry file in dir. Unreadable or foreign files are skipped.
func (s *Store) load() error {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return err
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		entry := new(Entry)
		if json.Unmarshal(data, entry) != nil || checkID(entry.TaskID) != nil {
			continue
		}
		entry.HasDebugLog = fsutil.Exists(s.debugPath(entry.TaskID))
		s.entries[entry.TaskID] = entry
	}
	return nil
}

func (s *Store) newestFirst() []*Entry {
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *Entry) int {
		return b.CompletedAt.Compare(a.CompletedAt)
	})
	return out
}

// retain removes entries beyond maxEntries and debug logs beyond maxDebug,
// oldest first. Callers hold mu.
func (s *Store) retain() {
	ordered := s.newestFirst()

	for i, e := range ordered {
		switch {
		case i >= s.maxEntries:
			os.Remove(s.entryPath(e.TaskID))
			os.Remove(s.debugPath(e.TaskID))
			delete(s.entries, e.TaskID)
		case i >= s.maxDebug && e.HasDebugLog:
			os.Remove(s.debugPath(e.TaskID))
			e.HasDebugLog = false
			s.persist(e)
		}
	}
}

func (s *Store) persist(e *Entry) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding entry %s: %w", e.TaskID, err)
	}
	if err := fsutil.AtomicWrite(s.entryPath(e.TaskID), data, 0644); err != nil {
		return fmt.Errorf("saving entry %s: %w", e.TaskID, err)
	}
	return nil
}

func (s *Store) entryPath(taskID string) string {
	return filepath.Join(s.dir, taskID+".json")
}

func (s *Store) debugPath(taskID string) string {
	return filepath.Join(s.dir, taskID+".debug.log")
}

// checkID rejects IDs that could escape the history directory.
func checkID(id string) error {
	if id == "" || len(id) > 128 || strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid task id %q", id)
	}
	return nil
}

func preview(s string) string {
	return Truncate(s, PreviewLength)
}

// Truncate shortens s to at most n bytes without splitting a rune, marking the
// cut with "...".
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
