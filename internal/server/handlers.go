package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"phobos.org.uk/xbridge/internal/api"
	"phobos.org.uk/xbridge/internal/history"
	"phobos.org.uk/xbridge/internal/logging"
	"phobos.org.uk/xbridge/internal/taskstate"
)

// handleListHistory returns paginated execution history, optionally filtered by ?state=.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		api.WriteError(w, http.StatusServiceUnavailable, api.ErrorUnavailable, "History storage not configured")
		return
	}

	page, err := api.ParseIntParam("page", r.URL.Query().Get("page"), 1, 1<<20, 1)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, err.Error())
		return
	}
	limit, err := api.ParseIntParam("limit", r.URL.Query().Get("limit"), 1, history.MaxPageSize, history.DefaultPageSize)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, err.Error())
		return
	}
	state := r.URL.Query().Get("state")
	if _, ok := taskstate.Parse(state); state != "" && !ok {
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, "state must be working, completed or failed")
		return
	}

	api.WriteJSON(w, http.StatusOK, s.history.List(history.ListOptions{Page: page, Limit: limit, State: state}))
}

// handleGetHistory returns a single history entry.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		api.WriteError(w, http.StatusServiceUnavailable, api.ErrorUnavailable, "History storage not configured")
		return
	}

	entry, err := s.history.Get(chi.URLParam(r, "id"))
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.ErrorNotFound, err.Error())
		return
	}
	api.WriteJSON(w, http.StatusOK, entry)
}

// handleGetHistoryDebug returns the raw XAgent stdout of a task.
func (s *Server) handleGetHistoryDebug(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		api.WriteError(w, http.StatusServiceUnavailable, api.ErrorUnavailable, "History storage not configured")
		return
	}

	raw, err := s.history.GetDebugLog(chi.URLParam(r, "id"))
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.ErrorNotFound, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// handleLogs returns log entries with optional filtering.
// Query params:
//   - level: minimum log level (debug, info, warn, error)
//   - task_id: filter by task ID
//   - since, until: RFC3339 bounds
//   - limit: max entries to return (default 100)
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := logging.Query{
		Level:  logging.Level(query.Get("level")),
		TaskID: query.Get("task_id"),
	}

	if since := query.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, "since must be an RFC3339 timestamp")
			return
		}
		q.Since = t
	}
	if until := query.Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, "until must be an RFC3339 timestamp")
			return
		}
		q.Until = t
	}

	limit, err := api.ParseIntParam("limit", query.Get("limit"), 1, 1000, 100)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, err.Error())
		return
	}
	q.Limit = limit

	api.WriteJSON(w, http.StatusOK, s.log.Query(q))
}

// handleLogStats returns log statistics without entries.
func (s *Server) handleLogStats(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, s.log.Stats())
}
