// Package server exposes the XAgent adapter over HTTP: one task at a time,
// synchronous or asynchronous, with execution history, logs and metrics.
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"phobos.org.uk/xbridge/internal/adapter"
	"phobos.org.uk/xbridge/internal/api"
	"phobos.org.uk/xbridge/internal/config"
	"phobos.org.uk/xbridge/internal/history"
	"phobos.org.uk/xbridge/internal/kvstore"
	"phobos.org.uk/xbridge/internal/logging"
	"phobos.org.uk/xbridge/internal/taskstate"
	"phobos.org.uk/xbridge/internal/tlsutil"
	"phobos.org.uk/xbridge/internal/xagent"
)

// State represents the bridge's current state
type State string

const (
	StateIdle    State = "idle"
	StateWorking State = "working"
)

// previewLength bounds the task text shown in /status.
const previewLength = 50

// task is one adapter call tracked by the server.
type task struct {
	ID          string
	State       string
	Input       string
	StartedAt   time.Time
	CompletedAt time.Time
	Response    *adapter.Response

	cancel context.CancelFunc
}

// Deps are the collaborators of a Server. Agent is required.
type Deps struct {
	Agent    *adapter.Agent
	History  *history.Store
	Logger   *logging.Logger
	Status   kvstore.Store
	Gatherer prometheus.Gatherer // nil disables /metrics
}

// Server is the bridge HTTP server
type Server struct {
	config    *config.Config
	version   string
	startTime time.Time
	agent     *adapter.Agent
	history   *history.Store
	log       *logging.Logger
	status    kvstore.Store
	gatherer  prometheus.Gatherer

	mu      sync.RWMutex
	state   State
	current *task
	tasks   map[string]*task
	wg      sync.WaitGroup

	server *http.Server
}

// New creates a new Server
func New(cfg *config.Config, version string, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = logging.New(logging.Config{Level: logging.ParseLevel(cfg.LogLevel), Component: "server"})
	}
	return &Server{
		config:    cfg,
		version:   version,
		startTime: time.Now(),
		agent:     deps.Agent,
		history:   deps.History,
		log:       log,
		status:    deps.Status,
		gatherer:  deps.Gatherer,
		state:     StateIdle,
		tasks:     make(map[string]*task),
	}
}

// Router returns the HTTP router
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/status", s.handleStatus)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(s.config.Auth.TokenHash))

		r.Post("/run", s.handleRun)
		r.Post("/task", s.handleCreateTask)
		r.Get("/task/{id}", s.handleGetTask)

		r.Get("/history", s.handleListHistory)
		r.Get("/history/{id}", s.handleGetHistory)
		r.Get("/history/{id}/debug", s.handleGetHistoryDebug)

		r.Get("/logs", s.handleLogs)
		r.Get("/logs/stats", s.handleLogStats)

		if s.gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		}
	})

	return r
}

// Start listens on the configured address and serves until Shutdown. With TLS
// enabled the listener serves HTTPS.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Addr(), err)
	}
	if s.config.TLS.Enabled {
		tlsConfig, err := tlsutil.ServerConfig(s.config.TLS.CertFile, s.config.TLS.KeyFile)
		if err != nil {
			ln.Close()
			return err
		}
		ln = tls.NewListener(ln, tlsConfig)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.server = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.log.Info("bridge starting", map[string]any{
		"addr":        ln.Addr().String(),
		"version":     s.version,
		"xagent_home": s.config.XAgent.Home,
	})
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, cancels a running task and waits for it
// to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.current != nil && s.current.cancel != nil {
		s.current.cancel()
	}
	srv := s.server
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// handleStatus returns the bridge's current state, version, uptime and config.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := api.StatusResponse{
		Type:          api.TypeBridge,
		Interfaces:    []string{api.InterfaceStatusable, api.InterfaceTaskable, api.InterfaceObservable},
		Version:       s.version,
		State:         string(s.state),
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		Capabilities:  s.agent.Capabilities(),
		Config: api.StatusConfig{
			Port:       s.config.Port,
			XAgentHome: s.config.XAgent.Home,
			Store:      s.config.Store.Backend,
		},
	}

	if s.current != nil {
		resp.CurrentTask = &api.CurrentTask{
			ID:           s.current.ID,
			StartedAt:    s.current.StartedAt.Format(time.RFC3339),
			InputPreview: history.Truncate(s.current.Input, previewLength),
		}
	}

	api.WriteJSON(w, http.StatusOK, resp)
}

// decodeRequest reads a RunRequest. It writes a 400 and returns false when invalid.
func decodeRequest(w http.ResponseWriter, r *http.Request) (string, xagent.Options, bool) {
	var req api.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, "Invalid JSON: "+err.Error())
		return "", nil, false
	}
	if req.Input == "" {
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, "input is required")
		return "", nil, false
	}

	var opts xagent.Options
	if len(req.Options) > 0 {
		if err := json.Unmarshal(req.Options, &opts); err != nil {
			api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, "Invalid options: "+err.Error())
			return "", nil, false
		}
	}
	return req.Input, opts, true
}

// begin claims the single task slot. It writes a 409 and returns nil when busy.
func (s *Server) begin(w http.ResponseWriter, input string) *task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		currentID := ""
		if s.current != nil {
			currentID = s.current.ID
		}
		api.WriteJSON(w, http.StatusConflict, api.ErrorResponse{
			Error:       api.ErrorBusy,
			Message:     fmt.Sprintf("Bridge is currently processing %s", currentID),
			CurrentTask: currentID,
		})
		return nil
	}

	t := &task{
		ID:        "task-" + uuid.New().String()[:8],
		State:     api.TaskStateWorking,
		Input:     input,
		StartedAt: time.Now(),
	}
	s.tasks[t.ID] = t
	s.current = t
	s.state = StateWorking
	s.wg.Add(1)

	s.log.WithTask(t.ID).Info("task created", map[string]any{"input_length": len(input)})
	return t
}

// execute runs t through the adapter and releases the task slot.
func (s *Server) execute(ctx context.Context, t *task, opts xagent.Options) adapter.Response {
	defer s.wg.Done()

	resp := s.agent.Run(xagent.WithTaskID(ctx, t.ID), t.Input, opts)

	s.mu.Lock()
	t.CompletedAt = time.Now()
	t.Response = &resp
	next := taskstate.Completed
	if !resp.Success {
		next = taskstate.Failed
	}
	if taskstate.CanTransition(taskstate.State(t.State), next) {
		t.State = next.String()
	}
	t.cancel = nil
	if s.current == t {
		s.current = nil
	}
	s.state = StateIdle
	s.mu.Unlock()

	return resp
}

// handleRun runs a task synchronously. Failures are reported in the body with 200.
// Returns 400 if validation fails, 409 if the bridge is busy.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	input, opts, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	t := s.begin(w, input)
	if t == nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	s.mu.Lock()
	t.cancel = cancel
	s.mu.Unlock()

	resp := s.execute(ctx, t, opts)
	api.WriteJSON(w, http.StatusOK, toAPIResponse(resp))
}

// handleCreateTask starts a task in the background.
// Returns 201 Created with task_id, 400 if validation fails, 409 if the bridge is busy.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	input, opts, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	t := s.begin(w, input)
	if t == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	t.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer cancel()
		s.execute(ctx, t, opts)
	}()

	api.WriteJSON(w, http.StatusCreated, api.TaskCreated{TaskID: t.ID, Status: api.TaskStateWorking})
}

// handleGetTask returns the state of a task, and its response once finished.
// Falls back to the status store, then history, for tasks this process no longer tracks.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	s.mu.RLock()
	t, ok := s.tasks[taskID]
	var resp api.TaskStatus
	if ok {
		resp = api.TaskStatus{
			TaskID:    t.ID,
			State:     t.State,
			StartedAt: t.StartedAt.Format(time.RFC3339),
		}
		if t.Response != nil {
			out := toAPIResponse(*t.Response)
			resp.Response = &out
			resp.CompletedAt = t.CompletedAt.Format(time.RFC3339)
			resp.DurationSeconds = t.CompletedAt.Sub(t.StartedAt).Seconds()
		}
	}
	s.mu.RUnlock()

	if ok {
		api.WriteJSON(w, http.StatusOK, resp)
		return
	}

	if s.history != nil {
		if entry, err := s.history.Get(taskID); err == nil {
			api.WriteJSON(w, http.StatusOK, statusFromHistory(entry))
			return
		}
	}

	if s.status != nil {
		if state, err := s.status.Get(r.Context(), xagent.StatusKey(taskID)); err == nil {
			api.WriteJSON(w, http.StatusOK, api.TaskStatus{TaskID: taskID, State: string(state)})
			return
		}
	}

	api.WriteError(w, http.StatusNotFound, api.ErrorNotFound, fmt.Sprintf("Task %s not found", taskID))
}

// statusFromHistory rebuilds the task view of an execution this process no
// longer tracks.
func statusFromHistory(e *history.Entry) api.TaskStatus {
	status := api.TaskStatus{
		TaskID:    e.TaskID,
		State:     e.State,
		StartedAt: e.StartedAt.Format(time.RFC3339),
	}
	state, ok := taskstate.Parse(e.State)
	if !ok || !state.IsTerminal() {
		return status
	}

	steps := e.Steps
	if steps == nil {
		steps = []string{}
	}
	resp := &api.Response{
		Output:            e.Answer,
		IntermediateSteps: steps,
		Success:           state == taskstate.Completed,
	}
	if e.Error != nil {
		resp.ErrorMessage = e.Error.Message
		resp.Output = "Error: " + e.Error.Message
	}
	status.CompletedAt = e.CompletedAt.Format(time.RFC3339)
	status.DurationSeconds = e.DurationSeconds
	status.Response = resp
	return status
}

func toAPIResponse(r adapter.Response) api.Response {
	return api.Response{
		Output:            r.Output,
		IntermediateSteps: r.IntermediateSteps,
		Success:           r.Success,
		ErrorMessage:      r.ErrorMessage,
	}
}
