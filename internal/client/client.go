// Package client talks to a running bridge over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"phobos.org.uk/xbridge/internal/api"
	"phobos.org.uk/xbridge/internal/taskstate"
	"phobos.org.uk/xbridge/internal/tlsutil"
	"phobos.org.uk/xbridge/internal/xagent"
)

// DefaultPollInterval is how often Wait checks a submitted task.
const DefaultPollInterval = 500 * time.Millisecond

// Client sends tasks to a bridge
type Client struct {
	baseURL      string
	token        string
	http         *http.Client
	PollInterval time.Duration
}

// New creates a client for the bridge at baseURL. An empty token sends no credentials.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		http:         tlsutil.NewHTTPClient(0),
		PollInterval: DefaultPollInterval,
	}
}

// StatusError is returned when the bridge answers with an unexpected status.
type StatusError struct {
	Code    int
	ErrCode string // "error" field of the body, if any
	Message string
}

func (e *StatusError) Error() string {
	if e.ErrCode != "" {
		return fmt.Sprintf("unexpected status %d: %s: %s", e.Code, e.ErrCode, e.Message)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
}

// Busy reports whether the bridge refused the task because another one is running.
func (e *StatusError) Busy() bool {
	return e.Code == http.StatusConflict
}

// Run executes input synchronously via POST /run.
func (c *Client) Run(ctx context.Context, input string, opts xagent.Options) (*api.Response, error) {
	var resp api.Response
	if err := c.post(ctx, "/run", input, opts, http.StatusOK, &resp); err != nil {
		return nil, fmt.Errorf("running task: %w", err)
	}
	return &resp, nil
}

// Submit starts input asynchronously via POST /task and returns the task ID.
func (c *Client) Submit(ctx context.Context, input string, opts xagent.Options) (string, error) {
	var created api.TaskCreated
	if err := c.post(ctx, "/task", input, opts, http.StatusCreated, &created); err != nil {
		return "", fmt.Errorf("submitting task: %w", err)
	}
	return created.TaskID, nil
}

// Task returns the current state of a task.
func (c *Client) Task(ctx context.Context, taskID string) (*api.TaskStatus, error) {
	var status api.TaskStatus
	if err := c.get(ctx, "/task/"+taskID, &status); err != nil {
		return nil, fmt.Errorf("getting task %s: %w", taskID, err)
	}
	return &status, nil
}

// Wait polls a task until it completes or fails, or ctx is done.
func (c *Client) Wait(ctx context.Context, taskID string) (*api.TaskStatus, error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.Task(ctx, taskID)
		if err != nil {
			return nil, err
		}
		state, ok := taskstate.Parse(status.State)
		if !ok {
			return nil, fmt.Errorf("task %s: unknown state %q", taskID, status.State)
		}
		if state.IsTerminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for task %s: %w", taskID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Status returns the bridge status.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var status api.StatusResponse
	if err := c.get(ctx, "/status", &status); err != nil {
		return nil, fmt.Errorf("getting status: %w", err)
	}
	return &status, nil
}

func (c *Client) post(ctx context.Context, path, input string, opts xagent.Options, want int, out any) error {
	req := api.RunRequest{Input: input}
	if len(opts) > 0 {
		raw, err := json.Marshal(opts)
		if err != nil {
			return fmt.Errorf("encoding options: %w", err)
		}
		req.Options = raw
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq, want, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(httpReq, http.StatusOK, out)
}

func (c *Client) do(req *http.Request, want int, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		statusErr := &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var apiErr api.ErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			statusErr.ErrCode = apiErr.Error
			statusErr.Message = apiErr.Message
		}
		return statusErr
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
