// Package api defines the wire types and constants shared by the bridge
// service and its clients.
package api

import (
	"encoding/json"

	"phobos.org.uk/xbridge/internal/taskstate"
)

// Component types identify the kind of component.
const (
	TypeBridge = "bridge"
)

// Interface names identify component capabilities.
const (
	InterfaceStatusable = "statusable"
	InterfaceTaskable   = "taskable"
	InterfaceObservable = "observable"
)

// Error codes returned in the "error" field of error responses.
const (
	ErrorValidation   = "validation_error"
	ErrorBusy         = "bridge_busy"
	ErrorNotFound     = "not_found"
	ErrorUnauthorized = "unauthorized"
	ErrorUnavailable  = "history_unavailable"
)

// Task states reported by GET /task/{id}.
const (
	TaskStateWorking   = string(taskstate.Working)
	TaskStateCompleted = string(taskstate.Completed)
	TaskStateFailed    = string(taskstate.Failed)
)

// RunRequest is the body of POST /run and POST /task.
// Options is a JSON object of scalar values; order is kept when forwarded.
type RunRequest struct {
	Input   string          `json:"input"`
	Options json.RawMessage `json:"options,omitempty"`
}

// TaskCreated is returned by POST /task.
type TaskCreated struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// TaskStatus is returned by GET /task/{id}. Response is set once the task finished.
type TaskStatus struct {
	TaskID          string    `json:"task_id"`
	State           string    `json:"state"`
	StartedAt       string    `json:"started_at,omitempty"`
	CompletedAt     string    `json:"completed_at,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Response        *Response `json:"response,omitempty"`
}

// Response mirrors adapter.Response on the wire.
type Response struct {
	Output            string   `json:"output"`
	IntermediateSteps []string `json:"intermediate_steps"`
	Success           bool     `json:"success"`
	ErrorMessage      string   `json:"error_message,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Type          string       `json:"type"`
	Interfaces    []string     `json:"interfaces"`
	Version       string       `json:"version"`
	State         string       `json:"state"`
	UptimeSeconds float64      `json:"uptime_seconds"`
	CurrentTask   *CurrentTask `json:"current_task"`
	Capabilities  []string     `json:"capabilities"`
	Config        StatusConfig `json:"config"`
}

// StatusConfig shows bridge config in status.
type StatusConfig struct {
	Port       int    `json:"port"`
	XAgentHome string `json:"xagent_home"`
	Store      string `json:"store"`
}
